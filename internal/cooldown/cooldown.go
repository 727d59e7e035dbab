// Package cooldown suppresses repeated remediation of the same member for a while.
package cooldown

import (
	"context"
	"strings"
)

type Store interface {
	// Acquire reports true when key was free and is now held for the store's TTL.
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
