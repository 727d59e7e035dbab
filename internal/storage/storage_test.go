package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SENTINEL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SENTINEL_TEST_PG_DSN not set")
	}
	store, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate must be a no-op: %v", err)
	}
	return store
}

func TestAuditLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()

	old := AuditLog{GuildID: guildID, Level: "INFO", Event: "old", CreatedAt: time.Now().AddDate(0, 0, -40)}
	fresh := AuditLog{GuildID: guildID, UserID: "u1", Level: "WARN", Event: "spam", Details: "duplicate message"}
	for _, entry := range []AuditLog{old, fresh} {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	logs, err := store.ListAuditLogs(ctx, guildID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "spam" || logs[0].UserID != "u1" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	removed, err := store.CleanupAuditLogs(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed < 1 {
		t.Fatalf("expected old entry to be removed, got %d", removed)
	}
	logs, err = store.ListAuditLogs(ctx, guildID, time.Time{})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 remaining log, got %d", len(logs))
	}
}

func TestIncrementInfraction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementInfraction(ctx, guildID, "u1", "spam", "timeout", time.Hour)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	inf, err := store.GetInfraction(ctx, guildID, "u1", "spam")
	if err != nil {
		t.Fatalf("get infraction: %v", err)
	}
	if inf.CountTotal != 3 || inf.LastAction != "timeout" || inf.ResetAt == nil {
		t.Fatalf("unexpected infraction: %+v", inf)
	}

	missing, err := store.GetInfraction(ctx, guildID, "nobody", "spam")
	if err != nil {
		t.Fatalf("get missing infraction: %v", err)
	}
	if missing.CountTotal != 0 {
		t.Fatalf("expected empty infraction, got %+v", missing)
	}
}

func TestIncrementInfractionResetsAfterForgiveness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()

	if _, err := store.IncrementInfraction(ctx, guildID, "u1", "bot", "kick", time.Millisecond); err != nil {
		t.Fatalf("increment: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	got, err := store.IncrementInfraction(ctx, guildID, "u1", "bot", "kick", time.Millisecond)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected forgiven counter to restart at 1, got %d", got)
	}
}
