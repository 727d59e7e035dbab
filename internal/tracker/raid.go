package tracker

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RaidTracker keeps one join window per guild.
type RaidTracker struct {
	joins *xsync.MapOf[string, *SlidingWindow]
}

func NewRaidTracker() *RaidTracker {
	return &RaidTracker{joins: xsync.NewMapOf[string, *SlidingWindow]()}
}

// Check appends a join at now, trims the guild window and reports whether the remaining
// join count reached maxJoins. A non-positive maxJoins never flags.
func (t *RaidTracker) Check(guildID string, now time.Time, window time.Duration, maxJoins int) (int, bool) {
	joins, _ := t.joins.LoadOrCompute(guildID, func() *SlidingWindow {
		return NewSlidingWindow(0, false)
	})
	count := joins.Add(now, window)
	if maxJoins <= 0 {
		return count, false
	}
	return count, count >= maxJoins
}

func (t *RaidTracker) Count(guildID string, now time.Time, window time.Duration) int {
	joins, ok := t.joins.Load(guildID)
	if !ok {
		return 0
	}
	return joins.Count(now, window)
}

func (t *RaidTracker) Reset(guildID string) {
	t.joins.Delete(guildID)
}
