package tracker

import (
	"sync"
	"testing"
	"time"
)

func TestRaidTrackerFlagsAtThreshold(t *testing.T) {
	raids := NewRaidTracker()
	now := time.Now()
	for i := 0; i < 9; i++ {
		if _, flagged := raids.Check("g", now.Add(time.Duration(i)*time.Second), 30*time.Second, 10); flagged {
			t.Fatalf("flagged early at join %d", i+1)
		}
	}
	count, flagged := raids.Check("g", now.Add(9*time.Second), 30*time.Second, 10)
	if !flagged || count != 10 {
		t.Fatalf("expected raid at 10 joins, got count=%d flagged=%v", count, flagged)
	}
}

func TestRaidTrackerWindowExpires(t *testing.T) {
	raids := NewRaidTracker()
	now := time.Now()
	for i := 0; i < 9; i++ {
		raids.Check("g", now, 30*time.Second, 10)
	}
	count, flagged := raids.Check("g", now.Add(31*time.Second), 30*time.Second, 10)
	if flagged || count != 1 {
		t.Fatalf("expected stale joins to expire, got count=%d flagged=%v", count, flagged)
	}
}

func TestRaidTrackerNonPositiveThreshold(t *testing.T) {
	raids := NewRaidTracker()
	if _, flagged := raids.Check("g", time.Now(), time.Minute, 0); flagged {
		t.Fatalf("zero threshold must never flag")
	}
}

func TestRaidTrackerConcurrentGuilds(t *testing.T) {
	raids := NewRaidTracker()
	now := time.Now()
	var wg sync.WaitGroup
	for _, guild := range []string{"a", "b"} {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(guild string) {
				defer wg.Done()
				raids.Check(guild, now, time.Minute, 100)
			}(guild)
		}
	}
	wg.Wait()
	if raids.Count("a", now, time.Minute) != 25 || raids.Count("b", now, time.Minute) != 25 {
		t.Fatalf("expected 25 joins per guild")
	}
	raids.Reset("a")
	if raids.Count("a", now, time.Minute) != 0 {
		t.Fatalf("expected reset window")
	}
}
