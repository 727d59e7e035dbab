package tracker

import (
	"testing"
	"time"
)

func TestRateTrackerWindowPerUser(t *testing.T) {
	tracker, err := NewRateTracker(0)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	now := time.Now()

	first := tracker.Window("g1", "u1")
	if first != tracker.Window("g1", "u1") {
		t.Fatalf("expected the same window for the same member")
	}
	first.Hit(now, 5*time.Second)
	first.Hit(now.Add(time.Second), 5*time.Second)

	other := tracker.Window("g2", "u1")
	if got := other.Hit(now, 5*time.Second); got != 1 {
		t.Fatalf("expected guilds to be isolated, got %d", got)
	}
}

func TestRateWindowCapacity(t *testing.T) {
	tracker, _ := NewRateTracker(10)
	window := tracker.Window("g", "u")
	now := time.Now()
	var got int
	for i := 0; i < RateWindowCapacity+20; i++ {
		got = window.Hit(now.Add(time.Duration(i)*time.Millisecond), time.Hour)
	}
	if got != RateWindowCapacity {
		t.Fatalf("expected %d, got %d", RateWindowCapacity, got)
	}
}

func TestRateTrackerEvictsIdleUsers(t *testing.T) {
	tracker, _ := NewRateTracker(2)
	tracker.Window("g", "a").Duplicate("hi")
	tracker.Window("g", "b")
	tracker.Window("g", "c")
	if tracker.Len() != 2 {
		t.Fatalf("expected 2 tracked users, got %d", tracker.Len())
	}
	if got := tracker.Window("g", "a").Duplicate("hi"); got != 1 {
		t.Fatalf("expected evicted user to start fresh, got %d", got)
	}
}

func TestRateTrackerForget(t *testing.T) {
	tracker, _ := NewRateTracker(0)
	tracker.Window("g", "u").Duplicate("hello")
	tracker.Forget("g", "u")
	if got := tracker.Window("g", "u").Duplicate("hello"); got != 1 {
		t.Fatalf("expected forgotten window to reset, got %d", got)
	}
}
