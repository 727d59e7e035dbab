package tracker

import (
	"testing"
	"time"
)

func TestSlidingWindowAdd(t *testing.T) {
	window := NewSlidingWindow(0, false)
	now := time.Now()
	if count := window.Add(now, 2*time.Second); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	window.Add(now.Add(500*time.Millisecond), 2*time.Second)
	if count := window.Count(now.Add(1*time.Second), 2*time.Second); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := window.Count(now.Add(3*time.Second), 2*time.Second); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
}

func TestSlidingWindowExclusiveEvictsAtCutoff(t *testing.T) {
	window := NewSlidingWindow(0, false)
	now := time.Now()
	window.Add(now, 5*time.Second)
	window.Add(now.Add(1*time.Second), 5*time.Second)
	window.Add(now.Add(2*time.Second), 5*time.Second)
	if count := window.Add(now.Add(3*time.Second), 5*time.Second); count != 4 {
		t.Fatalf("expected 4, got %d", count)
	}
	if count := window.Add(now.Add(7*time.Second), 5*time.Second); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
}

func TestSlidingWindowInclusiveKeepsCutoff(t *testing.T) {
	window := NewSlidingWindow(0, true)
	now := time.Now()
	window.Add(now, 5*time.Second)
	window.Add(now.Add(1*time.Second), 5*time.Second)
	window.Add(now.Add(2*time.Second), 5*time.Second)
	if count := window.Add(now.Add(7*time.Second), 5*time.Second); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := window.Count(now.Add(7*time.Second+time.Nanosecond), 5*time.Second); count != 1 {
		t.Fatalf("expected entry past the cutoff to be evicted, got %d", count)
	}
}

func TestSlidingWindowCapacity(t *testing.T) {
	window := NewSlidingWindow(3, true)
	now := time.Now()
	for i := 0; i < 10; i++ {
		window.Add(now.Add(time.Duration(i)*time.Millisecond), time.Minute)
	}
	if count := window.Count(now.Add(time.Second), time.Minute); count != 3 {
		t.Fatalf("expected capacity 3, got %d", count)
	}
}
