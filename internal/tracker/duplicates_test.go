package tracker

import (
	"fmt"
	"testing"
)

func TestDuplicateCounterObserve(t *testing.T) {
	counter := NewDuplicateCounter(DuplicateCapacity)
	for i := 1; i <= 4; i++ {
		if got := counter.Observe("buy now"); got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
	if got := counter.Observe(""); got != 0 {
		t.Fatalf("expected empty text to be ignored, got %d", got)
	}
}

func TestDuplicateCounterEvictsLeastFrequent(t *testing.T) {
	counter := NewDuplicateCounter(3)
	counter.Observe("a")
	counter.Observe("a")
	counter.Observe("b")
	counter.Observe("c")
	counter.Observe("c")

	if got := counter.Observe("d"); got != 1 {
		t.Fatalf("expected new entry count 1, got %d", got)
	}
	if counter.Len() != 3 {
		t.Fatalf("expected capacity 3, got %d", counter.Len())
	}
	if counter.Count("b") != 0 {
		t.Fatalf("expected b to be evicted")
	}
	if counter.Count("a") != 2 || counter.Count("c") != 2 {
		t.Fatalf("expected frequent entries to survive")
	}
}

func TestDuplicateCounterEvictsOldestOnTie(t *testing.T) {
	counter := NewDuplicateCounter(DuplicateCapacity)
	for i := 0; i < DuplicateCapacity; i++ {
		counter.Observe(fmt.Sprintf("msg-%d", i))
	}
	counter.Observe("fresh")
	if counter.Count("msg-0") != 0 {
		t.Fatalf("expected oldest tied entry to be evicted")
	}
	if counter.Count("msg-1") != 1 || counter.Count("fresh") != 1 {
		t.Fatalf("unexpected eviction")
	}
	if counter.Len() != DuplicateCapacity {
		t.Fatalf("expected %d entries, got %d", DuplicateCapacity, counter.Len())
	}
}
