package tracker

import (
	"sync"
	"time"
)

// SlidingWindow keeps ordered event timestamps. Entries older than now-window are
// evicted on every call; an entry exactly at the cutoff stays only when the window is
// inclusive. The oldest entries are dropped once capacity is exceeded. A capacity of
// zero means unbounded.
type SlidingWindow struct {
	mu        sync.Mutex
	capacity  int
	inclusive bool
	hits      []time.Time
}

func NewSlidingWindow(capacity int, inclusive bool) *SlidingWindow {
	return &SlidingWindow{capacity: capacity, inclusive: inclusive}
}

func (w *SlidingWindow) Add(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trimLocked(now, window)
	w.hits = append(w.hits, now)
	if w.capacity > 0 && len(w.hits) > w.capacity {
		w.hits = w.hits[len(w.hits)-w.capacity:]
	}
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trimLocked(now, window)
	return len(w.hits)
}

func (w *SlidingWindow) trimLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) || (w.inclusive && hit.Equal(cutoff)) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
