package tracker

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	RateWindowCapacity = 50
	DuplicateCapacity  = 20

	defaultTrackedUsers = 50000
)

// RateWindow holds one user's recent message timestamps and normalized message texts
// within one guild.
type RateWindow struct {
	hits       *SlidingWindow
	duplicates *DuplicateCounter
}

func newRateWindow() *RateWindow {
	return &RateWindow{
		hits:       NewSlidingWindow(RateWindowCapacity, true),
		duplicates: NewDuplicateCounter(DuplicateCapacity),
	}
}

// Hit appends now and returns how many messages remain inside the window.
func (w *RateWindow) Hit(now time.Time, window time.Duration) int {
	return w.hits.Add(now, window)
}

// Duplicate records normalized text and returns how many times it has been seen.
func (w *RateWindow) Duplicate(text string) int {
	return w.duplicates.Observe(text)
}

// RateTracker owns every RateWindow keyed by guild and user. Least recently active
// users are dropped once the tracker is full.
type RateTracker struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *RateWindow]
}

func NewRateTracker(maxUsers int) (*RateTracker, error) {
	if maxUsers <= 0 {
		maxUsers = defaultTrackedUsers
	}
	cache, err := lru.New[string, *RateWindow](maxUsers)
	if err != nil {
		return nil, err
	}
	return &RateTracker{windows: cache}, nil
}

func (t *RateTracker) Window(guildID, userID string) *RateWindow {
	key := guildID + ":" + userID

	t.mu.Lock()
	defer t.mu.Unlock()

	if window, ok := t.windows.Get(key); ok {
		return window
	}
	window := newRateWindow()
	t.windows.Add(key, window)
	return window
}

func (t *RateTracker) Forget(guildID, userID string) {
	t.windows.Remove(guildID + ":" + userID)
}

func (t *RateTracker) Len() int {
	return t.windows.Len()
}
