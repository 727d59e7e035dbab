package tracker

import "sync"

// DuplicateCounter counts normalized message texts per user. When a new text arrives at
// capacity, the least frequent entry is evicted, oldest first among ties.
type DuplicateCounter struct {
	mu       sync.Mutex
	capacity int
	counts   map[string]int
	order    []string
}

func NewDuplicateCounter(capacity int) *DuplicateCounter {
	return &DuplicateCounter{
		capacity: capacity,
		counts:   make(map[string]int),
	}
}

// Observe records one occurrence of text and returns the occurrence count including
// this one. Empty text is never counted.
func (d *DuplicateCounter) Observe(text string) int {
	if text == "" {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if count, ok := d.counts[text]; ok {
		d.counts[text] = count + 1
		return count + 1
	}

	d.counts[text] = 1
	d.order = append(d.order, text)
	if d.capacity > 0 && len(d.order) > d.capacity {
		d.evictLocked(text)
	}
	return 1
}

func (d *DuplicateCounter) Count(text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[text]
}

func (d *DuplicateCounter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

func (d *DuplicateCounter) evictLocked(keep string) {
	victim := -1
	for i, text := range d.order {
		if text == keep {
			continue
		}
		if victim == -1 || d.counts[text] < d.counts[d.order[victim]] {
			victim = i
		}
	}
	if victim == -1 {
		return
	}
	delete(d.counts, d.order[victim])
	d.order = append(d.order[:victim], d.order[victim+1:]...)
}
