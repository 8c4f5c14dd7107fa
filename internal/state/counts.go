// Package state keeps the running ripeness counts and shares them with
// readers through an atomically replaced JSON file.
package state

import (
	"fmt"
	"sync"

	"github.com/grocky/ripeness-detector/internal/ripeness"
)

// CountState is the persisted snapshot. The on-disk object has exactly these
// three fields.
type CountState struct {
	Ripe     int `json:"ripe"`
	Unripe   int `json:"unripe"`
	Overripe int `json:"overripe"`
}

// Total is the number of classified objects.
func (c CountState) Total() int {
	return c.Ripe + c.Unripe + c.Overripe
}

// Get returns the count for one label.
func (c CountState) Get(l ripeness.Label) int {
	switch l {
	case ripeness.Unripe:
		return c.Unripe
	case ripeness.Ripe:
		return c.Ripe
	case ripeness.Overripe:
		return c.Overripe
	}
	return 0
}

func (c CountState) String() string {
	return fmt.Sprintf("ripe=%d unripe=%d overripe=%d", c.Ripe, c.Unripe, c.Overripe)
}

// Shares holds per-label percentages of the total.
type Shares struct {
	Ripe     float64 `json:"ripe"`
	Unripe   float64 `json:"unripe"`
	Overripe float64 `json:"overripe"`
}

// Percentages returns each label's share of the total in [0, 100]. All
// shares are zero when nothing has been counted.
func (c CountState) Percentages() Shares {
	total := c.Total()
	if total == 0 {
		return Shares{}
	}
	pct := func(n int) float64 { return float64(n) * 100 / float64(total) }
	return Shares{Ripe: pct(c.Ripe), Unripe: pct(c.Unripe), Overripe: pct(c.Overripe)}
}

// Store persists snapshots.
type Store interface {
	Save(CountState) error
}

// Aggregator accumulates label counts for one run and flushes them to a
// Store. It is safe for concurrent use, though a run has a single writer.
type Aggregator struct {
	mu     sync.Mutex
	counts CountState
	store  Store
}

// NewAggregator returns an aggregator flushing to store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Record counts one classified object.
func (a *Aggregator) Record(l ripeness.Label) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch l {
	case ripeness.Unripe:
		a.counts.Unripe++
	case ripeness.Ripe:
		a.counts.Ripe++
	case ripeness.Overripe:
		a.counts.Overripe++
	}
}

// Reset zeroes the counters.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.counts = CountState{}
	a.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (a *Aggregator) Snapshot() CountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts
}

// Flush writes the current snapshot and returns what was written.
func (a *Aggregator) Flush() (CountState, error) {
	snap := a.Snapshot()
	if err := a.store.Save(snap); err != nil {
		return snap, fmt.Errorf("flushing counts: %w", err)
	}
	return snap, nil
}
