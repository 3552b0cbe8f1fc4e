package engine

import (
	"sync"
	"time"
)

// fakeClock lets tests advance the exercise clock deterministically
// instead of sleeping in wall time. The tick loop's goroutine is kept
// from firing during tests by giving Deps a TickInterval far longer
// than any test runs; tests call engine.tick() directly to drive the
// same code path the real ticker would.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}
