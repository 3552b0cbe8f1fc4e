package launcher

import (
	"context"
	"fmt"
	"sync"
)

// StubLauncher is an in-process Launcher used by engine tests and by
// deployments with no container runtime available. It tracks live
// workers by name and can be configured to fail at a specific launch
// count, exercising the rollback property in §8.
type StubLauncher struct {
	mu      sync.Mutex
	workers map[string]Handle

	// FailAt, if non-zero, makes the FailAt'th call to Launch (1-indexed,
	// counting across the lifetime of this launcher) return an error
	// instead of succeeding.
	FailAt int
	calls  int
}

// NewStubLauncher creates an empty StubLauncher.
func NewStubLauncher() *StubLauncher {
	return &StubLauncher{workers: make(map[string]Handle)}
}

// Launch implements Launcher.
func (l *StubLauncher) Launch(_ context.Context, spec Spec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.FailAt != 0 && l.calls == l.FailAt {
		return Handle{}, fmt.Errorf("stub launcher: forced failure at call %d", l.calls)
	}

	// Idempotent relaunch: destroy-then-replace per §4.4.
	delete(l.workers, spec.Name)

	h := Handle{
		Name:   spec.Name,
		Kind:   spec.Kind,
		TeamID: spec.TeamID,
		URL:    fmt.Sprintf("http://stub.local/%s", spec.Name),
	}
	l.workers[spec.Name] = h
	return h, nil
}

// Destroy implements Launcher.
func (l *StubLauncher) Destroy(_ context.Context, handle Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.workers, handle.Name)
	return nil
}

// Exists implements Launcher.
func (l *StubLauncher) Exists(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.workers[name]
	return ok, nil
}

// LiveCount returns the number of workers currently tracked as live,
// for rollback assertions in tests.
func (l *StubLauncher) LiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.workers)
}
