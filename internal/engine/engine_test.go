package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/events"
	"github.com/scip-range/exercise-orchestrator/internal/exercise"
	"github.com/scip-range/exercise-orchestrator/internal/launcher"
	"github.com/scip-range/exercise-orchestrator/internal/statusstore"
)

func testDeps(fc *fakeClock) Deps {
	return Deps{
		Bus:          bus.NewMemoryBus(),
		Store:        statusstore.NewMemoryStore(),
		Launcher:     launcher.NewStubLauncher(),
		Events:       events.New(),
		Now:          fc.now,
		TickInterval: time.Hour, // never fires on its own during tests
	}
}

// newDirectEngine builds an Engine bypassing Registry.Deploy/file I/O,
// for tests that only exercise the tick loop and state machine.
func newDirectEngine(scenarioID string, scenario *exercise.Scenario, timelines map[string]*exercise.Timeline, deps Deps) *Engine {
	return &Engine{
		deps:        deps.withDefaults(),
		scenarioID:  scenarioID,
		scenario:    scenario,
		timelines:   timelines,
		state:       NotStarted,
		delivered:   make(map[string]struct{}),
		lastEmitted: -1,
		dashboards:  make(map[string]launcher.Handle),
		stopCh:      make(chan struct{}),
	}
}

func maritimeFixture() (*exercise.Scenario, map[string]*exercise.Timeline) {
	scenario := &exercise.Scenario{
		ID:    "maritime",
		Teams: []exercise.Team{{ID: "blue"}, {ID: "red"}},
	}
	timelines := map[string]*exercise.Timeline{
		"blue": {Injects: []exercise.Inject{
			{ID: "a", Time: 0, Type: "news"},
			{ID: "b", Time: 5, Type: "news"},
		}},
		"red": {Injects: []exercise.Inject{
			{ID: "c", Time: 3, Type: "news"},
		}},
	}
	return scenario, timelines
}

func TestMonotonicity(t *testing.T) {
	fc := newFakeClock()
	deps := testDeps(fc)
	scenario, timelines := maritimeFixture()
	e := newDirectEngine("maritime", scenario, timelines, deps)
	ctx := context.Background()

	if err := e.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}

	var last int
	observe := func() {
		e.mu.Lock()
		cur := e.clock.elapsed(fc.now())
		e.mu.Unlock()
		if cur < last {
			t.Fatalf("elapsed went backward: %d -> %d", last, cur)
		}
		last = cur
	}

	observe()
	fc.advance(2 * time.Second)
	e.tick()
	observe()
	if err := e.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	fc.advance(5 * time.Second)
	observe()
	if err := e.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	fc.advance(3 * time.Second)
	e.tick()
	observe()

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPauseInvariance(t *testing.T) {
	// blue has a single inject at t=10, well clear of the pause window
	// in both runs, so pausing must not change how many injects land.
	run := func(withPause bool) int {
		fc := newFakeClock()
		deps := testDeps(fc)
		scenario := &exercise.Scenario{ID: "drill", Teams: []exercise.Team{{ID: "blue"}}}
		timelines := map[string]*exercise.Timeline{
			"blue": {Injects: []exercise.Inject{{ID: "x", Time: 10, Type: "news"}}},
		}
		e := newDirectEngine("drill", scenario, timelines, deps)
		ctx := context.Background()
		if err := e.Begin(ctx); err != nil {
			t.Fatalf("begin: %v", err)
		}

		if withPause {
			fc.advance(2 * time.Second)
			e.tick()
			if err := e.Pause(ctx); err != nil {
				t.Fatalf("pause: %v", err)
			}
			fc.advance(5 * time.Second)
			if err := e.Resume(ctx); err != nil {
				t.Fatalf("resume: %v", err)
			}
			fc.advance(2 * time.Second)
			e.tick()
		} else {
			fc.advance(4 * time.Second)
			e.tick()
		}

		e.mu.Lock()
		count := len(e.delivered)
		e.mu.Unlock()

		if err := e.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
		return count
	}

	withPause := run(true)
	without := run(false)
	if withPause != 0 || without != 0 {
		t.Fatalf("expected zero delivered before t=10 in both runs, got %d / %d", withPause, without)
	}
}

func TestExactlyOnceAndOrdering(t *testing.T) {
	fc := newFakeClock()
	deps := testDeps(fc)
	memBus := deps.Bus.(*bus.MemoryBus)
	scenario, timelines := maritimeFixture()
	e := newDirectEngine("maritime", scenario, timelines, deps)
	ctx := context.Background()

	if err := e.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Advance one second at a time so every boundary gets its own tick,
	// matching the 100ms-cadence catch-up semantics at a coarser grain.
	for i := 0; i < 6; i++ {
		fc.advance(time.Second)
		e.tick()
	}
	// Extra ticks at the same elapsed second must not re-deliver.
	e.tick()
	e.tick()

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	blueMsgs := memBus.MessagesOn("/exercise/maritime/team/blue/feed")
	redMsgs := memBus.MessagesOn("/exercise/maritime/team/red/feed")

	if len(blueMsgs) != 2 {
		t.Fatalf("expected exactly 2 blue deliveries, got %d", len(blueMsgs))
	}
	if len(redMsgs) != 1 {
		t.Fatalf("expected exactly 1 red delivery, got %d", len(redMsgs))
	}

	var first, second exercise.DeliveredInject
	if err := json.Unmarshal(blueMsgs[0].Payload, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(blueMsgs[1].Payload, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.ID != "a" || second.ID != "b" {
		t.Fatalf("expected blue order [a, b], got [%s, %s]", first.ID, second.ID)
	}

	snap := e.Status()
	if snap.Delivered["blue"] != 2 || snap.Delivered["red"] != 1 {
		t.Fatalf("expected delivered {blue:2, red:1}, got %+v", snap.Delivered)
	}
}

// TestPauseAcrossAnInject matches the concrete scenario from §8 item 2:
// a single inject at t=2, begin; wait(1s); pause; wait(5s); resume;
// wait(2s) — x is delivered exactly once, with delivered_at == 2.
func TestPauseAcrossAnInject(t *testing.T) {
	fc := newFakeClock()
	deps := testDeps(fc)
	memBus := deps.Bus.(*bus.MemoryBus)
	scenario := &exercise.Scenario{ID: "drill", Teams: []exercise.Team{{ID: "blue"}}}
	timelines := map[string]*exercise.Timeline{
		"blue": {Injects: []exercise.Inject{{ID: "x", Time: 2, Type: "news"}}},
	}
	e := newDirectEngine("drill", scenario, timelines, deps)
	ctx := context.Background()

	if err := e.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	fc.advance(1 * time.Second)
	e.tick()
	if err := e.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Wall clock moves past t=2 while paused; the exercise clock must not.
	fc.advance(5 * time.Second)
	e.tick()

	feed := "/exercise/drill/team/blue/feed"
	if got := len(memBus.MessagesOn(feed)); got != 0 {
		t.Fatalf("expected no delivery while paused, got %d messages", got)
	}

	if err := e.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	// One tick per second, so the tick loop observes second 2 itself
	// rather than catching up on a later second.
	for i := 0; i < 2; i++ {
		fc.advance(time.Second)
		e.tick()
	}

	msgs := memBus.MessagesOn(feed)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one delivery after resume crosses t=2, got %d", len(msgs))
	}
	var delivered exercise.DeliveredInject
	if err := json.Unmarshal(msgs[0].Payload, &delivered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if delivered.ID != "x" || delivered.DeliveredAt != 2 {
		t.Fatalf("expected {id: x, delivered_at: 2}, got {id: %s, delivered_at: %d}", delivered.ID, delivered.DeliveredAt)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestInvalidTransition(t *testing.T) {
	fc := newFakeClock()
	deps := testDeps(fc)
	scenario, timelines := maritimeFixture()
	e := newDirectEngine("maritime", scenario, timelines, deps)
	ctx := context.Background()

	err := e.Pause(ctx)
	if err == nil {
		t.Fatal("expected error pausing a NotStarted engine")
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T: %v", err, err)
	}
	if te.Current != NotStarted {
		t.Fatalf("expected current state NotStarted, got %s", te.Current)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected errors.Is(err, ErrInvalidTransition)")
	}
	if e.State() != NotStarted {
		t.Fatalf("expected engine to remain NotStarted, got %s", e.State())
	}
}

func writeFixture(t *testing.T, root string, name string, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func TestRollbackOnForcedLaunchFailure(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "drill.yaml", `
name: drill
duration_minutes: 30
teams:
  - id: blue
    timeline_file: blue.yaml
  - id: red
    timeline_file: red.yaml
  - id: green
    timeline_file: green.yaml
`)
	writeFixture(t, root, "blue.yaml", "id: blue\nname: blue\ninjects: []\n")
	writeFixture(t, root, "red.yaml", "id: red\nname: red\ninjects: []\n")
	writeFixture(t, root, "green.yaml", "id: green\nname: green\ninjects: []\n")

	fc := newFakeClock()
	stub := launcher.NewStubLauncher()
	stub.FailAt = 2
	deps := testDeps(fc)
	deps.ScenariosRoot = root
	deps.Launcher = stub

	reg := NewRegistry(deps)
	_, err := reg.Deploy(context.Background(), "drill")
	if err == nil {
		t.Fatal("expected deploy failure")
	}
	if !errors.Is(err, ErrDeployFailed) {
		t.Fatalf("expected ErrDeployFailed, got %v", err)
	}
	if stub.LiveCount() != 0 {
		t.Fatalf("expected zero live workers after rollback, got %d", stub.LiveCount())
	}
	if _, ok := reg.Get("drill"); ok {
		t.Fatal("expected no engine registered after failed deploy")
	}
}

func TestDeployConflict(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "drill.yaml", "name: drill\nduration_minutes: 10\nteams:\n  - id: blue\n    timeline_file: blue.yaml\n")
	writeFixture(t, root, "blue.yaml", "id: blue\nname: blue\ninjects: []\n")

	fc := newFakeClock()
	deps := testDeps(fc)
	deps.ScenariosRoot = root

	reg := NewRegistry(deps)
	ctx := context.Background()
	if _, err := reg.Deploy(ctx, "drill"); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if _, err := reg.Deploy(ctx, "drill"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive on second deploy, got %v", err)
	}
}

func TestMaritimeTwoTeamEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "maritime.yaml", `
name: maritime
duration_minutes: 60
teams:
  - id: blue
    timeline_file: blue.yaml
  - id: red
    timeline_file: red.yaml
`)
	writeFixture(t, root, "blue.yaml", `
id: blue
name: blue
injects:
  - {id: a, time: 0, type: news, content: {}}
  - {id: b, time: 5, type: news, content: {}}
`)
	writeFixture(t, root, "red.yaml", `
id: red
name: red
injects:
  - {id: c, time: 3, type: news, content: {}}
`)

	fc := newFakeClock()
	deps := testDeps(fc)
	deps.ScenariosRoot = root
	memBus := deps.Bus.(*bus.MemoryBus)

	reg := NewRegistry(deps)
	ctx := context.Background()
	e, err := reg.Deploy(ctx, "maritime")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := e.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}

	for i := 0; i < 6; i++ {
		fc.advance(time.Second)
		e.tick()
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	reg.Remove("maritime")

	if got := len(memBus.MessagesOn("/exercise/maritime/team/blue/feed")); got != 2 {
		t.Fatalf("expected 2 blue deliveries, got %d", got)
	}
	if got := len(memBus.MessagesOn("/exercise/maritime/team/red/feed")); got != 1 {
		t.Fatalf("expected 1 red delivery, got %d", got)
	}
}
