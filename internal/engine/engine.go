// Package engine implements C5 Scheduler and C6 ExerciseEngine: the
// state machine governing one exercise's lifecycle, the monotonic
// clock, and the 100ms tick loop that delivers injects exactly once
// and mirrors state into the StatusStore.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	busc "github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/events"
	"github.com/scip-range/exercise-orchestrator/internal/exercise"
	"github.com/scip-range/exercise-orchestrator/internal/launcher"
	"github.com/scip-range/exercise-orchestrator/internal/statusstore"
)

// Engine owns one scenario's ExerciseState, ClockState, DeliverySet,
// and WorkerHandles. All control operations and the tick loop's reads
// of (state, clock) are serialized on mu, per §5.
type Engine struct {
	deps Deps

	scenarioID string
	scenario   *exercise.Scenario
	timelines  map[string]*exercise.Timeline

	mu          sync.Mutex
	state       State
	clock       clock
	delivered   map[string]struct{}
	lastEmitted int
	workers     []launcher.Handle
	dashboards  map[string]launcher.Handle

	tickStarted bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func (e *Engine) logger() *slog.Logger { return e.deps.Logger }

// State returns the current ExerciseState under lock.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// requireState validates the current state is one of allowed, or
// returns a *TransitionError carrying the current state for the
// control surface to echo per §6.
func (e *Engine) requireState(op string, allowed ...State) error {
	for _, s := range allowed {
		if e.state == s {
			return nil
		}
	}
	return &TransitionError{Op: op, Current: e.state}
}

// Begin transitions NotStarted → Running, starts the clock, spawns
// the tick loop, and publishes the lifecycle command.
func (e *Engine) Begin(ctx context.Context) error {
	e.mu.Lock()
	if err := e.requireState("begin", NotStarted); err != nil {
		e.mu.Unlock()
		return err
	}
	now := e.deps.Now()
	e.clock.begin(now)
	e.lastEmitted = -1
	e.setState(ctx, Running)
	e.mu.Unlock()

	e.publishControl(ctx, "start")
	e.mu.Lock()
	e.tickStarted = true
	e.mu.Unlock()
	e.wg.Add(1)
	go e.runTickLoop()
	return nil
}

// Pause transitions Running → Paused, freezing the clock.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("pause", Running); err != nil {
		return err
	}
	e.clock.pause(e.deps.Now())
	e.setState(ctx, Paused)
	e.publishControlLocked(ctx, "pause")
	return nil
}

// Resume transitions Paused → Running, reopening the clock segment.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("resume", Paused); err != nil {
		return err
	}
	e.clock.resume(e.deps.Now())
	e.setState(ctx, Running)
	e.publishControlLocked(ctx, "resume")
	return nil
}

// Finish freezes the clock from Running or Paused without destroying
// workers, per the Lifecycles note in §3.
func (e *Engine) Finish(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("finish", Running, Paused); err != nil {
		return err
	}
	e.clock.freeze(e.deps.Now())
	e.setState(ctx, Finished)
	e.publishControlLocked(ctx, "finish")
	return nil
}

// Stop is valid from any non-Stopped state. It halts the tick loop,
// destroys all workers, purges the StatusStore mirror, and publishes
// the lifecycle command. Stop does not touch the Registry; the caller
// removes the engine from the active table (Registry.Remove) after
// Stop returns.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == Stopped {
		e.mu.Unlock()
		return &TransitionError{Op: "stop", Current: e.state}
	}
	tickStarted := e.tickStarted
	e.setState(ctx, Stopped)
	e.mu.Unlock()

	if tickStarted {
		close(e.stopCh)
		e.wg.Wait()
	}

	e.publishControl(ctx, "stop")

	for i := len(e.workers) - 1; i >= 0; i-- {
		if err := e.deps.Launcher.Destroy(ctx, e.workers[i]); err != nil {
			e.logger().Warn("destroy worker on stop", "worker", e.workers[i].Name, "error", err)
		}
	}
	if err := e.deps.Store.Purge(ctx, e.scenarioID); err != nil {
		e.logger().Warn("purge status store on stop", "scenario", e.scenarioID, "error", err)
	}
	return nil
}

// setState must be called with mu held. It updates state and mirrors
// it into the StatusStore and the operational event bus.
func (e *Engine) setState(ctx context.Context, next State) {
	prev := e.state
	e.state = next
	if err := e.deps.Store.PutState(ctx, e.scenarioID, string(next)); err != nil {
		e.logger().Warn("put_state", "scenario", e.scenarioID, "error", err)
	}
	e.deps.Events.Publish(events.Event{
		Timestamp: e.deps.Now(),
		Source:    events.SourceEngine,
		Kind:      events.KindStateChanged,
		Data:      map[string]any{"scenario": e.scenarioID, "from": string(prev), "to": string(next)},
	})
}

func (e *Engine) publishControl(ctx context.Context, cmd string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishControlLocked(ctx, cmd)
}

func (e *Engine) publishControlLocked(ctx context.Context, cmd string) {
	payload, _ := json.Marshal(map[string]string{"command": cmd, "scenario": e.scenarioID})
	topic := fmt.Sprintf(busc.TopicControl, e.scenarioID)
	if err := e.deps.Bus.Publish(ctx, topic, payload, busc.AtLeastOnce); err != nil {
		e.logger().Warn("publish control", "scenario", e.scenarioID, "command", cmd, "error", err)
	}
}

// runTickLoop is the single scheduling task of §4.5/§5. It owns no
// lock between iterations; each iteration takes mu only for the
// duration of its state read and its DeliverySet/clock mutation, so
// control operations never block on it for more than one lock
// acquisition.
func (e *Engine) runTickLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.deps.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	ctx := context.Background()

	e.mu.Lock()
	if e.state == Stopped {
		e.mu.Unlock()
		return
	}
	if e.state == Paused || e.state == Finished {
		e.mu.Unlock()
		return
	}
	now := e.deps.Now()
	elapsed := e.clock.elapsed(now)
	due := e.collectDueLocked(elapsed)
	emitTimer := elapsed != e.lastEmitted
	if emitTimer {
		e.lastEmitted = elapsed
	}
	e.mu.Unlock()

	if emitTimer {
		e.publishTimer(ctx, elapsed)
	}
	for _, d := range due {
		e.publishInject(ctx, d)
	}
}

// duedelivery pairs a team with the inject the tick loop decided to
// deliver this cycle and the elapsed second at which delivery
// actually happened (not necessarily inj.Time — a delayed tick can
// catch up several injects at once, per §4.5's skip policy).
type duedelivery struct {
	team        string
	inject      exercise.Inject
	deliveredAt int
}

// collectDueLocked must be called with mu held. It walks every team's
// timeline in stable order and selects injects whose time has elapsed
// but are not yet in DeliverySet — implementing the catch-up skip
// policy of §4.5 (if a tick was delayed, multiple seconds are covered
// in this one call).
func (e *Engine) collectDueLocked(elapsed int) []duedelivery {
	teamIDs := make([]string, 0, len(e.timelines))
	for id := range e.timelines {
		teamIDs = append(teamIDs, id)
	}
	sort.Strings(teamIDs)

	var due []duedelivery
	for _, teamID := range teamIDs {
		tl := e.timelines[teamID]
		for _, inj := range tl.Injects {
			if inj.Time > elapsed {
				break
			}
			if _, ok := e.delivered[inj.ID]; ok {
				continue
			}
			e.delivered[inj.ID] = struct{}{}
			due = append(due, duedelivery{team: teamID, inject: inj, deliveredAt: elapsed})
		}
	}
	return due
}

func (e *Engine) publishTimer(ctx context.Context, elapsed int) {
	snap := statusstore.TimerSnapshot{
		Elapsed:   elapsed,
		Formatted: formatElapsed(elapsed),
		Timestamp: e.deps.Now(),
	}
	payload, _ := json.Marshal(snap)
	topic := fmt.Sprintf(busc.TopicTimer, e.scenarioID)
	if err := e.deps.Bus.Publish(ctx, topic, payload, busc.AtMostOnce); err != nil {
		e.logger().Warn("publish timer", "scenario", e.scenarioID, "error", err)
	}
	if err := e.deps.Store.PutTimer(ctx, e.scenarioID, snap); err != nil {
		e.logger().Warn("put_timer", "scenario", e.scenarioID, "error", err)
	}
	e.deps.Events.Publish(events.Event{
		Timestamp: e.deps.Now(),
		Source:    events.SourceEngine,
		Kind:      events.KindTick,
		Data:      map[string]any{"scenario": e.scenarioID, "elapsed_seconds": elapsed},
	})
}

func (e *Engine) publishInject(ctx context.Context, d duedelivery) {
	doc := d.inject.ToDelivered(d.team, e.scenarioID, d.deliveredAt)
	payload, _ := json.Marshal(doc)
	topic := fmt.Sprintf(busc.TopicTeamFeed, e.scenarioID, d.team)
	// Publish error is logged, never undoes the DeliverySet entry — per
	// §4.5 failure semantics, the id is still considered delivered.
	if err := e.deps.Bus.Publish(ctx, topic, payload, busc.AtLeastOnce); err != nil {
		e.logger().Warn("publish inject", "scenario", e.scenarioID, "team", d.team, "inject", d.inject.ID, "error", err)
	}
	if err := e.deps.Store.MarkDelivered(ctx, e.scenarioID, d.team, d.inject.ID); err != nil {
		e.logger().Warn("mark_delivered", "scenario", e.scenarioID, "team", d.team, "inject", d.inject.ID, "error", err)
	}
	e.deps.Events.Publish(events.Event{
		Timestamp: e.deps.Now(),
		Source:    events.SourceEngine,
		Kind:      events.KindInjectDelivered,
		Data: map[string]any{
			"scenario": e.scenarioID, "team": d.team, "inject_id": d.inject.ID,
			"elapsed_seconds": d.deliveredAt,
		},
	})
}

func formatElapsed(seconds int) string {
	m := seconds / 60
	s := seconds % 60
	return fmt.Sprintf("T+%02d:%02d", m, s)
}
