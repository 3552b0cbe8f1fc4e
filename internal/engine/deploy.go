package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/scip-range/exercise-orchestrator/internal/launcher"
	"github.com/scip-range/exercise-orchestrator/internal/scenarioload"
)

// Deploy loads the scenario and its timelines, launches one dashboard
// worker per team (plus an IQ service worker when the scenario names
// an iq_file), and registers the resulting Engine in NotStarted.
// Deploy is only valid when no engine for this scenario name exists
// (§4.5); a second Deploy call while one is active returns
// ErrAlreadyActive for the control surface to translate to 409.
func (r *Registry) Deploy(ctx context.Context, scenarioID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[scenarioID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, scenarioID)
	}

	scenario, timelines, err := scenarioload.Load(r.deps.ScenariosRoot, scenarioID)
	if err != nil {
		switch {
		case errors.Is(err, scenarioload.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, scenarioID)
		default:
			// ErrMalformed and ErrTimelineMissing are both fatal parse/schema
			// failures from the engine's point of view, per §4.5.
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	e := &Engine{
		deps:        r.deps,
		scenarioID:  scenarioID,
		scenario:    scenario,
		timelines:   timelines,
		state:       NotStarted,
		delivered:   make(map[string]struct{}),
		lastEmitted: -1,
		dashboards:  make(map[string]launcher.Handle),
		stopCh:      make(chan struct{}),
	}

	if err := e.launchWorkers(ctx); err != nil {
		return nil, err
	}

	if err := r.deps.Store.PutState(ctx, scenarioID, string(NotStarted)); err != nil {
		r.deps.Logger.Warn("put_state on deploy", "scenario", scenarioID, "error", err)
	}

	r.engines[scenarioID] = e
	return e, nil
}

// launchWorkers launches one dashboard per team, then an auxiliary IQ
// service worker if the scenario names an iq_file. On any failure it
// rolls back every worker already launched for this deploy, in
// reverse creation order, and returns ErrDeployFailed — per the
// Rollback property in §8.
func (e *Engine) launchWorkers(ctx context.Context) error {
	for _, team := range e.scenario.Teams {
		image := team.DashboardImage
		if image == "" {
			image = e.scenario.DashboardImage
		}
		spec := launcher.Spec{
			Name:   fmt.Sprintf("%s-dashboard-%s", e.scenarioID, team.ID),
			Kind:   launcher.KindDashboard,
			TeamID: team.ID,
			Image:  image,
			Env: map[string]string{
				"SCENARIO_ID": e.scenarioID,
				"TEAM_ID":     team.ID,
			},
		}
		if team.DashboardPort != 0 {
			spec.PortBinding = launcher.PortBinding{ContainerPort: 8080, HostPort: team.DashboardPort}
		}

		h, err := e.deps.Launcher.Launch(ctx, spec)
		if err != nil {
			e.rollback(ctx)
			return fmt.Errorf("%w: team %s: %v", ErrDeployFailed, team.ID, err)
		}
		e.workers = append(e.workers, h)
		e.dashboards[team.ID] = h
	}

	if e.scenario.IQFile != "" {
		spec := launcher.Spec{
			Name:  fmt.Sprintf("%s-iq-service", e.scenarioID),
			Kind:  launcher.KindService,
			Image: "exercise-orchestrator/iqstream",
			Env:   map[string]string{"SCENARIO_ID": e.scenarioID},
			Volumes: []launcher.VolumeMount{
				{HostPath: e.scenario.IQFile, ContainerPath: "/data/signal.iq", ReadOnly: true},
			},
		}
		h, err := e.deps.Launcher.Launch(ctx, spec)
		if err != nil {
			e.rollback(ctx)
			return fmt.Errorf("%w: iq service: %v", ErrDeployFailed, err)
		}
		e.workers = append(e.workers, h)
	}

	return nil
}

// rollback destroys every worker launched so far, in reverse creation
// order, per §5 Cancellation.
func (e *Engine) rollback(ctx context.Context) {
	for i := len(e.workers) - 1; i >= 0; i-- {
		if err := e.deps.Launcher.Destroy(ctx, e.workers[i]); err != nil {
			e.deps.Logger.Warn("rollback destroy", "worker", e.workers[i].Name, "error", err)
		}
	}
	e.workers = nil
	e.dashboards = make(map[string]launcher.Handle)
}
