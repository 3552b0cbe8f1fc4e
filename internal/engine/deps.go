package engine

import (
	"log/slog"
	"time"

	"github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/events"
	"github.com/scip-range/exercise-orchestrator/internal/launcher"
	"github.com/scip-range/exercise-orchestrator/internal/statusstore"
)

// Deps are the collaborators shared by every engine in a Registry: C1
// MessageBus, C2 StatusStore, C3 Launcher, plus the operational event
// bus and a scenarios root directory for C4 ScenarioLoader. Tests
// override Now and TickInterval to run the clock and tick loop without
// real sleeps.
type Deps struct {
	ScenariosRoot string
	Bus           bus.Bus
	Store         statusstore.Store
	Launcher      launcher.Launcher
	Events        *events.Bus
	Logger        *slog.Logger

	// Now and TickInterval default to time.Now and 100ms; tests may
	// override both to drive the clock deterministically.
	Now          func() time.Time
	TickInterval time.Duration
}

func (d *Deps) withDefaults() Deps {
	out := *d
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.TickInterval == 0 {
		out.TickInterval = 100 * time.Millisecond
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}
