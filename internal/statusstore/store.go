// Package statusstore implements C2 StatusStore: an external,
// TTL-bounded key/value mirror of exercise state, timer, and per-team
// delivery counts. Every operation is best-effort — a transport
// failure is returned to the caller to log, never propagated as a
// lifecycle error. The in-process engine state remains authoritative.
package statusstore

import (
	"context"
	"fmt"
	"time"
)

// TTL is the uniform expiry refreshed on every write, per §4.3.
const TTL = 24 * time.Hour

// TimerSnapshot is the JSON document stored at the "timer" key.
type TimerSnapshot struct {
	Elapsed   int       `json:"elapsed"`
	Formatted string    `json:"formatted"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is implemented by the Redis-backed production store and an
// in-memory test double.
type Store interface {
	PutState(ctx context.Context, scenario, state string) error
	PutTimer(ctx context.Context, scenario string, snap TimerSnapshot) error
	MarkDelivered(ctx context.Context, scenario, team, injectID string) error
	CountDelivered(ctx context.Context, scenario, team string) (int, error)
	Purge(ctx context.Context, scenario string) error
}

// Keys builds the namespaced key layout from §6.
type Keys struct{ Scenario string }

func (k Keys) State() string          { return fmt.Sprintf("exercise:%s:state", k.Scenario) }
func (k Keys) StateTimestamp() string { return fmt.Sprintf("exercise:%s:state_timestamp", k.Scenario) }
func (k Keys) Timer() string          { return fmt.Sprintf("exercise:%s:timer", k.Scenario) }
func (k Keys) Delivered(team string) string {
	return fmt.Sprintf("exercise:%s:team:%s:delivered", k.Scenario, team)
}
func (k Keys) Count(team string) string {
	return fmt.Sprintf("exercise:%s:team:%s:count", k.Scenario, team)
}
func (k Keys) DeliveredAt(injectID string) string {
	return fmt.Sprintf("exercise:%s:inject:%s:delivered_at", k.Scenario, injectID)
}
func (k Keys) Pattern() string { return fmt.Sprintf("exercise:%s:*", k.Scenario) }
