package engine

// Snapshot is the small document returned by the control surface's
// status endpoint: {status, scenario, elapsed_seconds, dashboard_urls?,
// teams?}.
type Snapshot struct {
	Status        string         `json:"status"`
	Scenario      string         `json:"scenario"`
	ElapsedSecond int            `json:"elapsed_seconds"`
	DashboardURLs map[string]string `json:"dashboard_urls,omitempty"`
	Delivered     map[string]int `json:"teams,omitempty"`
}

// Status returns a point-in-time snapshot of the engine's state,
// elapsed clock, dashboard URLs, and per-team delivered counts.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	urls := make(map[string]string, len(e.dashboards))
	for team, h := range e.dashboards {
		urls[team] = h.URL
	}

	delivered := make(map[string]int, len(e.timelines))
	for team, tl := range e.timelines {
		count := 0
		for _, inj := range tl.Injects {
			if _, ok := e.delivered[inj.ID]; ok {
				count++
			}
		}
		delivered[team] = count
	}

	return Snapshot{
		Status:        string(e.state),
		Scenario:      e.scenarioID,
		ElapsedSecond: e.clock.elapsed(e.deps.Now()),
		DashboardURLs: urls,
		Delivered:     delivered,
	}
}
