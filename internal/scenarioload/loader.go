// Package scenarioload reads a scenario file and its per-team
// timelines from a scenarios root directory into validated in-memory
// records. It never mutates the files it reads.
package scenarioload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/scip-range/exercise-orchestrator/internal/exercise"
)

// Sentinel errors returned by Load. Wrap with fmt.Errorf("...: %w", ...)
// for context; callers should use errors.Is against these.
var (
	ErrNotFound        = errors.New("scenario not found")
	ErrMalformed       = errors.New("scenario malformed")
	ErrTimelineMissing = errors.New("referenced timeline file missing")
)

// Load reads "<root>/<scenarioID>.yaml" (falling back to ".yml", then
// ".json" for scenario documents authored in that format) and every team's
// timeline file, returning a validated Scenario and a map of team ID
// to that team's Timeline, stable-sorted by Inject time ascending.
func Load(root, scenarioID string) (*exercise.Scenario, map[string]*exercise.Timeline, error) {
	path, err := findDocument(root, scenarioID)
	if err != nil {
		return nil, nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, scenarioID)
		}
		return nil, nil, fmt.Errorf("reading scenario %s: %w", scenarioID, err)
	}

	var sc exercise.Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, scenarioID, err)
	}
	if sc.ID == "" {
		return nil, nil, fmt.Errorf("%w: %s: missing name", ErrMalformed, scenarioID)
	}

	teamSeen := make(map[string]bool, len(sc.Teams))
	timelines := make(map[string]*exercise.Timeline, len(sc.Teams))
	for _, team := range sc.Teams {
		if team.ID == "" {
			return nil, nil, fmt.Errorf("%w: %s: team with empty id", ErrMalformed, scenarioID)
		}
		if teamSeen[team.ID] {
			return nil, nil, fmt.Errorf("%w: %s: duplicate team id %q", ErrMalformed, scenarioID, team.ID)
		}
		teamSeen[team.ID] = true

		tl, err := loadTimeline(root, team.TimelineFile)
		if err != nil {
			return nil, nil, err
		}
		timelines[team.ID] = tl
	}

	return &sc, timelines, nil
}

// findDocument probes for a scenario document under root, accepting
// a .yaml, .yml or .json extension, in that order.
func findDocument(root, scenarioID string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		candidate := filepath.Join(root, scenarioID+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, scenarioID)
}

func loadTimeline(root, timelineFile string) (*exercise.Timeline, error) {
	if timelineFile == "" {
		return &exercise.Timeline{}, nil
	}

	path := filepath.Join(root, timelineFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimelineMissing, timelineFile)
		}
		return nil, fmt.Errorf("reading timeline %s: %w", timelineFile, err)
	}

	var tl exercise.Timeline
	if err := yaml.Unmarshal(raw, &tl); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, timelineFile, err)
	}

	seen := make(map[string]bool, len(tl.Injects))
	for _, inj := range tl.Injects {
		if inj.ID == "" {
			return nil, fmt.Errorf("%w: %s: inject with empty id", ErrMalformed, timelineFile)
		}
		if seen[inj.ID] {
			return nil, fmt.Errorf("%w: %s: duplicate inject id %q", ErrMalformed, timelineFile, inj.ID)
		}
		seen[inj.ID] = true
		if inj.Time < 0 {
			return nil, fmt.Errorf("%w: %s: inject %q has negative time", ErrMalformed, timelineFile, inj.ID)
		}
	}

	sort.SliceStable(tl.Injects, func(i, j int) bool {
		return tl.Injects[i].Time < tl.Injects[j].Time
	})

	return &tl, nil
}
