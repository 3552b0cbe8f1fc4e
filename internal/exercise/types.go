// Package exercise defines the immutable data model shared by the
// scenario loader, the engine, and the control surface: scenarios,
// teams, timelines, and injects.
package exercise

// Scenario is immutable after Load. It describes one exercise
// definition and its participating teams.
type Scenario struct {
	ID              string `yaml:"name" json:"name"`
	Description     string `yaml:"description" json:"description"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
	DashboardImage  string `yaml:"dashboard_image,omitempty" json:"dashboard_image,omitempty"`
	IQFile          string `yaml:"iq_file,omitempty" json:"iq_file,omitempty"`
	Teams           []Team `yaml:"teams" json:"teams"`
}

// Team is one participant in a Scenario. TimelineFile is resolved
// relative to the scenarios root directory, not the scenario file's
// own location.
type Team struct {
	ID             string `yaml:"id" json:"id"`
	DashboardPort  int    `yaml:"dashboard_port,omitempty" json:"dashboard_port,omitempty"`
	DashboardImage string `yaml:"dashboard_image,omitempty" json:"dashboard_image,omitempty"`
	TimelineFile   string `yaml:"timeline_file" json:"timeline_file"`
}

// Timeline is one team's ordered sequence of Injects, stable-sorted by
// Time ascending after Load.
type Timeline struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Injects []Inject `yaml:"injects" json:"injects"`
}

// Inject is a single scripted stimulus. Content and Action are opaque
// structured values preserved verbatim through publish; the loader
// validates only the envelope fields below.
type Inject struct {
	ID      string         `yaml:"id" json:"id"`
	Time    int            `yaml:"time" json:"time"`
	Type    string         `yaml:"type" json:"type"`
	Content map[string]any `yaml:"content" json:"content"`
	Media   []any          `yaml:"media,omitempty" json:"media,omitempty"`
	Action  any            `yaml:"action,omitempty" json:"action,omitempty"`
}

// DeliveredInject is the wire shape published to a team's feed topic:
// the original inject document augmented with delivery metadata, per
// the StatusStore/MessageBus wire contract.
type DeliveredInject struct {
	ID          string         `json:"id"`
	Time        int            `json:"time"`
	Type        string         `json:"type"`
	Content     map[string]any `json:"content"`
	Media       []any          `json:"media"`
	Action      any            `json:"action"`
	DeliveredAt int            `json:"delivered_at"`
	TeamID      string         `json:"team_id"`
	ExerciseID  string         `json:"exercise_id"`
}

// ToDelivered builds the wire payload for a just-delivered inject.
func (in Inject) ToDelivered(teamID, exerciseID string, deliveredAt int) DeliveredInject {
	media := in.Media
	if media == nil {
		media = []any{}
	}
	return DeliveredInject{
		ID:          in.ID,
		Time:        in.Time,
		Type:        in.Type,
		Content:     in.Content,
		Media:       media,
		Action:      in.Action,
		DeliveredAt: deliveredAt,
		TeamID:      teamID,
		ExerciseID:  exerciseID,
	}
}
