package model

import (
	"slices"
	"time"
)

// ActionOutcome maps a location, an equipment item and an action to the
// resulting location.
type ActionOutcome struct {
	ThemeID      string `yaml:"theme_id" json:"theme_id"`
	ScenarioID   string `yaml:"scenario_id" json:"scenario_id"`
	CurrentState int    `yaml:"current_state" json:"current_state"`
	CIID         string `yaml:"ci_id" json:"ci_id"`
	ActionID     int    `yaml:"action_id" json:"action_id"`
	NextState    int    `yaml:"next_state" json:"next_state"`
	OutcomeID    int    `yaml:"outcome_id" json:"outcome_id"`
}

// ActionSpec is the catalog entry of an action.
type ActionSpec struct {
	ActionID int    `yaml:"action_id" json:"action_id"`
	Name     string `yaml:"name" json:"name"`
	TimeMin  int    `yaml:"time_min" json:"time_min"`
	Cost     int    `yaml:"cost" json:"cost"`
	Risk     int    `yaml:"risk" json:"risk"`
}

// HasRisk reports whether performing the action carries a risk flag.
func (a ActionSpec) HasRisk() bool {
	return a.Risk > 0
}

// StepPolicy configures one step of a track.
type StepPolicy struct {
	SkillID         string `yaml:"skill_id" json:"skill_id"`
	FormatID        string `yaml:"format_id" json:"format_id"`
	StepNo          int    `yaml:"step_no" json:"step_no"`
	IsActionAllowed bool   `yaml:"is_action_allowed" json:"is_action_allowed"`

	// AllowedCITypeIDs restricts addressable equipment classes. Empty means
	// unrestricted.
	AllowedCITypeIDs []string `yaml:"allowed_ci_type_ids" json:"allowed_ci_type_ids,omitempty"`

	PageKey             string `yaml:"page_key" json:"page_key"`
	DefaultCurrentState int    `yaml:"default_current_state" json:"default_current_state,omitempty"`
	DefaultNextState    int    `yaml:"default_next_state" json:"default_next_state,omitempty"`
}

// AllowsCIType reports whether equipment class ciType is addressable on the
// step.
func (p StepPolicy) AllowsCIType(ciType string) bool {
	if len(p.AllowedCITypeIDs) == 0 {
		return true
	}
	return slices.Contains(p.AllowedCITypeIDs, ciType)
}

// Scenario describes one troubleshooting scenario of a theme.
type Scenario struct {
	ThemeID    string `yaml:"theme_id" json:"theme_id"`
	ScenarioID string `yaml:"scenario_id" json:"scenario_id"`
	CauseCount int    `yaml:"cause_count" json:"cause_count"`
	StartState int    `yaml:"start_state" json:"start_state"`
}

// Track holds the designated steps of a (skill, format) track.
type Track struct {
	SkillID           string        `yaml:"skill_id" json:"skill_id"`
	FormatID          string        `yaml:"format_id" json:"format_id"`
	Discovery         bool          `yaml:"discovery" json:"discovery"`
	DiscoveryDuration time.Duration `yaml:"discovery_duration" json:"discovery_duration,omitempty"`
	TimesUpStep       int           `yaml:"times_up_step" json:"times_up_step"`
	SolvedStep        int           `yaml:"solved_step" json:"solved_step"`
	IterationStep     int           `yaml:"iteration_step" json:"iteration_step"`
	MultiCauseStep    int           `yaml:"multi_cause_step" json:"multi_cause_step"`
	FinalStep         int           `yaml:"final_step" json:"final_step"`
}

// Skip rule conditions.
const (
	SkipWhenSolved      = "solved"
	SkipWhenSingleCause = "single_cause"
)

// SkipRule excludes a candidate step when its condition holds. Step may be
// zero to refer to a designated step of the track via Designated
// ("times_up" or "multi_cause"). Empty SkillID/FormatID match any track.
type SkipRule struct {
	Step       int    `yaml:"step" json:"step,omitempty"`
	Designated string `yaml:"designated" json:"designated,omitempty"`
	When       string `yaml:"when" json:"when"`
	SkillID    string `yaml:"skill_id" json:"skill_id,omitempty"`
	FormatID   string `yaml:"format_id" json:"format_id,omitempty"`
}

// Designated step names used by skip rules.
const (
	DesignatedTimesUp    = "times_up"
	DesignatedMultiCause = "multi_cause"
)
