package model

import (
	"fmt"
	"time"
)

// Actor names recorded on status rows.
const (
	ActorParticipant = "participant"
	ActorSystem      = "system"
)

// State and step boundaries of the exercise sequence.
const (
	// StateSolved is the absorbing terminal state. A row with
	// current_state == next_state == StateSolved marks the problem solved.
	StateSolved = 99

	// First and second iteration state ranges (inclusive).
	FirstIterationMin  = 11
	FirstIterationMax  = 19
	SecondIterationMin = 21
	SecondIterationMax = 98

	// Steps that may log actions: [ActionWindowFirstStep, ActionWindowLastStep].
	ActionWindowFirstStep = 20
	ActionWindowLastStep  = 60

	// ActionQuota is the maximum number of action rows per team and outline.
	ActionQuota = 50
)

// Action type classifications written to action rows.
const (
	ActionTypeCorrective    = 1
	ActionTypeNonRisky      = 2
	ActionTypeFailedAttempt = 3
)

// Team identifies one team within a delivery.
type Team struct {
	AccessID string `json:"access_id"`
	TeamNo   int    `json:"team_no"`
}

// String returns the stable textual key of the team, used for lock keys and
// notification channels.
func (t Team) String() string {
	return fmt.Sprintf("%s:%d", t.AccessID, t.TeamNo)
}

// TeamScope identifies one running exercise instance for one team.
type TeamScope struct {
	Team
	OutlineID string `json:"outline_id"`
}

// TrackMeta describes the track of an exercise. It is set on the first row
// of an outline and copied forward unchanged.
type TrackMeta struct {
	SkillID    string `json:"skill_id"`
	ExerciseNo int    `json:"exercise_no"`
	ThemeID    string `json:"theme_id"`
	ScenarioID string `json:"scenario_id"`
	FormatID   string `json:"format_id"`
}

// StatusRow is one immutable entry of the status log. The row with the
// highest ID for a team is the team's current status; CreatedAt is
// informational only.
type StatusRow struct {
	ID           int64     `json:"id"`
	Scope        TeamScope `json:"scope"`
	Track        TrackMeta `json:"track"`
	StepNo       int       `json:"step_no"`
	CurrentState int       `json:"current_state"`
	NextState    int       `json:"next_state"`

	// Action fields, set only on action rows.
	CIID         *string `json:"ci_id,omitempty"`
	ActionID     *int    `json:"action_id,omitempty"`
	OutcomeID    *int    `json:"outcome_id,omitempty"`
	ActionTypeID *int    `json:"action_type_id,omitempty"`
	TimeMin      *int    `json:"time_min,omitempty"`
	Cost         *int    `json:"cost,omitempty"`
	Risk         *int    `json:"risk,omitempty"`

	ActorToken    string    `json:"actor_token"`
	ActorName     string    `json:"actor_name"`
	IncludeInPoll bool      `json:"include_in_poll"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsSolved reports whether the row is the terminal solved marker.
func (r StatusRow) IsSolved() bool {
	return r.CurrentState == StateSolved && r.NextState == StateSolved
}

// IsPartiallyClosed reports whether the row heads to the solved state
// without the closing row having been written.
func (r StatusRow) IsPartiallyClosed() bool {
	return r.CurrentState < StateSolved && r.NextState == StateSolved
}

// HasAction reports whether the row records an action.
func (r StatusRow) HasAction() bool {
	return r.ActionID != nil
}

// IsStepAdvance reports whether the row was written by a participant
// step-advance (no action fields, participant actor).
func (r StatusRow) IsStepAdvance() bool {
	return !r.HasAction() && r.ActorName == ActorParticipant
}

// Successor returns a row for the same scope and track carrying the given
// step and states. Action fields are left empty.
func (r StatusRow) Successor(stepNo, currentState, nextState int) StatusRow {
	return StatusRow{
		Scope:        r.Scope,
		Track:        r.Track,
		StepNo:       stepNo,
		CurrentState: currentState,
		NextState:    nextState,
	}
}

// InActionWindow reports whether stepNo lies within the steps that may log
// actions.
func InActionWindow(stepNo int) bool {
	return stepNo >= ActionWindowFirstStep && stepNo <= ActionWindowLastStep
}
