package model

// ActionRequest asks to apply an action to an equipment item. The step and
// state are the client's last known snapshot.
type ActionRequest struct {
	OutlineID    string `json:"outline_id"`
	StepNo       int    `json:"step_no"`
	CurrentState int    `json:"current_state"`
	CIID         string `json:"ci_id"`
	ActionID     int    `json:"action_id"`
}

// Validate checks that all required fields are present.
func (r ActionRequest) Validate() error {
	var details []FieldError
	if r.OutlineID == "" {
		details = append(details, FieldError{Field: "outline_id", Code: "REQUIRED", Message: "outline_id is required"})
	}
	if r.StepNo <= 0 {
		details = append(details, FieldError{Field: "step_no", Code: "REQUIRED", Message: "step_no is required"})
	}
	if r.CurrentState <= 0 {
		details = append(details, FieldError{Field: "current_state", Code: "REQUIRED", Message: "current_state is required"})
	}
	if r.CIID == "" {
		details = append(details, FieldError{Field: "ci_id", Code: "REQUIRED", Message: "ci_id is required"})
	}
	if r.ActionID <= 0 {
		details = append(details, FieldError{Field: "action_id", Code: "REQUIRED", Message: "action_id is required"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// Snapshot returns the (outline, step, state) triple the client acted on.
func (r ActionRequest) Snapshot() Snapshot {
	return Snapshot{OutlineID: r.OutlineID, StepNo: r.StepNo, CurrentState: r.CurrentState}
}

// AdvanceRequest asks for the next step after the client's current one.
type AdvanceRequest struct {
	OutlineID    string `json:"outline_id"`
	StepNo       int    `json:"step_no"`
	CurrentState int    `json:"current_state"`
}

// Validate checks that all required fields are present.
func (r AdvanceRequest) Validate() error {
	var details []FieldError
	if r.OutlineID == "" {
		details = append(details, FieldError{Field: "outline_id", Code: "REQUIRED", Message: "outline_id is required"})
	}
	if r.StepNo <= 0 {
		details = append(details, FieldError{Field: "step_no", Code: "REQUIRED", Message: "step_no is required"})
	}
	if r.CurrentState <= 0 {
		details = append(details, FieldError{Field: "current_state", Code: "REQUIRED", Message: "current_state is required"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// Snapshot returns the (outline, step, state) triple the client acted on.
func (r AdvanceRequest) Snapshot() Snapshot {
	return Snapshot{OutlineID: r.OutlineID, StepNo: r.StepNo, CurrentState: r.CurrentState}
}

// AdvanceResult is returned by a step advance. Inserted is false when the
// advance had already been recorded.
type AdvanceResult struct {
	PageKey  string `json:"page_key"`
	StepNo   int    `json:"step_no"`
	Inserted bool   `json:"inserted"`
}

// StartRequest starts an exercise for the session's team.
type StartRequest struct {
	OutlineID string    `json:"outline_id"`
	Track     TrackMeta `json:"track"`
}

// Validate checks that all required fields are present.
func (r StartRequest) Validate() error {
	var details []FieldError
	if r.OutlineID == "" {
		details = append(details, FieldError{Field: "outline_id", Code: "REQUIRED", Message: "outline_id is required"})
	}
	if r.Track.SkillID == "" {
		details = append(details, FieldError{Field: "skill_id", Code: "REQUIRED", Message: "skill_id is required"})
	}
	if r.Track.FormatID == "" {
		details = append(details, FieldError{Field: "format_id", Code: "REQUIRED", Message: "format_id is required"})
	}
	if r.Track.ThemeID == "" {
		details = append(details, FieldError{Field: "theme_id", Code: "REQUIRED", Message: "theme_id is required"})
	}
	if r.Track.ScenarioID == "" {
		details = append(details, FieldError{Field: "scenario_id", Code: "REQUIRED", Message: "scenario_id is required"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// Snapshot is the client's view of where its team currently is.
type Snapshot struct {
	OutlineID    string `json:"outline_id"`
	StepNo       int    `json:"step_no"`
	CurrentState int    `json:"current_state"`
}

// Matches reports whether the snapshot agrees with row on outline, step and
// current state.
func (s Snapshot) Matches(row StatusRow) bool {
	return s.OutlineID == row.Scope.OutlineID &&
		s.StepNo == row.StepNo &&
		s.CurrentState == row.CurrentState
}

// StatusView is the current status of a team for one outline.
type StatusView struct {
	Row     StatusRow `json:"status"`
	PageKey string    `json:"page_key"`
	Solved  bool      `json:"solved"`
}
