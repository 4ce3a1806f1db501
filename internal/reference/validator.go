package reference

import (
	"fmt"

	"github.com/pitabwire/drill/model"
)

// VError describes a single validation error in the reference tables.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks reference tables for missing fields, duplicate keys and
// dangling references across all loaded files.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all sets together.
func (v *Validator) Validate(sets []Tables) []VError {
	var errs []VError

	tracks := make(map[trackKey]string)
	policies := make(map[policyKey]string)
	outcomes := make(map[outcomeKey]string)
	actions := make(map[int]string)
	scenarios := make(map[scenarioKey]string)

	for _, set := range sets {
		for i, a := range set.Actions {
			path := fmt.Sprintf("%s.actions[%d]", set.SourceFile, i)
			if a.ActionID <= 0 {
				errs = append(errs, VError{Path: path + ".action_id", Code: "REQUIRED", Message: "action_id must be positive"})
				continue
			}
			if prev, dup := actions[a.ActionID]; dup {
				errs = append(errs, duplicate(path, prev))
				continue
			}
			actions[a.ActionID] = path
		}
	}

	for _, set := range sets {
		errs = append(errs, v.validateTracks(set, tracks)...)
		errs = append(errs, v.validatePolicies(set, policies)...)
		errs = append(errs, v.validateOutcomes(set, outcomes, actions)...)
		errs = append(errs, v.validateScenarios(set, scenarios)...)
		errs = append(errs, v.validateSkipRules(set)...)
	}

	return errs
}

func (v *Validator) validateTracks(set Tables, seen map[trackKey]string) []VError {
	var errs []VError
	for i, t := range set.Tracks {
		path := fmt.Sprintf("%s.tracks[%d]", set.SourceFile, i)
		if t.SkillID == "" || t.FormatID == "" {
			errs = append(errs, VError{Path: path, Code: "REQUIRED", Message: "skill_id and format_id are required"})
			continue
		}
		key := trackKey{t.SkillID, t.FormatID}
		if prev, dup := seen[key]; dup {
			errs = append(errs, duplicate(path, prev))
			continue
		}
		seen[key] = path
		if t.DiscoveryDuration < 0 {
			errs = append(errs, VError{Path: path + ".discovery_duration", Code: "INVALID", Message: "discovery_duration must not be negative"})
		}
		if t.FinalStep != 0 && t.SolvedStep > t.FinalStep {
			errs = append(errs, VError{Path: path + ".solved_step", Code: "INVALID", Message: "solved_step must not exceed final_step"})
		}
	}
	return errs
}

func (v *Validator) validatePolicies(set Tables, seen map[policyKey]string) []VError {
	var errs []VError
	for i, p := range set.StepPolicies {
		path := fmt.Sprintf("%s.step_policies[%d]", set.SourceFile, i)
		if p.SkillID == "" || p.FormatID == "" {
			errs = append(errs, VError{Path: path, Code: "REQUIRED", Message: "skill_id and format_id are required"})
			continue
		}
		if p.StepNo <= 0 {
			errs = append(errs, VError{Path: path + ".step_no", Code: "REQUIRED", Message: "step_no must be positive"})
			continue
		}
		if p.PageKey == "" {
			errs = append(errs, VError{Path: path + ".page_key", Code: "REQUIRED", Message: "page_key is required"})
		}
		key := policyKey{p.SkillID, p.FormatID, p.StepNo}
		if prev, dup := seen[key]; dup {
			errs = append(errs, duplicate(path, prev))
			continue
		}
		seen[key] = path
	}
	return errs
}

func (v *Validator) validateOutcomes(set Tables, seen map[outcomeKey]string, actions map[int]string) []VError {
	var errs []VError
	for i, o := range set.ActionOutcomes {
		path := fmt.Sprintf("%s.action_outcomes[%d]", set.SourceFile, i)
		if o.ThemeID == "" || o.ScenarioID == "" || o.CIID == "" {
			errs = append(errs, VError{Path: path, Code: "REQUIRED", Message: "theme_id, scenario_id and ci_id are required"})
			continue
		}
		key := outcomeKey{o.ThemeID, o.ScenarioID, o.CurrentState, o.CIID, o.ActionID}
		if prev, dup := seen[key]; dup {
			errs = append(errs, duplicate(path, prev))
			continue
		}
		seen[key] = path
		if _, ok := actions[o.ActionID]; !ok {
			errs = append(errs, VError{
				Path:    path + ".action_id",
				Code:    "UNKNOWN_ACTION",
				Message: fmt.Sprintf("action %d is not in the action catalog", o.ActionID),
			})
		}
		if o.NextState <= 0 || o.NextState > model.StateSolved {
			errs = append(errs, VError{Path: path + ".next_state", Code: "INVALID", Message: "next_state must be between 1 and 99"})
		}
	}
	return errs
}

func (v *Validator) validateScenarios(set Tables, seen map[scenarioKey]string) []VError {
	var errs []VError
	for i, s := range set.Scenarios {
		path := fmt.Sprintf("%s.scenarios[%d]", set.SourceFile, i)
		if s.ThemeID == "" || s.ScenarioID == "" {
			errs = append(errs, VError{Path: path, Code: "REQUIRED", Message: "theme_id and scenario_id are required"})
			continue
		}
		key := scenarioKey{s.ThemeID, s.ScenarioID}
		if prev, dup := seen[key]; dup {
			errs = append(errs, duplicate(path, prev))
			continue
		}
		seen[key] = path
		if s.CauseCount < 0 {
			errs = append(errs, VError{Path: path + ".cause_count", Code: "INVALID", Message: "cause_count must not be negative"})
		}
	}
	return errs
}

func (v *Validator) validateSkipRules(set Tables) []VError {
	var errs []VError
	for i, r := range set.SkipRules {
		path := fmt.Sprintf("%s.skip_rules[%d]", set.SourceFile, i)
		switch r.When {
		case model.SkipWhenSolved, model.SkipWhenSingleCause:
		default:
			errs = append(errs, VError{Path: path + ".when", Code: "INVALID", Message: fmt.Sprintf("unknown condition %q", r.When)})
		}
		switch {
		case r.Step > 0 && r.Designated != "":
			errs = append(errs, VError{Path: path, Code: "INVALID", Message: "step and designated are mutually exclusive"})
		case r.Step <= 0 && r.Designated == "":
			errs = append(errs, VError{Path: path, Code: "REQUIRED", Message: "step or designated is required"})
		case r.Designated != "" && r.Designated != model.DesignatedTimesUp && r.Designated != model.DesignatedMultiCause:
			errs = append(errs, VError{Path: path + ".designated", Code: "INVALID", Message: fmt.Sprintf("unknown designated step %q", r.Designated)})
		}
	}
	return errs
}

func duplicate(path, prev string) VError {
	return VError{Path: path, Code: "DUPLICATE", Message: "duplicates " + prev}
}
