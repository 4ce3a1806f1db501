// Package steppolicy answers what a step of a track allows and which step
// comes next.
package steppolicy

import (
	"github.com/pitabwire/drill/model"
)

// Table is the step policy and track lookup.
type Table interface {
	Policy(skillID, formatID string, stepNo int) (model.StepPolicy, bool)
	Policies(skillID, formatID string) []model.StepPolicy
	Track(skillID, formatID string) model.Track
	SkipRules() []model.SkipRule
}

// SkipContext is the state skip rules are evaluated against.
type SkipContext struct {
	Track      model.Track
	Solved     bool
	CauseCount int
}

// Resolver resolves step policies and candidate next steps.
type Resolver struct {
	table Table
}

// NewResolver creates a Resolver over table.
func NewResolver(table Table) *Resolver {
	return &Resolver{table: table}
}

// Track returns the designated steps of (skillID, formatID).
func (r *Resolver) Track(skillID, formatID string) model.Track {
	return r.table.Track(skillID, formatID)
}

// PolicyFor returns the policy of a step.
func (r *Resolver) PolicyFor(skillID, formatID string, stepNo int) (model.StepPolicy, bool) {
	return r.table.Policy(skillID, formatID, stepNo)
}

// CandidateNextSteps returns the policies of the track with a step greater
// than afterStep, ascending.
func (r *Resolver) CandidateNextSteps(skillID, formatID string, afterStep int) []model.StepPolicy {
	var out []model.StepPolicy
	for _, p := range r.table.Policies(skillID, formatID) {
		if p.StepNo > afterStep {
			out = append(out, p)
		}
	}
	return out
}

// ShouldSkip reports whether stepNo is excluded by the skip rule table.
func (r *Resolver) ShouldSkip(stepNo int, sc SkipContext) bool {
	return ShouldSkip(r.table.SkipRules(), stepNo, sc)
}

// NextStep returns the first candidate after afterStep not excluded by the
// skip rules.
func (r *Resolver) NextStep(skillID, formatID string, afterStep int, sc SkipContext) (model.StepPolicy, bool) {
	for _, p := range r.CandidateNextSteps(skillID, formatID, afterStep) {
		if !r.ShouldSkip(p.StepNo, sc) {
			return p, true
		}
	}
	return model.StepPolicy{}, false
}

// ShouldSkip evaluates rules in order and reports whether any rule that
// applies to the track targets stepNo and has its condition met.
func ShouldSkip(rules []model.SkipRule, stepNo int, sc SkipContext) bool {
	for _, rule := range rules {
		if rule.SkillID != "" && rule.SkillID != sc.Track.SkillID {
			continue
		}
		if rule.FormatID != "" && rule.FormatID != sc.Track.FormatID {
			continue
		}
		if ruleStep(rule, sc.Track) != stepNo {
			continue
		}
		if conditionHolds(rule.When, sc) {
			return true
		}
	}
	return false
}

func ruleStep(rule model.SkipRule, track model.Track) int {
	switch rule.Designated {
	case model.DesignatedTimesUp:
		return track.TimesUpStep
	case model.DesignatedMultiCause:
		return track.MultiCauseStep
	}
	return rule.Step
}

func conditionHolds(when string, sc SkipContext) bool {
	switch when {
	case model.SkipWhenSolved:
		return sc.Solved
	case model.SkipWhenSingleCause:
		return sc.CauseCount == 1
	}
	return false
}
