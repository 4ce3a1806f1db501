package progression

import "github.com/pitabwire/drill/model"

// correctiveThreshold is how far past the current state a transition must
// land to count as corrective.
const correctiveThreshold = 5

// ClassifyAction returns the action type of a transition from current to
// next: corrective when next lies more than five states ahead, otherwise
// non-risky when the action carries no risk, otherwise a failed attempt.
func ClassifyAction(current, next int, hasRisk bool) int {
	switch {
	case next > current+correctiveThreshold:
		return model.ActionTypeCorrective
	case !hasRisk:
		return model.ActionTypeNonRisky
	default:
		return model.ActionTypeFailedAttempt
	}
}

// ActionTypeName returns the metric label of an action type.
func ActionTypeName(actionType int) string {
	switch actionType {
	case model.ActionTypeCorrective:
		return "corrective"
	case model.ActionTypeNonRisky:
		return "non_risky"
	case model.ActionTypeFailedAttempt:
		return "failed_attempt"
	}
	return "unknown"
}

// ActionStep returns the step an action row is recorded at. A transition
// from a state below 20 into the 20..98 range moves the row to the track's
// iteration step.
func ActionStep(stepNo, current, next int, track model.Track) int {
	if current <= model.FirstIterationMax && next > model.FirstIterationMax && next <= model.SecondIterationMax {
		return track.IterationStep
	}
	return stepNo
}
