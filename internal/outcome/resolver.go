// Package outcome maps a location, an equipment item and an action to the
// resulting location.
package outcome

import (
	"fmt"

	"github.com/pitabwire/drill/model"
)

// Table is the action outcome lookup.
type Table interface {
	Outcome(themeID, scenarioID string, currentState int, ciID string, actionID int) (model.ActionOutcome, bool)
}

// Result is a resolved transition.
type Result struct {
	NextState int
	OutcomeID int
}

// Resolver resolves actions against the outcome table.
type Resolver struct {
	table Table
}

// NewResolver creates a Resolver over table.
func NewResolver(table Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve returns the transition for applying actionID to ciID at
// currentState. An unknown combination is an OUTCOME_NOT_FOUND error; it is
// an expected result for illegal pairs, not a fault.
func (r *Resolver) Resolve(themeID, scenarioID string, currentState int, ciID string, actionID int) (Result, error) {
	o, ok := r.table.Outcome(themeID, scenarioID, currentState, ciID, actionID)
	if !ok {
		return Result{}, model.NewOutcomeNotFoundError(fmt.Sprintf(
			"action %d on %q has no outcome at state %d", actionID, ciID, currentState,
		))
	}
	return Result{NextState: o.NextState, OutcomeID: o.OutcomeID}, nil
}
