// Package guard decides whether a submitted action or step-advance may be
// committed against the current status of a team.
package guard

import (
	"time"

	"github.com/pitabwire/drill/model"
)

// IsLegalActionWindow reports whether an action may be logged at (stepNo,
// state): steps 20 up to but excluding 60 accept first-iteration states
// (10, 20) exclusive; step 60 accepts second-iteration states (20, 99)
// exclusive.
func IsLegalActionWindow(stepNo, state int) bool {
	switch {
	case stepNo >= model.ActionWindowFirstStep && stepNo < model.ActionWindowLastStep:
		return state > 10 && state < 20
	case stepNo == model.ActionWindowLastStep:
		return state > 20 && state < model.StateSolved
	}
	return false
}

// IsExpired reports whether the discovery time of a track has run out for an
// exercise started at startedAt. Non-discovery tracks never expire.
func IsExpired(track model.Track, startedAt, now time.Time) bool {
	if !track.Discovery || track.DiscoveryDuration <= 0 || startedAt.IsZero() {
		return false
	}
	return now.Sub(startedAt) > track.DiscoveryDuration
}

// IsQuotaExhausted reports whether count action rows leave no room for
// another.
func IsQuotaExhausted(count int) bool {
	return count >= model.ActionQuota
}
