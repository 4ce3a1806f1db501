package reference

import (
	"time"

	"github.com/pitabwire/drill/model"
)

// DiscoveryFormat is the format id of the timed discovery variant.
const DiscoveryFormat = "discovery"

// Designated steps used when a track has no configured entry.
const (
	DefaultTimesUpStep         = 70
	DefaultDiscoverySolvedStep = 80
	DefaultSolvedStep          = 100
	DefaultIterationStep       = 60
	DefaultMultiCauseStep      = 50
	DefaultFinalStep           = 100
	DefaultStartState          = 11
	DefaultDiscoveryDuration   = 30 * time.Minute
)

// DefaultTrack returns the track used for (skillID, formatID) when none is
// configured.
func DefaultTrack(skillID, formatID string, discoveryDuration time.Duration) model.Track {
	t := model.Track{
		SkillID:        skillID,
		FormatID:       formatID,
		TimesUpStep:    DefaultTimesUpStep,
		SolvedStep:     DefaultSolvedStep,
		IterationStep:  DefaultIterationStep,
		MultiCauseStep: DefaultMultiCauseStep,
		FinalStep:      DefaultFinalStep,
	}
	if formatID == DiscoveryFormat {
		t.Discovery = true
		t.DiscoveryDuration = discoveryDuration
		t.SolvedStep = DefaultDiscoverySolvedStep
	}
	return t
}

// DefaultSkipRules skip the time's-up step once solved and the multi-cause
// step for single-cause scenarios.
func DefaultSkipRules() []model.SkipRule {
	return []model.SkipRule{
		{Designated: model.DesignatedTimesUp, When: model.SkipWhenSolved},
		{Designated: model.DesignatedMultiCause, When: model.SkipWhenSingleCause},
	}
}

// fillTrack completes a configured track with defaults for unset steps.
func fillTrack(t model.Track, discoveryDuration time.Duration) model.Track {
	d := DefaultTrack(t.SkillID, t.FormatID, discoveryDuration)
	if t.FormatID == DiscoveryFormat {
		t.Discovery = true
	}
	if t.Discovery && t.DiscoveryDuration == 0 {
		t.DiscoveryDuration = discoveryDuration
	}
	if t.TimesUpStep == 0 {
		t.TimesUpStep = d.TimesUpStep
	}
	if t.SolvedStep == 0 {
		t.SolvedStep = d.SolvedStep
		if t.Discovery {
			t.SolvedStep = DefaultDiscoverySolvedStep
		}
	}
	if t.IterationStep == 0 {
		t.IterationStep = d.IterationStep
	}
	if t.MultiCauseStep == 0 {
		t.MultiCauseStep = d.MultiCauseStep
	}
	if t.FinalStep == 0 {
		t.FinalStep = d.FinalStep
	}
	return t
}
