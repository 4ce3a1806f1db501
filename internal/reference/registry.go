package reference

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pitabwire/drill/model"
)

type trackKey struct {
	skillID, formatID string
}

type policyKey struct {
	skillID, formatID string
	stepNo            int
}

type outcomeKey struct {
	themeID, scenarioID string
	currentState        int
	ciID                string
	actionID            int
}

type scenarioKey struct {
	themeID, scenarioID string
}

// snapshot is an immutable view of all reference tables.
type snapshot struct {
	tracks    map[trackKey]model.Track
	policies  map[trackKey][]model.StepPolicy // ascending by step
	outcomes  map[outcomeKey]model.ActionOutcome
	actions   map[int]model.ActionSpec
	scenarios map[scenarioKey]model.Scenario
	skipRules []model.SkipRule
	checksum  string
}

// Registry is a read-optimized, thread-safe store of the reference tables.
// Reads are lock-free; Replace swaps the whole snapshot.
type Registry struct {
	snap              atomic.Pointer[snapshot]
	discoveryDuration time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithDiscoveryDuration sets the discovery duration of tracks that do not
// configure one.
func WithDiscoveryDuration(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.discoveryDuration = d
		}
	}
}

// NewRegistry creates a Registry from the given tables.
func NewRegistry(sets []Tables, opts ...Option) *Registry {
	r := &Registry{discoveryDuration: DefaultDiscoveryDuration}
	for _, opt := range opts {
		opt(r)
	}
	r.Replace(sets)
	return r
}

// Replace atomically swaps the registry contents. Later files win on
// duplicate keys; run the Validator first to reject them.
func (r *Registry) Replace(sets []Tables) {
	s := &snapshot{
		tracks:    make(map[trackKey]model.Track),
		policies:  make(map[trackKey][]model.StepPolicy),
		outcomes:  make(map[outcomeKey]model.ActionOutcome),
		actions:   make(map[int]model.ActionSpec),
		scenarios: make(map[scenarioKey]model.Scenario),
	}

	byKey := make(map[policyKey]model.StepPolicy)
	var checksumParts []string

	for _, set := range sets {
		checksumParts = append(checksumParts, set.Checksum)

		for _, t := range set.Tracks {
			s.tracks[trackKey{t.SkillID, t.FormatID}] = fillTrack(t, r.discoveryDuration)
		}
		for _, p := range set.StepPolicies {
			byKey[policyKey{p.SkillID, p.FormatID, p.StepNo}] = p
		}
		for _, o := range set.ActionOutcomes {
			s.outcomes[outcomeKey{o.ThemeID, o.ScenarioID, o.CurrentState, o.CIID, o.ActionID}] = o
		}
		for _, a := range set.Actions {
			s.actions[a.ActionID] = a
		}
		for _, sc := range set.Scenarios {
			s.scenarios[scenarioKey{sc.ThemeID, sc.ScenarioID}] = sc
		}
		s.skipRules = append(s.skipRules, set.SkipRules...)
	}

	for k, p := range byKey {
		tk := trackKey{k.skillID, k.formatID}
		s.policies[tk] = append(s.policies[tk], p)
	}
	for _, list := range s.policies {
		sort.Slice(list, func(i, j int) bool { return list[i].StepNo < list[j].StepNo })
	}
	if len(s.skipRules) == 0 {
		s.skipRules = DefaultSkipRules()
	}

	sort.Strings(checksumParts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksumParts, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Track returns the track for (skillID, formatID), falling back to defaults.
func (r *Registry) Track(skillID, formatID string) model.Track {
	if t, ok := r.current().tracks[trackKey{skillID, formatID}]; ok {
		return t
	}
	return DefaultTrack(skillID, formatID, r.discoveryDuration)
}

// Tracks returns every track that has a configured entry or step policies.
func (r *Registry) Tracks() []model.Track {
	s := r.current()
	seen := make(map[trackKey]bool)
	var out []model.Track
	for k, t := range s.tracks {
		seen[k] = true
		out = append(out, t)
	}
	for k := range s.policies {
		if !seen[k] {
			out = append(out, DefaultTrack(k.skillID, k.formatID, r.discoveryDuration))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SkillID != out[j].SkillID {
			return out[i].SkillID < out[j].SkillID
		}
		return out[i].FormatID < out[j].FormatID
	})
	return out
}

// Policy returns the step policy for (skillID, formatID, stepNo).
func (r *Registry) Policy(skillID, formatID string, stepNo int) (model.StepPolicy, bool) {
	for _, p := range r.current().policies[trackKey{skillID, formatID}] {
		if p.StepNo == stepNo {
			return p, true
		}
	}
	return model.StepPolicy{}, false
}

// Policies returns the step policies of a track in ascending step order. The
// returned slice must not be modified.
func (r *Registry) Policies(skillID, formatID string) []model.StepPolicy {
	return r.current().policies[trackKey{skillID, formatID}]
}

// Outcome returns the outcome rule for the given location, item and action.
func (r *Registry) Outcome(themeID, scenarioID string, currentState int, ciID string, actionID int) (model.ActionOutcome, bool) {
	o, ok := r.current().outcomes[outcomeKey{themeID, scenarioID, currentState, ciID, actionID}]
	return o, ok
}

// Action returns the catalog entry of an action.
func (r *Registry) Action(actionID int) (model.ActionSpec, bool) {
	a, ok := r.current().actions[actionID]
	return a, ok
}

// Scenario returns the scenario, or a default with the standard start state
// when it is not configured.
func (r *Registry) Scenario(themeID, scenarioID string) (model.Scenario, bool) {
	sc, ok := r.current().scenarios[scenarioKey{themeID, scenarioID}]
	if !ok {
		return model.Scenario{ThemeID: themeID, ScenarioID: scenarioID, StartState: DefaultStartState}, false
	}
	if sc.StartState == 0 {
		sc.StartState = DefaultStartState
	}
	return sc, true
}

// SkipRules returns the ordered skip rule table.
func (r *Registry) SkipRules() []model.SkipRule {
	return r.current().skipRules
}

// Checksum returns the combined checksum of all loaded files.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// HealthCheck fails when no step policies are loaded.
func (r *Registry) HealthCheck() error {
	if len(r.current().policies) == 0 {
		return fmt.Errorf("no step policies loaded")
	}
	return nil
}
