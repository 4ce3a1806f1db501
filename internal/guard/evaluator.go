package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/drill/internal/outcome"
	"github.com/pitabwire/drill/internal/statuslog"
	"github.com/pitabwire/drill/internal/steppolicy"
	"github.com/pitabwire/drill/model"
)

// ActionCheck is what the evaluator learned while admitting an action.
type ActionCheck struct {
	Latest model.StatusRow
	Track  model.Track
	Policy model.StepPolicy
	Class  string

	// Repair is set when the outline was found partially closed. The
	// caller must append a closing row and then return the rejection.
	Repair *model.StatusRow
}

// AdvanceCheck is what the evaluator learned while admitting an advance.
type AdvanceCheck struct {
	Latest model.StatusRow

	// Replay is set when the request repeats an advance that was already
	// committed; the caller reports it without writing.
	Replay bool
}

// Evaluator applies the guards in a fixed order so a request failing several
// of them always reports the same reason:
//
//  1. terminal state of the outline (with repair of a partial close)
//  2. request validation
//  3. snapshot match against the team's latest row
//  4. step/state window
//  5. discovery time expiry
//  6. step policy (exists, allows actions, equipment class)
//  7. action quota
//
// A solved outline absorbs every action whatever its fields, so only a
// missing outline id is reported before the terminal check. Advances run
// steps 2 and 3 only.
type Evaluator struct {
	policies *steppolicy.Resolver
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(policies *steppolicy.Resolver) *Evaluator {
	return &Evaluator{policies: policies}
}

// CheckAction admits an action request. log must be the caller's atomic view
// of the status log.
func (e *Evaluator) CheckAction(ctx context.Context, log statuslog.Reader, team model.Team, req model.ActionRequest, now time.Time) (ActionCheck, error) {
	var check ActionCheck

	if req.OutlineID == "" {
		return check, req.Validate()
	}

	scope := model.TeamScope{Team: team, OutlineID: req.OutlineID}
	outlineLatest, err := log.LatestForOutline(ctx, scope)
	if err != nil {
		return check, err
	}
	if outlineLatest != nil {
		if outlineLatest.IsSolved() {
			return check, model.NewTerminalStateError()
		}
		if outlineLatest.IsPartiallyClosed() {
			repair := outlineLatest.Successor(outlineLatest.StepNo, model.StateSolved, model.StateSolved)
			check.Repair = &repair
			return check, model.NewTerminalStateError()
		}
	}

	if err := req.Validate(); err != nil {
		return check, err
	}

	latest, err := e.snapshot(ctx, log, team, req.Snapshot())
	if err != nil {
		return check, err
	}
	check.Latest = *latest

	if !IsLegalActionWindow(req.StepNo, req.CurrentState) {
		return check, model.NewPolicyViolationError(fmt.Sprintf(
			"actions are not allowed at step %d in state %d", req.StepNo, req.CurrentState,
		))
	}

	check.Track = e.policies.Track(latest.Track.SkillID, latest.Track.FormatID)
	if check.Track.Discovery {
		first, err := log.First(ctx, scope)
		if err != nil {
			return check, err
		}
		if first != nil && IsExpired(check.Track, first.CreatedAt, now) {
			return check, model.NewTimeExpiredError()
		}
	}

	policy, ok := e.policies.PolicyFor(latest.Track.SkillID, latest.Track.FormatID, req.StepNo)
	if !ok {
		return check, model.NewPolicyViolationError(fmt.Sprintf("step %d has no policy", req.StepNo))
	}
	if !policy.IsActionAllowed {
		return check, model.NewPolicyViolationError(fmt.Sprintf("step %d does not allow actions", req.StepNo))
	}
	class, ok := outcome.EquipmentClass(req.CIID)
	if !ok {
		return check, model.NewPolicyViolationError(fmt.Sprintf("item %q has no equipment class", req.CIID))
	}
	if !policy.AllowsCIType(class) {
		return check, model.NewPolicyViolationError(fmt.Sprintf(
			"equipment class %q is not addressable at step %d", class, req.StepNo,
		))
	}
	check.Policy = policy
	check.Class = class

	count, err := log.CountActions(ctx, scope)
	if err != nil {
		return check, err
	}
	if IsQuotaExhausted(count) {
		return check, model.NewQuotaExceededError(model.ActionQuota)
	}

	return check, nil
}

// CheckAdvance admits a step-advance request.
func (e *Evaluator) CheckAdvance(ctx context.Context, log statuslog.Reader, team model.Team, req model.AdvanceRequest) (AdvanceCheck, error) {
	var check AdvanceCheck

	if err := req.Validate(); err != nil {
		return check, err
	}

	snap := req.Snapshot()
	latest, err := log.Latest(ctx, team)
	if err != nil {
		return check, err
	}
	if latest == nil {
		return check, model.NewSnapshotMismatchError("no status recorded for this team")
	}
	check.Latest = *latest

	if snap.Matches(*latest) {
		return check, nil
	}
	if IsReplay(*latest, snap) {
		check.Replay = true
		return check, nil
	}
	return check, mismatch(*latest)
}

// IsReplay reports whether snap describes the position a committed
// participant step-advance (latest) moved away from.
func IsReplay(latest model.StatusRow, snap model.Snapshot) bool {
	return latest.IsStepAdvance() &&
		latest.Scope.OutlineID == snap.OutlineID &&
		latest.CurrentState == snap.CurrentState &&
		latest.StepNo > snap.StepNo
}

func (e *Evaluator) snapshot(ctx context.Context, log statuslog.Reader, team model.Team, snap model.Snapshot) (*model.StatusRow, error) {
	latest, err := log.Latest(ctx, team)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, model.NewSnapshotMismatchError("no status recorded for this team")
	}
	if !snap.Matches(*latest) {
		return nil, mismatch(*latest)
	}
	return latest, nil
}

func mismatch(latest model.StatusRow) error {
	return model.NewSnapshotMismatchError(fmt.Sprintf(
		"status is at outline %s step %d state %d",
		latest.Scope.OutlineID, latest.StepNo, latest.CurrentState,
	))
}
