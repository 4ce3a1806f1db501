// Package progression commits actions and step advances to the status log.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/drill/internal/guard"
	"github.com/pitabwire/drill/internal/notify"
	"github.com/pitabwire/drill/internal/observability"
	"github.com/pitabwire/drill/internal/outcome"
	"github.com/pitabwire/drill/internal/statuslog"
	"github.com/pitabwire/drill/internal/steppolicy"
	"github.com/pitabwire/drill/model"
)

// Reference is the read-only reference data the engine consults.
type Reference interface {
	steppolicy.Table
	outcome.Table
	Action(actionID int) (model.ActionSpec, bool)
	Scenario(themeID, scenarioID string) (model.Scenario, bool)
	Tracks() []model.Track
}

// Engine admits and commits progression requests for teams.
type Engine struct {
	store    statuslog.Store
	ref      Reference
	policies *steppolicy.Resolver
	outcomes *outcome.Resolver
	guards   *guard.Evaluator
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine's clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the fallback logger used when the request context carries
// none.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier sets the live-update notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine creates an Engine over store and ref.
func NewEngine(store statuslog.Store, ref Reference, opts ...Option) *Engine {
	policies := steppolicy.NewResolver(ref)
	e := &Engine{
		store:    store,
		ref:      ref,
		policies: policies,
		outcomes: outcome.NewResolver(ref),
		guards:   guard.NewEvaluator(policies),
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitAction applies an action to an equipment item. On success the
// action row and, when the state moved, a system row carrying the new state
// are appended together.
func (e *Engine) SubmitAction(ctx context.Context, rctx *model.RequestContext, req model.ActionRequest) (err error) {
	ctx, span := observability.StartSpan(ctx, "progression.submit_action",
		observability.AttrAccessID.String(rctx.AccessID),
		observability.AttrTeamNo.Int(rctx.TeamNo),
		observability.AttrOutlineID.String(req.OutlineID),
		observability.AttrStepNo.Int(req.StepNo),
		observability.AttrActionID.Int(req.ActionID),
	)
	defer func() { observability.EndSpan(span, err) }()

	team := rctx.Team()
	now := e.now()
	var committed []model.StatusRow
	var rejection error
	var actionType int

	start := time.Now()
	err = e.store.Atomically(ctx, team, func(log statuslog.Log) error {
		check, err := e.guards.CheckAction(ctx, log, team, req, now)
		if err != nil {
			if check.Repair == nil {
				return err
			}
			repair := *check.Repair
			repair.ActorToken = rctx.ActorToken
			repair.ActorName = model.ActorSystem
			repair.IncludeInPoll = true
			repair.CreatedAt = now
			id, aerr := log.Append(ctx, repair)
			if aerr != nil {
				return aerr
			}
			repair.ID = id
			committed = append(committed, repair)
			rejection = err
			return nil
		}

		latest := check.Latest
		res, err := e.outcomes.Resolve(latest.Track.ThemeID, latest.Track.ScenarioID, req.CurrentState, req.CIID, req.ActionID)
		if err != nil {
			return err
		}

		entry, ok := e.ref.Action(req.ActionID)
		if !ok {
			return model.NewPolicyViolationError(fmt.Sprintf("action %d is not in the action catalog", req.ActionID))
		}
		actionType = ClassifyAction(req.CurrentState, res.NextState, entry.HasRisk())
		step := ActionStep(req.StepNo, req.CurrentState, res.NextState, check.Track)

		row := latest.Successor(step, req.CurrentState, res.NextState)
		row.CIID = &req.CIID
		row.ActionID = &req.ActionID
		row.OutcomeID = &res.OutcomeID
		row.ActionTypeID = &actionType
		row.TimeMin = &entry.TimeMin
		row.Cost = &entry.Cost
		row.Risk = &entry.Risk
		row.ActorToken = rctx.ActorToken
		row.ActorName = model.ActorParticipant
		row.IncludeInPoll = true
		row.CreatedAt = now

		id, err := log.Append(ctx, row)
		if err != nil {
			return err
		}
		row.ID = id
		committed = append(committed, row)

		if res.NextState != row.CurrentState {
			settled := row.Successor(step, res.NextState, res.NextState)
			settled.ActorToken = rctx.ActorToken
			settled.ActorName = model.ActorSystem
			settled.IncludeInPoll = false
			settled.CreatedAt = now
			id, err := log.Append(ctx, settled)
			if err != nil {
				return err
			}
			settled.ID = id
			committed = append(committed, settled)
		}
		return nil
	})
	e.metrics.RecordCommit("action", time.Since(start))
	if err != nil {
		return e.fail(ctx, rctx, "action", err)
	}

	e.publish(ctx, rctx, committed)

	logger := observability.RequestLogger(ctx, e.logger)
	if rejection != nil {
		e.metrics.RecordRepair()
		logger.Info("closed partially solved outline",
			zap.String("outline_id", req.OutlineID),
			zap.Int64("row_id", committed[0].ID),
		)
		return e.fail(ctx, rctx, "action", rejection)
	}

	e.metrics.RecordAction(ActionTypeName(actionType))
	last := committed[len(committed)-1]
	logger.Info("action committed",
		zap.String("outline_id", req.OutlineID),
		zap.String("ci_id", req.CIID),
		zap.Int("action_id", req.ActionID),
		zap.Int("action_type", actionType),
		zap.Int("step_no", last.StepNo),
		zap.Int("next_state", last.NextState),
	)
	return nil
}

// AdvanceStep moves the team to the next step of its track. Repeating an
// advance that was already committed returns Inserted=false.
func (e *Engine) AdvanceStep(ctx context.Context, rctx *model.RequestContext, req model.AdvanceRequest) (model.AdvanceResult, error) {
	return e.advance(ctx, rctx, req, model.ActorParticipant)
}

func (e *Engine) advance(ctx context.Context, rctx *model.RequestContext, req model.AdvanceRequest, actor string) (result model.AdvanceResult, err error) {
	ctx, span := observability.StartSpan(ctx, "progression.advance_step",
		observability.AttrAccessID.String(rctx.AccessID),
		observability.AttrTeamNo.Int(rctx.TeamNo),
		observability.AttrOutlineID.String(req.OutlineID),
		observability.AttrStepNo.Int(req.StepNo),
		observability.AttrCurrentState.Int(req.CurrentState),
	)
	defer func() {
		span.SetAttributes(
			observability.AttrInserted.Bool(result.Inserted),
		)
		observability.EndSpan(span, err)
	}()

	team := rctx.Team()
	now := e.now()
	var committed []model.StatusRow
	var forced, replay bool

	start := time.Now()
	err = e.store.Atomically(ctx, team, func(log statuslog.Log) error {
		check, err := e.guards.CheckAdvance(ctx, log, team, req)
		if err != nil {
			return err
		}
		latest := check.Latest

		if check.Replay {
			replay = true
			result = model.AdvanceResult{
				PageKey: e.pageKey(latest),
				StepNo:  latest.StepNo,
			}
			return nil
		}

		var policy model.StepPolicy
		var ok bool
		policy, forced, ok, err = e.nextStep(ctx, log, latest, now)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewPolicyViolationError(fmt.Sprintf("no step follows step %d", latest.StepNo))
		}

		state := latest.NextState
		row := latest.Successor(policy.StepNo, state, state)
		if state == 0 {
			row.CurrentState = policy.DefaultCurrentState
			row.NextState = policy.DefaultNextState
		}
		row.ActorToken = rctx.ActorToken
		row.ActorName = actor
		row.IncludeInPoll = true
		row.CreatedAt = now

		id, inserted, err := log.AppendIfAbsent(ctx, row)
		if err != nil {
			return err
		}
		if inserted {
			row.ID = id
			committed = append(committed, row)
		}
		result = model.AdvanceResult{
			PageKey:  policy.PageKey,
			StepNo:   policy.StepNo,
			Inserted: inserted,
		}
		return nil
	})
	e.metrics.RecordCommit("advance", time.Since(start))
	if err != nil {
		return model.AdvanceResult{}, e.fail(ctx, rctx, "advance", err)
	}

	e.publish(ctx, rctx, committed)
	e.metrics.RecordAdvance(result.Inserted, forced)
	span.SetAttributes(observability.AttrForced.Bool(forced))

	logger := observability.RequestLogger(ctx, e.logger)
	if replay {
		logger.Debug("advance replayed",
			zap.String("outline_id", req.OutlineID),
			zap.Int("step_no", result.StepNo),
		)
		return result, nil
	}
	logger.Info("step advanced",
		zap.String("outline_id", req.OutlineID),
		zap.String("actor", actor),
		zap.Int("from_step", req.StepNo),
		zap.Int("step_no", result.StepNo),
		zap.Bool("inserted", result.Inserted),
		zap.Bool("forced", forced),
	)
	return result, nil
}

// nextStep picks the step after latest. A running-out discovery timer inside
// the action window forces the time's-up step; otherwise a solved problem
// forces the solved step. A forced step still passes the skip rules and must
// lie ahead of the current step, else the ordered candidates decide.
func (e *Engine) nextStep(ctx context.Context, log statuslog.Reader, latest model.StatusRow, now time.Time) (model.StepPolicy, bool, bool, error) {
	skill, format := latest.Track.SkillID, latest.Track.FormatID
	track := e.policies.Track(skill, format)
	scenario, _ := e.ref.Scenario(latest.Track.ThemeID, latest.Track.ScenarioID)
	sc := steppolicy.SkipContext{
		Track:      track,
		Solved:     latest.IsSolved(),
		CauseCount: scenario.CauseCount,
	}

	var forcedStep int
	if track.Discovery && model.InActionWindow(latest.StepNo) {
		first, err := log.First(ctx, latest.Scope)
		if err != nil {
			return model.StepPolicy{}, false, false, err
		}
		if first != nil && guard.IsExpired(track, first.CreatedAt, now) {
			forcedStep = track.TimesUpStep
		}
	}
	if forcedStep == 0 && sc.Solved {
		forcedStep = track.SolvedStep
	}

	if forcedStep > latest.StepNo && !e.policies.ShouldSkip(forcedStep, sc) {
		if p, ok := e.policies.PolicyFor(skill, format, forcedStep); ok {
			return p, true, true, nil
		}
	}

	p, ok := e.policies.NextStep(skill, format, latest.StepNo, sc)
	return p, false, ok, nil
}

// StartExercise records the first row of an outline for the session's team.
// Starting an outline that already has rows returns its current status.
func (e *Engine) StartExercise(ctx context.Context, rctx *model.RequestContext, req model.StartRequest) (view model.StatusView, err error) {
	ctx, span := observability.StartSpan(ctx, "progression.start_exercise",
		observability.AttrAccessID.String(rctx.AccessID),
		observability.AttrTeamNo.Int(rctx.TeamNo),
		observability.AttrOutlineID.String(req.OutlineID),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return model.StatusView{}, e.fail(ctx, rctx, "start", err)
	}

	team := rctx.Team()
	scope := model.TeamScope{Team: team, OutlineID: req.OutlineID}
	now := e.now()
	var row model.StatusRow
	var inserted bool

	start := time.Now()
	err = e.store.Atomically(ctx, team, func(log statuslog.Log) error {
		existing, err := log.LatestForOutline(ctx, scope)
		if err != nil {
			return err
		}
		if existing != nil {
			row = *existing
			return nil
		}

		track := e.policies.Track(req.Track.SkillID, req.Track.FormatID)
		steps, err := log.MaxStepByOutline(ctx, team, nil)
		if err != nil {
			return err
		}
		for outlineID, step := range steps {
			if step > 0 && step < track.FinalStep {
				return model.NewPolicyViolationError(fmt.Sprintf("outline %s is still in progress", outlineID))
			}
		}

		candidates := e.policies.CandidateNextSteps(req.Track.SkillID, req.Track.FormatID, 0)
		if len(candidates) == 0 {
			return model.NewPolicyViolationError(fmt.Sprintf(
				"track %s/%s has no steps", req.Track.SkillID, req.Track.FormatID,
			))
		}
		scenario, _ := e.ref.Scenario(req.Track.ThemeID, req.Track.ScenarioID)

		row = model.StatusRow{
			Scope:         scope,
			Track:         req.Track,
			StepNo:        candidates[0].StepNo,
			CurrentState:  scenario.StartState,
			NextState:     scenario.StartState,
			ActorToken:    rctx.ActorToken,
			ActorName:     model.ActorParticipant,
			IncludeInPoll: true,
			CreatedAt:     now,
		}
		id, ok, err := log.AppendIfAbsent(ctx, row)
		if err != nil {
			return err
		}
		row.ID = id
		inserted = ok
		return nil
	})
	e.metrics.RecordCommit("start", time.Since(start))
	if err != nil {
		return model.StatusView{}, e.fail(ctx, rctx, "start", err)
	}

	e.metrics.RecordStart(inserted)
	if inserted {
		e.publish(ctx, rctx, []model.StatusRow{row})
		observability.RequestLogger(ctx, e.logger).Info("exercise started",
			zap.String("outline_id", req.OutlineID),
			zap.String("skill_id", req.Track.SkillID),
			zap.String("format_id", req.Track.FormatID),
			zap.Int("step_no", row.StepNo),
		)
	}
	return e.view(row), nil
}

// Status returns the current status of one outline of the session's team.
func (e *Engine) Status(ctx context.Context, rctx *model.RequestContext, outlineID string) (model.StatusView, error) {
	scope := rctx.Scope(outlineID)
	if scope.OutlineID == "" {
		return model.StatusView{}, model.NewValidationError([]model.FieldError{
			{Field: "outline_id", Code: "REQUIRED", Message: "outline_id is required"},
		})
	}
	row, err := e.store.LatestForOutline(ctx, scope)
	if err != nil {
		return model.StatusView{}, e.fail(ctx, rctx, "status", err)
	}
	if row == nil {
		return model.StatusView{}, model.NewNotFoundError(fmt.Sprintf("outline %s has not been started", scope.OutlineID))
	}
	return e.view(*row), nil
}

func (e *Engine) view(row model.StatusRow) model.StatusView {
	return model.StatusView{
		Row:     row,
		PageKey: e.pageKey(row),
		Solved:  row.IsSolved(),
	}
}

func (e *Engine) pageKey(row model.StatusRow) string {
	p, ok := e.policies.PolicyFor(row.Track.SkillID, row.Track.FormatID, row.StepNo)
	if !ok {
		return ""
	}
	return p.PageKey
}

// publish hands committed rows to the notifier. Failures are logged only.
func (e *Engine) publish(ctx context.Context, rctx *model.RequestContext, rows []model.StatusRow) {
	if len(rows) == 0 {
		return
	}
	ctx, span := observability.StartSpan(ctx, "notify.publish",
		attribute.Int("drill.rows", len(rows)),
	)
	err := e.notifier.Publish(ctx, rows)
	observability.EndSpan(span, err)
	if err != nil {
		e.metrics.RecordNotificationFailure()
		observability.RequestLogger(ctx, e.logger).Warn("notification failed",
			zap.String("access_id", rctx.AccessID),
			zap.Int("team_no", rctx.TeamNo),
			zap.Error(err),
		)
	}
}

// fail maps err to the error returned to the caller. Envelope errors are
// rejections and pass through; anything else is a storage fault reported
// under a correlation id.
func (e *Engine) fail(ctx context.Context, rctx *model.RequestContext, op string, err error) error {
	logger := observability.RequestLogger(ctx, e.logger)

	var envelope *model.ErrorEnvelope
	if errors.As(err, &envelope) {
		e.metrics.RecordRejection(op, envelope.Code)
		logger.Warn("request rejected",
			zap.String("op", op),
			zap.String("code", envelope.Code),
			zap.String("reason", envelope.Message),
		)
		return envelope
	}

	correlationID := rctx.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	e.metrics.RecordRejection(op, model.ErrStorageFault)
	logger.Error("storage fault",
		zap.String("op", op),
		zap.String("correlation_id", correlationID),
		zap.Error(err),
	)
	return model.NewStorageFaultError(correlationID)
}
