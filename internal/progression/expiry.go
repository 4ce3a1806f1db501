package progression

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/drill/internal/observability"
	"github.com/pitabwire/drill/internal/statuslog"
	"github.com/pitabwire/drill/model"
)

// systemActorToken is recorded on rows written by the expiry sweep.
const systemActorToken = "system:expiry"

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Advanced int
	Skipped  int
	Failed   int
}

// ProcessDiscoveryExpiry advances every discovery-track team whose timer ran
// out while it was still inside the action window. Each team is advanced as
// the system actor using its own latest row as the snapshot, so a team that
// moved in the meantime is skipped rather than overwritten.
func (e *Engine) ProcessDiscoveryExpiry(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := e.now()

	for _, track := range e.ref.Tracks() {
		if !track.Discovery || track.DiscoveryDuration <= 0 {
			continue
		}
		rows, err := e.store.FindExpired(ctx, statuslog.ExpiryQuery{
			SkillID:       track.SkillID,
			FormatID:      track.FormatID,
			StartedBefore: now.Add(-track.DiscoveryDuration),
			FirstStep:     model.ActionWindowFirstStep,
			LastStep:      model.ActionWindowLastStep,
		})
		if err != nil {
			return result, fmt.Errorf("find expired %s/%s: %w", track.SkillID, track.FormatID, err)
		}

		for _, row := range rows {
			switch e.expire(ctx, row) {
			case "advanced":
				result.Advanced++
			case "skipped":
				result.Skipped++
			default:
				result.Failed++
			}
		}
	}

	if result.Advanced+result.Skipped+result.Failed > 0 {
		e.logger.Info("discovery expiry sweep",
			zap.Int("advanced", result.Advanced),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (e *Engine) expire(ctx context.Context, row model.StatusRow) string {
	rctx := &model.RequestContext{
		AccessID:      row.Scope.AccessID,
		TeamNo:        row.Scope.TeamNo,
		OutlineID:     row.Scope.OutlineID,
		ActorToken:    systemActorToken,
		CorrelationID: uuid.New().String(),
	}
	req := model.AdvanceRequest{
		OutlineID:    row.Scope.OutlineID,
		StepNo:       row.StepNo,
		CurrentState: row.CurrentState,
	}

	res, err := e.advance(ctx, rctx, req, model.ActorSystem)
	result := "advanced"
	switch {
	case model.IsCode(err, model.ErrSnapshotMismatch):
		result = "skipped"
	case err != nil:
		result = "failed"
		e.logger.With(observability.ScopeFields(row.Scope)...).Warn("discovery expiry advance failed", zap.Error(err))
	case !res.Inserted:
		result = "skipped"
	}
	e.metrics.RecordExpirySweep(result)
	return result
}
