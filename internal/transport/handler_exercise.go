package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/drill/model"
)

// maxBodyBytes bounds exercise request bodies.
const maxBodyBytes = 64 << 10

// Exercises is the set of progression operations exposed over HTTP.
type Exercises interface {
	StartExercise(ctx context.Context, rctx *model.RequestContext, req model.StartRequest) (model.StatusView, error)
	SubmitAction(ctx context.Context, rctx *model.RequestContext, req model.ActionRequest) error
	AdvanceStep(ctx context.Context, rctx *model.RequestContext, req model.AdvanceRequest) (model.AdvanceResult, error)
	Status(ctx context.Context, rctx *model.RequestContext, outlineID string) (model.StatusView, error)
}

func handleStart(exercises Exercises) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, outlineID, ok := exerciseScope(w, r)
		if !ok {
			return
		}

		var body model.TrackMeta
		if !decodeBody(w, r, &body) {
			return
		}

		view, err := exercises.StartExercise(r.Context(), rctx, model.StartRequest{
			OutlineID: outlineID,
			Track:     body,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleAction(exercises Exercises) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, outlineID, ok := exerciseScope(w, r)
		if !ok {
			return
		}

		var body struct {
			StepNo       int    `json:"step_no"`
			CurrentState int    `json:"current_state"`
			CIID         string `json:"ci_id"`
			ActionID     int    `json:"action_id"`
		}
		if !decodeBody(w, r, &body) {
			return
		}

		err := exercises.SubmitAction(r.Context(), rctx, model.ActionRequest{
			OutlineID:    outlineID,
			StepNo:       body.StepNo,
			CurrentState: body.CurrentState,
			CIID:         body.CIID,
			ActionID:     body.ActionID,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdvance(exercises Exercises) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, outlineID, ok := exerciseScope(w, r)
		if !ok {
			return
		}

		var body struct {
			StepNo       int `json:"step_no"`
			CurrentState int `json:"current_state"`
		}
		if !decodeBody(w, r, &body) {
			return
		}

		res, err := exercises.AdvanceStep(r.Context(), rctx, model.AdvanceRequest{
			OutlineID:    outlineID,
			StepNo:       body.StepNo,
			CurrentState: body.CurrentState,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleStatus(exercises Exercises) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, outlineID, ok := exerciseScope(w, r)
		if !ok {
			return
		}

		view, err := exercises.Status(r.Context(), rctx, outlineID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// exerciseScope returns the request context and the outline named in the
// path. A session bound to an outline may only address that outline.
func exerciseScope(w http.ResponseWriter, r *http.Request) (*model.RequestContext, string, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return nil, "", false
	}
	outlineID := chi.URLParam(r, "outlineId")
	if rctx.OutlineID != "" && rctx.OutlineID != outlineID {
		WriteError(w, model.NewUnauthorizedError(fmt.Sprintf("session is not bound to outline %s", outlineID)))
		return nil, "", false
	}
	return rctx, outlineID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
