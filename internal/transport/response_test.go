package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/drill/model"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, model.AdvanceResult{PageKey: "p20", StepNo: 20, Inserted: true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"page_key":"p20","step_no":20,"inserted":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		want     model.ErrorEnvelope
	}{
		{
			name:     "envelope",
			err:      model.NewSnapshotMismatchError("status changed"),
			wantCode: http.StatusUnprocessableEntity,
			want:     model.ErrorEnvelope{Code: model.ErrSnapshotMismatch, Message: "status changed"},
		},
		{
			name:     "wrapped envelope",
			err:      fmt.Errorf("advance: %w", model.NewTimeExpiredError()),
			wantCode: http.StatusConflict,
			want:     *model.NewTimeExpiredError(),
		},
		{
			name:     "plain error hides details",
			err:      errors.New("pq: relation does not exist"),
			wantCode: http.StatusInternalServerError,
			want:     *model.NewInternalError(),
		},
		{
			name:     "storage fault keeps correlation id",
			err:      model.NewStorageFaultError("corr-7"),
			wantCode: http.StatusInternalServerError,
			want:     *model.NewStorageFaultError("corr-7"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.Error)
		})
	}
}

func TestWriteBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBadRequest(rec, "invalid JSON body")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), model.ErrBadRequest)
}

func TestStatusFor(t *testing.T) {
	want := map[string]int{
		model.ErrBadRequest:       400,
		model.ErrUnauthorized:     401,
		model.ErrNotFound:         404,
		model.ErrValidationError:  422,
		model.ErrSnapshotMismatch: 422,
		model.ErrPolicyViolation:  422,
		model.ErrQuotaExceeded:    422,
		model.ErrOutcomeNotFound:  422,
		model.ErrTerminalState:    422,
		model.ErrTimeExpired:      409,
		model.ErrStorageFault:     500,
		model.ErrInternalError:    500,
		"SOMETHING_ELSE":          500,
	}
	for code, status := range want {
		assert.Equal(t, status, StatusFor(code), code)
	}
}
