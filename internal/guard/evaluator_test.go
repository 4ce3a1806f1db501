package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/drill/internal/reference"
	"github.com/pitabwire/drill/internal/statuslog"
	"github.com/pitabwire/drill/internal/steppolicy"
	"github.com/pitabwire/drill/model"
)

var (
	testTeam  = model.Team{AccessID: "acc-1", TeamNo: 3}
	testScope = model.TeamScope{Team: testTeam, OutlineID: "out-1"}
	testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func newEvaluator(t *testing.T, format string) *Evaluator {
	t.Helper()
	var policies []model.StepPolicy
	for _, step := range []int{10, 20, 30, 40, 60, 100} {
		policies = append(policies, model.StepPolicy{
			SkillID: "net-1", FormatID: format, StepNo: step, PageKey: "page",
			IsActionAllowed: step >= 20 && step <= 60 && step != 30,
		})
	}
	policies[3].AllowedCITypeIDs = []string{"54", "SW"}
	reg := reference.NewRegistry(
		[]reference.Tables{{StepPolicies: policies}},
		reference.WithDiscoveryDuration(30*time.Minute),
	)
	return NewEvaluator(steppolicy.NewResolver(reg))
}

func seed(t *testing.T, store *statuslog.MemoryStore, format string, rows ...[3]int) {
	t.Helper()
	for i, r := range rows {
		_, err := store.Append(context.Background(), model.StatusRow{
			Scope:        testScope,
			Track:        model.TrackMeta{SkillID: "net-1", ThemeID: "th", ScenarioID: "sc", FormatID: format},
			StepNo:       r[0],
			CurrentState: r[1],
			NextState:    r[2],
			ActorName:    model.ActorParticipant,
			ActorToken:   "tok",
			CreatedAt:    testStart.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func seedActions(t *testing.T, store *statuslog.MemoryStore, format string, n, step, state int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := i + 1
		_, err := store.Append(context.Background(), model.StatusRow{
			Scope:        testScope,
			Track:        model.TrackMeta{SkillID: "net-1", ThemeID: "th", ScenarioID: "sc", FormatID: format},
			StepNo:       step,
			CurrentState: state,
			NextState:    state,
			ActionID:     &id,
			ActorName:    model.ActorParticipant,
			CreatedAt:    testStart.Add(time.Minute),
		})
		require.NoError(t, err)
	}
}

func actionReq(step, state int, ci string) model.ActionRequest {
	return model.ActionRequest{OutlineID: "out-1", StepNo: step, CurrentState: state, CIID: ci, ActionID: 7}
}

func TestCheckAction_admits(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{10, 11, 11}, [3]int{40, 15, 15})
	e := newEvaluator(t, "guided")

	check, err := e.CheckAction(context.Background(), store, testTeam, actionReq(40, 15, "54A"), testStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "54", check.Class)
	assert.Equal(t, 40, check.Policy.StepNo)
	assert.Equal(t, 40, check.Latest.StepNo)
	assert.Nil(t, check.Repair)
}

func TestCheckAction_rejections(t *testing.T) {
	tests := []struct {
		name   string
		format string
		rows   [][3]int
		req    model.ActionRequest
		now    time.Time
		code   string
	}{
		{
			name: "missing fields", format: "guided",
			rows: [][3]int{{40, 15, 15}},
			req:  model.ActionRequest{OutlineID: "out-1", StepNo: 40, CurrentState: 15},
			code: model.ErrValidationError,
		},
		{
			name: "no status", format: "guided",
			req:  actionReq(40, 15, "54A"),
			code: model.ErrSnapshotMismatch,
		},
		{
			name: "stale state", format: "guided",
			rows: [][3]int{{40, 15, 15}},
			req:  actionReq(40, 11, "54A"),
			code: model.ErrSnapshotMismatch,
		},
		{
			name: "stale outline", format: "guided",
			rows: [][3]int{{40, 15, 15}},
			req:  model.ActionRequest{OutlineID: "out-2", StepNo: 40, CurrentState: 15, CIID: "54A", ActionID: 7},
			code: model.ErrSnapshotMismatch,
		},
		{
			name: "missing outline", format: "guided",
			rows: [][3]int{{40, 15, 15}, {100, 99, 99}},
			req:  model.ActionRequest{StepNo: 100, CurrentState: 99, CIID: "54A", ActionID: 7},
			code: model.ErrValidationError,
		},
		{
			name: "outside window", format: "guided",
			rows: [][3]int{{10, 11, 11}},
			req:  actionReq(10, 11, "54A"),
			code: model.ErrPolicyViolation,
		},
		{
			name: "second iteration state before step 60", format: "guided",
			rows: [][3]int{{40, 22, 22}},
			req:  actionReq(40, 22, "54A"),
			code: model.ErrPolicyViolation,
		},
		{
			name: "discovery expired", format: "discovery",
			rows: [][3]int{{10, 11, 11}, {40, 15, 15}},
			req:  actionReq(40, 15, "54A"),
			now:  testStart.Add(31 * time.Minute),
			code: model.ErrTimeExpired,
		},
		{
			name: "step without policy", format: "guided",
			rows: [][3]int{{50, 15, 15}},
			req:  actionReq(50, 15, "54A"),
			code: model.ErrPolicyViolation,
		},
		{
			name: "step disallows actions", format: "guided",
			rows: [][3]int{{30, 15, 15}},
			req:  actionReq(30, 15, "54A"),
			code: model.ErrPolicyViolation,
		},
		{
			name: "unknown equipment class", format: "guided",
			rows: [][3]int{{20, 15, 15}},
			req:  actionReq(20, 15, "ZZ"),
			code: model.ErrPolicyViolation,
		},
		{
			name: "restricted equipment class", format: "guided",
			rows: [][3]int{{40, 15, 15}},
			req:  actionReq(40, 15, "12A"),
			code: model.ErrPolicyViolation,
		},
		{
			name: "solved outline", format: "guided",
			rows: [][3]int{{40, 15, 15}, {100, 99, 99}},
			req:  actionReq(100, 99, "54A"),
			code: model.ErrTerminalState,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := statuslog.NewMemoryStore()
			seed(t, store, tt.format, tt.rows...)
			now := tt.now
			if now.IsZero() {
				now = testStart.Add(10 * time.Minute)
			}

			_, err := newEvaluator(t, tt.format).CheckAction(context.Background(), store, testTeam, tt.req, now)
			require.Error(t, err)
			assert.True(t, model.IsCode(err, tt.code), "error = %v, want %s", err, tt.code)
		})
	}
}

func TestCheckAction_quota(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{20, 15, 15})
	seedActions(t, store, "guided", model.ActionQuota, 20, 15)
	e := newEvaluator(t, "guided")

	_, err := e.CheckAction(context.Background(), store, testTeam, actionReq(20, 15, "54A"), testStart)
	assert.True(t, model.IsCode(err, model.ErrQuotaExceeded), "error = %v", err)
}

func TestCheckAction_stale_and_over_quota_reports_mismatch(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{20, 15, 15})
	seedActions(t, store, "guided", model.ActionQuota, 20, 15)
	e := newEvaluator(t, "guided")

	for i := 0; i < 5; i++ {
		_, err := e.CheckAction(context.Background(), store, testTeam, actionReq(20, 11, "54A"), testStart)
		assert.True(t, model.IsCode(err, model.ErrSnapshotMismatch), "error = %v", err)
	}
}

func TestCheckAction_solved_and_stale_reports_terminal(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{60, 25, 25}, [3]int{100, 99, 99})
	e := newEvaluator(t, "guided")

	for _, ci := range []string{"54A", "SW01", "ZZ"} {
		_, err := e.CheckAction(context.Background(), store, testTeam, actionReq(60, 25, ci), testStart)
		assert.True(t, model.IsCode(err, model.ErrTerminalState), "ci %s: error = %v", ci, err)
	}
}

func TestCheckAction_solved_ignores_missing_fields(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{60, 25, 25}, [3]int{100, 99, 99})
	e := newEvaluator(t, "guided")

	reqs := []model.ActionRequest{
		{OutlineID: "out-1", StepNo: 100, CurrentState: 99},
		{OutlineID: "out-1", StepNo: 100, CurrentState: 99, CIID: "54A"},
		{OutlineID: "out-1"},
	}
	for _, req := range reqs {
		_, err := e.CheckAction(context.Background(), store, testTeam, req, testStart)
		assert.True(t, model.IsCode(err, model.ErrTerminalState), "%+v: error = %v", req, err)
	}
}

func TestCheckAction_partial_close_requests_repair(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{60, 25, 99})
	e := newEvaluator(t, "guided")

	check, err := e.CheckAction(context.Background(), store, testTeam, actionReq(60, 25, "54A"), testStart)
	assert.True(t, model.IsCode(err, model.ErrTerminalState), "error = %v", err)
	require.NotNil(t, check.Repair)
	assert.Equal(t, model.StateSolved, check.Repair.CurrentState)
	assert.Equal(t, model.StateSolved, check.Repair.NextState)
	assert.Equal(t, 60, check.Repair.StepNo)
	assert.Equal(t, testScope, check.Repair.Scope)
	assert.Equal(t, 1, store.Len(), "evaluator must not write")
}

func TestCheckAdvance(t *testing.T) {
	store := statuslog.NewMemoryStore()
	seed(t, store, "guided", [3]int{10, 11, 11}, [3]int{20, 11, 11})
	e := newEvaluator(t, "guided")
	ctx := context.Background()

	check, err := e.CheckAdvance(ctx, store, testTeam, model.AdvanceRequest{OutlineID: "out-1", StepNo: 20, CurrentState: 11})
	require.NoError(t, err)
	assert.False(t, check.Replay)
	assert.Equal(t, 20, check.Latest.StepNo)

	check, err = e.CheckAdvance(ctx, store, testTeam, model.AdvanceRequest{OutlineID: "out-1", StepNo: 10, CurrentState: 11})
	require.NoError(t, err)
	assert.True(t, check.Replay)

	_, err = e.CheckAdvance(ctx, store, testTeam, model.AdvanceRequest{OutlineID: "out-1", StepNo: 20, CurrentState: 15})
	assert.True(t, model.IsCode(err, model.ErrSnapshotMismatch), "error = %v", err)

	_, err = e.CheckAdvance(ctx, store, testTeam, model.AdvanceRequest{StepNo: 20, CurrentState: 11})
	assert.True(t, model.IsCode(err, model.ErrValidationError), "error = %v", err)
}
