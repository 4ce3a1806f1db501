package statuslog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/drill/model"
)

var (
	teamA = model.Team{AccessID: "acc-1", TeamNo: 1}
	teamB = model.Team{AccessID: "acc-1", TeamNo: 2}
	track = model.TrackMeta{SkillID: "sk-1", ExerciseNo: 1, ThemeID: "th-1", ScenarioID: "sc-1", FormatID: "discovery"}
)

func scopeOf(team model.Team, outlineID string) model.TeamScope {
	return model.TeamScope{Team: team, OutlineID: outlineID}
}

func testRow(scope model.TeamScope, step, cur, next int) model.StatusRow {
	return model.StatusRow{
		Scope:         scope,
		Track:         track,
		StepNo:        step,
		CurrentState:  cur,
		NextState:     next,
		ActorToken:    "tok-1",
		ActorName:     model.ActorParticipant,
		IncludeInPoll: true,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func actionRow(scope model.TeamScope, step, state, actionID int) model.StatusRow {
	r := testRow(scope, step, state, state)
	ci := "12A"
	outcome, actionType, tm, cost, risk := 5, model.ActionTypeCorrective, 10, 100, 0
	r.CIID = &ci
	r.ActionID = &actionID
	r.OutcomeID = &outcome
	r.ActionTypeID = &actionType
	r.TimeMin = &tm
	r.Cost = &cost
	r.Risk = &risk
	return r
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("latest on empty log", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Latest(context.Background(), teamA)
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("append and latest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")

		id1, err := s.Append(ctx, testRow(scope, 10, 11, 11))
		require.NoError(t, err)
		id2, err := s.Append(ctx, testRow(scope, 20, 11, 15))
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		latest, err := s.Latest(ctx, teamA)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, id2, latest.ID)
		assert.Equal(t, 20, latest.StepNo)
		assert.Equal(t, 11, latest.CurrentState)
		assert.Equal(t, 15, latest.NextState)
		assert.Equal(t, track, latest.Track)
		assert.True(t, latest.IncludeInPoll)
		assert.Nil(t, latest.ActionID)

		first, err := s.First(ctx, scope)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, id1, first.ID)
	})

	t.Run("action fields round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")

		_, err := s.Append(ctx, actionRow(scope, 40, 15, 7))
		require.NoError(t, err)

		latest, err := s.Latest(ctx, teamA)
		require.NoError(t, err)
		require.NotNil(t, latest)
		require.NotNil(t, latest.ActionID)
		assert.Equal(t, 7, *latest.ActionID)
		require.NotNil(t, latest.CIID)
		assert.Equal(t, "12A", *latest.CIID)
		require.NotNil(t, latest.Risk)
		assert.Equal(t, 0, *latest.Risk)
		assert.True(t, latest.HasAction())
	})

	t.Run("latest is per team", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, testRow(scopeOf(teamA, "out-1"), 10, 11, 11))
		require.NoError(t, err)
		_, err = s.Append(ctx, testRow(scopeOf(teamB, "out-1"), 20, 11, 12))
		require.NoError(t, err)

		latest, err := s.Latest(ctx, teamA)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 10, latest.StepNo)
	})

	t.Run("latest for outline", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, testRow(scopeOf(teamA, "out-1"), 30, 11, 11))
		require.NoError(t, err)
		_, err = s.Append(ctx, testRow(scopeOf(teamA, "out-2"), 10, 11, 11))
		require.NoError(t, err)

		row, err := s.LatestForOutline(ctx, scopeOf(teamA, "out-1"))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, 30, row.StepNo)

		row, err = s.LatestForOutline(ctx, scopeOf(teamA, "out-3"))
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("max step by outline", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, r := range []model.StatusRow{
			testRow(scopeOf(teamA, "out-1"), 10, 11, 11),
			testRow(scopeOf(teamA, "out-1"), 60, 11, 11),
			testRow(scopeOf(teamA, "out-2"), 10, 11, 11),
			testRow(scopeOf(teamB, "out-3"), 100, 99, 99),
		} {
			_, err := s.Append(ctx, r)
			require.NoError(t, err)
		}

		all, err := s.MaxStepByOutline(ctx, teamA, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"out-1": 60, "out-2": 10}, all)

		some, err := s.MaxStepByOutline(ctx, teamA, []string{"out-2", "out-9"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"out-2": 10}, some)
	})

	t.Run("count actions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")

		_, err := s.Append(ctx, testRow(scope, 20, 11, 11))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := s.Append(ctx, actionRow(scope, 20, 11, i+1))
			require.NoError(t, err)
		}
		_, err = s.Append(ctx, actionRow(scopeOf(teamA, "out-2"), 20, 11, 1))
		require.NoError(t, err)

		n, err := s.CountActions(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("append if absent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")

		id, inserted, err := s.AppendIfAbsent(ctx, testRow(scope, 30, 11, 11))
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NotZero(t, id)

		_, inserted, err = s.AppendIfAbsent(ctx, testRow(scope, 30, 11, 11))
		require.NoError(t, err)
		assert.False(t, inserted)

		_, inserted, err = s.AppendIfAbsent(ctx, testRow(scopeOf(teamB, "out-1"), 30, 11, 11))
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("atomically commits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")

		err := s.Atomically(ctx, teamA, func(l Log) error {
			if _, err := l.Append(ctx, actionRow(scope, 60, 15, 3)); err != nil {
				return err
			}
			_, err := l.Append(ctx, testRow(scope, 60, 22, 22))
			return err
		})
		require.NoError(t, err)

		latest, err := s.Latest(ctx, teamA)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 22, latest.CurrentState)

		n, err := s.CountActions(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("atomically rolls back on error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")
		_, err := s.Append(ctx, testRow(scope, 20, 11, 11))
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.Atomically(ctx, teamA, func(l Log) error {
			if _, err := l.Append(ctx, actionRow(scope, 20, 11, 1)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		latest, err := s.Latest(ctx, teamA)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.False(t, latest.HasAction())
	})

	t.Run("atomically serializes a team", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := scopeOf(teamA, "out-1")
		_, err := s.Append(ctx, testRow(scope, 20, 11, 11))
		require.NoError(t, err)

		// Each writer only appends when the count it read is below the
		// limit; serialized execution must never exceed it.
		const limit = 5
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.Atomically(ctx, teamA, func(l Log) error {
					n, err := l.CountActions(ctx, scope)
					if err != nil || n >= limit {
						return err
					}
					_, err = l.Append(ctx, actionRow(scope, 20, 11, i+1))
					return err
				})
			}(i)
		}
		wg.Wait()

		n, err := s.CountActions(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, limit, n)
	})

	t.Run("find expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Millisecond)

		stale := testRow(scopeOf(teamA, "out-1"), 10, 11, 11)
		stale.CreatedAt = old
		staleLatest := testRow(scopeOf(teamA, "out-1"), 40, 11, 15)

		solved := testRow(scopeOf(teamB, "out-1"), 10, 11, 11)
		solved.CreatedAt = old
		solvedLatest := testRow(scopeOf(teamB, "out-1"), 80, 99, 99)

		fresh := testRow(scopeOf(model.Team{AccessID: "acc-2", TeamNo: 1}, "out-1"), 40, 11, 11)

		for _, r := range []model.StatusRow{stale, solved, staleLatest, solvedLatest, fresh} {
			_, err := s.Append(ctx, r)
			require.NoError(t, err)
		}

		rows, err := s.FindExpired(ctx, ExpiryQuery{
			SkillID:       track.SkillID,
			FormatID:      track.FormatID,
			StartedBefore: time.Now().UTC().Add(-time.Hour),
			FirstStep:     model.ActionWindowFirstStep,
			LastStep:      model.ActionWindowLastStep,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, teamA, rows[0].Scope.Team)
		assert.Equal(t, 40, rows[0].StepNo)
	})

	t.Run("health check", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.HealthCheck(context.Background()))
	})
}
