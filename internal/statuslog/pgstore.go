package statuslog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/drill/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Team-level atomicity
// uses a transaction-scoped advisory lock keyed on the team.
type PgStore struct {
	pgLog
	pool *pgxpool.Pool
}

// NewPgStore creates a status log on an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgLog: pgLog{q: pool}, pool: pool}
}

// OpenPostgres connects a pool to dsn and returns a store on it.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPgStore(pool), nil
}

// Atomically runs fn inside a transaction holding the team's advisory lock.
func (s *PgStore) Atomically(ctx context.Context, team model.Team, fn func(Log) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status log tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, team.String()); err != nil {
		return fmt.Errorf("acquire team lock: %w", err)
	}
	if err := fn(&pgLog{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status log tx: %w", err)
	}
	return nil
}

// FindExpired returns the latest unsolved rows of outlines of the track that
// started before the cutoff and are still within the step window.
func (s *PgStore) FindExpired(ctx context.Context, q ExpiryQuery) ([]model.StatusRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM status_log s
		WHERE s.id IN (
			SELECT MAX(id) FROM status_log
			WHERE skill_id = $1 AND format_id = $2
			GROUP BY access_id, team_no, outline_id
		)
		AND s.step_no BETWEEN $3 AND $4
		AND NOT (s.current_state = $5 AND s.next_state = $5)
		AND (
			SELECT MIN(f.created_at) FROM status_log f
			WHERE f.access_id = s.access_id AND f.team_no = s.team_no AND f.outline_id = s.outline_id
		) < $6
		ORDER BY s.id`,
		q.SkillID, q.FormatID, q.FirstStep, q.LastStep, model.StateSolved, q.StartedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired outlines: %w", err)
	}
	defer rows.Close()

	var result []model.StatusRow
	for rows.Next() {
		r, err := scanPgRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgLog struct {
	q pgQuerier
}

func (l *pgLog) Latest(ctx context.Context, team model.Team) (*model.StatusRow, error) {
	return scanPgRow(l.q.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM status_log
		WHERE access_id = $1 AND team_no = $2
		ORDER BY id DESC
		LIMIT 1`,
		team.AccessID, team.TeamNo,
	))
}

func (l *pgLog) LatestForOutline(ctx context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	return scanPgRow(l.q.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM status_log
		WHERE access_id = $1 AND team_no = $2 AND outline_id = $3
		ORDER BY id DESC
		LIMIT 1`,
		scope.AccessID, scope.TeamNo, scope.OutlineID,
	))
}

func (l *pgLog) First(ctx context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	return scanPgRow(l.q.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM status_log
		WHERE access_id = $1 AND team_no = $2 AND outline_id = $3
		ORDER BY id ASC
		LIMIT 1`,
		scope.AccessID, scope.TeamNo, scope.OutlineID,
	))
}

func (l *pgLog) MaxStepByOutline(ctx context.Context, team model.Team, outlineIDs []string) (map[string]int, error) {
	query := `
		SELECT outline_id, MAX(step_no)
		FROM status_log
		WHERE access_id = $1 AND team_no = $2`
	args := []any{team.AccessID, team.TeamNo}
	if len(outlineIDs) > 0 {
		query += ` AND outline_id = ANY($3)`
		args = append(args, outlineIDs)
	}
	query += ` GROUP BY outline_id`

	rows, err := l.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query max step by outline: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var outlineID string
		var step int
		if err := rows.Scan(&outlineID, &step); err != nil {
			return nil, fmt.Errorf("scan max step: %w", err)
		}
		result[outlineID] = step
	}
	return result, rows.Err()
}

func (l *pgLog) CountActions(ctx context.Context, scope model.TeamScope) (int, error) {
	var n int
	err := l.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM status_log
		WHERE access_id = $1 AND team_no = $2 AND outline_id = $3 AND action_id IS NOT NULL`,
		scope.AccessID, scope.TeamNo, scope.OutlineID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func (l *pgLog) Append(ctx context.Context, row model.StatusRow) (int64, error) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := l.q.QueryRow(ctx, `
		INSERT INTO status_log (`+insertColumns+`)
		VALUES (`+placeholders(insertColumnCount, 1, true)+`)
		RETURNING id`,
		pgArgs(row)...,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert status row: %w", err)
	}
	return id, nil
}

func (l *pgLog) AppendIfAbsent(ctx context.Context, row model.StatusRow) (int64, bool, error) {
	var exists bool
	err := l.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM status_log
			WHERE access_id = $1 AND team_no = $2 AND outline_id = $3 AND step_no = $4
		)`,
		row.Scope.AccessID, row.Scope.TeamNo, row.Scope.OutlineID, row.StepNo,
	).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("check step row: %w", err)
	}
	if exists {
		return 0, false, nil
	}
	id, err := l.Append(ctx, row)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func pgArgs(r model.StatusRow) []any {
	return []any{
		r.Scope.AccessID, r.Scope.TeamNo, r.Scope.OutlineID,
		r.Track.SkillID, r.Track.ExerciseNo, r.Track.ThemeID, r.Track.ScenarioID, r.Track.FormatID,
		r.StepNo, r.CurrentState, r.NextState,
		r.CIID, r.ActionID, r.OutcomeID, r.ActionTypeID, r.TimeMin, r.Cost, r.Risk,
		r.ActorToken, r.ActorName, r.IncludeInPoll, r.CreatedAt,
	}
}

func scanPgRow(row pgx.Row) (*model.StatusRow, error) {
	var r model.StatusRow
	err := row.Scan(
		&r.ID, &r.Scope.AccessID, &r.Scope.TeamNo, &r.Scope.OutlineID,
		&r.Track.SkillID, &r.Track.ExerciseNo, &r.Track.ThemeID, &r.Track.ScenarioID, &r.Track.FormatID,
		&r.StepNo, &r.CurrentState, &r.NextState,
		&r.CIID, &r.ActionID, &r.OutcomeID, &r.ActionTypeID, &r.TimeMin, &r.Cost, &r.Risk,
		&r.ActorToken, &r.ActorName, &r.IncludeInPoll, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan status row: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
