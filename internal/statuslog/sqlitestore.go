package statuslog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pitabwire/drill/model"
)

// SQLiteStore is a single-file Store backed by modernc.org/sqlite. Writes
// are serialized through one connection and IMMEDIATE transactions.
type SQLiteStore struct {
	sqliteLog
	db *sql.DB
}

// OpenSQLite opens the status log database at path, creating and migrating
// it as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{sqliteLog: sqliteLog{q: db}, db: db}, nil
}

// Atomically runs fn inside an IMMEDIATE transaction.
func (s *SQLiteStore) Atomically(ctx context.Context, _ model.Team, fn func(Log) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status log tx: %w", err)
	}
	if err := fn(&sqliteLog{q: tx}); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback status log tx: %v", err, rollbackErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status log tx: %w", err)
	}
	return nil
}

// FindExpired returns the latest unsolved rows of outlines of the track that
// started before the cutoff and are still within the step window.
func (s *SQLiteStore) FindExpired(ctx context.Context, q ExpiryQuery) ([]model.StatusRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM status_log s
		WHERE s.id IN (
			SELECT MAX(id) FROM status_log
			WHERE skill_id = ? AND format_id = ?
			GROUP BY access_id, team_no, outline_id
		)
		AND s.step_no BETWEEN ? AND ?
		AND NOT (s.current_state = ? AND s.next_state = ?)
		AND (
			SELECT MIN(f.created_at) FROM status_log f
			WHERE f.access_id = s.access_id AND f.team_no = s.team_no AND f.outline_id = s.outline_id
		) < ?
		ORDER BY s.id`,
		q.SkillID, q.FormatID, q.FirstStep, q.LastStep,
		model.StateSolved, model.StateSolved, toMillis(q.StartedBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired outlines: %w", err)
	}
	defer rows.Close()

	var result []model.StatusRow
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteLog struct {
	q sqlQuerier
}

func (l *sqliteLog) Latest(ctx context.Context, team model.Team) (*model.StatusRow, error) {
	return scanSQLiteRow(l.q.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM status_log
		WHERE access_id = ? AND team_no = ?
		ORDER BY id DESC
		LIMIT 1`,
		team.AccessID, team.TeamNo,
	))
}

func (l *sqliteLog) LatestForOutline(ctx context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	return scanSQLiteRow(l.q.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM status_log
		WHERE access_id = ? AND team_no = ? AND outline_id = ?
		ORDER BY id DESC
		LIMIT 1`,
		scope.AccessID, scope.TeamNo, scope.OutlineID,
	))
}

func (l *sqliteLog) First(ctx context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	return scanSQLiteRow(l.q.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM status_log
		WHERE access_id = ? AND team_no = ? AND outline_id = ?
		ORDER BY id ASC
		LIMIT 1`,
		scope.AccessID, scope.TeamNo, scope.OutlineID,
	))
}

func (l *sqliteLog) MaxStepByOutline(ctx context.Context, team model.Team, outlineIDs []string) (map[string]int, error) {
	query := `
		SELECT outline_id, MAX(step_no)
		FROM status_log
		WHERE access_id = ? AND team_no = ?`
	args := []any{team.AccessID, team.TeamNo}
	if len(outlineIDs) > 0 {
		query += ` AND outline_id IN (` + placeholders(len(outlineIDs), 0, false) + `)`
		for _, id := range outlineIDs {
			args = append(args, id)
		}
	}
	query += ` GROUP BY outline_id`

	rows, err := l.q.QueryContext(ctx, query, args...)
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

func (l *sqliteLog) CountActions(ctx context.Context, scope model.TeamScope) (int, error) {
	var n int
	err := l.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM status_log
		WHERE access_id = ? AND team_no = ? AND outline_id = ? AND action_id IS NOT NULL`,
		scope.AccessID, scope.TeamNo, scope.OutlineID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func (l *sqliteLog) Append(ctx context.Context, row model.StatusRow) (int64, error) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	res, err := l.q.ExecContext(ctx, `
		INSERT INTO status_log (`+insertColumns+`)
		VALUES (`+placeholders(insertColumnCount, 0, false)+`)`,
		sqliteArgs(row)...,
	)
	if err != nil {
		return 0, fmt.Errorf("insert status row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read status row id: %w", err)
	}
	return id, nil
}

func (l *sqliteLog) AppendIfAbsent(ctx context.Context, row model.StatusRow) (int64, bool, error) {
	var exists int
	err := l.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM status_log
			WHERE access_id = ? AND team_no = ? AND outline_id = ? AND step_no = ?
		)`,
		row.Scope.AccessID, row.Scope.TeamNo, row.Scope.OutlineID, row.StepNo,
	).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("check step row: %w", err)
	}
	if exists == 1 {
		return 0, false, nil
	}
	id, err := l.Append(ctx, row)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func sqliteArgs(r model.StatusRow) []any {
	include := 0
	if r.IncludeInPoll {
		include = 1
	}
	return []any{
		r.Scope.AccessID, r.Scope.TeamNo, r.Scope.OutlineID,
		r.Track.SkillID, r.Track.ExerciseNo, r.Track.ThemeID, r.Track.ScenarioID, r.Track.FormatID,
		r.StepNo, r.CurrentState, r.NextState,
		nullString(r.CIID), nullInt(r.ActionID), nullInt(r.OutcomeID), nullInt(r.ActionTypeID),
		nullInt(r.TimeMin), nullInt(r.Cost), nullInt(r.Risk),
		r.ActorToken, r.ActorName, include, toMillis(r.CreatedAt),
	}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(row rowScanner) (*model.StatusRow, error) {
	var (
		r                                 model.StatusRow
		ciID                              sql.NullString
		actionID, outcomeID, actionTypeID sql.NullInt64
		timeMin, cost, risk               sql.NullInt64
		include                           int
		createdAt                         int64
	)
	err := row.Scan(
		&r.ID, &r.Scope.AccessID, &r.Scope.TeamNo, &r.Scope.OutlineID,
		&r.Track.SkillID, &r.Track.ExerciseNo, &r.Track.ThemeID, &r.Track.ScenarioID, &r.Track.FormatID,
		&r.StepNo, &r.CurrentState, &r.NextState,
		&ciID, &actionID, &outcomeID, &actionTypeID, &timeMin, &cost, &risk,
		&r.ActorToken, &r.ActorName, &include, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan status row: %w", err)
	}
	if ciID.Valid {
		v := ciID.String
		r.CIID = &v
	}
	r.ActionID = intPtr(actionID)
	r.OutcomeID = intPtr(outcomeID)
	r.ActionTypeID = intPtr(actionTypeID)
	r.TimeMin = intPtr(timeMin)
	r.Cost = intPtr(cost)
	r.Risk = intPtr(risk)
	r.IncludeInPoll = include == 1
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}
