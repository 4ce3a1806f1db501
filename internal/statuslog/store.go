// Package statuslog persists the append-only status log that records where
// each team is in its exercise. Rows are never updated or deleted; the row
// with the highest id is the current status.
package statuslog

import (
	"context"
	"time"

	"github.com/pitabwire/drill/model"
)

// Reader answers questions about the current status of teams.
type Reader interface {
	// Latest returns the highest-id row for the team across all outlines,
	// or nil if the team has no rows.
	Latest(ctx context.Context, team model.Team) (*model.StatusRow, error)

	// LatestForOutline returns the highest-id row for one outline of the
	// team, or nil.
	LatestForOutline(ctx context.Context, scope model.TeamScope) (*model.StatusRow, error)

	// First returns the lowest-id row for the outline, or nil. Its
	// CreatedAt is the exercise start time.
	First(ctx context.Context, scope model.TeamScope) (*model.StatusRow, error)

	// MaxStepByOutline returns the highest step reached per outline. An
	// empty outlineIDs covers every outline of the team.
	MaxStepByOutline(ctx context.Context, team model.Team, outlineIDs []string) (map[string]int, error)

	// CountActions returns the number of action rows for the outline.
	CountActions(ctx context.Context, scope model.TeamScope) (int, error)
}

// Writer appends rows. Writers fail only on storage errors; business rules
// are enforced before a write is attempted.
type Writer interface {
	// Append inserts row and returns its id. A zero CreatedAt is set to the
	// current time.
	Append(ctx context.Context, row model.StatusRow) (int64, error)

	// AppendIfAbsent inserts row unless a row with the same scope and step
	// already exists. It reports whether the row was inserted. Callers must
	// hold the team lock (see Store.Atomically) for the check and insert to
	// be atomic.
	AppendIfAbsent(ctx context.Context, row model.StatusRow) (int64, bool, error)
}

// Log is the read/write surface handed to callers of Store.Atomically.
type Log interface {
	Reader
	Writer
}

// Store is a status log backend.
type Store interface {
	Log

	// Atomically runs fn with exclusive write access to the team's rows.
	// Reads, guard checks and appends performed through the Log given to fn
	// commit together or not at all; concurrent calls for the same team are
	// serialized.
	Atomically(ctx context.Context, team model.Team, fn func(Log) error) error

	// FindExpired returns the latest row of every outline of a track that
	// started before the cutoff, is still within the step window and is
	// not solved.
	FindExpired(ctx context.Context, q ExpiryQuery) ([]model.StatusRow, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// ExpiryQuery selects outlines whose timed phase has run out.
type ExpiryQuery struct {
	SkillID       string
	FormatID      string
	StartedBefore time.Time
	FirstStep     int
	LastStep      int
}
