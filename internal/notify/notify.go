// Package notify publishes committed status rows to live-update consumers.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/drill/model"
)

// Event is the payload published for one pollable status row.
type Event struct {
	AccessID     string    `json:"access_id"`
	TeamNo       int       `json:"team_no"`
	OutlineID    string    `json:"outline_id"`
	RowID        int64     `json:"row_id"`
	StepNo       int       `json:"step_no"`
	CurrentState int       `json:"current_state"`
	NextState    int       `json:"next_state"`
	ActorName    string    `json:"actor_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notifier publishes events after a commit. Publishing is fire-and-forget
// from the caller's point of view: errors are logged, never surfaced.
type Notifier interface {
	Publish(ctx context.Context, rows []model.StatusRow) error
	HealthCheck(ctx context.Context) error
}

// Events converts the pollable rows to events, skipping rows that are not
// shown to polling clients.
func Events(rows []model.StatusRow) []Event {
	var events []Event
	for _, r := range rows {
		if !r.IncludeInPoll {
			continue
		}
		events = append(events, Event{
			AccessID:     r.Scope.AccessID,
			TeamNo:       r.Scope.TeamNo,
			OutlineID:    r.Scope.OutlineID,
			RowID:        r.ID,
			StepNo:       r.StepNo,
			CurrentState: r.CurrentState,
			NextState:    r.NextState,
			ActorName:    r.ActorName,
			CreatedAt:    r.CreatedAt,
		})
	}
	return events
}

// Channel returns the publish channel for a team.
func Channel(team model.Team) string {
	return fmt.Sprintf("drill:poll:%s:%d", team.AccessID, team.TeamNo)
}

// LatestKey returns the key holding the latest pollable row id of a team.
func LatestKey(team model.Team) string {
	return Channel(team) + ":latest"
}

// --- Nop ---

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, []model.StatusRow) error { return nil }

// HealthCheck always succeeds.
func (Nop) HealthCheck(context.Context) error { return nil }

// --- Memory ---

// Memory keeps published events in process. Suitable for testing and
// single-instance deployments.
type Memory struct {
	mu     sync.RWMutex
	events map[model.Team][]Event
	latest map[model.Team]int64
}

// NewMemory creates an empty in-memory notifier.
func NewMemory() *Memory {
	return &Memory{
		events: make(map[model.Team][]Event),
		latest: make(map[model.Team]int64),
	}
}

// Publish records the pollable rows.
func (m *Memory) Publish(_ context.Context, rows []model.StatusRow) error {
	events := Events(rows)
	if len(events) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		team := model.Team{AccessID: e.AccessID, TeamNo: e.TeamNo}
		m.events[team] = append(m.events[team], e)
		if e.RowID > m.latest[team] {
			m.latest[team] = e.RowID
		}
	}
	return nil
}

// Events returns the events published for team, oldest first.
func (m *Memory) Events(team model.Team) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events[team]))
	copy(out, m.events[team])
	return out
}

// LatestID returns the highest published row id for team.
func (m *Memory) LatestID(_ context.Context, team model.Team) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.latest[team]
	return id, ok, nil
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(context.Context) error { return nil }
