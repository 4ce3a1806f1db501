package statuslog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/drill/model"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []model.StatusRow // ordered by id
	nextID int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // key: team
}

// NewMemoryStore creates a new in-memory status log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*sync.Mutex),
	}
}

// Atomically serializes fn against other Atomically calls for the same team.
// Rows appended inside fn become visible to other readers only when fn
// returns nil.
func (s *MemoryStore) Atomically(ctx context.Context, team model.Team, fn func(Log) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.teamLock(team)
	lock.Lock()
	defer lock.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx.pending)
	return nil
}

func (s *MemoryStore) teamLock(team model.Team) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	key := team.String()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Latest returns the highest-id row for the team.
func (s *MemoryStore) Latest(_ context.Context, team model.Team) (*model.StatusRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastWhere(s.rows, func(r model.StatusRow) bool { return r.Scope.Team == team }), nil
}

// LatestForOutline returns the highest-id row for the outline.
func (s *MemoryStore) LatestForOutline(_ context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastWhere(s.rows, func(r model.StatusRow) bool { return r.Scope == scope }), nil
}

// First returns the lowest-id row for the outline.
func (s *MemoryStore) First(_ context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return firstWhere(s.rows, scope), nil
}

// MaxStepByOutline returns the highest step per outline of the team.
func (s *MemoryStore) MaxStepByOutline(_ context.Context, team model.Team, outlineIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxSteps(s.rows, team, outlineIDs), nil
}

// CountActions returns the number of action rows for the outline.
func (s *MemoryStore) CountActions(_ context.Context, scope model.TeamScope) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countActions(s.rows, scope), nil
}

// Append inserts a row.
func (s *MemoryStore) Append(_ context.Context, row model.StatusRow) (int64, error) {
	row = stamp(row, s.reserveID())
	s.commit([]model.StatusRow{row})
	return row.ID, nil
}

// AppendIfAbsent inserts row unless its scope already has a row at the same
// step.
func (s *MemoryStore) AppendIfAbsent(_ context.Context, row model.StatusRow) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hasStep(s.rows, row.Scope, row.StepNo) {
		return 0, false, nil
	}
	s.nextID++
	row = stamp(row, s.nextID)
	s.rows = append(s.rows, row)
	return row.ID, true, nil
}

// reserveID hands out the next id. Ids of rolled-back rows are not reused.
func (s *MemoryStore) reserveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// commit publishes rows that already carry reserved ids, keeping s.rows in
// id order.
func (s *MemoryStore) commit(rows []model.StatusRow) {
	if len(rows) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	sortByID(s.rows)
}

// FindExpired returns the latest unsolved rows of outlines of the track that
// started before the cutoff and are still within the step window.
func (s *MemoryStore) FindExpired(_ context.Context, q ExpiryQuery) ([]model.StatusRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	started := make(map[model.TeamScope]time.Time)
	latest := make(map[model.TeamScope]model.StatusRow)
	for _, r := range s.rows {
		if r.Track.SkillID != q.SkillID || r.Track.FormatID != q.FormatID {
			continue
		}
		if _, ok := started[r.Scope]; !ok {
			started[r.Scope] = r.CreatedAt
		}
		latest[r.Scope] = r
	}

	var result []model.StatusRow
	for scope, r := range latest {
		if r.IsSolved() || r.StepNo < q.FirstStep || r.StepNo > q.LastStep {
			continue
		}
		if !started[scope].Before(q.StartedBefore) {
			continue
		}
		result = append(result, r)
	}
	sortByID(result)
	return result, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Rows returns a copy of all rows in id order. For testing.
func (s *MemoryStore) Rows() []model.StatusRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StatusRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Len returns the number of rows. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// memoryTx buffers the rows appended inside Atomically. Its reads see the
// committed rows plus its own pending ones.
type memoryTx struct {
	store   *MemoryStore
	pending []model.StatusRow
}

func (t *memoryTx) view() []model.StatusRow {
	t.store.mu.RLock()
	rows := make([]model.StatusRow, 0, len(t.store.rows)+len(t.pending))
	rows = append(rows, t.store.rows...)
	t.store.mu.RUnlock()
	rows = append(rows, t.pending...)
	sortByID(rows)
	return rows
}

func (t *memoryTx) Latest(_ context.Context, team model.Team) (*model.StatusRow, error) {
	return lastWhere(t.view(), func(r model.StatusRow) bool { return r.Scope.Team == team }), nil
}

func (t *memoryTx) LatestForOutline(_ context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	return lastWhere(t.view(), func(r model.StatusRow) bool { return r.Scope == scope }), nil
}

func (t *memoryTx) First(_ context.Context, scope model.TeamScope) (*model.StatusRow, error) {
	return firstWhere(t.view(), scope), nil
}

func (t *memoryTx) MaxStepByOutline(_ context.Context, team model.Team, outlineIDs []string) (map[string]int, error) {
	return maxSteps(t.view(), team, outlineIDs), nil
}

func (t *memoryTx) CountActions(_ context.Context, scope model.TeamScope) (int, error) {
	return countActions(t.view(), scope), nil
}

func (t *memoryTx) Append(_ context.Context, row model.StatusRow) (int64, error) {
	row = stamp(row, t.store.reserveID())
	t.pending = append(t.pending, row)
	return row.ID, nil
}

// AppendIfAbsent relies on the team lock held by Atomically: no other
// transaction can add a row for this scope before commit.
func (t *memoryTx) AppendIfAbsent(ctx context.Context, row model.StatusRow) (int64, bool, error) {
	if hasStep(t.view(), row.Scope, row.StepNo) {
		return 0, false, nil
	}
	id, err := t.Append(ctx, row)
	return id, true, err
}

func stamp(row model.StatusRow, id int64) model.StatusRow {
	row.ID = id
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func sortByID(rows []model.StatusRow) {
	less := func(i, j int) bool { return rows[i].ID < rows[j].ID }
	if !sort.SliceIsSorted(rows, less) {
		sort.SliceStable(rows, less)
	}
}

func lastWhere(rows []model.StatusRow, match func(model.StatusRow) bool) *model.StatusRow {
	for i := len(rows) - 1; i >= 0; i-- {
		if match(rows[i]) {
			row := rows[i]
			return &row
		}
	}
	return nil
}

func firstWhere(rows []model.StatusRow, scope model.TeamScope) *model.StatusRow {
	for _, r := range rows {
		if r.Scope == scope {
			row := r
			return &row
		}
	}
	return nil
}

func hasStep(rows []model.StatusRow, scope model.TeamScope, stepNo int) bool {
	for _, r := range rows {
		if r.Scope == scope && r.StepNo == stepNo {
			return true
		}
	}
	return false
}

func maxSteps(rows []model.StatusRow, team model.Team, outlineIDs []string) map[string]int {
	want := make(map[string]bool, len(outlineIDs))
	for _, id := range outlineIDs {
		want[id] = true
	}
	result := make(map[string]int)
	for _, r := range rows {
		if r.Scope.Team != team {
			continue
		}
		if len(want) > 0 && !want[r.Scope.OutlineID] {
			continue
		}
		if cur, ok := result[r.Scope.OutlineID]; !ok || r.StepNo > cur {
			result[r.Scope.OutlineID] = r.StepNo
		}
	}
	return result
}

func countActions(rows []model.StatusRow, scope model.TeamScope) int {
	n := 0
	for _, r := range rows {
		if r.Scope == scope && r.HasAction() {
			n++
		}
	}
	return n
}
