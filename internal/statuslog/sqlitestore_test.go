package statuslog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return openTestSQLite(t)
	})
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	ctx := context.Background()

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = store.Append(ctx, testRow(scopeOf(teamA, "out-1"), 10, 11, 11))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	latest, err := store.Latest(ctx, teamA)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 10, latest.StepNo)
}

func TestSQLiteStore_RejectsUpdate(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	_, err := store.Append(ctx, testRow(scopeOf(teamA, "out-1"), 10, 11, 11))
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE status_log SET step_no = 20`)
	assert.Error(t, err)
	_, err = store.db.ExecContext(ctx, `DELETE FROM status_log`)
	assert.Error(t, err)
}
