package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_BootstrapsRunsTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "runs.db")
	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='process_runs';").Scan(&name))
	assert.Equal(t, "process_runs", name)

	// Bootstrapping twice is harmless.
	assert.NoError(t, Bootstrap(context.Background(), db))
}
