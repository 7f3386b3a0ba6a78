package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/escort-alerts/internal/database"
)

func openDB(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.New(path, zap.NewNop())
	require.NoError(t, err)
	return db
}

func TestLedger_TryAcquireOnlyOnce(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "agent.db"))
	defer db.Close()

	l, err := New(db.DB, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, l.TryAcquire("panic:svc-1", "panic"))
	assert.False(t, l.TryAcquire("panic:svc-1", "panic"))
	assert.True(t, l.TryAcquire("start:svc-1", "start"))
	assert.Equal(t, 2, l.Len())
}

func TestLedger_KeysSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db := openDB(t, path)
	l, err := New(db.DB, zap.NewNop())
	require.NoError(t, err)
	require.True(t, l.TryAcquire("panic:svc-1", "panic"))
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	l, err = New(db.DB, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, l.Seen("panic:svc-1"))
	assert.False(t, l.TryAcquire("panic:svc-1", "panic"))
}

func TestLedger_AcknowledgeKeepsKey(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "agent.db"))
	defer db.Close()

	l, err := New(db.DB, zap.NewNop())
	require.NoError(t, err)

	require.True(t, l.TryAcquire("panic:svc-2", "panic"))

	acked, err := l.Acknowledged("panic:svc-2")
	require.NoError(t, err)
	assert.False(t, acked)

	require.NoError(t, l.Acknowledge("panic:svc-2", "panic"))

	acked, err = l.Acknowledged("panic:svc-2")
	require.NoError(t, err)
	assert.True(t, acked)
	assert.False(t, l.TryAcquire("panic:svc-2", "panic"))
}

func TestLedger_AcknowledgeUnknownKeyRecordsIt(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "agent.db"))
	defer db.Close()

	l, err := New(db.DB, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, l.Acknowledge("panic:svc-3", "panic"))
	assert.True(t, l.Seen("panic:svc-3"))

	acked, err := l.Acknowledged("panic:svc-3")
	require.NoError(t, err)
	assert.True(t, acked)
}
