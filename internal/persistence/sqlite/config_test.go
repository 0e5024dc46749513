package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNCarriesPragmas(t *testing.T) {
	s := dsn("/tmp/acq.db", 5*time.Second)
	assert.Equal(t, "file:/tmp/acq.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", s)
}

func TestOpenAppliesJournalMode(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "acq.db"), DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
