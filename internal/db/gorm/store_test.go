package gorm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/chatrelay/internal/db"
)

// testStore creates a migrated SQLite store in a temporary directory.
func testStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "gorm_test_*")
	require.NoError(t, err)

	store, err := NewStore(Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(tmpDir, "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)

	return store, func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	}
}

func TestNewStore(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	require.NoError(t, store.sqlDB.Ping())
	assert.Equal(t, DriverSQLite, store.Driver())

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	for _, table := range []string{"sessions", "session_events", "migrations"} {
		assert.True(t, store.DB.Migrator().HasTable(table), "table %q should exist", table)
	}
	assert.True(t, store.DB.Migrator().HasIndex(&SessionRecord{}, "idx_sessions_user_start"))
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "/tmp/a.db?"+sqlitePragmas, sqliteDSN("/tmp/a.db"))
	assert.Equal(t, "file:a.db?_txlock=immediate&"+sqlitePragmas, sqliteDSN("file:a.db?_txlock=immediate"))
}

func TestNewStore_DSNWithQuery(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(dir, "query.db") + "?_txlock=immediate",
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	defer store.Close()

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(Config{Driver: DriverSQLite})
	assert.Error(t, err)

	_, err = NewStore(Config{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrationIdempotency(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "gorm_idempotency_*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := Config{
		DSN:      filepath.Join(tmpDir, "test.db"),
		LogLevel: logger.Silent,
	}

	store1, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewStore(cfg)
	require.NoError(t, err)
	defer store2.Close()

	var count int64
	require.NoError(t, store2.DB.Table("migrations").Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, translateError(plain))

	dup := translateError(errors.New("constraint failed: UNIQUE constraint failed: sessions.session_id (1555)"))
	assert.True(t, errors.Is(dup, db.ErrDuplicate))
}
