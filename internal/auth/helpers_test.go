package auth

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webiot/relay/internal/infrastructure/config"
	"github.com/webiot/relay/internal/infrastructure/database"
	"github.com/webiot/relay/migrations"
)

// fastHasher keeps tests quick; production uses DefaultHasher.
var fastHasher = Hasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

// testDB opens an in-memory database with the real schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Migrate(ctx, migrations.FS)
	require.NoError(t, err)
	return db.DB
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testDB(t), fastHasher)
}
