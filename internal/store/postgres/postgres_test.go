package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/playwatch/internal/store"
	"github.com/loykin/playwatch/internal/store/storetest"
)

// catalogDSN runs a throwaway PostgreSQL and returns its DSN. Tests skip when
// Docker is not available.
func catalogDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("container test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("catalog"),
		postgres.WithUsername("playwatch"),
		postgres.WithPassword("playwatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(45*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func openCatalog(t *testing.T) *DB {
	t.Helper()
	db, err := New(catalogDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.Eventually(t, func() bool {
		return db.EnsureSchema(context.Background()) == nil
	}, 30*time.Second, 500*time.Millisecond, "schema")
	return db
}

func TestPostgresRepository(t *testing.T) {
	storetest.Run(t, openCatalog(t))
}

func TestPostgresRepository_SchemaAndMisses(t *testing.T) {
	db := openCatalog(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))

	_, err := db.GetByExecutable(ctx, "nothing.exe")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = db.GetSetting(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = db.Upsert(ctx, store.Game{AppID: " ", Source: store.SourceSteam})
	assert.ErrorIs(t, err, store.ErrInvalidGame)
}
