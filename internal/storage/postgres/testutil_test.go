package postgres

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a throwaway Postgres, applies the audit schema and
// registers teardown with t.Cleanup.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("signals"),
		tcpostgres.WithUsername("signals"),
		tcpostgres.WithPassword("signals"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// Applied twice: the schema must be safe to re-run on every start.
	applySchema(t, pool)
	applySchema(t, pool)
	return pool
}

// applySchema executes the migration files from the source tree. The
// embedded copy lives in the migrations package, which imports this one.
func applySchema(t *testing.T, pool *Pool) {
	t.Helper()

	schema := os.DirFS(filepath.Join(moduleRoot(t), "internal", "storage", "migrations", "postgres"))
	names, err := fs.Glob(schema, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names, "no migration files found")
	sort.Strings(names)

	for _, name := range names {
		sql, err := fs.ReadFile(schema, name)
		require.NoError(t, err)
		_, err = pool.Exec(context.Background(), string(sql))
		require.NoError(t, err, "apply %s", name)
	}
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above test directory")
		}
		dir = parent
	}
}

func ptr[T any](v T) *T { return &v }
