package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var projectTables = []string{"projects", "project_pins", "project_map_todos"}

const appendOnlyTrigger = "trg_projects_append_only"

// TestMigrationsRoundTripPostgres migrates up, rolls every file back, and migrates up again
// on an empty public schema.
func TestMigrationsRoundTripPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := strings.TrimSpace(os.Getenv("FLOWGUARD_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("FLOWGUARD_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	db, err := Open(ctx, databaseURL)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))
	assertSchema(t, ctx, db, true)

	require.NoError(t, rollbackAll(ctx, db))
	assertSchema(t, ctx, db, false)

	_, err = db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))
	assertSchema(t, ctx, db, true)
}

func rollbackAll(ctx context.Context, db *sql.DB) error {
	ups, err := listMigrations(migrationsDir)
	if err != nil {
		return err
	}
	for i := len(ups) - 1; i >= 0; i-- {
		contents, err := os.ReadFile(downPath(ups[i]))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return err
		}
	}
	return nil
}

func assertSchema(t *testing.T, ctx context.Context, db *sql.DB, present bool) {
	t.Helper()
	for _, table := range projectTables {
		var exists bool
		require.NoError(t, db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists))
		assert.Equal(t, present, exists, "table %s", table)
	}
	if !present {
		return
	}
	var triggers int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM pg_trigger WHERE tgname = $1 AND tgrelid = 'projects'::regclass`,
		appendOnlyTrigger,
	).Scan(&triggers))
	assert.Equal(t, 1, triggers)
}
