package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "notes"), 0o755))
	return dir
}

func TestApplyMigrationsSkipsRecordedVersions(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_projects.up.sql":   "CREATE TABLE projects (join_code TEXT PRIMARY KEY);",
		"0001_projects.down.sql": "DROP TABLE projects;",
		"0002_pins.up.sql":       "CREATE TABLE project_pins (id TEXT PRIMARY KEY);",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock($1)`)).
		WithArgs(migrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_projects.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE project_pins`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_migrations(version) VALUES($1)`)).
		WithArgs("0002_pins.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock($1)`)).
		WithArgs(migrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ApplyMigrations(context.Background(), db, dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsRollsBackFailedFile(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_projects.up.sql": "CREATE TABLE projects (join_code TEXT PRIMARY KEY);",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock($1)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE projects`)).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock($1)`)).WillReturnResult(sqlmock.NewResult(0, 0))

	err = ApplyMigrations(context.Background(), db, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 0001_projects.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsMissingDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = ApplyMigrations(context.Background(), db, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "read migrations dir")
}

func TestPingWithRetry(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("the database system is starting up"))
	mock.ExpectPing()
	require.NoError(t, pingWithRetry(context.Background(), db, 3, time.Millisecond))
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectPing().WillReturnError(errors.New("refused"))
	mock.ExpectPing().WillReturnError(errors.New("refused"))
	err = pingWithRetry(context.Background(), db, 2, time.Millisecond)
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestPoolDefaults(t *testing.T) {
	pool := Pool{MaxOpenConns: 4}.withDefaults()
	assert.Equal(t, 4, pool.MaxOpenConns)
	assert.Equal(t, DefaultPool.MaxIdleConns, pool.MaxIdleConns)
	assert.Equal(t, DefaultPool.ConnMaxLifetime, pool.ConnMaxLifetime)

	_, err := Open(context.Background(), "  ")
	assert.ErrorContains(t, err, "database url is empty")
}
