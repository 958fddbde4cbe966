package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database with the audit schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	// Matches migrations/20260301_120200_audit_log.up.sql
	_, err = db.Exec(`
		CREATE TABLE audit_log (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			action        TEXT NOT NULL,
			automation_id TEXT,
			source        TEXT NOT NULL,
			details       TEXT,
			created_at    TEXT NOT NULL
		);`)
	require.NoError(t, err)
	return db
}

func TestSQLiteRepository_CreateFillsDefaults(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	repo.now = func() time.Time { return fixed }

	e := &Entry{Action: ActionCreate, AutomationID: "a1", Source: SourceAPI}
	require.NoError(t, repo.Create(context.Background(), e))

	assert.Regexp(t, `^aud-[0-9a-f]{8}$`, e.ID)
	assert.True(t, fixed.Equal(e.CreatedAt))

	res, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, *e, res.Entries[0])
}

func TestSQLiteRepository_CreateRejectsUnknownAction(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	err := repo.Create(context.Background(), &Entry{Action: "login", Source: SourceAPI})
	assert.Error(t, err)
}

func TestSQLiteRepository_ListFiltersAndPages(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	seed := []Entry{
		{Action: ActionCreate, AutomationID: "a1", Source: SourceAPI},
		{Action: ActionUpdate, AutomationID: "a1", Source: SourceAPI, Details: map[string]any{"name": "Lights"}},
		{Action: ActionCreate, AutomationID: "a2", Source: SourceAPI},
		{Action: ActionImport, Source: SourceCLI, Details: map[string]any{"automations": float64(2)}},
	}
	for i := range seed {
		require.NoError(t, repo.Create(ctx, &seed[i]))
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, defaultLimit, all.Limit)
	require.Len(t, all.Entries, 4)
	assert.Equal(t, ActionImport, all.Entries[0].Action, "newest first")
	assert.Empty(t, all.Entries[0].AutomationID)
	assert.Equal(t, float64(2), all.Entries[0].Details["automations"])

	creates, err := repo.List(ctx, Filter{Action: ActionCreate})
	require.NoError(t, err)
	assert.Equal(t, 2, creates.Total)

	forA1, err := repo.List(ctx, Filter{AutomationID: "a1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, forA1.Total)
	require.Len(t, forA1.Entries, 1)
	assert.Equal(t, ActionUpdate, forA1.Entries[0].Action)

	page2, err := repo.List(ctx, Filter{AutomationID: "a1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page2.Entries, 1)
	assert.Equal(t, ActionCreate, page2.Entries[0].Action)
}

func TestSQLiteRepository_ListClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.Empty(t, res.Entries)
	assert.NotNil(t, res.Entries)
}

func TestAction_Valid(t *testing.T) {
	assert.True(t, ActionTrigger.Valid())
	assert.False(t, Action("command").Valid())
}
