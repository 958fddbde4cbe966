package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for automation persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Automation CRUD
	GetByID(ctx context.Context, id string) (*Automation, error)
	List(ctx context.Context) ([]Automation, error)
	Create(ctx context.Context, a *Automation) error
	Update(ctx context.Context, a *Automation) error
	Delete(ctx context.Context, id string) error
	UpdateLastFired(ctx context.Context, id string, t time.Time) error

	// Execution logging
	AppendExecution(ctx context.Context, entry *ExecutionLogEntry, capacity int) error
	ListExecutions(ctx context.Context, automationID string, limit int) ([]ExecutionLogEntry, error)

	// ReplaceAll atomically swaps the stored state for a restored document.
	ReplaceAll(ctx context.Context, automations []Automation, entries []ExecutionLogEntry) error
}

// automationColumns is the SELECT column list for automation queries.
const automationColumns = `id, name, description, condition, condition_expr, actions,
			enabled, created_at, last_fired_at`

// executionColumns is the SELECT column list for execution log queries.
const executionColumns = `id, automation_id, automation_name, timestamp, success,
			executed_count, error, skipped, cancelled, duration_ms`

// timeLayout keeps sub-second precision so stored and in-memory
// timestamps compare equal.
const timeLayout = time.RFC3339Nano

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetByID retrieves an automation by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	a, err := scanAutomationRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("querying automation by id: %w", err)
	}
	return a, nil
}

// List retrieves all automations in insertion order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	var list []Automation
	for rows.Next() {
		a, scanErr := scanAutomationRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning automation: %w", scanErr)
		}
		list = append(list, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automations: %w", err)
	}
	return list, nil
}

// Create inserts a new automation after all existing ones.
func (r *SQLiteRepository) Create(ctx context.Context, a *Automation) error {
	if err := insertAutomation(ctx, r.db, a); err != nil {
		if isUniqueConstraintError(err) {
			return ErrAutomationExists
		}
		return fmt.Errorf("inserting automation: %w", err)
	}
	return nil
}

// Update modifies an existing automation, keeping its position.
func (r *SQLiteRepository) Update(ctx context.Context, a *Automation) error {
	conditionJSON, actionsJSON, err := marshalDefinition(a)
	if err != nil {
		return err
	}

	query := `
		UPDATE automations SET
			name = ?, description = ?, condition = ?, condition_expr = ?,
			actions = ?, enabled = ?, updated_at = ?, last_fired_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		a.Name,
		nullableString(a.Description),
		conditionJSON,
		nullableString(a.ConditionExpr),
		actionsJSON,
		boolToInt(a.Enabled),
		time.Now().UTC().Format(timeLayout),
		nullableTime(a.LastFiredAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}
	return requireAffected(result, "updating automation")
}

// Delete removes an automation. Its execution history is kept.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}
	return requireAffected(result, "deleting automation")
}

// UpdateLastFired records when an automation was last fired.
func (r *SQLiteRepository) UpdateLastFired(ctx context.Context, id string, t time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET last_fired_at = ? WHERE id = ?`,
		t.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("updating last fired time: %w", err)
	}
	return requireAffected(result, "updating last fired time")
}

// AppendExecution inserts a log entry and trims the table to the newest
// capacity entries. A non-positive capacity disables trimming.
func (r *SQLiteRepository) AppendExecution(ctx context.Context, entry *ExecutionLogEntry, capacity int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertExecution(ctx, tx, entry); err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}

	if capacity > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM execution_log
			WHERE seq NOT IN (SELECT seq FROM execution_log ORDER BY seq DESC LIMIT ?)`,
			capacity,
		)
		if err != nil {
			return fmt.Errorf("trimming execution log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing execution: %w", err)
	}
	return nil
}

// ListExecutions returns log entries newest first. An empty automationID
// lists all automations; a non-positive limit returns every entry.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, automationID string, limit int) ([]ExecutionLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if automationID != "" {
		where = append(where, "automation_id = ?")
		args = append(args, automationID)
	}

	query := `SELECT ` + executionColumns + ` FROM execution_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var entries []ExecutionLogEntry
	for rows.Next() {
		e, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return entries, nil
}

// ReplaceAll swaps every stored automation and log entry in one
// transaction. entries are newest first, as held by ExecutionLog.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, automations []Automation, entries []ExecutionLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM automations`); err != nil {
		return fmt.Errorf("clearing automations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_log`); err != nil {
		return fmt.Errorf("clearing execution log: %w", err)
	}

	for i := range automations {
		if err := insertAutomation(ctx, tx, &automations[i]); err != nil {
			return fmt.Errorf("inserting automation %q: %w", automations[i].ID, err)
		}
	}
	// Oldest first so seq order matches log order.
	for i := len(entries) - 1; i >= 0; i-- {
		if err := insertExecution(ctx, tx, &entries[i]); err != nil {
			return fmt.Errorf("inserting execution %q: %w", entries[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	return nil
}

// ─── Insert Helpers ─────────────────────────────────────────────────────────

func insertAutomation(ctx context.Context, db execer, a *Automation) error {
	conditionJSON, actionsJSON, err := marshalDefinition(a)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	query := `
		INSERT INTO automations (
			id, position, name, description, condition, condition_expr, actions,
			enabled, created_at, updated_at, last_fired_at
		) VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM automations), ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.ExecContext(ctx, query,
		a.ID,
		a.Name,
		nullableString(a.Description),
		conditionJSON,
		nullableString(a.ConditionExpr),
		actionsJSON,
		boolToInt(a.Enabled),
		a.CreatedAt.UTC().Format(timeLayout),
		now.Format(timeLayout),
		nullableTime(a.LastFiredAt),
	)
	return err
}

func insertExecution(ctx context.Context, db execer, e *ExecutionLogEntry) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}

	query := `
		INSERT INTO execution_log (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errText sql.NullString
	if e.Error != nil {
		errText = sql.NullString{String: *e.Error, Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.AutomationID,
		e.AutomationName,
		e.Timestamp.UTC().Format(timeLayout),
		boolToInt(e.Success),
		e.ExecutedCount,
		errText,
		boolToInt(e.Skipped),
		boolToInt(e.Cancelled),
		e.DurationMS,
	)
	return err
}

func marshalDefinition(a *Automation) (string, string, error) {
	conditionJSON, err := json.Marshal(a.Condition)
	if err != nil {
		return "", "", fmt.Errorf("marshalling condition: %w", err)
	}
	actions := a.Actions
	if actions == nil {
		actions = []Action{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	return string(conditionJSON), string(actionsJSON), nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomationRow(scanner rowScanner) (*Automation, error) {
	var a Automation
	var description, conditionExpr, lastFiredAt sql.NullString
	var conditionJSON, actionsJSON, createdAt string
	var enabled int

	err := scanner.Scan(
		&a.ID,
		&a.Name,
		&description,
		&conditionJSON,
		&conditionExpr,
		&actionsJSON,
		&enabled,
		&createdAt,
		&lastFiredAt,
	)
	if err != nil {
		return nil, err
	}

	a.Description = description.String
	a.ConditionExpr = conditionExpr.String
	a.Enabled = enabled != 0

	if t, parseErr := time.Parse(timeLayout, createdAt); parseErr == nil {
		a.CreatedAt = t
	}
	if lastFiredAt.Valid {
		if t, parseErr := time.Parse(timeLayout, lastFiredAt.String); parseErr == nil {
			a.LastFiredAt = &t
		}
	}

	if jsonErr := json.Unmarshal([]byte(conditionJSON), &a.Condition); jsonErr != nil {
		return nil, fmt.Errorf("unmarshalling condition: %w", jsonErr)
	}
	if actionsJSON != "" && actionsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(actionsJSON), &a.Actions); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling actions: %w", jsonErr)
		}
	}
	if a.Actions == nil {
		a.Actions = []Action{}
	}

	return &a, nil
}

func scanExecutionRow(scanner rowScanner) (*ExecutionLogEntry, error) {
	var e ExecutionLogEntry
	var timestamp string
	var errText sql.NullString
	var success, skipped, cancelled int

	err := scanner.Scan(
		&e.ID,
		&e.AutomationID,
		&e.AutomationName,
		&timestamp,
		&success,
		&e.ExecutedCount,
		&errText,
		&skipped,
		&cancelled,
		&e.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	if t, parseErr := time.Parse(timeLayout, timestamp); parseErr == nil {
		e.Timestamp = t
	}
	if errText.Valid {
		e.Error = &errText.String
	}
	e.Success = success != 0
	e.Skipped = skipped != 0
	e.Cancelled = cancelled != 0

	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: checking rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
