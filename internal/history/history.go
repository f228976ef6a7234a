package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hookbox/internal/domain"
)

// History manages deployment records in SQLite
type History struct {
	db *sql.DB
}

// NewHistory creates a history store on an open database and initializes its schema.
// The hooks and hook_versions tables are referenced but may be created later.
func NewHistory(db *sql.DB) (*History, error) {
	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// initSchema creates the database tables and indexes
func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			hook_id INTEGER REFERENCES hooks(id) ON DELETE SET NULL,
			hook_name TEXT NOT NULL,
			hook_version_id INTEGER REFERENCES hook_versions(id) ON DELETE SET NULL,
			hook_version INTEGER NOT NULL,
			deployment_level TEXT NOT NULL,
			target_id TEXT,
			target_name TEXT,
			group_id TEXT,
			status TEXT NOT NULL,
			error_message TEXT,
			deployed_by TEXT NOT NULL,
			deployed_at TEXT NOT NULL,
			completed_at TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Create indexes for efficient queries
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_deployments_hook ON deployments(hook_id, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_batch ON deployments(batch_id)`,
	} {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// InsertPending records the start of an endpoint deployment. The record's
// Status, DeployedAt and CompletedAt are overwritten.
func (h *History) InsertPending(ctx context.Context, record *DeploymentRecord) (int64, error) {
	if record.DeployedBy == "" {
		return 0, domain.ErrInvalidInput.Wrap(fmt.Errorf("deployed_by is required"))
	}

	now := time.Now().UTC()
	record.Status = StatusPending
	record.DeployedAt = now.Truncate(time.Second)
	record.CompletedAt = nil
	record.ErrorMessage = nil

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(batch_id, hook_id, hook_name, hook_version_id, hook_version, deployment_level,
		 target_id, target_name, group_id, status, deployed_by, deployed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.BatchID,
		record.HookID,
		record.HookName,
		record.HookVersionID,
		record.HookVersion,
		record.Level,
		record.TargetID,
		record.TargetName,
		record.GroupID,
		record.Status,
		record.DeployedBy,
		now.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// Finalize moves a pending record to success or failed. Terminal records
// are never changed again.
func (h *History) Finalize(ctx context.Context, id int64, status Status, errorMessage string) error {
	if !status.Terminal() {
		return domain.ErrInvalidInput.Wrap(fmt.Errorf("cannot finalize deployment to %q", status))
	}

	var msg *string
	if status == StatusFailed {
		if errorMessage == "" {
			errorMessage = "deployment failed"
		}
		msg = &errorMessage
	}

	result, err := h.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, status, msg, time.Now().UTC().Format(time.RFC3339), id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to finalize deployment record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := h.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict.Wrap(fmt.Errorf("deployment %d is already finalized", id))
}

// Get returns a single deployment record.
func (h *History) Get(ctx context.Context, id int64) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, recordSelect+` WHERE id = ?`, id)

	record, err := scanDeploymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound.Wrap(fmt.Errorf("deployment %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment: %w", err)
	}

	return record, nil
}

// List returns records matching the filter, most recent first.
func (h *History) List(ctx context.Context, f Filter) ([]DeploymentRecord, error) {
	var where []string
	var args []any

	if f.HookID > 0 {
		where = append(where, "hook_id = ?")
		args = append(args, f.HookID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Level != "" {
		where = append(where, "deployment_level = ?")
		args = append(args, f.Level)
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := recordSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	records := []DeploymentRecord{}
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// CountByHook returns the number of deployment records per hook id.
func (h *History) CountByHook(ctx context.Context) (map[int64]int64, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT hook_id, COUNT(*)
		FROM deployments
		WHERE hook_id IS NOT NULL
		GROUP BY hook_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deployments: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var hookID, count int64
		if err := rows.Scan(&hookID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan deployment count: %w", err)
		}
		counts[hookID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

const recordSelect = `
	SELECT id, batch_id, hook_id, hook_name, hook_version_id, hook_version,
	       deployment_level, target_id, target_name, group_id, status,
	       error_message, deployed_by, deployed_at, completed_at
	FROM deployments`

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...any) error
}

// scanDeploymentRecord scans a database row into a DeploymentRecord
// Works with both *sql.Row and *sql.Rows
func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var deployedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.BatchID,
		&record.HookID,
		&record.HookName,
		&record.HookVersionID,
		&record.HookVersion,
		&record.Level,
		&record.TargetID,
		&record.TargetName,
		&record.GroupID,
		&record.Status,
		&record.ErrorMessage,
		&record.DeployedBy,
		&deployedAtStr,
		&completedAtStr,
	)
	if err != nil {
		return nil, err
	}

	// Parse timestamps
	deployedAt, err := time.Parse(time.RFC3339, deployedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse deployed_at timestamp: %w", err)
	}
	record.DeployedAt = deployedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
