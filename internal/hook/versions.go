package hook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hookbox/internal/artifact"
	"hookbox/internal/database"
	"hookbox/internal/domain"
)

const versionSelect = `
	SELECT id, hook_id, version, artifact, size, sha256, created_by, created_at
	FROM hook_versions`

// Versions returns a hook's versions, newest first.
func (r *Repository) Versions(ctx context.Context, hookID int64) ([]Version, error) {
	if _, err := r.Get(ctx, hookID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, versionSelect+` WHERE hook_id = ? ORDER BY version DESC`, hookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hook versions: %w", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hook version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return versions, nil
}

// GetVersion returns a version by its id.
func (r *Repository) GetVersion(ctx context.Context, versionID int64) (*Version, error) {
	row := r.db.QueryRowContext(ctx, versionSelect+` WHERE id = ?`, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound.Wrap(fmt.Errorf("hook version %d", versionID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hook version: %w", err)
	}
	return v, nil
}

// VersionByNumber returns version n of a hook.
func (r *Repository) VersionByNumber(ctx context.Context, hookID int64, n int) (*Version, error) {
	row := r.db.QueryRowContext(ctx, versionSelect+` WHERE hook_id = ? AND version = ?`, hookID, n)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound.Wrap(fmt.Errorf("hook %d version %d", hookID, n))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hook version: %w", err)
	}
	return v, nil
}

// LatestVersion returns the highest-numbered version of a hook.
func (r *Repository) LatestVersion(ctx context.Context, hookID int64) (*Version, error) {
	row := r.db.QueryRowContext(ctx, versionSelect+` WHERE hook_id = ? ORDER BY version DESC LIMIT 1`, hookID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound.Wrap(fmt.Errorf("hook %d has no versions", hookID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest hook version: %w", err)
	}
	return v, nil
}

// EnsureInitialVersion returns the latest version of h, creating version 1
// from the hook's current artifact when the hook has none. Hooks created
// through Create always have version 1, so this only matters for rows
// imported from elsewhere.
func (r *Repository) EnsureInitialVersion(ctx context.Context, h *Hook, actor string) (*Version, error) {
	if v, err := r.LatestVersion(ctx, h.ID); err == nil {
		return v, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	content, err := r.Content(ctx, h.Artifact)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		return insertVersion(ctx, tx, h.ID, 1, h.Artifact, int64(len(content)), actor, now)
	})
	// A concurrent caller may have created it first
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	if err == nil {
		r.logger.Info("Created initial hook version", "hook_id", h.ID, "actor", actor)
	}

	return r.VersionByNumber(ctx, h.ID, 1)
}

func insertVersion(ctx context.Context, tx *sql.Tx, hookID int64, n int, h artifact.Handle, size int64, actor, now string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO hook_versions
		(hook_id, version, artifact, size, sha256, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, hookID, n, h, size, h.String(), actor, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrConflict.Wrap(fmt.Errorf("hook %d version %d already exists", hookID, n))
		}
		return fmt.Errorf("failed to insert hook version: %w", err)
	}
	return nil
}

func scanVersion(s scanner) (*Version, error) {
	var v Version
	var createdAt string
	err := s.Scan(&v.ID, &v.HookID, &v.Version, &v.Artifact, &v.Size, &v.SHA256, &v.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	if v.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	return &v, nil
}
