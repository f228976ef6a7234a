// Package hook persists hooks and their immutable version history.
package hook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hookbox/internal/artifact"
	"hookbox/internal/database"
	"hookbox/internal/domain"
	"hookbox/internal/security"
)

// MaxContentSize bounds a single hook upload.
const MaxContentSize = 10 << 20

// Repository stores hook metadata in SQLite and hook content in an artifact store.
type Repository struct {
	db     *sql.DB
	store  artifact.Store
	logger *slog.Logger

	// mu serializes mutations so artifact cleanup never races a concurrent
	// insert of the same content.
	mu sync.Mutex
}

// NewRepository creates the repository and initializes its schema.
func NewRepository(db *sql.DB, store artifact.Store, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{db: db, store: store, logger: logger}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS hooks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			hook_type TEXT NOT NULL,
			file_type TEXT NOT NULL,
			script_language TEXT NOT NULL DEFAULT '',
			artifact TEXT NOT NULL,
			file_name TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hook_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hook_id INTEGER NOT NULL REFERENCES hooks(id) ON DELETE CASCADE,
			version INTEGER NOT NULL,
			artifact TEXT NOT NULL,
			size INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(hook_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hook_versions_hook
			ON hook_versions(hook_id, version DESC)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create hook tables: %w", err)
		}
	}
	return nil
}

// Create stores the hook and its version 1 in one transaction.
func (r *Repository) Create(ctx context.Context, p CreateParams) (*Hook, error) {
	if err := validateFields(p.Name, p.HookType, p.FileType, p.ScriptLanguage, p.Actor); err != nil {
		return nil, err
	}
	if err := validateContent(p.Content); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	handle, err := r.store.Store(ctx, p.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store hook content: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	fileName := p.FileName
	if fileName == "" {
		fileName = p.Name
	}

	var hookID int64
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO hooks
			(name, description, hook_type, file_type, script_language, artifact,
			 file_name, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.Name, p.Description, p.HookType, p.FileType, p.ScriptLanguage, handle,
			fileName, p.Actor, now, now)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return domain.ErrConflict.Wrap(fmt.Errorf("hook %q already exists", p.Name))
			}
			return fmt.Errorf("failed to insert hook: %w", err)
		}
		hookID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		return insertVersion(ctx, tx, hookID, 1, handle, int64(len(p.Content)), p.Actor, now)
	})
	if err != nil {
		r.releaseArtifacts(ctx, []artifact.Handle{handle})
		return nil, err
	}

	r.logger.Info("Hook created", "hook_id", hookID, "name", p.Name, "actor", p.Actor)
	return r.Get(ctx, hookID)
}

// Update replaces the hook's metadata. When p.Content is non-nil a new
// version is appended and becomes the hook's current artifact.
func (r *Repository) Update(ctx context.Context, id int64, p UpdateParams) (*Hook, error) {
	if err := validateFields(p.Name, p.HookType, p.FileType, p.ScriptLanguage, p.Actor); err != nil {
		return nil, err
	}
	if p.Content != nil {
		if err := validateContent(p.Content); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	handle := existing.Artifact
	if p.Content != nil {
		handle, err = r.store.Store(ctx, p.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to store hook content: %w", err)
		}
	}

	fileName := p.FileName
	if fileName == "" {
		fileName = existing.FileName
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var newVersion int
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE hooks
			SET name = ?, description = ?, hook_type = ?, file_type = ?,
			    script_language = ?, artifact = ?, file_name = ?, updated_at = ?
			WHERE id = ?
		`, p.Name, p.Description, p.HookType, p.FileType, p.ScriptLanguage, handle,
			fileName, now, id)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return domain.ErrConflict.Wrap(fmt.Errorf("hook %q already exists", p.Name))
			}
			return fmt.Errorf("failed to update hook: %w", err)
		}

		if p.Content == nil {
			return nil
		}

		var current int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM hook_versions WHERE hook_id = ?`, id,
		).Scan(&current); err != nil {
			return fmt.Errorf("failed to query latest version: %w", err)
		}
		newVersion = current + 1
		return insertVersion(ctx, tx, id, newVersion, handle, int64(len(p.Content)), p.Actor, now)
	})
	if err != nil {
		if p.Content != nil && handle != existing.Artifact {
			r.releaseArtifacts(ctx, []artifact.Handle{handle})
		}
		return nil, err
	}

	if newVersion > 0 {
		r.logger.Info("Hook version uploaded", "hook_id", id, "version", newVersion, "actor", p.Actor)
	}
	return r.Get(ctx, id)
}

// Get returns a hook with its current version number.
func (r *Repository) Get(ctx context.Context, id int64) (*Hook, error) {
	row := r.db.QueryRowContext(ctx, hookSelect+` WHERE h.id = ? GROUP BY h.id`, id)
	h, err := scanHook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound.Wrap(fmt.Errorf("hook %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hook: %w", err)
	}
	return h, nil
}

// List returns every hook ordered by name.
func (r *Repository) List(ctx context.Context) ([]Hook, error) {
	rows, err := r.db.QueryContext(ctx, hookSelect+` GROUP BY h.id ORDER BY h.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hooks: %w", err)
	}
	defer rows.Close()

	hooks := []Hook{}
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hook: %w", err)
		}
		hooks = append(hooks, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return hooks, nil
}

// Delete removes the hook and its versions, then drops artifacts no longer
// referenced by any hook or version.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var handles []artifact.Handle
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT artifact FROM hooks WHERE id = ?
			UNION
			SELECT artifact FROM hook_versions WHERE hook_id = ?
		`, id, id)
		if err != nil {
			return fmt.Errorf("failed to query hook artifacts: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan artifact: %w", err)
			}
			handles = append(handles, artifact.Handle(h))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM hooks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete hook: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound.Wrap(fmt.Errorf("hook %d", id))
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.releaseArtifacts(ctx, handles)
	r.logger.Info("Hook deleted", "hook_id", id)
	return nil
}

// Content returns the bytes behind an artifact handle.
func (r *Repository) Content(ctx context.Context, h artifact.Handle) ([]byte, error) {
	data, err := r.store.Retrieve(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve artifact: %w", err)
	}
	return data, nil
}

// releaseArtifacts deletes the given handles unless some hook or version
// still references them. Failures only leave orphans behind, so they are logged.
func (r *Repository) releaseArtifacts(ctx context.Context, handles []artifact.Handle) {
	ctx = context.WithoutCancel(ctx)

	var orphans []artifact.Handle
	for _, h := range handles {
		var refs int
		err := r.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM hooks WHERE artifact = ?)
			     + (SELECT COUNT(*) FROM hook_versions WHERE artifact = ?)
		`, h, h).Scan(&refs)
		if err != nil {
			r.logger.Warn("Failed to count artifact references", "artifact", h, "error", err)
			continue
		}
		if refs == 0 {
			orphans = append(orphans, h)
		}
	}

	if err := r.store.DeleteAll(ctx, orphans); err != nil {
		r.logger.Warn("Failed to delete orphaned artifacts", "count", len(orphans), "error", err)
	}
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func validateFields(name string, ht Type, ft FileType, lang Language, actor string) error {
	var problems []error
	if err := security.ValidateHookName(name); err != nil {
		problems = append(problems, err)
	}
	if !ht.Valid() {
		problems = append(problems, fmt.Errorf("invalid hook_type %q", ht))
	}
	if !ft.Valid() {
		problems = append(problems, fmt.Errorf("invalid file_type %q", ft))
	}
	if lang != "" {
		if ft == Binary {
			problems = append(problems, fmt.Errorf("script_language is only valid for scripts"))
		} else if !lang.Valid() {
			problems = append(problems, fmt.Errorf("invalid script_language %q", lang))
		}
	}
	if actor == "" {
		problems = append(problems, fmt.Errorf("actor is required"))
	}
	if len(problems) > 0 {
		return domain.ErrInvalidInput.Wrap(errors.Join(problems...))
	}
	return nil
}

func validateContent(content []byte) error {
	if len(content) == 0 {
		return domain.ErrInvalidInput.Wrap(fmt.Errorf("hook file is empty"))
	}
	if len(content) > MaxContentSize {
		return domain.ErrInvalidInput.Wrap(fmt.Errorf("hook file exceeds %d bytes", MaxContentSize))
	}
	return nil
}

const hookSelect = `
	SELECT h.id, h.name, h.description, h.hook_type, h.file_type, h.script_language,
	       h.artifact, h.file_name, h.created_by, h.created_at, h.updated_at,
	       COALESCE(MAX(v.version), 0)
	FROM hooks h
	LEFT JOIN hook_versions v ON v.hook_id = h.id`

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...any) error
}

func scanHook(s scanner) (*Hook, error) {
	var h Hook
	var createdAt, updatedAt string
	err := s.Scan(
		&h.ID, &h.Name, &h.Description, &h.HookType, &h.FileType, &h.ScriptLanguage,
		&h.Artifact, &h.FileName, &h.CreatedBy, &createdAt, &updatedAt,
		&h.CurrentVersion,
	)
	if err != nil {
		return nil, err
	}

	if h.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if h.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return &h, nil
}
