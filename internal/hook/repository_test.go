package hook

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hookbox/internal/artifact"
	"hookbox/internal/database"
	"hookbox/internal/domain"
)

func newTestRepository(t *testing.T) (*Repository, *sql.DB, *artifact.MemoryStore) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "hookbox.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := artifact.NewMemoryStore()
	repo, err := NewRepository(db, store, nil)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	return repo, db, store
}

func scriptParams(name, content string) CreateParams {
	return CreateParams{
		Name:           name,
		Description:    "test hook",
		HookType:       PreReceive,
		FileType:       Script,
		ScriptLanguage: Bash,
		Content:        []byte(content),
		Actor:          "alice",
	}
}

func TestCreate_WritesVersionOne(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	h, err := repo.Create(ctx, scriptParams("check-commit", "echo ok\n"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if h.CurrentVersion != 1 {
		t.Errorf("Expected current version 1, got %d", h.CurrentVersion)
	}
	if h.FileName != "check-commit" {
		t.Errorf("Expected file name to default to hook name, got %q", h.FileName)
	}
	if h.CreatedBy != "alice" {
		t.Errorf("Expected created_by 'alice', got %q", h.CreatedBy)
	}

	versions, err := repo.Versions(ctx, h.ID)
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 1 {
		t.Fatalf("Expected a single version 1, got %+v", versions)
	}
	if versions[0].Artifact != h.Artifact {
		t.Error("Expected version 1 to reference the hook's artifact")
	}
	if versions[0].Size != int64(len("echo ok\n")) {
		t.Errorf("Expected size %d, got %d", len("echo ok\n"), versions[0].Size)
	}
}

func TestCreate_Validation(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(p *CreateParams)
	}{
		{"empty name", func(p *CreateParams) { p.Name = "" }},
		{"traversal name", func(p *CreateParams) { p.Name = "../evil" }},
		{"bad hook type", func(p *CreateParams) { p.HookType = "pre-commit" }},
		{"bad file type", func(p *CreateParams) { p.FileType = "archive" }},
		{"bad language", func(p *CreateParams) { p.ScriptLanguage = "cobol" }},
		{"language on binary", func(p *CreateParams) { p.FileType = Binary }},
		{"empty content", func(p *CreateParams) { p.Content = nil }},
		{"missing actor", func(p *CreateParams) { p.Actor = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scriptParams("valid", "x")
			tt.mutate(&p)
			_, err := repo.Create(ctx, p)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	repo, _, store := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, scriptParams("dup", "one")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := repo.Create(ctx, scriptParams("dup", "two"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	// The rejected upload must not leave an orphaned artifact
	if store.Len() != 1 {
		t.Errorf("Expected 1 artifact, got %d", store.Len())
	}
}

func TestUpdate_NewVersionOnUpload(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	h, err := repo.Create(ctx, scriptParams("policy", "v1\n"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Metadata-only edit keeps the version
	updated, err := repo.Update(ctx, h.ID, UpdateParams{
		Name: "policy", Description: "edited", HookType: PreReceive,
		FileType: Script, ScriptLanguage: Bash, Actor: "bob",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.CurrentVersion != 1 {
		t.Errorf("Expected metadata edit to keep version 1, got %d", updated.CurrentVersion)
	}
	if updated.Description != "edited" {
		t.Errorf("Expected description 'edited', got %q", updated.Description)
	}

	// Upload creates version 2, then 3
	for i, content := range []string{"v2\n", "v3\n"} {
		updated, err = repo.Update(ctx, h.ID, UpdateParams{
			Name: "policy", HookType: PreReceive, FileType: Script,
			ScriptLanguage: Bash, Content: []byte(content), Actor: "bob",
		})
		if err != nil {
			t.Fatalf("Update with content failed: %v", err)
		}
		if updated.CurrentVersion != i+2 {
			t.Errorf("Expected version %d, got %d", i+2, updated.CurrentVersion)
		}
	}

	got, err := repo.Content(ctx, updated.Artifact)
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if string(got) != "v3\n" {
		t.Errorf("Expected current artifact 'v3', got %q", got)
	}

	// Old versions are immutable
	v1, err := repo.VersionByNumber(ctx, h.ID, 1)
	if err != nil {
		t.Fatalf("VersionByNumber failed: %v", err)
	}
	old, _ := repo.Content(ctx, v1.Artifact)
	if string(old) != "v1\n" {
		t.Errorf("Expected version 1 content to remain 'v1', got %q", old)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	_, err := repo.Update(context.Background(), 999, UpdateParams{
		Name: "x", HookType: Update, FileType: Binary, Actor: "a",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestVersions_NoGapsUnderConcurrentUploads(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	h, err := repo.Create(ctx, scriptParams("busy", "base"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const uploads = 8
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Update(ctx, h.ID, UpdateParams{
				Name: "busy", HookType: PreReceive, FileType: Script, ScriptLanguage: Bash,
				Content: []byte(strings.Repeat("x", i+1)), Actor: "bot",
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	versions, err := repo.Versions(ctx, h.ID)
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != uploads+1 {
		t.Fatalf("Expected %d versions, got %d", uploads+1, len(versions))
	}
	for i, v := range versions {
		if want := uploads + 1 - i; v.Version != want {
			t.Errorf("Expected version %d at position %d, got %d", want, i, v.Version)
		}
	}
}

func TestLatestAndGetVersion(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	h, _ := repo.Create(ctx, scriptParams("latest", "a"))
	repo.Update(ctx, h.ID, UpdateParams{
		Name: "latest", HookType: PreReceive, FileType: Script, ScriptLanguage: Bash,
		Content: []byte("b"), Actor: "alice",
	})

	latest, err := repo.LatestVersion(ctx, h.ID)
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest.Version != 2 {
		t.Errorf("Expected latest version 2, got %d", latest.Version)
	}

	byID, err := repo.GetVersion(ctx, latest.ID)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if byID.HookID != h.ID || byID.Version != 2 {
		t.Errorf("Unexpected version: %+v", byID)
	}

	if _, err := repo.GetVersion(ctx, 12345); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEnsureInitialVersion(t *testing.T) {
	repo, db, store := newTestRepository(t)
	ctx := context.Background()

	// A hook row without versions, as left by an import
	handle, _ := store.Store(ctx, []byte("legacy"))
	res, err := db.Exec(`
		INSERT INTO hooks (name, hook_type, file_type, artifact, file_name, created_by, created_at, updated_at)
		VALUES ('legacy', 'update', 'binary', ?, 'legacy', 'import', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`, handle)
	if err != nil {
		t.Fatalf("Failed to insert hook: %v", err)
	}
	id, _ := res.LastInsertId()

	h, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if h.CurrentVersion != 0 {
		t.Fatalf("Expected no versions, got %d", h.CurrentVersion)
	}

	v, err := repo.EnsureInitialVersion(ctx, h, "carol")
	if err != nil {
		t.Fatalf("EnsureInitialVersion failed: %v", err)
	}
	if v.Version != 1 || v.Artifact != handle || v.CreatedBy != "carol" {
		t.Errorf("Unexpected initial version: %+v", v)
	}

	// Second call returns the same row
	again, err := repo.EnsureInitialVersion(ctx, h, "dave")
	if err != nil {
		t.Fatalf("EnsureInitialVersion failed: %v", err)
	}
	if again.ID != v.ID {
		t.Errorf("Expected the same version row, got %d and %d", v.ID, again.ID)
	}
}

func TestDelete_RemovesVersionsAndUnsharedArtifacts(t *testing.T) {
	repo, db, store := newTestRepository(t)
	ctx := context.Background()

	shared := "shared content"
	a, _ := repo.Create(ctx, scriptParams("a", shared))
	repo.Update(ctx, a.ID, UpdateParams{
		Name: "a", HookType: PreReceive, FileType: Script, ScriptLanguage: Bash,
		Content: []byte("only in a"), Actor: "alice",
	})
	b, _ := repo.Create(ctx, scriptParams("b", shared))

	if store.Len() != 2 {
		t.Fatalf("Expected 2 artifacts, got %d", store.Len())
	}

	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := repo.Get(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM hook_versions WHERE hook_id = ?`, a.ID).Scan(&count)
	if count != 0 {
		t.Errorf("Expected versions to cascade, %d remain", count)
	}

	if store.Len() != 1 {
		t.Errorf("Expected only the shared artifact to remain, got %d", store.Len())
	}
	if _, err := repo.Content(ctx, b.Artifact); err != nil {
		t.Errorf("Expected shared artifact to survive: %v", err)
	}

	if err := repo.Delete(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestList(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	hooks, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(hooks) != 0 {
		t.Errorf("Expected empty list, got %d", len(hooks))
	}

	repo.Create(ctx, scriptParams("zeta", "z"))
	repo.Create(ctx, scriptParams("alpha", "a"))

	hooks, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(hooks) != 2 || hooks[0].Name != "alpha" || hooks[1].Name != "zeta" {
		t.Errorf("Expected hooks sorted by name, got %+v", hooks)
	}
	if hooks[0].CurrentVersion != 1 {
		t.Errorf("Expected current version 1, got %d", hooks[0].CurrentVersion)
	}
}
