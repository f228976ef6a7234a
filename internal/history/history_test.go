package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"hookbox/internal/artifact"
	"hookbox/internal/database"
	"hookbox/internal/domain"
	"hookbox/internal/hook"
)

func newTestHistory(t *testing.T) (*History, *sql.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hist, err := NewHistory(db)
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	return hist, db
}

func strPtr(s string) *string { return &s }

func projectRecord(batch, target string) *DeploymentRecord {
	return &DeploymentRecord{
		BatchID:     batch,
		HookName:    "check-commit",
		HookVersion: 1,
		Level:       domain.LevelProject,
		TargetID:    strPtr(target),
		TargetName:  strPtr("group/" + target),
		DeployedBy:  "alice",
	}
}

func TestHistory_InsertPending(t *testing.T) {
	hist, _ := newTestHistory(t)
	ctx := context.Background()

	record := projectRecord("batch-1", "42")
	record.Status = StatusSuccess // ignored

	id, err := hist.InsertPending(ctx, record)
	if err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}
	if id == 0 || record.ID != id {
		t.Errorf("Expected record ID to be set, got id=%d record.ID=%d", id, record.ID)
	}

	got, err := hist.Get(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get deployment: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("Expected completed_at to be nil for pending record")
	}
	if got.TargetID == nil || *got.TargetID != "42" {
		t.Errorf("Expected target_id 42, got %v", got.TargetID)
	}
	if got.DeployedAt.IsZero() {
		t.Error("Expected deployed_at to be set")
	}
}

func TestHistory_InsertPendingRequiresActor(t *testing.T) {
	hist, _ := newTestHistory(t)

	record := projectRecord("b", "1")
	record.DeployedBy = ""
	if _, err := hist.InsertPending(context.Background(), record); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestHistory_Finalize(t *testing.T) {
	hist, _ := newTestHistory(t)
	ctx := context.Background()

	okID, _ := hist.InsertPending(ctx, projectRecord("b", "1"))
	failID, _ := hist.InsertPending(ctx, projectRecord("b", "2"))

	if err := hist.Finalize(ctx, okID, StatusSuccess, "ignored"); err != nil {
		t.Fatalf("Finalize success failed: %v", err)
	}
	if err := hist.Finalize(ctx, failID, StatusFailed, "repository missing"); err != nil {
		t.Fatalf("Finalize failed failed: %v", err)
	}

	ok, _ := hist.Get(ctx, okID)
	if ok.Status != StatusSuccess || ok.ErrorMessage != nil || ok.CompletedAt == nil {
		t.Errorf("Unexpected success record: %+v", ok)
	}

	failed, _ := hist.Get(ctx, failID)
	if failed.Status != StatusFailed || failed.ErrorMessage == nil || *failed.ErrorMessage != "repository missing" {
		t.Errorf("Unexpected failed record: %+v", failed)
	}
	if failed.CompletedAt == nil {
		t.Error("Expected completed_at on failed record")
	}
}

func TestHistory_TerminalStatesAreFinal(t *testing.T) {
	hist, _ := newTestHistory(t)
	ctx := context.Background()

	id, _ := hist.InsertPending(ctx, projectRecord("b", "1"))
	if err := hist.Finalize(ctx, id, StatusFailed, "boom"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if err := hist.Finalize(ctx, id, StatusSuccess, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict re-finalizing, got %v", err)
	}
	if err := hist.Finalize(ctx, id, StatusPending, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput finalizing to pending, got %v", err)
	}
	if err := hist.Finalize(ctx, 9999, StatusSuccess, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}

	got, _ := hist.Get(ctx, id)
	if got.Status != StatusFailed {
		t.Errorf("Expected status to stay failed, got %s", got.Status)
	}
}

func TestHistory_GetNotFound(t *testing.T) {
	hist, _ := newTestHistory(t)
	if _, err := hist.Get(context.Background(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHistory_List(t *testing.T) {
	hist, _ := newTestHistory(t)
	ctx := context.Background()

	server := &DeploymentRecord{
		BatchID: "batch-a", HookName: "h", HookVersion: 1,
		Level: domain.LevelServer, DeployedBy: "alice",
	}
	serverID, _ := hist.InsertPending(ctx, server)
	hist.Finalize(ctx, serverID, StatusSuccess, "")

	p1, _ := hist.InsertPending(ctx, projectRecord("batch-b", "1"))
	p2, _ := hist.InsertPending(ctx, projectRecord("batch-b", "2"))
	hist.Finalize(ctx, p1, StatusFailed, "x")

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []int64
	}{
		{"all most recent first", Filter{}, []int64{p2, p1, serverID}},
		{"by batch", Filter{BatchID: "batch-b"}, []int64{p2, p1}},
		{"by status", Filter{Status: StatusFailed}, []int64{p1}},
		{"by level", Filter{Level: domain.LevelServer}, []int64{serverID}},
		{"with limit", Filter{Limit: 1}, []int64{p2}},
		{"no match", Filter{BatchID: "nope"}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := hist.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(records) != len(tt.wantIDs) {
				t.Fatalf("Expected %d records, got %d", len(tt.wantIDs), len(records))
			}
			for i, r := range records {
				if r.ID != tt.wantIDs[i] {
					t.Errorf("Position %d: expected id %d, got %d", i, tt.wantIDs[i], r.ID)
				}
			}
		})
	}
}

func TestHistory_HookDeletionKeepsRecords(t *testing.T) {
	hist, db := newTestHistory(t)
	ctx := context.Background()

	repo, err := hook.NewRepository(db, artifact.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("Failed to create hook repository: %v", err)
	}

	h, err := repo.Create(ctx, hook.CreateParams{
		Name: "doomed", HookType: hook.PreReceive, FileType: hook.Script,
		Content: []byte("exit 0\n"), Actor: "alice",
	})
	if err != nil {
		t.Fatalf("Failed to create hook: %v", err)
	}
	v, _ := repo.LatestVersion(ctx, h.ID)

	record := projectRecord("batch", "7")
	record.HookID = &h.ID
	record.HookName = h.Name
	record.HookVersionID = &v.ID
	id, err := hist.InsertPending(ctx, record)
	if err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}
	hist.Finalize(ctx, id, StatusSuccess, "")

	counts, err := hist.CountByHook(ctx)
	if err != nil {
		t.Fatalf("CountByHook failed: %v", err)
	}
	if counts[h.ID] != 1 {
		t.Errorf("Expected 1 deployment for hook, got %d", counts[h.ID])
	}

	if err := repo.Delete(ctx, h.ID); err != nil {
		t.Fatalf("Failed to delete hook: %v", err)
	}

	got, err := hist.Get(ctx, id)
	if err != nil {
		t.Fatalf("Expected deployment to survive hook deletion: %v", err)
	}
	if got.HookID != nil || got.HookVersionID != nil {
		t.Errorf("Expected hook references to be cleared, got hook=%v version=%v", got.HookID, got.HookVersionID)
	}
	if got.HookName != "doomed" || got.HookVersion != 1 {
		t.Errorf("Expected snapshot fields to be kept, got %q v%d", got.HookName, got.HookVersion)
	}
	if got.Status != StatusSuccess {
		t.Errorf("Expected status success, got %s", got.Status)
	}
}
