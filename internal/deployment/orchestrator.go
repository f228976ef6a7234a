// Package deployment installs hook versions onto their targets and records
// one history row per endpoint.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hookbox/internal/artifact"
	"hookbox/internal/audit"
	"hookbox/internal/domain"
	"hookbox/internal/history"
	"hookbox/internal/hook"
	"hookbox/internal/target"
)

// DefaultConcurrency is the number of endpoints installed in parallel.
const DefaultConcurrency = 4

// OverallStatus summarizes a batch.
type OverallStatus string

const (
	OverallSuccess OverallStatus = "success"
	OverallPartial OverallStatus = "partial"
	OverallFailed  OverallStatus = "failed"
)

// Request asks for one hook to be deployed at one level.
type Request struct {
	HookID        int64
	Level         domain.Level
	TargetID      string
	TargetName    string
	HookVersionID int64 // zero selects the latest version
	Actor         string
}

// BatchResult is the outcome of one Deploy call.
type BatchResult struct {
	BatchID       string                     `json:"batch_id"`
	HookVersion   int                        `json:"hook_version"`
	DeploymentIDs []int64                    `json:"deployment_ids"`
	Deployments   []history.DeploymentRecord `json:"deployments"`
	OverallStatus OverallStatus              `json:"overall_status"`
	NoTargets     bool                       `json:"no_targets"`
}

// Counts returns the number of successful and failed endpoints.
func (b *BatchResult) Counts() (succeeded, failed int) {
	for _, d := range b.Deployments {
		if d.Status == history.StatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// HookSource loads hooks, versions and artifact bytes.
type HookSource interface {
	Get(ctx context.Context, id int64) (*hook.Hook, error)
	GetVersion(ctx context.Context, versionID int64) (*hook.Version, error)
	EnsureInitialVersion(ctx context.Context, h *hook.Hook, actor string) (*hook.Version, error)
	Content(ctx context.Context, h artifact.Handle) ([]byte, error)
}

// TargetResolver expands a level and target into endpoints.
type TargetResolver interface {
	Resolve(ctx context.Context, level domain.Level, targetID, targetName string) ([]target.Endpoint, error)
}

// Recorder persists per-endpoint deployment rows.
type Recorder interface {
	InsertPending(ctx context.Context, record *history.DeploymentRecord) (int64, error)
	Finalize(ctx context.Context, id int64, status history.Status, errorMessage string) error
}

// Orchestrator runs deployment batches.
type Orchestrator struct {
	hooks       HookSource
	resolver    TargetResolver
	executor    Executor
	records     Recorder
	audit       *audit.Recorder
	logger      *slog.Logger
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the number of endpoints installed at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithAudit sends one entry per batch to rec.
func WithAudit(rec *audit.Recorder) Option {
	return func(o *Orchestrator) { o.audit = rec }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(hooks HookSource, resolver TargetResolver, executor Executor, records Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		hooks:       hooks,
		resolver:    resolver,
		executor:    executor,
		records:     records,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Deploy installs the selected hook version on every endpoint of the request.
//
// Errors are returned only when nothing was attempted: invalid input, a
// missing hook or version, or a target that could not be resolved. Once
// fan-out starts every endpoint ends with exactly one finalized row, even
// if ctx is cancelled mid-batch.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*BatchResult, error) {
	if req.Actor == "" {
		return nil, domain.ErrInvalidInput.Wrap(errors.New("actor is required"))
	}
	if !req.Level.Valid() {
		return nil, domain.ErrInvalidTarget.Wrap(fmt.Errorf("unknown deployment level %q", req.Level))
	}

	h, err := o.hooks.Get(ctx, req.HookID)
	if err != nil {
		return nil, err
	}

	version, err := o.selectVersion(ctx, h, req)
	if err != nil {
		return nil, err
	}

	content, err := o.hooks.Content(ctx, version.Artifact)
	if err != nil {
		return nil, err
	}

	endpoints, err := o.resolver.Resolve(ctx, req.Level, req.TargetID, req.TargetName)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		BatchID:       uuid.NewString(),
		HookVersion:   version.Version,
		DeploymentIDs: []int64{},
		Deployments:   make([]history.DeploymentRecord, len(endpoints)),
	}

	if len(endpoints) == 0 {
		result.OverallStatus = OverallSuccess
		result.NoTargets = true
		o.logger.Info("No targets to deploy", "hook_id", h.ID, "level", req.Level, "target_id", req.TargetID)
		o.recordAudit(ctx, req, h, result)
		return result, nil
	}

	art := Artifact{
		HookName: h.Name,
		HookType: h.HookType,
		FileType: h.FileType,
		Language: h.ScriptLanguage,
		Version:  version.Version,
		Content:  content,
	}

	o.logger.Info("Deployment started",
		"batch_id", result.BatchID, "hook", h.Name, "version", version.Version,
		"level", req.Level, "endpoints", len(endpoints), "actor", req.Actor)

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, ep := range endpoints {
		g.Go(func() error {
			result.Deployments[i] = o.deployOne(ctx, req, h, version, art, ep, result.BatchID)
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range result.Deployments {
		if d.ID != 0 {
			result.DeploymentIDs = append(result.DeploymentIDs, d.ID)
		}
	}
	result.OverallStatus = aggregate(result.Deployments)

	ok, failed := result.Counts()
	o.logger.Info("Deployment finished",
		"batch_id", result.BatchID, "status", result.OverallStatus, "succeeded", ok, "failed", failed)

	o.recordAudit(ctx, req, h, result)
	return result, nil
}

func (o *Orchestrator) selectVersion(ctx context.Context, h *hook.Hook, req Request) (*hook.Version, error) {
	if req.HookVersionID != 0 {
		v, err := o.hooks.GetVersion(ctx, req.HookVersionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidVersion.Wrap(fmt.Errorf("hook version %d does not exist", req.HookVersionID))
		}
		if err != nil {
			return nil, err
		}
		if v.HookID != h.ID {
			return nil, domain.ErrInvalidVersion.Wrap(fmt.Errorf("hook version %d does not belong to hook %d", req.HookVersionID, h.ID))
		}
		return v, nil
	}
	return o.hooks.EnsureInitialVersion(ctx, h, req.Actor)
}

// deployOne owns one endpoint: pending row, install, terminal row.
func (o *Orchestrator) deployOne(ctx context.Context, req Request, h *hook.Hook, v *hook.Version, art Artifact, ep target.Endpoint, batchID string) history.DeploymentRecord {
	// Rows must be written even when the batch is cancelled
	dbCtx := context.WithoutCancel(ctx)

	hookID, versionID := h.ID, v.ID
	rec := history.DeploymentRecord{
		BatchID:       batchID,
		HookID:        &hookID,
		HookName:      h.Name,
		HookVersionID: &versionID,
		HookVersion:   v.Version,
		Level:         req.Level,
		DeployedBy:    req.Actor,
	}
	if ep.Kind == domain.LevelProject {
		id, name := ep.ID, ep.Name
		rec.TargetID = &id
		rec.TargetName = &name
	}
	if ep.GroupID != "" {
		gid := ep.GroupID
		rec.GroupID = &gid
	}

	if _, err := o.records.InsertPending(dbCtx, &rec); err != nil {
		o.logger.Error("Failed to record deployment", "batch_id", batchID, "endpoint", ep.Key(), "error", err)
		msg := fmt.Sprintf("failed to record deployment: %v", err)
		rec.Status = history.StatusFailed
		rec.ErrorMessage = &msg
		return rec
	}

	out := o.executor.Execute(ctx, ep, art)
	if out.Status != history.StatusSuccess {
		out.Status = history.StatusFailed
		if out.ErrorMessage == "" {
			out.ErrorMessage = "deployment failed"
		}
	}

	if err := o.finalize(dbCtx, rec.ID, out); err != nil {
		o.logger.Error("Failed to finalize deployment", "deployment_id", rec.ID, "error", err)
		out.Status = history.StatusFailed
		out.ErrorMessage = fmt.Sprintf("deployment row could not be finalized: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rec.Status = out.Status
	rec.CompletedAt = &now
	if out.Status == history.StatusFailed {
		msg := out.ErrorMessage
		rec.ErrorMessage = &msg
	}
	return rec
}

// finalize writes the terminal status, retrying once on a storage error.
func (o *Orchestrator) finalize(ctx context.Context, id int64, out Outcome) error {
	err := o.records.Finalize(ctx, id, out.Status, out.ErrorMessage)
	if err == nil || errors.Is(err, domain.ErrConflict) {
		return err
	}
	o.logger.Warn("Retrying deployment finalize", "deployment_id", id, "error", err)
	return o.records.Finalize(ctx, id, out.Status, out.ErrorMessage)
}

func aggregate(records []history.DeploymentRecord) OverallStatus {
	var ok, failed int
	for _, r := range records {
		if r.Status == history.StatusSuccess {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return OverallSuccess
	case ok == 0:
		return OverallFailed
	default:
		return OverallPartial
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, req Request, h *hook.Hook, result *BatchResult) {
	ok, failed := result.Counts()
	o.audit.Record(ctx, audit.Entry{
		Action:       "deploy",
		ResourceType: "hook",
		ResourceID:   fmt.Sprint(h.ID),
		Actor:        req.Actor,
		Details: map[string]any{
			"batch_id":         result.BatchID,
			"hook_name":        h.Name,
			"hook_version":     result.HookVersion,
			"deployment_level": string(req.Level),
			"target_id":        req.TargetID,
			"target_name":      req.TargetName,
			"overall_status":   string(result.OverallStatus),
			"succeeded":        ok,
			"failed":           failed,
			"no_targets":       result.NoTargets,
		},
	})
}
