package deployment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hookbox/internal/domain"
	"hookbox/internal/history"
	"hookbox/internal/hook"
	"hookbox/internal/security"
	"hookbox/internal/target"
	"hookbox/pkg/cmdutil"
	"hookbox/pkg/fileutil"
	"hookbox/pkg/templates"
)

// Layout selects how project ids map to repository directories.
type Layout string

const (
	// LayoutHashed is GitLab hashed storage: @hashed/ab/cd/<sha256(id)>.git
	LayoutHashed Layout = "hashed"
	// LayoutNamespace uses <path_with_namespace>.git
	LayoutNamespace Layout = "namespace"
)

const (
	// DefaultPostInstallTimeout bounds the optional post-install command.
	DefaultPostInstallTimeout = 30 * time.Second

	customHooksDir = "custom_hooks"
	outputTailSize = 512
)

// InstallerConfig describes where hooks are written on disk.
type InstallerConfig struct {
	Layout             Layout
	RepositoriesRoot   string
	GlobalHooksDir     string
	PostInstall        string
	PostInstallTimeout time.Duration

	// AllowedCommands extends the default post-install allow-list.
	AllowedCommands []string
}

// Artifact is the immutable payload installed on every endpoint of a batch.
// Content is shared between goroutines and must not be modified.
type Artifact struct {
	HookName string
	HookType hook.Type
	FileType hook.FileType
	Language hook.Language
	Version  int
	Content  []byte
}

// Outcome is the result of installing one artifact on one endpoint.
type Outcome struct {
	Status       history.Status
	ErrorMessage string
	Path         string
	Changed      bool
	Duration     time.Duration
}

// Executor installs an artifact on a single endpoint. Implementations never
// return errors; failures are reported through the Outcome.
type Executor interface {
	Execute(ctx context.Context, ep target.Endpoint, a Artifact) Outcome
}

// Installer writes hooks into the GitLab custom hooks layout.
type Installer struct {
	cfg         InstallerConfig
	locks       *LockManager
	logger      *slog.Logger
	postInstall []string
}

// NewInstaller validates cfg and returns a ready installer.
func NewInstaller(cfg InstallerConfig, logger *slog.Logger) (*Installer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Layout == "" {
		cfg.Layout = LayoutHashed
	}
	if cfg.Layout != LayoutHashed && cfg.Layout != LayoutNamespace {
		return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("unknown repository layout %q", cfg.Layout))
	}
	if cfg.RepositoriesRoot == "" && cfg.GlobalHooksDir == "" {
		return nil, domain.ErrInvalidInput.Wrap(errors.New("repositories_root or global_hooks_dir is required"))
	}
	if cfg.PostInstallTimeout <= 0 {
		cfg.PostInstallTimeout = DefaultPostInstallTimeout
	}

	in := &Installer{
		cfg:    cfg,
		locks:  NewLockManager(),
		logger: logger,
	}

	if cfg.PostInstall != "" {
		if unknown := templates.Unknown(cfg.PostInstall, templates.InstallerPlaceholders()); len(unknown) > 0 {
			return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("post_install uses unknown placeholders: %v", unknown))
		}
		parts, err := cmdutil.ParseCommandString(cfg.PostInstall)
		if err != nil {
			return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("invalid post_install command: %w", err))
		}
		if !in.sandbox("").IsCommandAllowed(parts[0]) {
			return nil, domain.ErrInvalidInput.Wrap(fmt.Errorf("post_install command %q is not allowed", parts[0]))
		}
		in.postInstall = parts
	}

	return in, nil
}

// Execute installs a onto ep. Errors, panics and cancellation all become a
// failed Outcome.
func (in *Installer) Execute(ctx context.Context, ep target.Endpoint, a Artifact) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("Installer panic", "endpoint", ep.Key(), "panic", r)
			out = Outcome{Status: history.StatusFailed, ErrorMessage: fmt.Sprintf("internal error: %v", r), Path: out.Path}
		}
		out.Duration = time.Since(start)
	}()

	path, err := in.install(ctx, ep, a, &out)
	if err != nil {
		in.logger.Warn("Hook install failed", "endpoint", ep.Key(), "hook", a.HookName, "error", err)
		return Outcome{Status: history.StatusFailed, ErrorMessage: err.Error(), Path: path, Changed: out.Changed}
	}

	in.logger.Info("Hook installed", "endpoint", ep.Key(), "hook", a.HookName, "version", a.Version, "path", path, "changed", out.Changed)
	out.Status = history.StatusSuccess
	out.Path = path
	return out
}

func (in *Installer) install(ctx context.Context, ep target.Endpoint, a Artifact, out *Outcome) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("deployment cancelled: %w", err)
	}
	if err := security.ValidateHookName(a.HookName); err != nil {
		return "", err
	}
	if !a.HookType.Valid() {
		return "", fmt.Errorf("unsupported hook type %q", a.HookType)
	}

	path, err := in.HookPath(ep, a.HookType, a.HookName)
	if err != nil {
		return "", err
	}
	out.Path = path

	if err := in.locks.Lock(ctx, path); err != nil {
		return path, fmt.Errorf("deployment cancelled: %w", err)
	}
	defer in.locks.Unlock(path)

	data := withShebang(a)
	marker := pendingMarker(path)
	if !fileutil.SameContent(path, data, security.PermHookFile) {
		if err := security.CreateSecureDir(filepath.Dir(path), security.PermHookDir); err != nil {
			return path, fmt.Errorf("failed to create hook directory: %w", err)
		}
		if len(in.postInstall) > 0 {
			if err := fileutil.WriteFileAtomic(marker, nil, security.PermMarkerFile); err != nil {
				return path, fmt.Errorf("failed to mark post-install pending: %w", err)
			}
		}
		if err := fileutil.WriteFileAtomic(path, data, security.PermHookFile); err != nil {
			return path, err
		}
		out.Changed = true
	}

	// The marker outlives a failed post-install, so the next run retries it
	// even though the hook bytes are already in place.
	if len(in.postInstall) > 0 && fileutil.FileExists(marker) {
		if err := in.runPostInstall(ctx, ep, a, path); err != nil {
			return path, err
		}
		if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return path, fmt.Errorf("failed to clear post-install marker: %w", err)
		}
	}

	return path, nil
}

// pendingMarker names the file recording an unfinished post-install for
// path. It is hidden and not executable, so GitLab never runs it as a hook.
func pendingMarker(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".post-install")
}

// HookPath returns where a hook of type ht named name lives for ep.
// For projects the repository directory must already exist.
func (in *Installer) HookPath(ep target.Endpoint, ht hook.Type, name string) (string, error) {
	var base, dir string

	switch ep.Kind {
	case domain.LevelServer:
		if in.cfg.GlobalHooksDir == "" {
			return "", errors.New("global_hooks_dir is not configured")
		}
		base = in.cfg.GlobalHooksDir
		dir = filepath.Join(base, string(ht)+".d")

	case domain.LevelProject:
		if in.cfg.RepositoriesRoot == "" {
			return "", errors.New("repositories_root is not configured")
		}
		base = in.cfg.RepositoriesRoot
		repoDir, err := in.repositoryDir(ep)
		if err != nil {
			return "", err
		}
		if !fileutil.DirExists(repoDir) {
			return "", fmt.Errorf("repository directory not found for project %s: %s", ep.ID, repoDir)
		}
		dir = filepath.Join(repoDir, customHooksDir, string(ht)+".d")

	default:
		return "", fmt.Errorf("cannot install on endpoint kind %q", ep.Kind)
	}

	return security.EnsureWithin(base, filepath.Join(dir, name))
}

func (in *Installer) repositoryDir(ep target.Endpoint) (string, error) {
	if ep.ID == "" {
		return "", errors.New("project endpoint has no id")
	}
	if err := security.ValidateEndpointID(ep.ID); err != nil {
		return "", err
	}

	if in.cfg.Layout == LayoutNamespace {
		p := ep.Path
		if p == "" {
			p = ep.Name
		}
		if err := security.ValidateProjectPath(p); err != nil {
			return "", err
		}
		return filepath.Join(in.cfg.RepositoriesRoot, p+".git"), nil
	}

	sum := sha256.Sum256([]byte(ep.ID))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(in.cfg.RepositoriesRoot, "@hashed", h[0:2], h[2:4], h+".git"), nil
}

func (in *Installer) runPostInstall(ctx context.Context, ep target.Endpoint, a Artifact, path string) error {
	parts := templates.ExpandAll(in.postInstall, templates.Data{
		templates.HookPath:   path,
		templates.HookType:   string(a.HookType),
		templates.HookName:   a.HookName,
		templates.EndpointID: ep.ID,
	})

	in.logger.Info("Running post-install command", "endpoint", ep.Key(), "command", cmdutil.FormatCommand(parts))
	result, err := in.sandbox(filepath.Dir(path)).Execute(ctx, parts)
	if err != nil {
		if result != nil && len(result.Output) > 0 {
			return fmt.Errorf("post-install command failed: %w: %s", err, cmdutil.Tail(result.Output, outputTailSize))
		}
		return fmt.Errorf("post-install command failed: %w", err)
	}
	return nil
}

func (in *Installer) sandbox(workDir string) *security.SandboxedExecutor {
	s := security.NewSandboxedExecutor(workDir, in.cfg.PostInstallTimeout)
	for _, cmd := range in.cfg.AllowedCommands {
		s.AddAllowedCommand(cmd)
	}
	return s
}

// withShebang returns the bytes to write. Scripts with a known language
// but no interpreter line get one; everything else is returned as is.
func withShebang(a Artifact) []byte {
	if a.FileType != hook.Script || a.Language == "" || bytes.HasPrefix(a.Content, []byte("#!")) {
		return a.Content
	}
	header := "#!/usr/bin/env " + a.Language.Interpreter() + "\n"
	data := make([]byte, 0, len(header)+len(a.Content))
	data = append(data, header...)
	return append(data, a.Content...)
}
