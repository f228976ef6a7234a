package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	hookNamePattern    = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	pathSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	endpointIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.:/-]+$`)
)

// ValidateHookName ensures a hook name is safe to use as a file name inside
// a <hook_type>.d directory.
func ValidateHookName(name string) error {
	if name == "" {
		return fmt.Errorf("hook name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("hook name is too long (max 100 characters)")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("hook name cannot start with '-' or '.'")
	}
	if !hookNamePattern.MatchString(name) {
		return fmt.Errorf("hook name contains invalid characters (only a-z, A-Z, 0-9, _, ., - allowed)")
	}
	return nil
}

// ValidateProjectPath ensures a path_with_namespace such as "group/sub/project"
// cannot escape the repositories root.
func ValidateProjectPath(path string) error {
	if path == "" {
		return fmt.Errorf("project path cannot be empty")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("project path must be relative")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("project path contains an empty or traversal segment")
		}
		if !pathSegmentPattern.MatchString(seg) {
			return fmt.Errorf("project path segment %q contains invalid characters", seg)
		}
	}
	return nil
}

// ValidateEndpointID rejects identifiers that could carry shell or path tricks
// into placeholder expansion.
func ValidateEndpointID(id string) error {
	if id == "" {
		return nil
	}
	if strings.HasPrefix(id, "-") {
		return fmt.Errorf("endpoint id cannot start with '-'")
	}
	if !endpointIDPattern.MatchString(id) {
		return fmt.Errorf("endpoint id contains invalid characters")
	}
	return nil
}

// EnsureWithin ensures target stays inside base after cleaning.
// Unlike a symlink-resolving check the target does not need to exist yet.
func EnsureWithin(basePath, targetPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	relPath, err := filepath.Rel(absBase, absTarget)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: target '%s' is outside base '%s'", absTarget, absBase)
	}

	return absTarget, nil
}
