package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"hookbox/pkg/cmdutil"
)

// DefaultAllowedCommands is the default set of commands a post-install step may run.
var DefaultAllowedCommands = map[string]bool{
	"chown":      true,
	"chgrp":      true,
	"chmod":      true,
	"chcon":      true,
	"restorecon": true,
	"setfacl":    true,
	"logger":     true,
	"touch":      true,
	"install":    true,
}

// SandboxedExecutor runs post-install commands after validating them.
type SandboxedExecutor struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// WorkDir is the working directory for command execution.
	WorkDir string

	// Env contains environment variables for the command.
	Env []string

	// Timeout bounds each command. Zero means no timeout.
	Timeout time.Duration
}

// NewSandboxedExecutor creates a new sandboxed executor with default settings.
func NewSandboxedExecutor(workDir string, timeout time.Duration) *SandboxedExecutor {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for k, v := range DefaultAllowedCommands {
		allowed[k] = v
	}
	return &SandboxedExecutor{
		AllowedCommands: allowed,
		WorkDir:         workDir,
		Timeout:         timeout,
	}
}

// Execute validates and runs a command without a shell.
func (e *SandboxedExecutor) Execute(ctx context.Context, cmdParts []string) (*cmdutil.Result, error) {
	if err := e.ValidateCommandParts(cmdParts); err != nil {
		return nil, err
	}

	return cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:     e.WorkDir,
		Env:     e.Env,
		Timeout: e.Timeout,
	}, cmdParts)
}

// ValidateCommandParts validates a command before execution.
// This can be used to pre-validate commands without executing them.
func (e *SandboxedExecutor) ValidateCommandParts(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := cmdParts[0]
	if !e.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			baseCmd, strings.Join(e.allowedCommandsList(), ", "))
	}

	for i, arg := range cmdParts[1:] {
		if containsShellMetachars(arg) {
			return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
		}
	}

	return nil
}

// AddAllowedCommand adds a command to the allowed list.
func (e *SandboxedExecutor) AddAllowedCommand(cmd string) {
	if e.AllowedCommands == nil {
		e.AllowedCommands = make(map[string]bool)
	}
	e.AllowedCommands[cmd] = true
}

// IsCommandAllowed checks if a command is in the allowed list.
func (e *SandboxedExecutor) IsCommandAllowed(cmd string) bool {
	return e.AllowedCommands[cmd]
}

func (e *SandboxedExecutor) allowedCommandsList() []string {
	commands := make([]string, 0, len(e.AllowedCommands))
	for cmd, ok := range e.AllowedCommands {
		if ok {
			commands = append(commands, cmd)
		}
	}
	sort.Strings(commands)
	return commands
}

// containsShellMetachars checks if a string contains shell metacharacters.
// Placeholders are expanded before validation, so braces never reach here legitimately.
func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, ";|&$`\n><(){}*?[]\\'\"")
}
