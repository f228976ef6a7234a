// Package domain holds the error taxonomy and deployment levels shared by
// every hookbox layer.
//
// Callers match with errors.Is; producers wrap the underlying cause with
// Sentinel.Wrap(err) so the original message stays in the chain.
package domain

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrNotFound: hook, version or deployment absent.
	ErrNotFound = goerr.New("not found")

	// ErrInvalidInput: malformed request fields (hook upload, missing actor).
	ErrInvalidInput = goerr.New("invalid input")

	// ErrConflict: uniqueness violation, e.g. a duplicate hook name.
	ErrConflict = goerr.New("conflict")

	// ErrInvalidTarget: malformed or missing target for the chosen level.
	ErrInvalidTarget = goerr.New("invalid deployment target")

	// ErrInvalidVersion: explicit hook version that does not belong to the hook.
	ErrInvalidVersion = goerr.New("invalid hook version")

	// ErrTargetResolution: group expansion failed. Retryable.
	ErrTargetResolution = goerr.New("target resolution failed")

	// ErrProvider: transport or provider failure. Retryable.
	ErrProvider = goerr.New("provider request failed")

	// ErrNotConfigured: no active provider configuration.
	ErrNotConfigured = goerr.New("provider not configured")
)
