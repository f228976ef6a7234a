package hook

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"hookbox/internal/domain"
)

// Diff returns a unified diff between two versions of a script hook.
func (r *Repository) Diff(ctx context.Context, hookID int64, from, to int) (string, error) {
	h, err := r.Get(ctx, hookID)
	if err != nil {
		return "", err
	}
	if h.FileType != Script {
		return "", domain.ErrInvalidInput.Wrap(fmt.Errorf("diff is only available for script hooks"))
	}

	fromV, err := r.VersionByNumber(ctx, hookID, from)
	if err != nil {
		return "", err
	}
	toV, err := r.VersionByNumber(ctx, hookID, to)
	if err != nil {
		return "", err
	}

	a, err := r.Content(ctx, fromV.Artifact)
	if err != nil {
		return "", err
	}
	b, err := r.Content(ctx, toV.Artifact)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(a) || !utf8.Valid(b) {
		return "", domain.ErrInvalidInput.Wrap(fmt.Errorf("hook content is not text"))
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: fmt.Sprintf("%s@v%d", h.Name, from),
		ToFile:   fmt.Sprintf("%s@v%d", h.Name, to),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("failed to compute diff: %w", err)
	}
	return text, nil
}
