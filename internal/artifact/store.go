// Package artifact stores hook executables by content hash.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// Handle identifies a stored artifact. It is the hex sha256 of the content,
// so storing the same bytes twice yields the same handle.
type Handle string

var handlePattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Valid reports whether h looks like a content hash.
func (h Handle) Valid() bool {
	return handlePattern.MatchString(string(h))
}

func (h Handle) String() string {
	return string(h)
}

// HandleFor computes the handle the store will assign to data.
func HandleFor(data []byte) Handle {
	sum := sha256.Sum256(data)
	return Handle(hex.EncodeToString(sum[:]))
}

// Store persists hook artifacts. Implementations must be safe for concurrent use.
type Store interface {
	Store(ctx context.Context, data []byte) (Handle, error)
	Retrieve(ctx context.Context, h Handle) ([]byte, error)
	DeleteAll(ctx context.Context, handles []Handle) error
	Close() error
}
