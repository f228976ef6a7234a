package history

import (
	"time"

	"hookbox/internal/domain"
)

// Status is the lifecycle state of one endpoint deployment.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// DeploymentRecord is one hook installation attempt on one endpoint.
type DeploymentRecord struct {
	ID      int64  `json:"id"`
	BatchID string `json:"batch_id"`

	// HookID and HookVersionID become nil when the hook is deleted;
	// HookName and HookVersion keep what was deployed.
	HookID        *int64 `json:"hook_id"`
	HookName      string `json:"hook_name"`
	HookVersionID *int64 `json:"hook_version_id"`
	HookVersion   int    `json:"hook_version"`

	Level      domain.Level `json:"deployment_level"`
	TargetID   *string      `json:"target_id"`   // nil for server level
	TargetName *string      `json:"target_name"` // nil for server level
	GroupID    *string      `json:"group_id"`    // set when expanded from a group

	Status       Status     `json:"status"`
	ErrorMessage *string    `json:"error_message"` // only when failed
	DeployedBy   string     `json:"deployed_by"`
	DeployedAt   time.Time  `json:"deployed_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	HookID  int64
	Status  Status
	Level   domain.Level
	BatchID string
	Limit   int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)
