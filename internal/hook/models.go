package hook

import (
	"time"

	"hookbox/internal/artifact"
)

// Type is the git hook a hook script is installed as.
type Type string

const (
	PreReceive  Type = "pre-receive"
	PostReceive Type = "post-receive"
	Update      Type = "update"
)

// Valid reports whether t is a supported hook type.
func (t Type) Valid() bool {
	switch t {
	case PreReceive, PostReceive, Update:
		return true
	}
	return false
}

// FileType distinguishes compiled binaries from interpreted scripts.
type FileType string

const (
	Binary FileType = "binary"
	Script FileType = "script"
)

func (f FileType) Valid() bool {
	return f == Binary || f == Script
}

// Language is the interpreter of a script hook. Empty for binaries.
type Language string

const (
	Bash   Language = "bash"
	Python Language = "python"
	Ruby   Language = "ruby"
	Perl   Language = "perl"
)

func (l Language) Valid() bool {
	switch l {
	case Bash, Python, Ruby, Perl:
		return true
	}
	return false
}

// Interpreter returns the program name used in a generated shebang.
func (l Language) Interpreter() string {
	switch l {
	case Python:
		return "python3"
	case "":
		return ""
	}
	return string(l)
}

// Hook is a named, typed hook whose content evolves through versions.
type Hook struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	HookType       Type            `json:"hook_type"`
	FileType       FileType        `json:"file_type"`
	ScriptLanguage Language        `json:"script_language,omitempty"`
	Artifact       artifact.Handle `json:"-"`
	FileName       string          `json:"file_name"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// CurrentVersion is the highest version number, 0 when none exists yet.
	CurrentVersion int `json:"current_version"`
}

// Version is an immutable snapshot of a hook's content.
type Version struct {
	ID        int64           `json:"id"`
	HookID    int64           `json:"hook_id"`
	Version   int             `json:"version"`
	Artifact  artifact.Handle `json:"-"`
	Size      int64           `json:"size"`
	SHA256    string          `json:"sha256"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateParams describes a new hook and its first upload.
type CreateParams struct {
	Name           string
	Description    string
	HookType       Type
	FileType       FileType
	ScriptLanguage Language
	FileName       string
	Content        []byte
	Actor          string
}

// UpdateParams replaces a hook's metadata. A non-nil Content uploads a new version.
type UpdateParams struct {
	Name           string
	Description    string
	HookType       Type
	FileType       FileType
	ScriptLanguage Language
	FileName       string
	Content        []byte
	Actor          string
}
