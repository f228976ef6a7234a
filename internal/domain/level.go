package domain

// Level is the scope of a deployment.
type Level string

const (
	LevelServer  Level = "server"
	LevelProject Level = "project"
	LevelGroup   Level = "group"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelServer, LevelProject, LevelGroup:
		return true
	}
	return false
}
