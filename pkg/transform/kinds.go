package transform

import "fmt"

// ActionConfig is the kind-tagged configuration from which actions are
// constructed. Exactly the fields for the configured kind are consulted.
type ActionConfig struct {
	// Kind selects the action implementation: "copy", "exec", or "archive".
	Kind string

	// Exec configures the exec action.
	Exec *ExecConfig

	// Archive configures the archive action.
	Archive *ArchiveConfig
}

// ExecConfig configures an ExecAction.
type ExecConfig struct {
	Argv []string
	Env  []string
}

// ArchiveConfig configures an ArchiveAction.
type ArchiveConfig struct {
	ArchiveName string
}

// NewAction constructs the action for the given configuration.
func NewAction(cfg ActionConfig) (Action, error) {
	switch cfg.Kind {
	case "copy":
		return &CopyAction{}, nil
	case "exec":
		if cfg.Exec == nil {
			return nil, fmt.Errorf("exec action requires an exec configuration")
		}
		return NewExecAction(cfg.Exec.Argv, cfg.Exec.Env)
	case "archive":
		var name string
		if cfg.Archive != nil {
			name = cfg.Archive.ArchiveName
		}
		return &ArchiveAction{ArchiveName: name}, nil
	default:
		return nil, fmt.Errorf("unknown transform kind: %q", cfg.Kind)
	}
}
