package core

// Phase is the exploration phase of an orchestrator.
type Phase int

const (
	PhaseBootstrapping   Phase = iota // Waiting for the app to reach the foreground
	PhaseMenuDiscovery                // Selecting the next top-level entry
	PhasePageExploration              // Depth-first traversal under one entry
	PhaseRecovering                   // App lost or unguided fallback
	PhaseDone                         // Terminal
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseMenuDiscovery:
		return "menu_discovery"
	case PhasePageExploration:
		return "page_exploration"
	case PhaseRecovering:
		return "recovering"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no further actions are taken in this phase
func (p Phase) IsTerminal() bool {
	return p == PhaseDone
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryTimeout                          // Operation timed out
	ErrCategoryConnection                       // Device/server connection lost
	ErrCategoryDevice                           // Element lookup or unsupported action on the device
	ErrCategoryApp                              // App not installed or not responding
	ErrCategoryOracle                           // Oracle transport or reply problems
	ErrCategoryConsistency                      // Screen diverged from the exploration model
	ErrCategoryConfig                           // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryOracle:
		return "oracle"
	case ErrCategoryConsistency:
		return "consistency"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
