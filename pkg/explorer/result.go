package explorer

import (
	"time"

	"github.com/devicelab-dev/app-explorer/pkg/core"
)

// ResultKind tags the outcome of a step.
type ResultKind int

const (
	ResultContinue    ResultKind = iota // an action was issued
	ResultDone                          // terminal
	ResultInterrupted                   // the model no longer matches the device
)

// String returns the string representation of ResultKind
func (k ResultKind) String() string {
	switch k {
	case ResultContinue:
		return "continue"
	case ResultDone:
		return "done"
	case ResultInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Step.
type Result struct {
	Kind   ResultKind
	Phase  core.Phase  // phase after the step
	Action core.Action // issued action, for Continue
	Err    error       // ErrModelInconsistency for Interrupted; cause of an abnormal Done
}

// Status is a point-in-time view of an orchestrator, safe to read from
// other goroutines.
type Status struct {
	RunID     string    `json:"runId"`
	Phase     string    `json:"phase"`
	Steps     int       `json:"steps"`
	Depth     int       `json:"depth"`
	Frontier  int       `json:"frontier"`
	Visited   int       `json:"visited"`
	Restarts  int       `json:"restarts"`
	Fallback  bool      `json:"fallback"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID       string        `json:"runId"`
	Steps       int           `json:"steps"`
	States      int           `json:"states"`
	Edges       int           `json:"edges"`
	Visited     int           `json:"visited"`
	Interrupted bool          `json:"interrupted"`
	Err         error         `json:"-"`
	Duration    time.Duration `json:"duration"`
}
