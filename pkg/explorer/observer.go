package explorer

import (
	"time"

	"github.com/devicelab-dev/app-explorer/pkg/core"
)

// Recovery actions reported to observers.
const (
	RecoveryWait     = "wait"
	RecoveryLaunch   = "launch"
	RecoveryBack     = "back_outside"
	RecoveryStop     = "stop"
	RecoveryFallback = "fallback"
)

// Observer receives exploration events. Implementations must be cheap;
// they run on the exploration goroutine.
type Observer interface {
	OnStep(phase core.Phase, kind ResultKind, elapsed time.Duration)
	OnAction(action core.Action, err error)
	OnState(fingerprint string, depth int)
	OnExtraction(elapsed time.Duration, candidates int)
	OnRecovery(kind string)
}

type nopObserver struct{}

func (nopObserver) OnStep(core.Phase, ResultKind, time.Duration) {}
func (nopObserver) OnAction(core.Action, error)                  {}
func (nopObserver) OnState(string, int)                          {}
func (nopObserver) OnExtraction(time.Duration, int)              {}
func (nopObserver) OnRecovery(string)                            {}
