package explorer

import (
	"context"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// recover handles a step where the app is not in the foreground. fg is
// the foreground depth: negative when the app is not running, positive
// when it is in the background.
func (o *Orchestrator) recover(ctx context.Context, fg int) Result {
	if o.phase != core.PhaseBootstrapping && o.phase != core.PhaseRecovering {
		o.resumePhase = o.phase
		o.phase = core.PhaseRecovering
	}
	// Whatever led here, its destination is outside the model.
	o.pending = nil
	o.arrival = nil
	o.expectBack = ""

	if fg > 0 {
		o.outside++
		if o.outside > o.cfg.MaxStepsOutside {
			o.outside = 0
			o.logger.Info("Too long outside the app, stopping it", zap.String("app", o.cfg.App))
			o.observer.OnRecovery(RecoveryStop)
			o.trace.push(flagStop)
			return o.executeRecovery(ctx, o.device.StopIntent(o.cfg.App))
		}
		o.observer.OnRecovery(RecoveryBack)
		return o.executeRecovery(ctx, core.Back())
	}

	if o.trace.last() == flagStart && o.waits < o.cfg.LaunchWaitSteps {
		o.waits++
		o.logger.Debug("App not in the foreground yet, waiting", zap.Int("wait", o.waits))
		o.observer.OnRecovery(RecoveryWait)
		return o.executeRecovery(ctx, core.Manual())
	}
	o.waits = 0

	if o.trace.endsWith(flagStart) || o.trace.endsWith(flagStart, flagStop) {
		o.restarts++ // crashed after starting
	} else {
		o.restarts = 0 // never started, or ran for a while
	}
	if o.restarts > o.cfg.MaxRestarts {
		o.fallback = true
		o.phase = core.PhaseRecovering
		o.logger.Warn("Restart ceiling reached, switching to unguided exploration",
			zap.Int("restarts", o.restarts-1),
		)
		o.observer.OnRecovery(RecoveryFallback)
		return o.randomStep(ctx)
	}

	o.logger.Info("Launching app", zap.String("app", o.cfg.App), zap.Int("restarts", o.restarts))
	o.observer.OnRecovery(RecoveryLaunch)
	o.trace.push(flagStart)
	o.relaunched = true
	return o.executeRecovery(ctx, o.device.LaunchIntent(o.cfg.App))
}

// randomStep taps a uniformly chosen interactive element of the current
// screen, or presses back when there is none. It never fails the run.
func (o *Orchestrator) randomStep(ctx context.Context) Result {
	o.phase = core.PhaseRecovering

	action := core.Back()
	fp := ""
	tree, err := o.capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return o.done(ctx.Err())
		}
		o.logger.Warn("Capture failed in unguided mode", zap.Error(err))
	} else {
		fp = o.fingerprint(tree)
		o.recordPending(fp)
		if targets := actionable(tree); len(targets) > 0 {
			action = core.Tap(targets[o.rng.Intn(len(targets))].Signature)
		}
	}

	err = o.device.Execute(ctx, action)
	o.observer.OnAction(action, err)
	if err != nil {
		if ctx.Err() != nil {
			return o.done(ctx.Err())
		}
		o.logger.Debug("Unguided action failed", zap.String("action", action.String()), zap.Error(err))
		return Result{Kind: ResultContinue, Action: action}
	}
	if fp != "" {
		o.pending = &issued{from: fp, action: action}
	}
	if err := o.sleep(ctx, o.cfg.SettleDelay); err != nil {
		return o.done(err)
	}
	return Result{Kind: ResultContinue, Action: action}
}

func actionable(tree *view.Tree) []view.Element {
	var out []view.Element
	for _, e := range tree.Elements(-1) {
		if e.Actionable() {
			out = append(out, e)
		}
	}
	return out
}
