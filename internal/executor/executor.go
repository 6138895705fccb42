package executor

import (
	"context"
	"sort"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/safety"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

// Validator re-checks an action immediately before dispatch; context may
// have drifted since arbitration. Satisfied by safety.Validator.
type Validator interface {
	Validate(act action.ResourceAction, sc *sysctx.SystemContext) safety.Verdict
}

// Executor runs an arbitrated plan strictly sequentially, most severe
// first, with whole-cycle rollback when a critical-class action faults.
type Executor struct {
	registry  *Registry
	validator Validator
}

func New(registry *Registry, validator Validator) *Executor {
	return &Executor{registry: registry, validator: validator}
}

type applied struct {
	act  action.ResourceAction
	undo Undo
}

// Execute dispatches the plan against the given snapshot. Validation
// rejections are recorded and non-fatal. A handler fault on an action of
// Critical severity or above rolls back every action already applied this
// cycle, in reverse order, and aborts the rest of the plan; lesser faults
// are recorded and skipped. Cycle success requires at least one executed
// action and zero faults.
func (e *Executor) Execute(ctx context.Context, plan *action.ExecutionPlan, sc *sysctx.SystemContext) *action.ExecutionResult {
	started := time.Now()
	before := sc.Control

	result := &action.ExecutionResult{
		Before:    before,
		After:     before,
		StartedAt: started,
	}

	acts := make([]action.ResourceAction, len(plan.Actions))
	copy(acts, plan.Actions)
	sort.SliceStable(acts, func(i, j int) bool {
		return acts[i].Severity > acts[j].Severity
	})

	var stack []applied
	state := before

	for _, act := range acts {
		if verdict := e.validator.Validate(act, sc); !verdict.Allowed {
			logger.Debug().
				Str("target", act.Target.String()).
				Str("reason", verdict.Reason).
				Msg("Action rejected at execution time")
			result.Rejected = append(result.Rejected, action.RejectedAction{Action: act, Reason: verdict.Reason})
			continue
		}

		handler, ok := e.registry.Lookup(act.Target)
		if !ok {
			result.Rejected = append(result.Rejected, action.RejectedAction{
				Action: act,
				Reason: "no handler registered for " + act.Target.String(),
			})
			continue
		}

		undo, err := e.dispatch(ctx, handler, act)
		if err != nil {
			logger.Error().Err(err).
				Str("target", act.Target.String()).
				Str("severity", act.Severity.String()).
				Msg("Handler execution fault")
			result.Failed = append(result.Failed, action.FailedAction{Action: act, Err: err})

			if act.Severity >= action.Critical {
				e.rollback(ctx, stack)
				result.Executed = nil
				result.RolledBack = true
				result.After = before
				result.Duration = time.Since(started)
				return result
			}
			continue
		}

		stack = append(stack, applied{act: act, undo: undo})
		result.Executed = append(result.Executed, act)
		state = applyToState(state, act)
	}

	result.After = state
	result.Success = len(result.Executed) > 0 && len(result.Failed) == 0
	result.Duration = time.Since(started)

	return result
}

// dispatch wraps the handler call so a panicking handler surfaces as an
// execution fault instead of killing the host process.
func (e *Executor) dispatch(ctx context.Context, handler Handler, act action.ResourceAction) (undo Undo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errFromPanic(r)
			undo = nil
		}
	}()

	return handler.Apply(ctx, act)
}

// rollback undoes the applied stack in reverse order. Individual rollback
// failures are logged and do not block rolling back the rest.
func (e *Executor) rollback(ctx context.Context, stack []applied) {
	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		if entry.undo == nil {
			continue
		}
		if err := entry.undo(ctx); err != nil {
			logger.Error().Err(err).
				Str("target", entry.act.Target.String()).
				Msg("Rollback of applied action failed")
		}
	}
}

// applyToState mirrors an executed action onto the control-state copy so
// the result's After field reflects what the hardware was told.
func applyToState(state action.ControlState, act action.ResourceAction) action.ControlState {
	switch act.Target {
	case action.TargetCPUPL1:
		state.CPUPL1W = act.Value.Int
	case action.TargetCPUPL2:
		state.CPUPL2W = act.Value.Int
	case action.TargetGPUTGP:
		state.GPUTGPW = act.Value.Int
	case action.TargetFanProfile:
		state.FanProfile = act.Value.Str
	case action.TargetGPUMode:
		state.GPUMode = act.Value.Str
	case action.TargetDisplayBrightness:
		state.BrightnessPct = act.Value.Int
	case action.TargetPerformanceMode:
		state.PerformanceMode = act.Value.Str
	}

	return state
}
