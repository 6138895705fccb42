package agent

import (
	"context"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

// Agent is an independent decision unit. Propose must not block on hardware
// or mutate shared state; OnOutcome is best-effort and must never let a
// fault escape.
type Agent interface {
	Name() string
	Priority() action.PriorityTier

	// Propose returns zero or more prioritized actions for this cycle.
	Propose(ctx context.Context, sc *sysctx.SystemContext) (*action.AgentProposal, error)

	// OnOutcome feeds the cycle result back into the agent's learning
	// state.
	OnOutcome(result *action.ExecutionResult)
}

// HistoryProvider supplies per-channel telemetry history to agents that
// forecast. Satisfied by sysctx.Store.
type HistoryProvider interface {
	History(ch sysctx.Channel) []sysctx.Sample
}

// PreferenceStore is the learned per-workload GPU mode preference table.
// Optional capability: wire NoopPreferences when learning is disabled.
type PreferenceStore interface {
	GPUModeFor(workload string) (mode string, confidence float64, ok bool)
	RecordOutcome(workload, mode string, success bool)
}

// NoopPreferences remembers nothing and recommends nothing.
type NoopPreferences struct{}

func (NoopPreferences) GPUModeFor(_ string) (string, float64, bool) { return "", 0, false }
func (NoopPreferences) RecordOutcome(_, _ string, _ bool)           {}

// LaunchSignal reports a predicted application launch. Optional capability
// backing the GPU-mode agent's predictive path.
type LaunchSignal interface {
	// Pending returns the predicted app, the GPU mode it wants, how
	// strongly it needs that mode in [0, 1], and the prediction
	// confidence in [0, 1].
	Pending() (app, mode string, need, confidence float64, ok bool)
}

// NoopLaunchSignal never predicts anything.
type NoopLaunchSignal struct{}

func (NoopLaunchSignal) Pending() (string, string, float64, float64, bool) {
	return "", "", 0, 0, false
}
