package agent

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

const gpuModeAgentName = "gpumode"

// Above this discharge rate the dedicated GPU is the main battery drain
// and hybrid routing pays for itself.
const heavyDischargeW = 25.0

// Confidence floor for the predictive path when the predicted app has no
// strong GPU need; scaled down as the need grows.
const (
	predictBaseThreshold = 0.85
	predictNeedDiscount  = 0.35
)

// GPUModeAgent chooses the graphics mux mode through a strict precedence
// chain. Earlier rules always win; the external-display constraint is
// applied to whatever any later rule picks, never the other way around.
type GPUModeAgent struct {
	cfg    config.ThermalConfig
	limits config.LimitsConfig
	prefs  PreferenceStore
	launch LaunchSignal

	mu           sync.Mutex
	suppressed   map[action.Target]bool
	lastWorkload string
}

func NewGPUModeAgent(
	cfg config.ThermalConfig,
	limits config.LimitsConfig,
	prefs PreferenceStore,
	launch LaunchSignal,
) *GPUModeAgent {
	if prefs == nil {
		prefs = NoopPreferences{}
	}
	if launch == nil {
		launch = NoopLaunchSignal{}
	}

	return &GPUModeAgent{
		cfg:        cfg,
		limits:     limits,
		prefs:      prefs,
		launch:     launch,
		suppressed: make(map[action.Target]bool),
	}
}

func (a *GPUModeAgent) Name() string                  { return gpuModeAgentName }
func (a *GPUModeAgent) Priority() action.PriorityTier { return action.TierPower }

// SuppressTarget is wired to the override broadcast.
func (a *GPUModeAgent) SuppressTarget(target action.Target, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if active {
		a.suppressed[target] = true
	} else {
		delete(a.suppressed, target)
	}
}

func (a *GPUModeAgent) Propose(_ context.Context, sc *sysctx.SystemContext) (*action.AgentProposal, error) {
	if sc == nil {
		return nil, nil
	}

	a.mu.Lock()
	suppressed := a.suppressed[action.TargetGPUMode]
	a.mu.Unlock()
	if suppressed {
		return nil, nil
	}

	mode, severity, reason := a.choose(sc)
	if mode == "" || mode == sc.Control.GPUMode {
		return nil, nil
	}

	a.mu.Lock()
	a.lastWorkload = sc.Workload.Label
	a.mu.Unlock()

	return &action.AgentProposal{
		Actions: []action.ResourceAction{{
			Severity: severity,
			Target:   action.TargetGPUMode,
			Value:    action.Mode(mode),
			Reason:   reason,
		}},
	}, nil
}

// choose walks the precedence chain and returns the winning candidate.
// The external-display constraint is enforced at the end on whatever was
// picked, so no rule can ever force integrated-only graphics while a
// display hangs off the dedicated GPU.
func (a *GPUModeAgent) choose(sc *sysctx.SystemContext) (mode string, severity action.Severity, reason string) {
	mode, severity, reason = a.candidate(sc)

	if mode == action.GPUModeIntegrated && sc.GPU.ExternalDisplay {
		mode = action.GPUModeHybrid
		reason += "; external display on dedicated GPU forbids integrated-only"
	}

	return mode, severity, reason
}

func (a *GPUModeAgent) candidate(sc *sysctx.SystemContext) (string, action.Severity, string) {
	// Predictive pre-empt: a confident launch signal for a GPU-hungry app
	// short-circuits the policy chain.
	if app, mode, need, confidence, ok := a.launch.Pending(); ok {
		threshold := predictBaseThreshold - predictNeedDiscount*need
		if confidence >= threshold {
			logger.Debug().
				Str("app", app).
				Str("mode", mode).
				Float64("confidence", confidence).
				Msg("Predictive GPU mode switch ahead of app launch")
			return mode, action.Proactive, fmt.Sprintf("predicted launch of %s (confidence %.2f)", app, confidence)
		}
	}

	// Thermal-critical: shift load off the overheating dedicated GPU.
	if sc.Thermal.GPU >= a.cfg.GPUThrottleC-a.cfg.EmergencyMarginC {
		return action.GPUModeIntegrated, action.Critical,
			fmt.Sprintf("GPU at %.1f°C, near throttle point", sc.Thermal.GPU)
	}

	// Workload preference: media and conferencing run fine on the
	// integrated GPU when nothing is thermally wrong.
	switch sc.Workload.Label {
	case sysctx.WorkloadMedia, sysctx.WorkloadConferencing:
		return action.GPUModeIntegrated, action.Reactive,
			fmt.Sprintf("%s workload prefers integrated graphics", sc.Workload.Label)
	}

	// Battery-critical: every watt counts.
	if !sc.Power.OnAC && sc.Battery.Percent <= a.limits.BatteryCriticalPc {
		return action.GPUModeIntegrated, action.Critical,
			fmt.Sprintf("battery at %d%%, below critical threshold", sc.Battery.Percent)
	}

	// Discharge-rate aware: heavy drain on battery favors hybrid routing.
	if !sc.Power.OnAC && sc.Power.DischargeRateW > heavyDischargeW {
		return action.GPUModeHybrid, action.Reactive,
			fmt.Sprintf("discharging at %.0fW", sc.Power.DischargeRateW)
	}

	// Learned preference for the current workload, if any.
	if mode, confidence, ok := a.prefs.GPUModeFor(sc.Workload.Label); ok && confidence >= 0.7 {
		return mode, action.Opportunistic,
			fmt.Sprintf("learned preference for %s workload (confidence %.2f)", sc.Workload.Label, confidence)
	}

	// General AC/battery + intent policy.
	if sc.Power.OnAC {
		if sc.Intent == sysctx.IntentPerformance || sc.Workload.Label == sysctx.WorkloadGaming {
			return action.GPUModeDedicated, action.Opportunistic, "performance intent on wall power"
		}
		return action.GPUModeHybridAuto, action.Opportunistic, "balanced policy on wall power"
	}

	return action.GPUModeHybridAuto, action.Opportunistic, "balanced policy on battery"
}

// OnOutcome records whether an executed mode switch stuck so the learned
// preference table improves over time. Best-effort.
func (a *GPUModeAgent) OnOutcome(result *action.ExecutionResult) {
	defer func() { _ = recover() }()

	if result == nil {
		return
	}

	a.mu.Lock()
	workload := a.lastWorkload
	a.mu.Unlock()

	for _, act := range result.Executed {
		if act.Agent == gpuModeAgentName && act.Target == action.TargetGPUMode {
			a.prefs.RecordOutcome(workload, act.Value.Str, result.Success)
		}
	}
}
