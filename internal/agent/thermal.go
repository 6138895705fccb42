package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/forecast"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

const thermalAgentName = "thermal"

// Power trims per tier, in watts off the current turbo budget.
const proactiveTrimW = 10

// ThermalAgent runs a three-tier state machine over the forecast horizons:
// emergency cuts when the short horizon nears the throttle point, proactive
// trims on the medium horizon, opportunistic relaxation when the long
// horizon is comfortably low. An independent VRM guard escalates on raw
// VRM temperature regardless of CPU/GPU state.
type ThermalAgent struct {
	cfg        config.ThermalConfig
	limits     config.LimitsConfig
	forecaster *forecast.Engine
	history    HistoryProvider

	mu            sync.Mutex
	lastEmergency time.Time
	suppressed    map[action.Target]bool
	cyclesSeen    int
	emergencies   int
}

func NewThermalAgent(
	cfg config.ThermalConfig,
	limits config.LimitsConfig,
	forecaster *forecast.Engine,
	history HistoryProvider,
) *ThermalAgent {
	return &ThermalAgent{
		cfg:        cfg,
		limits:     limits,
		forecaster: forecaster,
		history:    history,
		suppressed: make(map[action.Target]bool),
	}
}

func (a *ThermalAgent) Name() string                  { return thermalAgentName }
func (a *ThermalAgent) Priority() action.PriorityTier { return action.TierThermal }

// SuppressTarget is wired to the override broadcast: while a surface is
// user-claimed the agent stops proposing for it.
func (a *ThermalAgent) SuppressTarget(target action.Target, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if active {
		a.suppressed[target] = true
	} else {
		delete(a.suppressed, target)
	}
}

func (a *ThermalAgent) Propose(_ context.Context, sc *sysctx.SystemContext) (*action.AgentProposal, error) {
	if sc == nil {
		return nil, nil
	}

	cpuPred := a.forecaster.Forecast(sysctx.ChannelCPU, a.history.History(sysctx.ChannelCPU))
	gpuPred := a.forecaster.Forecast(sysctx.ChannelGPU, a.history.History(sysctx.ChannelGPU))

	proposal := &action.AgentProposal{}

	// The VRM guard is independent: it fires on raw temperature even when
	// the CPU and GPU forecasts look calm.
	if acts := a.vrmGuard(sc); len(acts) > 0 {
		proposal.Actions = append(proposal.Actions, acts...)
	}

	switch {
	case cpuPred.Short >= a.cfg.CPUThrottleC-a.cfg.EmergencyMarginC:
		proposal.Actions = append(proposal.Actions, a.emergency(sc, cpuPred, gpuPred)...)
	case cpuPred.Medium >= a.cfg.CPUThrottleC-a.cfg.ProactiveMarginC:
		proposal.Actions = append(proposal.Actions, a.proactive(sc, cpuPred)...)
	case a.comfortablyCool(sc, cpuPred):
		proposal.Actions = append(proposal.Actions, a.opportunistic(sc)...)
	}

	proposal.Actions = a.filterSuppressed(proposal.Actions)

	return proposal, nil
}

// emergency cuts the turbo budget, forces maximum cooling and cuts GPU
// power if the GPU is also near its limit. Rate-limited by the cooldown so
// a sustained hot spell does not spam identical cuts.
func (a *ThermalAgent) emergency(sc *sysctx.SystemContext, cpuPred, gpuPred forecast.Prediction) []action.ResourceAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	cooldown := time.Duration(a.cfg.CooldownSec) * time.Second
	if !a.lastEmergency.IsZero() && time.Since(a.lastEmergency) < cooldown {
		return nil
	}
	a.lastEmergency = time.Now()
	a.emergencies++

	logger.Warn().
		Float64("cpu_temp", sc.Thermal.CPU).
		Float64("short_forecast", cpuPred.Short).
		Msg("Thermal emergency: cutting turbo budget and forcing max cooling")

	acts := []action.ResourceAction{
		{
			Severity: action.Emergency,
			Target:   action.TargetCPUPL2,
			Value:    action.Watts(a.limits.PL2MinW),
			Reason: fmt.Sprintf("short-horizon forecast %.1f°C within %.0f°C of throttle point",
				cpuPred.Short, a.cfg.EmergencyMarginC),
		},
		{
			Severity: action.Emergency,
			Target:   action.TargetFanProfile,
			Value:    action.Profile(action.FanProfileMax),
			Reason:   "maximum cooling during thermal emergency",
		},
	}

	if gpuPred.Short >= a.cfg.GPUThrottleC-a.cfg.ProactiveMarginC {
		acts = append(acts, action.ResourceAction{
			Severity: action.Emergency,
			Target:   action.TargetGPUTGP,
			Value:    action.Watts(a.limits.GPUTGPMinW),
			Reason:   fmt.Sprintf("GPU short-horizon forecast %.1f°C near its limit", gpuPred.Short),
		})
	}

	return acts
}

// proactive trims modestly and raises the fan curve without going maximal.
func (a *ThermalAgent) proactive(sc *sysctx.SystemContext, cpuPred forecast.Prediction) []action.ResourceAction {
	target := sc.Control.CPUPL2W - proactiveTrimW
	if target < a.limits.PL2MinW {
		target = a.limits.PL2MinW
	}

	return []action.ResourceAction{
		{
			Severity: action.Proactive,
			Target:   action.TargetCPUPL2,
			Value:    action.Watts(target),
			Reason: fmt.Sprintf("medium-horizon forecast %.1f°C within %.0f°C of throttle point",
				cpuPred.Medium, a.cfg.ProactiveMarginC),
		},
		{
			Severity: action.Proactive,
			Target:   action.TargetFanProfile,
			Value:    action.Profile(action.FanProfileAggressive),
			Reason:   "pre-empting thermal buildup",
		},
	}
}

// opportunistic relaxes toward quiet or higher performance per the
// declared intent once the long horizon is comfortably low and the trend
// stable.
func (a *ThermalAgent) opportunistic(sc *sysctx.SystemContext) []action.ResourceAction {
	switch sc.Intent {
	case sysctx.IntentQuiet, sysctx.IntentBatteryLife:
		if sc.Control.FanProfile == action.FanProfileQuiet {
			return nil
		}
		return []action.ResourceAction{{
			Severity: action.Opportunistic,
			Target:   action.TargetFanProfile,
			Value:    action.Profile(action.FanProfileQuiet),
			Reason:   "thermal headroom allows quiet profile",
		}}
	case sysctx.IntentPerformance:
		target := sc.Control.CPUPL2W + proactiveTrimW
		if target > a.limits.PL2MaxW {
			target = a.limits.PL2MaxW
		}
		if target == sc.Control.CPUPL2W {
			return nil
		}
		return []action.ResourceAction{{
			Severity: action.Opportunistic,
			Target:   action.TargetCPUPL2,
			Value:    action.Watts(target),
			Reason:   "thermal headroom allows restoring turbo budget",
		}}
	default:
		return nil
	}
}

// vrmGuard escalates purely on VRM temperature.
func (a *ThermalAgent) vrmGuard(sc *sysctx.SystemContext) []action.ResourceAction {
	vrm := sc.Thermal.VRM

	switch {
	case vrm >= a.cfg.VRMEmergencyC:
		return []action.ResourceAction{
			{
				Severity: action.Emergency,
				Target:   action.TargetCPUPL1,
				Value:    action.Watts(a.limits.PL1MinW),
				Reason:   fmt.Sprintf("VRM at %.1f°C, above emergency threshold", vrm),
			},
			{
				Severity: action.Emergency,
				Target:   action.TargetFanProfile,
				Value:    action.Profile(action.FanProfileMax),
				Reason:   "maximum cooling for VRM emergency",
			},
		}
	case vrm >= a.cfg.VRMProactiveC:
		target := sc.Control.CPUPL1W - proactiveTrimW/2
		if target < a.limits.PL1MinW {
			target = a.limits.PL1MinW
		}
		return []action.ResourceAction{{
			Severity: action.Proactive,
			Target:   action.TargetCPUPL1,
			Value:    action.Watts(target),
			Reason:   fmt.Sprintf("VRM at %.1f°C, above proactive threshold", vrm),
		}}
	default:
		return nil
	}
}

func (a *ThermalAgent) comfortablyCool(sc *sysctx.SystemContext, cpuPred forecast.Prediction) bool {
	return cpuPred.Long <= a.cfg.CPUThrottleC-2*a.cfg.ProactiveMarginC &&
		sc.Thermal.CPUTrend == sysctx.TrendStable
}

func (a *ThermalAgent) filterSuppressed(acts []action.ResourceAction) []action.ResourceAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.suppressed) == 0 {
		return acts
	}

	kept := acts[:0]
	for _, act := range acts {
		if !a.suppressed[act.Target] {
			kept = append(kept, act)
		}
	}

	return kept
}

// OnOutcome tracks cycle statistics. Best-effort: any fault stays inside.
func (a *ThermalAgent) OnOutcome(result *action.ExecutionResult) {
	defer func() { _ = recover() }()

	if result == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cyclesSeen++

	// A rolled-back emergency means the cut never landed; allow an
	// immediate retry instead of sitting out the cooldown.
	if result.RolledBack && a.ownEmergencyIn(result.Failed) {
		a.lastEmergency = time.Time{}
	}
}

func (a *ThermalAgent) ownEmergencyIn(failed []action.FailedAction) bool {
	for _, f := range failed {
		if f.Action.Agent == thermalAgentName && f.Action.Severity == action.Emergency {
			return true
		}
	}

	return false
}
