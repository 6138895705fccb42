package safety

import (
	"fmt"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

// Verdict is the outcome of validating one action. A rejection is an
// expected result, not an error.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// UncertaintyProvider exposes the forecast engine's per-channel error
// estimate. Under high uncertainty the thermal safety margins tighten by
// two standard deviations.
type UncertaintyProvider interface {
	Margin(ch sysctx.Channel) (sigma float64, ok bool)
}

type noUncertainty struct{}

func (noUncertainty) Margin(_ sysctx.Channel) (float64, bool) { return 0, false }

// Validator is the stateless per-action rule engine. All hardware bounds
// come from configuration loaded once at startup; the validator itself
// holds no mutable state beyond the override table reference.
type Validator struct {
	limits      config.LimitsConfig
	thermal     config.ThermalConfig
	overrides   *OverrideTable
	uncertainty UncertaintyProvider
}

func NewValidator(
	limits config.LimitsConfig,
	thermal config.ThermalConfig,
	overrides *OverrideTable,
	uncertainty UncertaintyProvider,
) *Validator {
	if overrides == nil {
		overrides = NewOverrideTable()
	}
	if uncertainty == nil {
		uncertainty = noUncertainty{}
	}

	return &Validator{
		limits:      limits,
		thermal:     thermal,
		overrides:   overrides,
		uncertainty: uncertainty,
	}
}

// Overrides exposes the validator's override table.
func (v *Validator) Overrides() *OverrideTable {
	return v.overrides
}

// Validate applies the absolute and context-conditioned rules to a single
// action. Unknown targets are rejected: the surface set is closed and
// anything outside it fails closed.
func (v *Validator) Validate(act action.ResourceAction, sc *sysctx.SystemContext) Verdict {
	if o, active := v.overrides.Active(act.Target); active {
		return reject("user override active on %s since %s", act.Target, o.Since.Format("15:04:05"))
	}

	if sc == nil {
		return reject("no system context available")
	}

	switch act.Target {
	case action.TargetCPUPL1:
		return v.validateCPUPower(act, sc, v.limits.PL1MinW, v.limits.PL1MaxW, sc.Control.CPUPL1W)
	case action.TargetCPUPL2:
		return v.validateCPUPower(act, sc, v.limits.PL2MinW, v.limits.PL2MaxW, sc.Control.CPUPL2W)
	case action.TargetGPUTGP:
		return v.validateGPUPower(act, sc)
	case action.TargetFanProfile:
		return validateFanProfile(act)
	case action.TargetGPUMode:
		return validateGPUMode(act)
	case action.TargetDisplayBrightness:
		return v.validateBrightness(act)
	case action.TargetPerformanceMode:
		return validatePerformanceMode(act)
	default:
		return reject("unknown target %q", act.Target)
	}
}

func (v *Validator) validateCPUPower(act action.ResourceAction, sc *sysctx.SystemContext, minW, maxW, currentW int) Verdict {
	if act.Value.Kind != action.ValueWatts {
		return reject("%s requires a watts value", act.Target)
	}

	w := act.Value.Int
	if w < minW || w > maxW {
		return reject("%s value %dW outside hardware bounds [%d, %d]", act.Target, w, minW, maxW)
	}

	if w > currentW && v.zoneNearLimit(sc.Thermal.CPU, v.thermal.CPUThrottleC, sysctx.ChannelCPU) {
		return reject("%s increase rejected: CPU at %.1f°C within margin of throttle point", act.Target, sc.Thermal.CPU)
	}

	if w > currentW && sc.Thermal.VRM >= v.thermal.VRMProactiveC {
		return reject("%s increase rejected: VRM already at %.1f°C", act.Target, sc.Thermal.VRM)
	}

	return allow()
}

func (v *Validator) validateGPUPower(act action.ResourceAction, sc *sysctx.SystemContext) Verdict {
	if act.Value.Kind != action.ValueWatts {
		return reject("%s requires a watts value", act.Target)
	}

	w := act.Value.Int
	if w < v.limits.GPUTGPMinW || w > v.limits.GPUTGPMaxW {
		return reject("%s value %dW outside hardware bounds [%d, %d]",
			act.Target, w, v.limits.GPUTGPMinW, v.limits.GPUTGPMaxW)
	}

	increase := w > sc.Control.GPUTGPW
	if increase {
		if !sc.Power.OnAC {
			return reject("GPU power increase rejected on battery")
		}
		if sc.Thermal.GPU > v.limits.GPUBoostTempGateC {
			return reject("GPU power increase rejected: GPU at %.1f°C above %.0f°C gate",
				sc.Thermal.GPU, v.limits.GPUBoostTempGateC)
		}
		if v.zoneNearLimit(sc.Thermal.GPU, v.thermal.GPUThrottleC, sysctx.ChannelGPU) {
			return reject("GPU power increase rejected: GPU within margin of throttle point")
		}
		if sc.Thermal.VRM >= v.thermal.VRMProactiveC {
			return reject("GPU power increase rejected: VRM already at %.1f°C", sc.Thermal.VRM)
		}
	}

	return allow()
}

func (v *Validator) validateBrightness(act action.ResourceAction) Verdict {
	if act.Value.Kind != action.ValuePercent {
		return reject("%s requires a percent value", act.Target)
	}

	p := act.Value.Int
	if p < v.limits.BrightnessMin || p > v.limits.BrightnessMax {
		return reject("brightness %d%% outside bounds [%d, %d]",
			p, v.limits.BrightnessMin, v.limits.BrightnessMax)
	}

	return allow()
}

func validateFanProfile(act action.ResourceAction) Verdict {
	if act.Value.Kind != action.ValueProfile {
		return reject("%s requires a profile value", act.Target)
	}

	switch act.Value.Str {
	case action.FanProfileQuiet, action.FanProfileBalanced, action.FanProfileAggressive, action.FanProfileMax:
		return allow()
	default:
		return reject("unknown fan profile %q", act.Value.Str)
	}
}

func validateGPUMode(act action.ResourceAction) Verdict {
	if act.Value.Kind != action.ValueMode {
		return reject("%s requires a mode value", act.Target)
	}

	switch act.Value.Str {
	case action.GPUModeDedicated, action.GPUModeIntegrated, action.GPUModeHybrid, action.GPUModeHybridAuto:
		return allow()
	default:
		return reject("unknown GPU mode %q", act.Value.Str)
	}
}

func validatePerformanceMode(act action.ResourceAction) Verdict {
	if act.Value.Kind != action.ValueMode {
		return reject("%s requires a mode value", act.Target)
	}

	switch act.Value.Str {
	case action.PerfModeQuiet, action.PerfModeBalanced, action.PerfModePerformance, action.PerfModeCustom:
		return allow()
	default:
		return reject("unknown performance mode %q", act.Value.Str)
	}
}

// zoneNearLimit reports whether a zone sits inside the no-increase margin
// of its throttle point. The margin widens by 2σ of forecast error when the
// model is uncertain.
func (v *Validator) zoneNearLimit(tempC, throttleC float64, ch sysctx.Channel) bool {
	margin := v.limits.HotZoneMarginC
	if sigma, ok := v.uncertainty.Margin(ch); ok {
		margin += 2 * sigma
	}

	return tempC >= throttleC-margin
}

// ValidatePlan rejects arbitrated plans with incoherent cross-target
// effects. A rejected plan skips the whole cycle with no side effects.
func (v *Validator) ValidatePlan(plan *action.ExecutionPlan, sc *sysctx.SystemContext) Verdict {
	if plan == nil || sc == nil {
		return reject("no plan or context to validate")
	}

	hasEmergency := false
	raisesPower := false
	pl2 := sc.Control.CPUPL2W
	tgp := sc.Control.GPUTGPW

	for _, act := range plan.Actions {
		if act.Severity == action.Emergency {
			hasEmergency = true
		}

		switch act.Target {
		case action.TargetCPUPL1:
			if act.Value.Int > sc.Control.CPUPL1W {
				raisesPower = true
			}
		case action.TargetCPUPL2:
			if act.Value.Int > sc.Control.CPUPL2W {
				raisesPower = true
			}
			pl2 = act.Value.Int
		case action.TargetGPUTGP:
			if act.Value.Int > sc.Control.GPUTGPW {
				raisesPower = true
			}
			tgp = act.Value.Int
		}
	}

	if hasEmergency && raisesPower {
		return reject("plan raises a power budget while an emergency action is present")
	}

	if pl2+tgp > v.limits.PlatformEnvelopeW {
		return reject("combined power targets %dW exceed platform envelope %dW",
			pl2+tgp, v.limits.PlatformEnvelopeW)
	}

	return allow()
}
