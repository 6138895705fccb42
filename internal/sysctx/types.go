package sysctx

import (
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
)

// Trend classifies the recent direction of a thermal channel.
type Trend int

const (
	TrendUnknown Trend = iota
	TrendStable
	TrendRising
	TrendRisingRapidly
	TrendCooling
)

func (t Trend) String() string {
	switch t {
	case TrendStable:
		return "stable"
	case TrendRising:
		return "rising"
	case TrendRisingRapidly:
		return "rising_rapidly"
	case TrendCooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// Channel identifies a thermal telemetry stream.
type Channel int

const (
	ChannelCPU Channel = iota
	ChannelGPU
	ChannelVRM
)

func (c Channel) String() string {
	switch c {
	case ChannelCPU:
		return "cpu"
	case ChannelGPU:
		return "gpu"
	case ChannelVRM:
		return "vrm"
	default:
		return "unknown"
	}
}

// Sample is one timestamped telemetry reading.
type Sample struct {
	At    time.Time
	Value float64
}

// ThermalState holds per-zone temperatures in °C, fan duty in percent and
// classified trends.
type ThermalState struct {
	CPU        float64
	GPU        float64
	GPUHotspot float64
	VRM        float64
	SSD        float64

	Fan1Duty float64
	Fan2Duty float64

	CPUTrend Trend
	GPUTrend Trend
	VRMTrend Trend
}

// PowerState holds the platform power picture.
type PowerState struct {
	OnAC           bool
	DischargeRateW float64
}

// GPUState holds dedicated-GPU telemetry.
type GPUState struct {
	PowerDrawW      float64
	UtilizationPct  float64
	ExternalDisplay bool
}

// BatteryState holds charge state.
type BatteryState struct {
	Percent  int
	Charging bool
}

// MemoryState holds memory pressure.
type MemoryState struct {
	UsedPercent float64
}

// Workload is the externally classified activity label.
type Workload struct {
	Label      string
	Confidence float64
}

// Workload labels the classifier may emit.
const (
	WorkloadUnknown      = "unknown"
	WorkloadGaming       = "gaming"
	WorkloadMedia        = "media"
	WorkloadConferencing = "conferencing"
	WorkloadProductivity = "productivity"
	WorkloadCompile      = "compile"
)

// Intent is the inferred user preference for this session.
type Intent int

const (
	IntentBalanced Intent = iota
	IntentQuiet
	IntentPerformance
	IntentBatteryLife
)

func (i Intent) String() string {
	switch i {
	case IntentQuiet:
		return "quiet"
	case IntentPerformance:
		return "performance"
	case IntentBatteryLife:
		return "battery_life"
	default:
		return "balanced"
	}
}

// SystemContext is the immutable per-cycle snapshot every decision reads.
// Created once per cycle by the Store; never mutated afterwards.
type SystemContext struct {
	Timestamp time.Time
	Thermal   ThermalState
	Power     PowerState
	GPU       GPUState
	Battery   BatteryState
	Memory    MemoryState
	Control   action.ControlState
	Workload  Workload
	Intent    Intent
}

// Classifier labels the current workload. The heuristics are external; the
// store only consumes the result.
type Classifier interface {
	Classify(sc *SystemContext) (label string, confidence float64)
}

// NoopClassifier is the composition-time default when no classifier is wired.
type NoopClassifier struct{}

func (NoopClassifier) Classify(_ *SystemContext) (string, float64) {
	return WorkloadUnknown, 0
}
