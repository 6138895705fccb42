package action

import "time"

// Severity ranks how urgently an action must land. Higher values win
// arbitration and execute first.
type Severity int

const (
	Opportunistic Severity = iota
	Reactive
	Proactive
	Critical
	Emergency
)

func (s Severity) String() string {
	switch s {
	case Emergency:
		return "emergency"
	case Critical:
		return "critical"
	case Proactive:
		return "proactive"
	case Reactive:
		return "reactive"
	case Opportunistic:
		return "opportunistic"
	default:
		return "unknown"
	}
}

// Target names a control surface. The set is closed: the safety validator
// rejects anything it does not know, and the executor dispatches through a
// registry keyed by Target.
type Target int

const (
	TargetUnknown Target = iota
	TargetCPUPL1
	TargetCPUPL2
	TargetGPUTGP
	TargetFanProfile
	TargetGPUMode
	TargetDisplayBrightness
	TargetPerformanceMode
)

func (t Target) String() string {
	switch t {
	case TargetCPUPL1:
		return "CPU_PL1"
	case TargetCPUPL2:
		return "CPU_PL2"
	case TargetGPUTGP:
		return "GPU_TGP"
	case TargetFanProfile:
		return "FAN_PROFILE"
	case TargetGPUMode:
		return "GPU_MODE"
	case TargetDisplayBrightness:
		return "DISPLAY_BRIGHTNESS"
	case TargetPerformanceMode:
		return "PERFORMANCE_MODE"
	default:
		return "UNKNOWN"
	}
}

// Targets returns every known control surface.
func Targets() []Target {
	return []Target{
		TargetCPUPL1,
		TargetCPUPL2,
		TargetGPUTGP,
		TargetFanProfile,
		TargetGPUMode,
		TargetDisplayBrightness,
		TargetPerformanceMode,
	}
}

// ValueKind tags the payload carried by a Value.
type ValueKind int

const (
	ValueWatts ValueKind = iota
	ValuePercent
	ValueMode
	ValueProfile
)

// Value is the typed payload of a ResourceAction.
type Value struct {
	Kind ValueKind
	Int  int
	Str  string
}

func Watts(w int) Value   { return Value{Kind: ValueWatts, Int: w} }
func Percent(p int) Value { return Value{Kind: ValuePercent, Int: p} }
func Mode(m string) Value { return Value{Kind: ValueMode, Str: m} }
func Profile(p string) Value {
	return Value{Kind: ValueProfile, Str: p}
}

// GPU mux modes.
const (
	GPUModeDedicated  = "dedicated"
	GPUModeIntegrated = "integrated"
	GPUModeHybrid     = "hybrid"
	GPUModeHybridAuto = "hybrid-auto"
)

// Fan profiles, quietest first.
const (
	FanProfileQuiet      = "quiet"
	FanProfileBalanced   = "balanced"
	FanProfileAggressive = "aggressive"
	FanProfileMax        = "max"
)

// Performance modes.
const (
	PerfModeQuiet       = "quiet"
	PerfModeBalanced    = "balanced"
	PerfModePerformance = "performance"
	PerfModeCustom      = "custom"
)

// PriorityTier is an agent's static arbitration tie-break rank. It never
// guarantees execution, only ordering between equally severe proposals.
type PriorityTier int

const (
	TierExperience PriorityTier = 40
	TierPower      PriorityTier = 60
	TierThermal    PriorityTier = 80
	TierSafety     PriorityTier = 100
)

// ResourceAction is one requested change to one control surface.
type ResourceAction struct {
	Severity          Severity
	Target            Target
	Value             Value
	Reason            string
	AffectedProcesses []string
	Agent             string       // filled in by the proposal collector
	Priority          PriorityTier // copied from the proposing agent
}

// AgentProposal is one agent's per-cycle output. Ephemeral: it lives only
// until arbitration.
type AgentProposal struct {
	Agent    string
	Priority PriorityTier
	Actions  []ResourceAction
}

// Conflict records an arbitration loss.
type Conflict struct {
	Target Target
	Winner ResourceAction
	Losers []ResourceAction
	Reason string
}

// ExecutionPlan is the arbitrated, to-be-validated action set for one cycle.
type ExecutionPlan struct {
	Actions   []ResourceAction
	Conflicts []Conflict
	CreatedAt time.Time
}

// ControlState is the core-controlled slice of the system context: the
// settings this controller owns and must restore exactly on rollback.
type ControlState struct {
	CPUPL1W         int
	CPUPL2W         int
	GPUTGPW         int
	FanProfile      string
	GPUMode         string
	BrightnessPct   int
	PerformanceMode string
}

// RejectedAction is a validation rejection: an expected outcome, not a
// failure.
type RejectedAction struct {
	Action ResourceAction
	Reason string
}

// FailedAction is a handler execution fault.
type FailedAction struct {
	Action ResourceAction
	Err    error
}

// ExecutionResult is the cycle outcome fed back to every agent.
type ExecutionResult struct {
	Success    bool
	Executed   []ResourceAction
	Rejected   []RejectedAction
	Failed     []FailedAction
	RolledBack bool
	Before     ControlState
	After      ControlState
	StartedAt  time.Time
	Duration   time.Duration
}
