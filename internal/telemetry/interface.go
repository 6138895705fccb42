package telemetry

import (
	"context"
	"time"
)

// Tracer is the write-only decision trace. Every decision point in the
// control loop records component, decision, inputs and outcome; nothing in
// the core ever reads the trace back.
type Tracer interface {
	TraceDecision(ctx context.Context, event *DecisionEvent) error
	RecordCycle(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

// DecisionEvent is one structured decision-point record.
type DecisionEvent struct {
	Timestamp time.Time
	Cycle     uint64
	Component string
	Decision  string
	Inputs    string // JSON-encoded inputs
	Outcome   string
}

// CycleSnapshot summarizes one control cycle.
type CycleSnapshot struct {
	Timestamp   time.Time
	Cycle       uint64
	CPUTempC    float64
	GPUTempC    float64
	VRMTempC    float64
	OnAC        bool
	BatteryPct  int
	Workload    string
	Proposals   int
	Conflicts   int
	Executed    int
	Rejected    int
	Failed      int
	RolledBack  bool
	Success     bool
	DurationMs  int64
	SkipReason  string
}
