package executor_test

import (
	"context"
	"testing"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/executor"
	"codeberg.org/mutker/legionctl/internal/hwio"
	"codeberg.org/mutker/legionctl/internal/safety"
	"codeberg.org/mutker/legionctl/internal/sysctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) Validate(action.ResourceAction, *sysctx.SystemContext) safety.Verdict {
	return safety.Verdict{Allowed: true}
}

type rejectTarget struct {
	target action.Target
	reason string
}

func (r rejectTarget) Validate(act action.ResourceAction, _ *sysctx.SystemContext) safety.Verdict {
	if act.Target == r.target {
		return safety.Verdict{Allowed: false, Reason: r.reason}
	}
	return safety.Verdict{Allowed: true}
}

// recorder tracks apply and undo invocations across handlers.
type recorder struct {
	applied []action.Target
	undone  []action.Target
}

func (r *recorder) handler(fail bool) executor.Handler {
	return executor.HandlerFunc(func(_ context.Context, act action.ResourceAction) (executor.Undo, error) {
		if fail {
			return nil, assert.AnError
		}
		r.applied = append(r.applied, act.Target)
		target := act.Target
		return func(context.Context) error {
			r.undone = append(r.undone, target)
			return nil
		}, nil
	})
}

func baseContext() *sysctx.SystemContext {
	return &sysctx.SystemContext{
		Control: action.ControlState{
			CPUPL1W:         45,
			CPUPL2W:         115,
			GPUTGPW:         100,
			FanProfile:      action.FanProfileBalanced,
			GPUMode:         action.GPUModeHybridAuto,
			PerformanceMode: action.PerfModeBalanced,
		},
	}
}

func TestExecuteSeverityOrder(t *testing.T) {
	rec := &recorder{}
	registry := executor.NewRegistry()
	registry.Register(action.TargetFanProfile, rec.handler(false))
	registry.Register(action.TargetCPUPL2, rec.handler(false))

	exec := executor.New(registry, allowAll{})

	plan := &action.ExecutionPlan{Actions: []action.ResourceAction{
		{Severity: action.Opportunistic, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileQuiet)},
		{Severity: action.Emergency, Target: action.TargetCPUPL2, Value: action.Watts(55)},
	}}

	result := exec.Execute(context.Background(), plan, baseContext())
	require.True(t, result.Success)
	require.Equal(t, []action.Target{action.TargetCPUPL2, action.TargetFanProfile}, rec.applied,
		"Most severe action must land first")

	assert.Equal(t, 55, result.After.CPUPL2W)
	assert.Equal(t, action.FanProfileQuiet, result.After.FanProfile)
	assert.Equal(t, 115, result.Before.CPUPL2W, "Before must keep the pre-cycle state")
}

func TestExecuteCriticalFaultRollsBackWholeCycle(t *testing.T) {
	rec := &recorder{}
	registry := executor.NewRegistry()
	registry.Register(action.TargetCPUPL2, rec.handler(false))
	registry.Register(action.TargetFanProfile, rec.handler(false))
	registry.Register(action.TargetGPUTGP, rec.handler(true)) // faults

	exec := executor.New(registry, allowAll{})
	sc := baseContext()

	plan := &action.ExecutionPlan{Actions: []action.ResourceAction{
		{Severity: action.Emergency, Target: action.TargetCPUPL2, Value: action.Watts(55)},
		{Severity: action.Emergency, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileMax)},
		{Severity: action.Critical, Target: action.TargetGPUTGP, Value: action.Watts(60)},
	}}

	result := exec.Execute(context.Background(), plan, sc)

	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	assert.Empty(t, result.Executed, "A rolled-back cycle reports nothing as executed")
	require.Len(t, result.Failed, 1)
	assert.Equal(t, action.TargetGPUTGP, result.Failed[0].Action.Target)

	assert.Equal(t, result.Before, result.After, "Rollback must restore the exact pre-cycle state")
	assert.Equal(t, []action.Target{action.TargetFanProfile, action.TargetCPUPL2}, rec.undone,
		"Rollback must undo in reverse application order")
}

func TestExecuteNonCriticalFaultSkips(t *testing.T) {
	rec := &recorder{}
	registry := executor.NewRegistry()
	registry.Register(action.TargetCPUPL2, rec.handler(false))
	registry.Register(action.TargetFanProfile, rec.handler(true)) // faults

	exec := executor.New(registry, allowAll{})

	plan := &action.ExecutionPlan{Actions: []action.ResourceAction{
		{Severity: action.Proactive, Target: action.TargetCPUPL2, Value: action.Watts(105)},
		{Severity: action.Proactive, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileAggressive)},
	}}

	result := exec.Execute(context.Background(), plan, baseContext())

	assert.False(t, result.RolledBack, "A sub-critical fault must not trigger rollback")
	assert.Len(t, result.Executed, 1)
	assert.Len(t, result.Failed, 1)
	assert.False(t, result.Success, "Any fault fails the cycle")
	assert.Empty(t, rec.undone)
	assert.Equal(t, 105, result.After.CPUPL2W, "The clean action's effect survives")
}

func TestExecuteMissingHandlerFailsClosed(t *testing.T) {
	exec := executor.New(executor.NewRegistry(), allowAll{})

	plan := &action.ExecutionPlan{Actions: []action.ResourceAction{
		{Severity: action.Reactive, Target: action.TargetGPUMode, Value: action.Mode(action.GPUModeHybrid)},
	}}

	result := exec.Execute(context.Background(), plan, baseContext())

	assert.False(t, result.Success)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Reason, "no handler")
	assert.Empty(t, result.Failed, "A missing handler is a rejection, not a fault")
}

func TestExecuteValidationRejectionIsNotFatal(t *testing.T) {
	rec := &recorder{}
	registry := executor.NewRegistry()
	registry.Register(action.TargetCPUPL2, rec.handler(false))
	registry.Register(action.TargetFanProfile, rec.handler(false))

	validator := rejectTarget{target: action.TargetFanProfile, reason: "user override active"}
	exec := executor.New(registry, validator)

	plan := &action.ExecutionPlan{Actions: []action.ResourceAction{
		{Severity: action.Proactive, Target: action.TargetCPUPL2, Value: action.Watts(105)},
		{Severity: action.Proactive, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileQuiet)},
	}}

	result := exec.Execute(context.Background(), plan, baseContext())

	assert.True(t, result.Success, "Rejections alone do not fail a cycle with executed actions")
	assert.Len(t, result.Executed, 1)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "user override active", result.Rejected[0].Reason)
}

func TestExecutePanickingHandlerIsAFault(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(action.TargetCPUPL2, executor.HandlerFunc(
		func(context.Context, action.ResourceAction) (executor.Undo, error) {
			panic("register write exploded")
		}))

	exec := executor.New(registry, allowAll{})

	plan := &action.ExecutionPlan{Actions: []action.ResourceAction{
		{Severity: action.Proactive, Target: action.TargetCPUPL2, Value: action.Watts(105)},
	}}

	result := exec.Execute(context.Background(), plan, baseContext())

	require.Len(t, result.Failed, 1)
	assert.Error(t, result.Failed[0].Err)
	assert.False(t, result.RolledBack, "Nothing was applied, nothing to roll back")
}

func TestECHandlersApplyAndRollBack(t *testing.T) {
	ctx := context.Background()
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	transport.Preload(map[hwio.Register]uint8{
		regs.Fan1Target: 50,
		regs.Fan2Target: 50,
		regs.CPUPL2:     115,
	})

	registry := executor.NewRegistry()
	executor.RegisterECHandlers(registry, transport, regs,
		executor.NewNoopMux(action.GPUModeHybridAuto), executor.NewNoopBrightness(100))

	fanHandler, ok := registry.Lookup(action.TargetFanProfile)
	require.True(t, ok)

	undo, err := fanHandler.Apply(ctx, action.ResourceAction{
		Target: action.TargetFanProfile,
		Value:  action.Profile(action.FanProfileMax),
	})
	require.NoError(t, err)

	fan1, _ := transport.Read(ctx, regs.Fan1Target)
	fan2, _ := transport.Read(ctx, regs.Fan2Target)
	assert.Equal(t, uint8(100), fan1)
	assert.Equal(t, uint8(100), fan2)

	require.NoError(t, undo(ctx))
	fan1, _ = transport.Read(ctx, regs.Fan1Target)
	fan2, _ = transport.Read(ctx, regs.Fan2Target)
	assert.Equal(t, uint8(50), fan1, "Undo must restore the captured fan target")
	assert.Equal(t, uint8(50), fan2)

	wattsHandler, ok := registry.Lookup(action.TargetCPUPL2)
	require.True(t, ok)

	undo, err = wattsHandler.Apply(ctx, action.ResourceAction{
		Target: action.TargetCPUPL2,
		Value:  action.Watts(55),
	})
	require.NoError(t, err)

	pl2, _ := transport.Read(ctx, regs.CPUPL2)
	assert.Equal(t, uint8(55), pl2)

	require.NoError(t, undo(ctx))
	pl2, _ = transport.Read(ctx, regs.CPUPL2)
	assert.Equal(t, uint8(115), pl2)
}

func TestPerfModeHandlerDrivesAllModeCells(t *testing.T) {
	ctx := context.Background()
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	transport.Preload(map[hwio.Register]uint8{
		regs.PerformanceMode: 0x01, // quiet
		regs.ThermalMode:     0x01,
		regs.AIEngine:        0,
	})

	registry := executor.NewRegistry()
	executor.RegisterECHandlers(registry, transport, regs,
		executor.NewNoopMux(action.GPUModeHybridAuto), executor.NewNoopBrightness(100))

	handler, ok := registry.Lookup(action.TargetPerformanceMode)
	require.True(t, ok)

	undo, err := handler.Apply(ctx, action.ResourceAction{
		Target: action.TargetPerformanceMode,
		Value:  action.Mode(action.PerfModePerformance),
	})
	require.NoError(t, err)

	mode, _ := transport.Read(ctx, regs.PerformanceMode)
	thermal, _ := transport.Read(ctx, regs.ThermalMode)
	ai, _ := transport.Read(ctx, regs.AIEngine)
	assert.Equal(t, uint8(0x03), mode)
	assert.Equal(t, uint8(0x03), thermal, "The fan-table selector follows the mode")
	assert.Equal(t, uint8(1), ai, "Performance mode enables the AI engine")

	require.NoError(t, undo(ctx))
	mode, _ = transport.Read(ctx, regs.PerformanceMode)
	thermal, _ = transport.Read(ctx, regs.ThermalMode)
	ai, _ = transport.Read(ctx, regs.AIEngine)
	assert.Equal(t, uint8(0x01), mode)
	assert.Equal(t, uint8(0x01), thermal)
	assert.Equal(t, uint8(0), ai)
}
