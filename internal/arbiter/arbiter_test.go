package arbiter_test

import (
	"testing"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/arbiter"
	"codeberg.org/mutker/legionctl/internal/safety"
	"codeberg.org/mutker/legionctl/internal/sysctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) ValidatePlan(*action.ExecutionPlan, *sysctx.SystemContext) safety.Verdict {
	return safety.Verdict{Allowed: true}
}

type rejectAll struct{ reason string }

func (r rejectAll) ValidatePlan(*action.ExecutionPlan, *sysctx.SystemContext) safety.Verdict {
	return safety.Verdict{Allowed: false, Reason: r.reason}
}

func proposal(agentName string, tier action.PriorityTier, acts ...action.ResourceAction) *action.AgentProposal {
	for i := range acts {
		acts[i].Agent = agentName
		acts[i].Priority = tier
	}
	return &action.AgentProposal{Agent: agentName, Priority: tier, Actions: acts}
}

func TestArbitrateSeverityWins(t *testing.T) {
	eng := arbiter.New(allowAll{})

	proposals := []*action.AgentProposal{
		proposal("power", action.TierPower,
			action.ResourceAction{Severity: action.Opportunistic, Target: action.TargetCPUPL2, Value: action.Watts(140)}),
		proposal("thermal", action.TierThermal,
			action.ResourceAction{Severity: action.Emergency, Target: action.TargetCPUPL2, Value: action.Watts(55)}),
	}

	plan, skip := eng.Arbitrate(proposals, &sysctx.SystemContext{})
	require.Empty(t, skip)
	require.Len(t, plan.Actions, 1)

	winner := plan.Actions[0]
	assert.Equal(t, "thermal", winner.Agent)
	assert.Equal(t, action.Emergency, winner.Severity)
	assert.Equal(t, 55, winner.Value.Int)
}

func TestArbitratePriorityBreaksTies(t *testing.T) {
	eng := arbiter.New(allowAll{})

	proposals := []*action.AgentProposal{
		proposal("experience", action.TierExperience,
			action.ResourceAction{Severity: action.Proactive, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileQuiet)}),
		proposal("thermal", action.TierThermal,
			action.ResourceAction{Severity: action.Proactive, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileAggressive)}),
	}

	plan, skip := eng.Arbitrate(proposals, &sysctx.SystemContext{})
	require.Empty(t, skip)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "thermal", plan.Actions[0].Agent, "Higher priority tier must break severity ties")
}

func TestArbitrateCollectionOrderBreaksFullTies(t *testing.T) {
	eng := arbiter.New(allowAll{})

	proposals := []*action.AgentProposal{
		proposal("first", action.TierPower,
			action.ResourceAction{Severity: action.Reactive, Target: action.TargetGPUMode, Value: action.Mode(action.GPUModeHybrid)}),
		proposal("second", action.TierPower,
			action.ResourceAction{Severity: action.Reactive, Target: action.TargetGPUMode, Value: action.Mode(action.GPUModeIntegrated)}),
	}

	plan, skip := eng.Arbitrate(proposals, &sysctx.SystemContext{})
	require.Empty(t, skip)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "first", plan.Actions[0].Agent, "Full ties resolve in collection order")
}

func TestArbitrateOneConflictPerContestedTarget(t *testing.T) {
	eng := arbiter.New(allowAll{})

	proposals := []*action.AgentProposal{
		proposal("thermal", action.TierThermal,
			action.ResourceAction{Severity: action.Emergency, Target: action.TargetCPUPL2, Value: action.Watts(55)},
			action.ResourceAction{Severity: action.Emergency, Target: action.TargetFanProfile, Value: action.Profile(action.FanProfileMax)}),
		proposal("power", action.TierPower,
			action.ResourceAction{Severity: action.Reactive, Target: action.TargetCPUPL2, Value: action.Watts(90)}),
		proposal("experience", action.TierExperience,
			action.ResourceAction{Severity: action.Opportunistic, Target: action.TargetCPUPL2, Value: action.Watts(140)}),
	}

	plan, skip := eng.Arbitrate(proposals, &sysctx.SystemContext{})
	require.Empty(t, skip)

	assert.Len(t, plan.Actions, 2, "One winner per target plus the uncontested action")
	require.Len(t, plan.Conflicts, 1, "Exactly one conflict entry per contested target")

	conflict := plan.Conflicts[0]
	assert.Equal(t, action.TargetCPUPL2, conflict.Target)
	assert.Equal(t, "thermal", conflict.Winner.Agent)
	assert.Len(t, conflict.Losers, 2)
	assert.NotEmpty(t, conflict.Reason)
}

func TestArbitrateRejectedPlanSkipsCycle(t *testing.T) {
	eng := arbiter.New(rejectAll{reason: "combined power targets exceed platform envelope"})

	proposals := []*action.AgentProposal{
		proposal("power", action.TierPower,
			action.ResourceAction{Severity: action.Opportunistic, Target: action.TargetCPUPL2, Value: action.Watts(140)}),
		proposal("thermal", action.TierThermal,
			action.ResourceAction{Severity: action.Emergency, Target: action.TargetCPUPL2, Value: action.Watts(55)}),
	}

	plan, skip := eng.Arbitrate(proposals, &sysctx.SystemContext{})
	assert.Equal(t, "combined power targets exceed platform envelope", skip)

	// The rejected plan still comes back so the cycle trace can record
	// what was arbitrated before the skip.
	require.NotNil(t, plan)
	require.Len(t, plan.Actions, 1)
	assert.Len(t, plan.Conflicts, 1)
}

func TestArbitrateNoProposals(t *testing.T) {
	eng := arbiter.New(allowAll{})

	plan, skip := eng.Arbitrate(nil, &sysctx.SystemContext{})
	require.Empty(t, skip)
	assert.Empty(t, plan.Actions)
	assert.Empty(t, plan.Conflicts)
}
