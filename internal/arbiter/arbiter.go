package arbiter

import (
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/safety"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

// PlanValidator is the whole-plan coherence check run after per-target
// arbitration. Satisfied by safety.Validator.
type PlanValidator interface {
	ValidatePlan(plan *action.ExecutionPlan, sc *sysctx.SystemContext) safety.Verdict
}

// Engine merges competing proposals into one winner per control surface.
type Engine struct {
	validator PlanValidator
}

func New(validator PlanValidator) *Engine {
	return &Engine{validator: validator}
}

// Arbitrate resolves all proposals into an execution plan. Within one
// target the winner is chosen by severity, tie-broken by the proposing
// agent's static priority tier, then by collection order; every loser is
// recorded as exactly one conflict entry. A plan that fails whole-plan
// validation is still returned (so its conflicts can be traced) together
// with skipReason != "", and must not be executed.
func (e *Engine) Arbitrate(proposals []*action.AgentProposal, sc *sysctx.SystemContext) (plan *action.ExecutionPlan, skipReason string) {
	byTarget := make(map[action.Target][]action.ResourceAction)
	var order []action.Target

	for _, p := range proposals {
		for _, act := range p.Actions {
			if _, seen := byTarget[act.Target]; !seen {
				order = append(order, act.Target)
			}
			byTarget[act.Target] = append(byTarget[act.Target], act)
		}
	}

	plan = &action.ExecutionPlan{CreatedAt: time.Now()}

	for _, target := range order {
		candidates := byTarget[target]
		if len(candidates) == 1 {
			plan.Actions = append(plan.Actions, candidates[0])
			continue
		}

		winner, losers := pickWinner(candidates)
		plan.Actions = append(plan.Actions, winner)

		conflict := action.Conflict{
			Target: target,
			Winner: winner,
			Losers: losers,
			Reason: fmt.Sprintf("%d agents targeted %s; %s won with %s severity",
				len(candidates), target, winner.Agent, winner.Severity),
		}
		plan.Conflicts = append(plan.Conflicts, conflict)

		logger.Debug().
			Str("target", target.String()).
			Str("winner", winner.Agent).
			Int("losers", len(losers)).
			Msg("Arbitration conflict resolved")
	}

	if verdict := e.validator.ValidatePlan(plan, sc); !verdict.Allowed {
		logger.Warn().Str("reason", verdict.Reason).Msg("Plan rejected by whole-plan validation, skipping cycle")
		return plan, verdict.Reason
	}

	return plan, ""
}

// pickWinner sorts candidates by severity desc, priority tier desc,
// collection order asc, and splits winner from losers.
func pickWinner(candidates []action.ResourceAction) (action.ResourceAction, []action.ResourceAction) {
	ranked := make([]action.ResourceAction, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Severity != ranked[j].Severity {
			return ranked[i].Severity > ranked[j].Severity
		}
		return ranked[i].Priority > ranked[j].Priority
	})

	return ranked[0], ranked[1:]
}
