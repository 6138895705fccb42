package agent

import (
	"context"
	"sync"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

// Collector fans proposal collection out across all agents. One agent's
// fault never aborts the cycle: a panic or error is logged and treated as
// an empty proposal.
type Collector struct {
	agents []Agent
}

func NewCollector(agents ...Agent) *Collector {
	return &Collector{agents: agents}
}

// Agents returns the registered agents in registration order.
func (c *Collector) Agents() []Agent {
	return c.agents
}

// Collect runs every agent concurrently against the snapshot and returns
// their proposals in registration order, with agent identity and priority
// stamped onto every action.
func (c *Collector) Collect(ctx context.Context, sc *sysctx.SystemContext) []*action.AgentProposal {
	results := make([]*action.AgentProposal, len(c.agents))

	var wg sync.WaitGroup
	for i, a := range c.agents {
		wg.Add(1)
		go func(i int, a Agent) {
			defer wg.Done()
			results[i] = c.propose(ctx, a, sc)
		}(i, a)
	}
	wg.Wait()

	proposals := make([]*action.AgentProposal, 0, len(results))
	for _, p := range results {
		if p != nil && len(p.Actions) > 0 {
			proposals = append(proposals, p)
		}
	}

	return proposals
}

// NotifyOutcome distributes the cycle result to every agent, isolating
// panics per agent.
func (c *Collector) NotifyOutcome(result *action.ExecutionResult) {
	for _, a := range c.agents {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn().Interface("panic", r).Str("agent", a.Name()).Msg("Agent panicked in OnOutcome")
				}
			}()
			a.OnOutcome(result)
		}()
	}
}

func (c *Collector) propose(ctx context.Context, a Agent, sc *sysctx.SystemContext) (proposal *action.AgentProposal) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Str("agent", a.Name()).Msg("Agent panicked in Propose, treating as empty proposal")
			proposal = nil
		}
	}()

	p, err := a.Propose(ctx, sc)
	if err != nil {
		logger.Warn().Err(err).Str("agent", a.Name()).Msg("Agent proposal failed, treating as empty proposal")
		return nil
	}
	if p == nil {
		return nil
	}

	p.Agent = a.Name()
	p.Priority = a.Priority()
	for i := range p.Actions {
		p.Actions[i].Agent = a.Name()
		p.Actions[i].Priority = a.Priority()
	}

	return p
}
