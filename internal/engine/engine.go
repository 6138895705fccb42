package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/agent"
	"codeberg.org/mutker/legionctl/internal/arbiter"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/executor"
	"codeberg.org/mutker/legionctl/internal/forecast"
	"codeberg.org/mutker/legionctl/internal/learnstore"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/sysctx"
	"codeberg.org/mutker/legionctl/internal/telemetry"
)

// Persist learned state roughly once a minute at the default interval.
const persistEveryCycles = 120

// forecastChannels are the zones the loop forecasts and scores every cycle.
var forecastChannels = []sysctx.Channel{sysctx.ChannelCPU, sysctx.ChannelGPU, sysctx.ChannelVRM}

// pendingObs is a forecast waiting for its horizon to elapse so it can be
// scored against the observed temperature.
type pendingObs struct {
	due       time.Time
	predicted float64
}

// Engine drives the closed control loop: gather, forecast, propose,
// arbitrate, execute, learn. One cycle runs at a time; cancellation is
// honored between cycles, never inside one.
type Engine struct {
	cfg        *config.Config
	store      *sysctx.Store
	forecaster *forecast.Engine
	collector  *agent.Collector
	arbiter    *arbiter.Engine
	executor   *executor.Executor
	tracer     telemetry.Tracer
	learn      learnstore.Store
	prefs      *learnstore.Preferences

	running atomic.Bool
	cycle   uint64
	pending map[sysctx.Channel]pendingObs
}

func New(
	cfg *config.Config,
	store *sysctx.Store,
	forecaster *forecast.Engine,
	collector *agent.Collector,
	arb *arbiter.Engine,
	exec *executor.Executor,
	tracer telemetry.Tracer,
	learn learnstore.Store,
	prefs *learnstore.Preferences,
) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		forecaster: forecaster,
		collector:  collector,
		arbiter:    arb,
		executor:   exec,
		tracer:     tracer,
		learn:      learn,
		prefs:      prefs,
		pending:    make(map[sysctx.Channel]pendingObs),
	}
}

// Run executes the control loop until ctx is cancelled. Only one Run may be
// active per Engine.
func (e *Engine) Run(ctx context.Context) error {
	errFactory := errors.New()

	if !e.running.CompareAndSwap(false, true) {
		return errFactory.New(ErrAlreadyRunning)
	}
	defer e.running.Store(false)

	if e.cfg.Interval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "invalid interval")
	}

	interval := time.Duration(e.cfg.Interval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Baseline first: every later raise/lower judgment is relative to a
	// known control state, never to unknown firmware leftovers.
	if e.cfg.Monitor {
		logger.Info().Msg("Monitor mode active. Observing without executing actions...")
	} else if err := e.RestoreDefaults(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to establish baseline control state")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.runCycle(ctx); err != nil {
				return errFactory.Wrap(ErrControlLoop, err)
			}
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) error {
	e.cycle++
	started := time.Now()

	sc := e.store.GatherContext(ctx)
	e.scoreForecasts(sc)

	preds := make(map[sysctx.Channel]forecast.Prediction, len(forecastChannels))
	for _, ch := range forecastChannels {
		pred := e.forecaster.Forecast(ch, e.store.History(ch))
		preds[ch] = pred
		e.pending[ch] = pendingObs{
			due:       started.Add(forecast.ShortHorizon),
			predicted: pred.Short,
		}
	}

	e.logStatus(sc, preds)

	if e.cfg.Monitor {
		return e.recordCycle(ctx, sc, started, nil, nil, "monitor")
	}

	proposals := e.collector.Collect(ctx, sc)

	plan, skipReason := e.arbiter.Arbitrate(proposals, sc)
	if skipReason != "" {
		logger.Debug().
			Uint64("cycle", e.cycle).
			Str("reason", skipReason).
			Msg("Cycle skipped")
		e.traceArbitration(ctx, plan, skipReason)
		return e.recordCycle(ctx, sc, started, plan, nil, skipReason)
	}
	e.traceArbitration(ctx, plan, "")

	if len(plan.Actions) == 0 {
		return e.recordCycle(ctx, sc, started, plan, nil, "")
	}

	result := e.executor.Execute(ctx, plan, sc)
	e.store.RecordControl(result.After)
	e.collector.NotifyOutcome(result)

	e.traceExecution(ctx, result)
	e.logResult(result)

	if e.cycle%persistEveryCycles == 0 {
		if err := e.prefs.Persist(ctx, e.learn); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist learned state")
		}
	}

	return e.recordCycle(ctx, sc, started, plan, result, "")
}

// scoreForecasts feeds due predictions back into the forecaster so the
// uncertainty model tracks real error.
func (e *Engine) scoreForecasts(sc *sysctx.SystemContext) {
	now := sc.Timestamp
	for _, ch := range forecastChannels {
		obs, ok := e.pending[ch]
		if !ok || now.Before(obs.due) {
			continue
		}
		e.forecaster.Observe(ch, obs.predicted, zoneTemp(sc, ch))
		delete(e.pending, ch)
	}
}

func zoneTemp(sc *sysctx.SystemContext, ch sysctx.Channel) float64 {
	switch ch {
	case sysctx.ChannelGPU:
		return sc.Thermal.GPU
	case sysctx.ChannelVRM:
		return sc.Thermal.VRM
	default:
		return sc.Thermal.CPU
	}
}

func (e *Engine) traceArbitration(ctx context.Context, plan *action.ExecutionPlan, skipReason string) {
	outcome := "planned"
	if skipReason != "" {
		outcome = "skipped: " + skipReason
	}

	for i := range plan.Conflicts {
		c := &plan.Conflicts[i]
		inputs, _ := json.Marshal(struct {
			Target string `json:"target"`
			Winner string `json:"winner"`
			Losers int    `json:"losers"`
		}{c.Target.String(), c.Winner.Agent, len(c.Losers)})

		e.trace(ctx, "arbiter", c.Reason, string(inputs), outcome)
	}

	if len(plan.Actions) > 0 || skipReason != "" {
		inputs, _ := json.Marshal(struct {
			Actions   int `json:"actions"`
			Conflicts int `json:"conflicts"`
		}{len(plan.Actions), len(plan.Conflicts)})

		e.trace(ctx, "arbiter", "plan", string(inputs), outcome)
	}
}

func (e *Engine) traceExecution(ctx context.Context, result *action.ExecutionResult) {
	for _, act := range result.Executed {
		inputs, _ := json.Marshal(struct {
			Agent    string `json:"agent"`
			Severity string `json:"severity"`
			Reason   string `json:"reason"`
		}{act.Agent, act.Severity.String(), act.Reason})

		e.trace(ctx, "executor", "apply "+act.Target.String(), string(inputs), "executed")
	}
	for _, rej := range result.Rejected {
		e.trace(ctx, "validator", "reject "+rej.Action.Target.String(), "", rej.Reason)
	}
	for _, fail := range result.Failed {
		outcome := "failed"
		if result.RolledBack {
			outcome = "failed, cycle rolled back"
		}
		e.trace(ctx, "executor", "apply "+fail.Action.Target.String(), "", outcome)
	}
}

func (e *Engine) trace(ctx context.Context, component, decision, inputs, outcome string) {
	err := e.tracer.TraceDecision(ctx, &telemetry.DecisionEvent{
		Timestamp: time.Now(),
		Cycle:     e.cycle,
		Component: component,
		Decision:  decision,
		Inputs:    inputs,
		Outcome:   outcome,
	})
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to trace decision")
	}
}

func (e *Engine) recordCycle(
	ctx context.Context,
	sc *sysctx.SystemContext,
	started time.Time,
	plan *action.ExecutionPlan,
	result *action.ExecutionResult,
	skipReason string,
) error {
	snapshot := &telemetry.CycleSnapshot{
		Timestamp:  started,
		Cycle:      e.cycle,
		CPUTempC:   sc.Thermal.CPU,
		GPUTempC:   sc.Thermal.GPU,
		VRMTempC:   sc.Thermal.VRM,
		OnAC:       sc.Power.OnAC,
		BatteryPct: sc.Battery.Percent,
		Workload:   sc.Workload.Label,
		DurationMs: time.Since(started).Milliseconds(),
		SkipReason: skipReason,
	}
	if plan != nil {
		snapshot.Proposals = len(plan.Actions) + conflictLosers(plan)
		snapshot.Conflicts = len(plan.Conflicts)
	}
	if result != nil {
		snapshot.Executed = len(result.Executed)
		snapshot.Rejected = len(result.Rejected)
		snapshot.Failed = len(result.Failed)
		snapshot.RolledBack = result.RolledBack
		snapshot.Success = result.Success
	}

	if err := e.tracer.RecordCycle(ctx, snapshot); err != nil {
		logger.Debug().Err(err).Msg("Failed to record cycle")
	}

	return nil
}

func conflictLosers(plan *action.ExecutionPlan) int {
	n := 0
	for i := range plan.Conflicts {
		n += len(plan.Conflicts[i].Losers)
	}
	return n
}

func (e *Engine) logStatus(sc *sysctx.SystemContext, preds map[sysctx.Channel]forecast.Prediction) {
	cpu := preds[sysctx.ChannelCPU]

	logger.Debug().
		Uint64("cycle", e.cycle).
		Float64("cpu_temp", sc.Thermal.CPU).
		Float64("gpu_temp", sc.Thermal.GPU).
		Float64("vrm_temp", sc.Thermal.VRM).
		Str("cpu_trend", sc.Thermal.CPUTrend.String()).
		Float64("cpu_short", cpu.Short).
		Float64("cpu_medium", cpu.Medium).
		Float64("confidence", cpu.Confidence).
		Bool("on_ac", sc.Power.OnAC).
		Int("battery", sc.Battery.Percent).
		Str("workload", sc.Workload.Label).
		Msg("Cycle status")
}

func (e *Engine) logResult(result *action.ExecutionResult) {
	if result.RolledBack {
		logger.Warn().
			Uint64("cycle", e.cycle).
			Int("failed", len(result.Failed)).
			Msg("Cycle rolled back")
		return
	}

	for _, act := range result.Executed {
		event := logger.Info()
		if act.Severity < action.Critical {
			event = logger.Debug()
		}
		event.
			Str("agent", act.Agent).
			Str("target", act.Target.String()).
			Str("severity", act.Severity.String()).
			Str("reason", act.Reason).
			Msg("Action applied")
	}
	for _, rej := range result.Rejected {
		logger.Debug().
			Str("target", rej.Action.Target.String()).
			Str("reason", rej.Reason).
			Msg("Action rejected")
	}
}

// RestoreDefaults puts every controlled surface to its conservative
// default. Called at startup to establish the baseline and on shutdown so
// a crash loop never strands the machine in an aggressive state.
func (e *Engine) RestoreDefaults(ctx context.Context) error {
	if e.cfg.Monitor {
		return nil
	}

	sc := e.store.Current()
	if sc == nil {
		sc = e.store.GatherContext(ctx)
	}

	plan := &action.ExecutionPlan{
		Actions:   defaultActions(e.cfg.Limits),
		CreatedAt: time.Now(),
	}

	result := e.executor.Execute(ctx, plan, sc)
	e.store.RecordControl(result.After)
	if len(result.Failed) > 0 {
		return errors.New().WithData(ErrRestoreFailed, struct {
			Failed int
		}{len(result.Failed)})
	}

	logger.Info().Int("restored", len(result.Executed)).Msg("Hardware defaults restored")
	return nil
}

func defaultActions(limits config.LimitsConfig) []action.ResourceAction {
	defaults := func(target action.Target, value action.Value) action.ResourceAction {
		return action.ResourceAction{
			Severity: action.Reactive,
			Target:   target,
			Value:    value,
			Reason:   "restore defaults on shutdown",
			Agent:    "engine",
			Priority: action.TierSafety,
		}
	}

	pl1 := clampInt(45, limits.PL1MinW, limits.PL1MaxW)
	pl2 := clampInt(115, limits.PL2MinW, limits.PL2MaxW)

	return []action.ResourceAction{
		defaults(action.TargetPerformanceMode, action.Mode(action.PerfModeBalanced)),
		defaults(action.TargetFanProfile, action.Profile(action.FanProfileBalanced)),
		defaults(action.TargetCPUPL1, action.Watts(pl1)),
		defaults(action.TargetCPUPL2, action.Watts(pl2)),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
