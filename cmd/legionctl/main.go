package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/agent"
	"codeberg.org/mutker/legionctl/internal/arbiter"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/engine"
	"codeberg.org/mutker/legionctl/internal/executor"
	"codeberg.org/mutker/legionctl/internal/forecast"
	"codeberg.org/mutker/legionctl/internal/hwio"
	"codeberg.org/mutker/legionctl/internal/learnstore"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/pid"
	"codeberg.org/mutker/legionctl/internal/safety"
	"codeberg.org/mutker/legionctl/internal/sysctx"
	"codeberg.org/mutker/legionctl/internal/telemetry"
)

const restoreTimeout = 10 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}
	defer pid.Remove()

	transport := openTransport()
	defer transport.Close()

	regs := hwio.DefaultRegisterMap()

	gpu, err := hwio.NewGPUTelemetry()
	if err != nil {
		logger.Warn().Err(err).Msg("Dedicated GPU telemetry unavailable")
		gpu = nil
	} else {
		defer gpu.Shutdown()
		if limits, err := gpu.PowerLimits(); err == nil {
			cfg.Limits.GPUTGPMinW, cfg.Limits.GPUTGPMaxW = limits.Narrow(cfg.Limits.GPUTGPMinW, cfg.Limits.GPUTGPMaxW)
			logger.Debug().
				Int("tgp_min_w", cfg.Limits.GPUTGPMinW).
				Int("tgp_max_w", cfg.Limits.GPUTGPMaxW).
				Msg("GPU power bounds narrowed to device envelope")
		}
	}

	platform, err := hwio.NewPlatformTelemetry()
	if err != nil {
		logger.Warn().Err(err).Msg("Platform telemetry unavailable")
		platform = nil
	}

	store := sysctx.NewStore(transport, regs, gpu, platform, nil, cfg.Gather)
	forecaster := forecast.New(cfg.Forecast)

	overrides := safety.NewOverrideTable()
	validator := safety.NewValidator(cfg.Limits, cfg.Thermal, overrides, forecaster)

	prefs := learnstore.NewPreferences()
	learn, err := learnstore.NewService(learnstore.Config{
		DBPath:  cfg.LearningDB,
		Enabled: cfg.Learning,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize learned-state store")
	}
	defer learn.Close()

	if err := prefs.Restore(context.Background(), learn); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore learned state")
	}

	collector := buildAgents(store, forecaster, overrides, prefs)

	registry := executor.NewRegistry()
	executor.RegisterECHandlers(registry, transport, regs,
		executor.NewNoopMux(action.GPUModeHybridAuto), executor.NewNoopBrightness(100))
	exec := executor.New(registry, validator)

	tracer, err := telemetry.NewService(telemetry.Config{
		DBPath:  cfg.TelemetryDB,
		Enabled: cfg.Telemetry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer tracer.Close()

	eng := engine.New(cfg, store, forecaster, collector, arbiter.New(validator), exec, tracer, learn, prefs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := eng.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in control loop")
	}
	cleanup(eng, prefs, learn)
}

// openTransport prefers the real embedded controller; monitor mode falls
// back to an in-memory transport so the loop can run on any machine.
func openTransport() hwio.Transport {
	transport, err := hwio.NewECTransport()
	if err == nil {
		return transport
	}

	if cfg.Monitor {
		logger.Warn().Err(err).Msg("EC unavailable, using in-memory transport")
		return hwio.NewMemTransport()
	}

	logger.Fatal().Err(err).Msg("failed to open embedded controller")
	return nil
}

func buildAgents(
	store *sysctx.Store,
	forecaster *forecast.Engine,
	overrides *safety.OverrideTable,
	prefs *learnstore.Preferences,
) *agent.Collector {
	var agents []agent.Agent

	for _, name := range cfg.Agents {
		switch name {
		case "thermal":
			thermal := agent.NewThermalAgent(cfg.Thermal, cfg.Limits, forecaster, store)
			overrides.Subscribe(thermal.SuppressTarget)
			agents = append(agents, thermal)
		case "gpumode":
			agents = append(agents, agent.NewGPUModeAgent(cfg.Thermal, cfg.Limits, prefs, nil))
		default:
			logger.Warn().Str("agent", name).Msg("Unknown agent in config, skipping")
		}
	}

	if len(agents) == 0 {
		logger.Warn().Msg("No agents active; loop will only observe")
	}

	return agent.NewCollector(agents...)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(eng *engine.Engine, prefs *learnstore.Preferences, learn learnstore.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	if err := eng.RestoreDefaults(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to restore hardware defaults")
	}
	if err := prefs.Persist(ctx, learn); err != nil {
		logger.Error().Err(err).Msg("failed to persist learned state")
	}

	logger.Info().Msg("Exiting...")
}
