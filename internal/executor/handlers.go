package executor

import (
	"context"
	"fmt"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/hwio"
	"codeberg.org/mutker/legionctl/internal/logger"
)

// Fan target percentages per profile, applied to both fans.
var fanProfileTargets = map[string]uint8{
	action.FanProfileQuiet:      30,
	action.FanProfileBalanced:   50,
	action.FanProfileAggressive: 80,
	action.FanProfileMax:        100,
}

// Performance mode register encoding.
var perfModeBytes = map[string]uint8{
	action.PerfModeQuiet:       0x01,
	action.PerfModeBalanced:    0x02,
	action.PerfModePerformance: 0x03,
	action.PerfModeCustom:      0xFF,
}

// GraphicsMux switches the GPU mux mode through the OS/driver layer.
// Optional capability: wire NoopMux on platforms without mux control.
type GraphicsMux interface {
	Mode(ctx context.Context) (string, error)
	SetMode(ctx context.Context, mode string) error
}

// NoopMux accepts every mode change without touching hardware.
type NoopMux struct{ current string }

func NewNoopMux(initial string) *NoopMux {
	return &NoopMux{current: initial}
}

func (m *NoopMux) Mode(_ context.Context) (string, error) { return m.current, nil }

func (m *NoopMux) SetMode(_ context.Context, mode string) error {
	m.current = mode
	return nil
}

// BrightnessControl sets panel brightness through the OS display API.
// Optional capability with a no-op default.
type BrightnessControl interface {
	Get(ctx context.Context) (int, error)
	Set(ctx context.Context, percent int) error
}

// NoopBrightness remembers the requested level without touching hardware.
type NoopBrightness struct{ current int }

func NewNoopBrightness(initial int) *NoopBrightness {
	return &NoopBrightness{current: initial}
}

func (b *NoopBrightness) Get(_ context.Context) (int, error) { return b.current, nil }

func (b *NoopBrightness) Set(_ context.Context, percent int) error {
	b.current = percent
	return nil
}

// RegisterECHandlers wires the EC-backed control surfaces plus the
// optional mux and brightness capabilities into the registry.
func RegisterECHandlers(
	registry *Registry,
	transport hwio.Transport,
	regs hwio.RegisterMap,
	mux GraphicsMux,
	brightness BrightnessControl,
) {
	registry.Register(action.TargetCPUPL1, newWattsHandler(transport, regs.CPUPL1))
	registry.Register(action.TargetCPUPL2, newWattsHandler(transport, regs.CPUPL2))
	registry.Register(action.TargetGPUTGP, newWattsHandler(transport, regs.GPUTGP))
	registry.Register(action.TargetFanProfile, newFanProfileHandler(transport, regs))
	registry.Register(action.TargetPerformanceMode, newPerfModeHandler(transport, regs))

	if mux != nil {
		registry.Register(action.TargetGPUMode, newMuxHandler(mux))
	}
	if brightness != nil {
		registry.Register(action.TargetDisplayBrightness, newBrightnessHandler(brightness))
	}
}

// newWattsHandler writes a power budget byte, capturing the previous value
// for rollback.
func newWattsHandler(transport hwio.Transport, reg hwio.Register) Handler {
	return HandlerFunc(func(ctx context.Context, act action.ResourceAction) (Undo, error) {
		errFactory := errors.New()

		if act.Value.Kind != action.ValueWatts {
			return nil, errFactory.WithData(ErrValueKind, act.Target.String())
		}
		if act.Value.Int < 0 || act.Value.Int > 0xFF {
			return nil, errFactory.WithData(ErrApplyFailed, fmt.Sprintf("%dW does not fit the register", act.Value.Int))
		}

		previous, err := transport.Read(ctx, reg)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		if err := transport.Write(ctx, reg, uint8(act.Value.Int)); err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		logger.Debug().
			Str("target", act.Target.String()).
			Int("watts", act.Value.Int).
			Uint8("previous", previous).
			Msg("Power budget applied")

		return func(ctx context.Context) error {
			if err := transport.Write(ctx, reg, previous); err != nil {
				return errFactory.Wrap(ErrRollbackFailed, err)
			}
			return nil
		}, nil
	})
}

// newFanProfileHandler sets both fan targets from the profile table.
func newFanProfileHandler(transport hwio.Transport, regs hwio.RegisterMap) Handler {
	return HandlerFunc(func(ctx context.Context, act action.ResourceAction) (Undo, error) {
		errFactory := errors.New()

		if act.Value.Kind != action.ValueProfile {
			return nil, errFactory.WithData(ErrValueKind, act.Target.String())
		}

		target, ok := fanProfileTargets[act.Value.Str]
		if !ok {
			return nil, errFactory.WithData(ErrApplyFailed, "unknown fan profile "+act.Value.Str)
		}

		prev1, err := transport.Read(ctx, regs.Fan1Target)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}
		prev2, err := transport.Read(ctx, regs.Fan2Target)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		if err := transport.Write(ctx, regs.Fan1Target, target); err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}
		if err := transport.Write(ctx, regs.Fan2Target, target); err != nil {
			// Fan 1 already changed; restore it so a half-applied
			// profile never sticks.
			if restoreErr := transport.Write(ctx, regs.Fan1Target, prev1); restoreErr != nil {
				logger.Error().Err(restoreErr).Msg("Failed to restore fan 1 target after partial apply")
			}
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		logger.Debug().Str("profile", act.Value.Str).Uint8("fan_target", target).Msg("Fan profile applied")

		return func(ctx context.Context) error {
			err1 := transport.Write(ctx, regs.Fan1Target, prev1)
			err2 := transport.Write(ctx, regs.Fan2Target, prev2)
			if err1 != nil {
				return errFactory.Wrap(ErrRollbackFailed, err1)
			}
			if err2 != nil {
				return errFactory.Wrap(ErrRollbackFailed, err2)
			}
			return nil
		}, nil
	})
}

// newPerfModeHandler drives the three EC cells a mode change touches: the
// mode selector, the fan-table selector it indexes, and the AI engine
// toggle the firmware enables only in performance mode.
func newPerfModeHandler(transport hwio.Transport, regs hwio.RegisterMap) Handler {
	return HandlerFunc(func(ctx context.Context, act action.ResourceAction) (Undo, error) {
		errFactory := errors.New()

		if act.Value.Kind != action.ValueMode {
			return nil, errFactory.WithData(ErrValueKind, act.Target.String())
		}

		encoded, ok := perfModeBytes[act.Value.Str]
		if !ok {
			return nil, errFactory.WithData(ErrApplyFailed, "unknown performance mode "+act.Value.Str)
		}
		var aiEngine uint8
		if act.Value.Str == action.PerfModePerformance {
			aiEngine = 1
		}

		prevMode, err := transport.Read(ctx, regs.PerformanceMode)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}
		prevThermal, err := transport.Read(ctx, regs.ThermalMode)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}
		prevAI, err := transport.Read(ctx, regs.AIEngine)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		restore := func(ctx context.Context) error {
			err1 := transport.Write(ctx, regs.PerformanceMode, prevMode)
			err2 := transport.Write(ctx, regs.ThermalMode, prevThermal)
			err3 := transport.Write(ctx, regs.AIEngine, prevAI)
			for _, err := range []error{err1, err2, err3} {
				if err != nil {
					return errFactory.Wrap(ErrRollbackFailed, err)
				}
			}
			return nil
		}

		if err := transport.Write(ctx, regs.PerformanceMode, encoded); err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}
		if err := transport.Write(ctx, regs.ThermalMode, encoded); err != nil {
			if restoreErr := restore(ctx); restoreErr != nil {
				logger.Error().Err(restoreErr).Msg("Failed to restore mode cells after partial apply")
			}
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}
		if err := transport.Write(ctx, regs.AIEngine, aiEngine); err != nil {
			if restoreErr := restore(ctx); restoreErr != nil {
				logger.Error().Err(restoreErr).Msg("Failed to restore mode cells after partial apply")
			}
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		logger.Debug().Str("mode", act.Value.Str).Uint8("encoded", encoded).Msg("Performance mode applied")

		return restore, nil
	})
}

func newMuxHandler(mux GraphicsMux) Handler {
	return HandlerFunc(func(ctx context.Context, act action.ResourceAction) (Undo, error) {
		errFactory := errors.New()

		if act.Value.Kind != action.ValueMode {
			return nil, errFactory.WithData(ErrValueKind, act.Target.String())
		}

		previous, err := mux.Mode(ctx)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		if err := mux.SetMode(ctx, act.Value.Str); err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		logger.Info().Str("mode", act.Value.Str).Str("previous", previous).Msg("GPU mode switched")

		return func(ctx context.Context) error {
			if err := mux.SetMode(ctx, previous); err != nil {
				return errFactory.Wrap(ErrRollbackFailed, err)
			}
			return nil
		}, nil
	})
}

func newBrightnessHandler(brightness BrightnessControl) Handler {
	return HandlerFunc(func(ctx context.Context, act action.ResourceAction) (Undo, error) {
		errFactory := errors.New()

		if act.Value.Kind != action.ValuePercent {
			return nil, errFactory.WithData(ErrValueKind, act.Target.String())
		}

		previous, err := brightness.Get(ctx)
		if err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		if err := brightness.Set(ctx, act.Value.Int); err != nil {
			return nil, errFactory.Wrap(ErrApplyFailed, err)
		}

		return func(ctx context.Context) error {
			if err := brightness.Set(ctx, previous); err != nil {
				return errFactory.Wrap(ErrRollbackFailed, err)
			}
			return nil
		}, nil
	})
}

func errFromPanic(r any) error {
	errFactory := errors.New()
	if err, ok := r.(error); ok {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return errFactory.WithData(ErrApplyFailed, r)
}
