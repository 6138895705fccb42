package sysctx_test

import (
	"context"
	"testing"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/hwio"
	"codeberg.org/mutker/legionctl/internal/sysctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherConfig() config.GatherConfig {
	return config.GatherConfig{
		DebounceMs:     60_000, // effectively infinite for these tests
		HistorySize:    8,
		TrendWindow:    4,
		RisingSlope:    0.5,
		CoolingSlope:   -0.3,
		StableVariance: 0.25,
		SampleHz:       2,
	}
}

func preloadTemps(transport *hwio.MemTransport, regs hwio.RegisterMap, cpu, gpu, vrm uint8) {
	transport.Preload(map[hwio.Register]uint8{
		regs.CPUTemp: cpu,
		regs.GPUTemp: gpu,
		regs.VRMTemp: vrm,
	})
}

func TestGatherContextReadsSensors(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	preloadTemps(transport, regs, 81, 76, 66)

	store := sysctx.NewStore(transport, regs, nil, nil, nil, gatherConfig())
	sc := store.GatherContext(context.Background())
	require.NotNil(t, sc)

	assert.InDelta(t, 81.0, sc.Thermal.CPU, 1e-9)
	assert.InDelta(t, 76.0, sc.Thermal.GPU, 1e-9)
	assert.InDelta(t, 66.0, sc.Thermal.VRM, 1e-9)
	assert.True(t, sc.Power.OnAC, "Expected wall power assumed without platform telemetry")
	assert.Equal(t, 100, sc.Battery.Percent)
	assert.Equal(t, sysctx.WorkloadUnknown, sc.Workload.Label)
	assert.Equal(t, action.FanProfileBalanced, sc.Control.FanProfile)
}

func TestGatherContextDebounce(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	preloadTemps(transport, regs, 81, 76, 66)

	store := sysctx.NewStore(transport, regs, nil, nil, nil, gatherConfig())

	first := store.GatherContext(context.Background())

	// A new reading inside the debounce window must not surface.
	preloadTemps(transport, regs, 95, 90, 85)
	second := store.GatherContext(context.Background())

	assert.Same(t, first, second, "Expected the debounced snapshot to be returned unchanged")
	assert.InDelta(t, 81.0, second.Thermal.CPU, 1e-9)
	assert.Len(t, store.History(sysctx.ChannelCPU), 1, "Debounced calls must not append history")
}

type failingTransport struct{}

func (failingTransport) Read(context.Context, hwio.Register) (uint8, error) {
	return 0, assert.AnError
}

func (failingTransport) Write(context.Context, hwio.Register, uint8) error {
	return assert.AnError
}

func (failingTransport) Close() error { return nil }

func TestGatherContextSensorFaultDefaults(t *testing.T) {
	store := sysctx.NewStore(failingTransport{}, hwio.DefaultRegisterMap(), nil, nil, nil, gatherConfig())

	sc := store.GatherContext(context.Background())
	require.NotNil(t, sc)

	// With no previous snapshot the documented warm-side fallbacks apply.
	assert.InDelta(t, 75.0, sc.Thermal.CPU, 1e-9)
	assert.InDelta(t, 70.0, sc.Thermal.GPU, 1e-9)
	assert.InDelta(t, 65.0, sc.Thermal.VRM, 1e-9)
}

func TestGatherContextFaultKeepsPreviousReading(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	preloadTemps(transport, regs, 82, 77, 67)

	cfg := gatherConfig()
	cfg.DebounceMs = 0

	store := sysctx.NewStore(transport, regs, nil, nil, nil, cfg)
	first := store.GatherContext(context.Background())
	require.InDelta(t, 82.0, first.Thermal.CPU, 1e-9)

	// Simulate the EC dropping off the bus mid-run.
	require.NoError(t, transport.Close())

	second := store.GatherContext(context.Background())
	assert.InDelta(t, 82.0, second.Thermal.CPU, 1e-9, "Expected the previous reading to carry over")
	assert.InDelta(t, 67.0, second.Thermal.VRM, 1e-9)
}

func TestHistoryEviction(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()

	cfg := gatherConfig()
	cfg.DebounceMs = 0
	cfg.HistorySize = 3

	store := sysctx.NewStore(transport, regs, nil, nil, nil, cfg)

	temps := []uint8{70, 72, 74, 76, 78}
	for _, temp := range temps {
		preloadTemps(transport, regs, temp, 60, 60)
		store.GatherContext(context.Background())
	}

	history := store.History(sysctx.ChannelCPU)
	require.Len(t, history, 3, "Expected eviction down to the configured capacity")
	assert.InDelta(t, 74.0, history[0].Value, 1e-9, "Expected the oldest retained sample")
	assert.InDelta(t, 78.0, history[2].Value, 1e-9, "Expected the newest sample last")
}

func TestRecordControlRoundTrip(t *testing.T) {
	store := sysctx.NewStore(hwio.NewMemTransport(), hwio.DefaultRegisterMap(), nil, nil, nil, gatherConfig())

	state := action.ControlState{
		CPUPL1W:         45,
		CPUPL2W:         115,
		GPUTGPW:         120,
		FanProfile:      action.FanProfileAggressive,
		GPUMode:         action.GPUModeHybrid,
		BrightnessPct:   80,
		PerformanceMode: action.PerfModePerformance,
	}
	store.RecordControl(state)

	assert.Equal(t, state, store.ControlState())

	sc := store.GatherContext(context.Background())
	assert.Equal(t, state, sc.Control, "Expected the snapshot to carry the recorded control state")
}

func TestCurrentAndPrevious(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	preloadTemps(transport, regs, 70, 60, 60)

	cfg := gatherConfig()
	cfg.DebounceMs = 0

	store := sysctx.NewStore(transport, regs, nil, nil, nil, cfg)
	assert.Nil(t, store.Current(), "Expected no snapshot before the first gather")

	first := store.GatherContext(context.Background())
	second := store.GatherContext(context.Background())

	assert.Same(t, second, store.Current())
	assert.Same(t, first, store.Previous())
}

// stubGPU serves canned driver telemetry; tempErr forces the EC fallback.
type stubGPU struct {
	temp    float64
	tempErr error
}

func (g stubGPU) Temperature() (float64, error) {
	return g.temp, g.tempErr
}
func (stubGPU) PowerDraw() (float64, error)              { return 35, nil }
func (stubGPU) PowerLimits() (hwio.PowerLimits, error)   { return hwio.PowerLimits{}, nil }
func (stubGPU) Utilization() (float64, error)            { return 40, nil }
func (stubGPU) ExternalDisplayAttached() (bool, error)   { return false, nil }
func (stubGPU) Shutdown() error                          { return nil }

func TestGatherContextPrefersDriverGPUTemperature(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	preloadTemps(transport, regs, 81, 76, 66)

	store := sysctx.NewStore(transport, regs, stubGPU{temp: 71.5}, nil, nil, gatherConfig())
	sc := store.GatherContext(context.Background())
	require.NotNil(t, sc)

	assert.InDelta(t, 71.5, sc.Thermal.GPU, 1e-9, "The driver reading wins over the EC cell")
	assert.InDelta(t, 35.0, sc.GPU.PowerDrawW, 1e-9)
}

func TestGatherContextGPUDriverFaultFallsBackToEC(t *testing.T) {
	transport := hwio.NewMemTransport()
	regs := hwio.DefaultRegisterMap()
	preloadTemps(transport, regs, 81, 76, 66)

	store := sysctx.NewStore(transport, regs, stubGPU{tempErr: assert.AnError}, nil, nil, gatherConfig())
	sc := store.GatherContext(context.Background())
	require.NotNil(t, sc)

	assert.InDelta(t, 76.0, sc.Thermal.GPU, 1e-9, "A failed driver query falls back to the EC cell")
}
