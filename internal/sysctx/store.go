package sysctx

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/hwio"
	"codeberg.org/mutker/legionctl/internal/logger"
)

// Fallback readings used when a sub-gather faults and no previous snapshot
// exists. Deliberately on the warm side so a blind controller stays
// conservative.
const (
	fallbackCPUTempC = 75.0
	fallbackGPUTempC = 70.0
	fallbackVRMTempC = 65.0
	fallbackSSDTempC = 45.0
)

// Store gathers per-cycle snapshots and maintains bounded telemetry history.
type Store struct {
	transport  hwio.Transport
	regs       hwio.RegisterMap
	gpu        hwio.GPUTelemetry
	platform   hwio.PlatformTelemetry
	classifier Classifier
	cfg        config.GatherConfig

	mu         sync.Mutex
	histories  map[Channel]*ringBuffer
	current    *SystemContext
	previous   *SystemContext
	lastGather time.Time
	control    action.ControlState
	intent     Intent
}

// NewStore wires the store to its sensor sources. Pass NoopClassifier when
// no workload classifier is available.
func NewStore(
	transport hwio.Transport,
	regs hwio.RegisterMap,
	gpu hwio.GPUTelemetry,
	platform hwio.PlatformTelemetry,
	classifier Classifier,
	cfg config.GatherConfig,
) *Store {
	if classifier == nil {
		classifier = NoopClassifier{}
	}

	histories := make(map[Channel]*ringBuffer)
	for _, ch := range []Channel{ChannelCPU, ChannelGPU, ChannelVRM} {
		histories[ch] = newRingBuffer(cfg.HistorySize)
	}

	return &Store{
		transport:  transport,
		regs:       regs,
		gpu:        gpu,
		platform:   platform,
		classifier: classifier,
		cfg:        cfg,
		histories:  histories,
		control: action.ControlState{
			FanProfile:      action.FanProfileBalanced,
			GPUMode:         action.GPUModeHybridAuto,
			PerformanceMode: action.PerfModeBalanced,
			BrightnessPct:   100,
		},
	}
}

// SetIntent records the user's declared session preference.
func (s *Store) SetIntent(intent Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intent = intent
}

// RecordControl keeps the in-memory control-surface cache in step with what
// the executor actually applied.
func (s *Store) RecordControl(state action.ControlState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control = state
}

// ControlState returns the last known control-surface settings.
func (s *Store) ControlState() action.ControlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

// GatherContext produces the cycle snapshot. Calls inside the debounce
// window return the previous snapshot unchanged. Sensor sub-gathers run
// concurrently; each isolates its own faults and substitutes the previous
// reading or a documented fallback.
func (s *Store) GatherContext(ctx context.Context) *SystemContext {
	s.mu.Lock()
	debounce := time.Duration(s.cfg.DebounceMs) * time.Millisecond
	if s.current != nil && time.Since(s.lastGather) < debounce {
		snapshot := s.current
		s.mu.Unlock()
		return snapshot
	}
	prev := s.current
	control := s.control
	intent := s.intent
	s.mu.Unlock()

	snapshot := &SystemContext{
		Timestamp: time.Now(),
		Control:   control,
		Intent:    intent,
	}

	var wg sync.WaitGroup
	wg.Add(5)
	go s.gatherThermal(ctx, &wg, snapshot, prev)
	go s.gatherGPU(&wg, snapshot, prev)
	go s.gatherPower(&wg, snapshot, prev)
	go s.gatherBattery(&wg, snapshot, prev)
	go s.gatherMemory(&wg, snapshot, prev)
	wg.Wait()

	label, confidence := s.classifier.Classify(snapshot)
	snapshot.Workload = Workload{Label: label, Confidence: confidence}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := snapshot.Timestamp
	s.histories[ChannelCPU].push(Sample{At: now, Value: snapshot.Thermal.CPU})
	s.histories[ChannelGPU].push(Sample{At: now, Value: snapshot.Thermal.GPU})
	s.histories[ChannelVRM].push(Sample{At: now, Value: snapshot.Thermal.VRM})

	snapshot.Thermal.CPUTrend = s.trendLocked(ChannelCPU)
	snapshot.Thermal.GPUTrend = s.trendLocked(ChannelGPU)
	snapshot.Thermal.VRMTrend = s.trendLocked(ChannelVRM)

	s.previous = s.current
	s.current = snapshot
	s.lastGather = now

	return snapshot
}

// Current returns the latest snapshot, or nil before the first gather.
func (s *Store) Current() *SystemContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Previous returns the snapshot before the latest, kept for before/after
// comparison.
func (s *Store) Previous() *SystemContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

// History returns the channel's retained samples, oldest first.
func (s *Store) History(ch Channel) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.histories[ch]
	if !ok {
		return nil
	}

	return buf.snapshot()
}

func (s *Store) trendLocked(ch Channel) Trend {
	samples := s.histories[ch].last(s.cfg.TrendWindow)
	return classifyTrend(samples, s.cfg.RisingSlope, s.cfg.CoolingSlope, s.cfg.StableVariance)
}

func (s *Store) gatherThermal(ctx context.Context, wg *sync.WaitGroup, snapshot, prev *SystemContext) {
	defer wg.Done()
	defer recoverSubGather("thermal")

	read := func(reg hwio.Register, prevValue, fallback float64) float64 {
		raw, err := s.transport.Read(ctx, reg)
		if err != nil {
			logger.Debug().Err(err).Uint8("register", uint8(reg)).Msg("Thermal read failed, substituting default")
			if prev != nil {
				return prevValue
			}
			return fallback
		}
		return float64(raw)
	}

	var prevThermal ThermalState
	if prev != nil {
		prevThermal = prev.Thermal
	}

	snapshot.Thermal.CPU = read(s.regs.CPUTemp, prevThermal.CPU, fallbackCPUTempC)
	snapshot.Thermal.GPU = s.gpuTemp(ctx, prev, prevThermal.GPU)
	snapshot.Thermal.GPUHotspot = read(s.regs.GPUHotspot, prevThermal.GPUHotspot, fallbackGPUTempC)
	snapshot.Thermal.VRM = read(s.regs.VRMTemp, prevThermal.VRM, fallbackVRMTempC)
	snapshot.Thermal.SSD = read(s.regs.SSDTemp, prevThermal.SSD, fallbackSSDTempC)
	snapshot.Thermal.Fan1Duty = read(s.regs.Fan1Speed, prevThermal.Fan1Duty, 0)
	snapshot.Thermal.Fan2Duty = read(s.regs.Fan2Speed, prevThermal.Fan2Duty, 0)
}

// gpuTemp prefers the driver's die temperature over the EC cell; the EC
// copy lags by a polling interval and rounds to whole degrees.
func (s *Store) gpuTemp(ctx context.Context, prev *SystemContext, prevValue float64) float64 {
	if s.gpu != nil {
		if temp, err := s.gpu.Temperature(); err == nil {
			return temp
		}
	}

	raw, err := s.transport.Read(ctx, s.regs.GPUTemp)
	if err != nil {
		logger.Debug().Err(err).Msg("GPU temperature read failed, substituting default")
		if prev != nil {
			return prevValue
		}
		return fallbackGPUTempC
	}
	return float64(raw)
}

func (s *Store) gatherGPU(wg *sync.WaitGroup, snapshot, prev *SystemContext) {
	defer wg.Done()
	defer recoverSubGather("gpu")

	if s.gpu == nil {
		if prev != nil {
			snapshot.GPU = prev.GPU
		}
		return
	}

	if draw, err := s.gpu.PowerDraw(); err == nil {
		snapshot.GPU.PowerDrawW = draw
	} else if prev != nil {
		snapshot.GPU.PowerDrawW = prev.GPU.PowerDrawW
	}

	if util, err := s.gpu.Utilization(); err == nil {
		snapshot.GPU.UtilizationPct = util
	} else if prev != nil {
		snapshot.GPU.UtilizationPct = prev.GPU.UtilizationPct
	}

	if attached, err := s.gpu.ExternalDisplayAttached(); err == nil {
		snapshot.GPU.ExternalDisplay = attached
	} else if prev != nil {
		snapshot.GPU.ExternalDisplay = prev.GPU.ExternalDisplay
	}
}

func (s *Store) gatherPower(wg *sync.WaitGroup, snapshot, prev *SystemContext) {
	defer wg.Done()
	defer recoverSubGather("power")

	if s.platform == nil {
		snapshot.Power.OnAC = true // assume wall power when blind
		return
	}

	if onAC, err := s.platform.OnAC(); err == nil {
		snapshot.Power.OnAC = onAC
	} else if prev != nil {
		snapshot.Power.OnAC = prev.Power.OnAC
	} else {
		snapshot.Power.OnAC = true
	}

	if rate, err := s.platform.DischargeRateW(); err == nil {
		snapshot.Power.DischargeRateW = rate
	} else if prev != nil {
		snapshot.Power.DischargeRateW = prev.Power.DischargeRateW
	}
}

func (s *Store) gatherBattery(wg *sync.WaitGroup, snapshot, prev *SystemContext) {
	defer wg.Done()
	defer recoverSubGather("battery")

	if s.platform == nil {
		snapshot.Battery = BatteryState{Percent: 100, Charging: true}
		return
	}

	if pct, err := s.platform.BatteryPercent(); err == nil {
		snapshot.Battery.Percent = pct
	} else if prev != nil {
		snapshot.Battery.Percent = prev.Battery.Percent
	} else {
		snapshot.Battery.Percent = 100
	}

	if onAC, err := s.platform.OnAC(); err == nil {
		snapshot.Battery.Charging = onAC
	} else if prev != nil {
		snapshot.Battery.Charging = prev.Battery.Charging
	}
}

func (s *Store) gatherMemory(wg *sync.WaitGroup, snapshot, prev *SystemContext) {
	defer wg.Done()
	defer recoverSubGather("memory")

	if s.platform == nil {
		return
	}

	if used, err := s.platform.MemoryUsedPercent(); err == nil {
		snapshot.Memory.UsedPercent = used
	} else if prev != nil {
		snapshot.Memory.UsedPercent = prev.Memory.UsedPercent
	}
}

func recoverSubGather(name string) {
	if r := recover(); r != nil {
		logger.Warn().Interface("panic", r).Str("sensor", name).Msg("Sensor sub-gather panicked, substituting defaults")
	}
}

// ringBuffer is a fixed-capacity sample ring; push evicts the oldest entry
// once full.
type ringBuffer struct {
	samples []Sample
	head    int
	size    int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer{samples: make([]Sample, capacity)}
}

func (r *ringBuffer) push(s Sample) {
	r.samples[r.head] = s
	r.head = (r.head + 1) % len(r.samples)
	if r.size < len(r.samples) {
		r.size++
	}
}

// snapshot returns the retained samples oldest first.
func (r *ringBuffer) snapshot() []Sample {
	out := make([]Sample, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.samples)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.samples[(start+i)%len(r.samples)])
	}

	return out
}

// last returns up to n of the most recent samples, oldest first.
func (r *ringBuffer) last(n int) []Sample {
	all := r.snapshot()
	if len(all) > n {
		all = all[len(all)-n:]
	}

	return all
}
