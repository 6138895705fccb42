package forecast

import (
	"math"
	"time"

	"codeberg.org/mutker/legionctl/internal/config"
	"codeberg.org/mutker/legionctl/internal/logger"
	"codeberg.org/mutker/legionctl/internal/sysctx"
)

// Forecast horizons. Short feeds emergency decisions, medium proactive
// trimming, long opportunistic relaxation.
const (
	ShortHorizon  = 15 * time.Second
	MediumHorizon = 60 * time.Second
	LongHorizon   = 300 * time.Second
)

const (
	minValidTempC = 0.0
	maxValidTempC = 100.0

	velocityWindow = 5
	accelWindow    = 3

	// Below this velocity the channel is treated as settled and the
	// relaxation model targets the current temperature.
	settledVelocity = 0.05 // °C/s

	accelWeight = 0.5
)

// Prediction is a multi-horizon temperature forecast for one channel.
type Prediction struct {
	Current    float64
	Short      float64 // °C at ShortHorizon
	Medium     float64 // °C at MediumHorizon
	Long       float64 // °C at LongHorizon
	Confidence float64 // [0.5, 1.0]
	Margin     float64 // °C margin of error at current uncertainty
}

// Engine produces temperature forecasts and tracks its own error to
// quantify uncertainty per channel.
type Engine struct {
	cfg config.ForecastConfig
	uq  map[sysctx.Channel]*uncertainty
}

func New(cfg config.ForecastConfig) *Engine {
	uq := make(map[sysctx.Channel]*uncertainty)
	for _, ch := range []sysctx.Channel{sysctx.ChannelCPU, sysctx.ChannelGPU, sysctx.ChannelVRM} {
		uq[ch] = newUncertainty(cfg.EWMAAlpha)
	}

	return &Engine{cfg: cfg, uq: uq}
}

// Forecast projects the channel's temperature across all horizons. With an
// empty history it returns a flat, low-confidence prediction.
func (e *Engine) Forecast(ch sysctx.Channel, history []sysctx.Sample) Prediction {
	if len(history) == 0 {
		return Prediction{Confidence: minConfidence}
	}

	current := history[len(history)-1].Value
	velocity := meanDifference(history, velocityWindow, 1)
	accel := meanDifference(history, accelWindow, 2)

	short := e.shortTerm(current, velocity, accel)
	medium := e.mediumTerm(ch, current, velocity)
	long := e.longTerm(current, short)

	confidence, margin := e.uq[ch].estimate()

	p := Prediction{
		Current:    current,
		Short:      validate(short, current),
		Medium:     validate(medium, current),
		Long:       validate(long, current),
		Confidence: confidence,
		Margin:     margin,
	}

	logger.Debug().
		Str("channel", ch.String()).
		Float64("current", p.Current).
		Float64("short", p.Short).
		Float64("medium", p.Medium).
		Float64("long", p.Long).
		Float64("confidence", p.Confidence).
		Msg("Forecast computed")

	return p
}

// Observe feeds back a realized temperature against an earlier short-term
// prediction, updating the channel's error model.
func (e *Engine) Observe(ch sysctx.Channel, predicted, actual float64) {
	if math.IsNaN(predicted) || math.IsNaN(actual) {
		return
	}
	e.uq[ch].observe(actual - predicted)
}

// Margin returns the channel's current 1σ error estimate. Implements the
// safety validator's uncertainty hook.
func (e *Engine) Margin(ch sysctx.Channel) (float64, bool) {
	u, ok := e.uq[ch]
	if !ok {
		return 0, false
	}

	return u.sigma(), true
}

// shortTerm projects linearly from velocity plus weighted acceleration.
func (e *Engine) shortTerm(current, velocity, accel float64) float64 {
	rate := velocity + accelWeight*accel
	return current + rate*ShortHorizon.Seconds()
}

// mediumTerm follows an exponential relaxation toward the heating ceiling,
// the cooling floor, or the current value when the channel is settled:
// T(t) = T_target − (T_target − T_now)·e^(−t/τ).
func (e *Engine) mediumTerm(ch sysctx.Channel, current, velocity float64) float64 {
	var target float64
	switch {
	case velocity > settledVelocity:
		target = e.cfg.HeatingCeiling
	case velocity < -settledVelocity:
		target = e.cfg.CoolingFloor
	default:
		target = current
	}

	tau := e.tau(ch)
	if tau <= 0 {
		return current
	}

	t := MediumHorizon.Seconds()
	return target - (target-current)*math.Exp(-t/tau)
}

// longTerm damps the short-horizon slope to avoid runaway extrapolation.
func (e *Engine) longTerm(current, short float64) float64 {
	slope := (short - current) / ShortHorizon.Seconds()
	return current + slope*LongHorizon.Seconds()*e.cfg.LongDamping
}

func (e *Engine) tau(ch sysctx.Channel) float64 {
	switch ch {
	case sysctx.ChannelGPU:
		return e.cfg.GPUTauSec
	case sysctx.ChannelVRM:
		return e.cfg.VRMTauSec
	default:
		return e.cfg.CPUTauSec
	}
}

// validate rejects NaN, Infinity and out-of-range projections, replacing
// them with the clamped current temperature. A projection outside [0, 100]
// is a difference artifact (a sensor step blows up the acceleration term),
// and the current reading is the only trustworthy claim left.
func validate(predicted, current float64) float64 {
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) ||
		predicted < minValidTempC || predicted > maxValidTempC {
		return clamp(current, minValidTempC, maxValidTempC)
	}

	return predicted
}

// meanDifference averages the last `window` differences of the given order
// (1 = velocity, 2 = acceleration), normalized per second.
func meanDifference(history []sysctx.Sample, window, order int) float64 {
	diffs := history
	for o := 0; o < order; o++ {
		if len(diffs) < 2 {
			return 0
		}
		next := make([]sysctx.Sample, 0, len(diffs)-1)
		for i := 1; i < len(diffs); i++ {
			dt := diffs[i].At.Sub(diffs[i-1].At).Seconds()
			if dt <= 0 {
				dt = 1
			}
			next = append(next, sysctx.Sample{
				At:    diffs[i].At,
				Value: (diffs[i].Value - diffs[i-1].Value) / dt,
			})
		}
		diffs = next
	}

	if len(diffs) == 0 {
		return 0
	}
	if len(diffs) > window {
		diffs = diffs[len(diffs)-window:]
	}

	var sum float64
	for _, d := range diffs {
		sum += d.Value
	}

	return sum / float64(len(diffs))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
