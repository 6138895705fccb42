package forecast

import (
	"math"
	"sync"
)

const (
	errorQueueSize = 50

	// Variance clamp keeps a few wild samples from exploding the margin
	// and a quiet stretch from shrinking it to nothing.
	minVariance = 0.01
	maxVariance = 100.0

	// Margin multiplier: widened for small samples, converging to the
	// 95% normal quantile as evidence accumulates.
	smallSampleMultiplier = 2.33
	normalMultiplier      = 1.96
	multiplierSettleCount = 30

	minConfidence = 0.5
	maxConfidence = 1.0
)

// uncertainty tracks one channel's forecast error with an EWMA-smoothed
// variance estimate.
type uncertainty struct {
	mu       sync.Mutex
	alpha    float64
	variance float64
	queue    []float64
	seen     int
	primed   bool
}

func newUncertainty(alpha float64) *uncertainty {
	return &uncertainty{alpha: alpha, variance: minVariance}
}

func (u *uncertainty) observe(err float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.queue = append(u.queue, err)
	if len(u.queue) > errorQueueSize {
		u.queue = u.queue[1:]
	}
	u.seen++

	sq := err * err
	if !u.primed {
		u.variance = sq
		u.primed = true
	} else {
		u.variance = u.alpha*sq + (1-u.alpha)*u.variance
	}
	u.variance = clamp(u.variance, minVariance, maxVariance)
}

// sigma returns the current standard error estimate in °C.
func (u *uncertainty) sigma() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return math.Sqrt(u.variance)
}

// estimate derives confidence and margin of error from the variance.
func (u *uncertainty) estimate() (confidence, margin float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	confidence = minConfidence + (maxConfidence-minConfidence)/(1+u.variance)
	confidence = clamp(confidence, minConfidence, maxConfidence)

	margin = u.multiplierLocked() * math.Sqrt(u.variance)

	return confidence, margin
}

// multiplierLocked widens the margin for thin evidence and converges to
// 1.96 once enough error samples have been seen.
func (u *uncertainty) multiplierLocked() float64 {
	if u.seen >= multiplierSettleCount {
		return normalMultiplier
	}

	frac := float64(u.seen) / float64(multiplierSettleCount)
	return smallSampleMultiplier - (smallSampleMultiplier-normalMultiplier)*frac
}
