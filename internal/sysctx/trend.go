package sysctx

// slopeAndVariance fits a least-squares line through the samples and
// returns its slope in °C/s together with the sample variance in °C².
func slopeAndVariance(samples []Sample) (slope, variance float64) {
	n := len(samples)
	if n < 2 {
		return 0, 0
	}

	t0 := samples[0].At
	var sumT, sumV, sumTT, sumTV float64
	for _, s := range samples {
		t := s.At.Sub(t0).Seconds()
		sumT += t
		sumV += s.Value
		sumTT += t * t
		sumTV += t * s.Value
	}

	fn := float64(n)
	denom := fn*sumTT - sumT*sumT
	if denom != 0 {
		slope = (fn*sumTV - sumT*sumV) / denom
	}

	mean := sumV / fn
	for _, s := range samples {
		d := s.Value - mean
		variance += d * d
	}
	variance /= fn

	return slope, variance
}

// classifyTrend buckets a channel's recent behavior. Variance is checked
// first so sensor noise around a flat line never reads as movement.
func classifyTrend(samples []Sample, risingSlope, coolingSlope, stableVariance float64) Trend {
	if len(samples) < 2 {
		return TrendUnknown
	}

	slope, variance := slopeAndVariance(samples)

	switch {
	case variance < stableVariance:
		return TrendStable
	case slope > risingSlope:
		return TrendRisingRapidly
	case slope < coolingSlope:
		return TrendCooling
	case slope > 0:
		return TrendRising
	default:
		return TrendStable
	}
}
