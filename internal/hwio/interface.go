package hwio

import "context"

// Register addresses an embedded-controller byte cell.
type Register uint8

// Transport provides register-level access to the embedded controller.
// Implementations own their retry and timeout policy; callers only pass a
// context for cancellation between attempts.
type Transport interface {
	Read(ctx context.Context, reg Register) (uint8, error)
	Write(ctx context.Context, reg Register, value uint8) error
	Close() error
}

// GPUTelemetry reads the dedicated GPU through the vendor driver.
type GPUTelemetry interface {
	Temperature() (float64, error)
	PowerDraw() (float64, error)
	PowerLimits() (PowerLimits, error)
	Utilization() (float64, error)
	ExternalDisplayAttached() (bool, error)
	Shutdown() error
}

// PowerLimits describes the dedicated GPU power envelope in watts.
type PowerLimits struct {
	Min, Max, Default int
}

// Narrow tightens a configured watt range to the device envelope. An
// unusable device envelope, or one that would leave no valid range, keeps
// the configured bounds.
func (l PowerLimits) Narrow(minW, maxW int) (int, int) {
	if l.Min <= 0 || l.Max <= 0 || l.Min > l.Max {
		return minW, maxW
	}

	lo, hi := minW, maxW
	if l.Min > lo {
		lo = l.Min
	}
	if l.Max < hi {
		hi = l.Max
	}
	if lo > hi {
		return minW, maxW
	}
	return lo, hi
}
