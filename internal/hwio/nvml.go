package hwio

import (
	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsPerWatt = 1000

// nvmlTelemetry reads the dedicated GPU through NVML.
type nvmlTelemetry struct {
	device      nvml.Device
	initialized bool
}

// NewGPUTelemetry initializes NVML and binds the first dedicated GPU.
func NewGPUTelemetry() (GPUTelemetry, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !isNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if !isNVMLSuccess(ret) {
		_ = nvml.Shutdown()
		return nil, errFactory.Wrap(ErrNVMLDeviceNotFound, newNVMLError(ret))
	}

	if name, ret := device.GetName(); isNVMLSuccess(ret) {
		logger.Info().Msgf("Detected dedicated GPU: %v", name)
	}

	return &nvmlTelemetry{device: device, initialized: true}, nil
}

func (g *nvmlTelemetry) Temperature() (float64, error) {
	errFactory := errors.New()
	if !g.initialized {
		return 0, errFactory.New(ErrNVMLNotInitialized)
	}

	temp, ret := g.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !isNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
	}

	return float64(temp), nil
}

func (g *nvmlTelemetry) PowerDraw() (float64, error) {
	errFactory := errors.New()
	if !g.initialized {
		return 0, errFactory.New(ErrNVMLNotInitialized)
	}

	draw, ret := g.device.GetPowerUsage()
	if !isNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
	}

	return float64(draw) / milliWattsPerWatt, nil
}

func (g *nvmlTelemetry) PowerLimits() (PowerLimits, error) {
	errFactory := errors.New()
	if !g.initialized {
		return PowerLimits{}, errFactory.New(ErrNVMLNotInitialized)
	}

	minLimit, maxLimit, ret := g.device.GetPowerManagementLimitConstraints()
	if !isNVMLSuccess(ret) {
		return PowerLimits{}, errFactory.Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
	}

	def, ret := g.device.GetPowerManagementDefaultLimit()
	if !isNVMLSuccess(ret) {
		return PowerLimits{}, errFactory.Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
	}

	return PowerLimits{
		Min:     int(minLimit / milliWattsPerWatt),
		Max:     int(maxLimit / milliWattsPerWatt),
		Default: int(def / milliWattsPerWatt),
	}, nil
}

func (g *nvmlTelemetry) Utilization() (float64, error) {
	errFactory := errors.New()
	if !g.initialized {
		return 0, errFactory.New(ErrNVMLNotInitialized)
	}

	util, ret := g.device.GetUtilizationRates()
	if !isNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
	}

	return float64(util.Gpu), nil
}

// ExternalDisplayAttached reports whether a display is wired to the
// dedicated GPU. Forcing integrated-only graphics in that state would
// black out the external screen.
func (g *nvmlTelemetry) ExternalDisplayAttached() (bool, error) {
	errFactory := errors.New()
	if !g.initialized {
		return false, errFactory.New(ErrNVMLNotInitialized)
	}

	mode, ret := g.device.GetDisplayActive()
	if !isNVMLSuccess(ret) {
		return false, errFactory.Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
	}

	return mode == nvml.FEATURE_ENABLED, nil
}

func (g *nvmlTelemetry) Shutdown() error {
	errFactory := errors.New()
	if !g.initialized {
		return nil
	}
	g.initialized = false

	if ret := nvml.Shutdown(); !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLShutdownFailed, newNVMLError(ret))
	}

	return nil
}

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e *nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
