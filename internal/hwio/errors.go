package hwio

import "codeberg.org/mutker/legionctl/internal/errors"

const (
	// Transport errors
	ErrPortOpenFailed  = errors.ErrorCode("hwio_port_open_failed")
	ErrPortIOFailed    = errors.ErrorCode("hwio_port_io_failed")
	ErrHandshakeStuck  = errors.ErrorCode("hwio_handshake_stuck")
	ErrReadTimeout     = errors.ErrorCode("hwio_read_timeout")
	ErrWriteTimeout    = errors.ErrorCode("hwio_write_timeout")
	ErrTransportClosed = errors.ErrorCode("hwio_transport_closed")

	// GPU telemetry errors
	ErrNVMLInitFailed     = errors.ErrorCode("hwio_nvml_init_failed")
	ErrNVMLShutdownFailed = errors.ErrorCode("hwio_nvml_shutdown_failed")
	ErrNVMLNotInitialized = errors.ErrorCode("hwio_nvml_not_initialized")
	ErrNVMLDeviceNotFound = errors.ErrorCode("hwio_nvml_device_not_found")
	ErrNVMLQueryFailed    = errors.ErrorCode("hwio_nvml_query_failed")
)
