package sysctx

import "codeberg.org/mutker/legionctl/internal/errors"

const (
	ErrSensorRead    = errors.ErrorCode("sysctx_sensor_read_failed")
	ErrNoHistory     = errors.ErrorCode("sysctx_no_history")
	ErrStoreNotReady = errors.ErrorCode("sysctx_store_not_ready")
)
