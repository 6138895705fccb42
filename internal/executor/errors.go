package executor

import "codeberg.org/mutker/legionctl/internal/errors"

const (
	ErrNoHandler      = errors.ErrorCode("executor_no_handler")
	ErrApplyFailed    = errors.ErrorCode("executor_apply_failed")
	ErrRollbackFailed = errors.ErrorCode("executor_rollback_failed")
	ErrValueKind      = errors.ErrorCode("executor_wrong_value_kind")
)
