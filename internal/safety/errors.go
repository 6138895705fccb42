package safety

import "codeberg.org/mutker/legionctl/internal/errors"

const (
	ErrUnknownTarget   = errors.ErrorCode("safety_unknown_target")
	ErrOutOfBounds     = errors.ErrorCode("safety_out_of_bounds")
	ErrOverrideActive  = errors.ErrorCode("safety_override_active")
	ErrPlanIncoherent  = errors.ErrorCode("safety_plan_incoherent")
	ErrContextRequired = errors.ErrorCode("safety_context_required")
)
