package engine

import "codeberg.org/mutker/legionctl/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrAlreadyRunning = errors.ErrAlreadyRunning
	ErrControlLoop    = errors.ErrControlLoop
	ErrRestoreFailed  = errors.ErrRestoreDefault
)
