package hwio

import (
	"context"
	"sync"

	"codeberg.org/mutker/legionctl/internal/errors"
)

// MemTransport is an in-memory register file. Monitor mode uses it when the
// EC port is unavailable; tests use it to script register state.
type MemTransport struct {
	mu     sync.Mutex
	cells  map[Register]uint8
	closed bool
}

func NewMemTransport() *MemTransport {
	return &MemTransport{cells: make(map[Register]uint8)}
}

func (t *MemTransport) Read(_ context.Context, reg Register) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, errors.New().New(ErrTransportClosed)
	}

	return t.cells[reg], nil
}

func (t *MemTransport) Write(_ context.Context, reg Register, value uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New().New(ErrTransportClosed)
	}
	t.cells[reg] = value

	return nil
}

// Preload seeds register state before a run.
func (t *MemTransport) Preload(values map[Register]uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for reg, v := range values {
		t.cells[reg] = v
	}
}

func (t *MemTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true

	return nil
}
