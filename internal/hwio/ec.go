package hwio

import (
	"context"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/logger"
)

// EC handshake ports and command bytes for the Legion embedded controller.
const (
	ecPortCmd  int64 = 0x66
	ecPortData int64 = 0x62

	ecCmdRead  uint8 = 0x80
	ecCmdWrite uint8 = 0x81

	ecStatusOBF uint8 = 0x01 // output buffer full
	ecStatusIBF uint8 = 0x02 // input buffer full
)

const (
	defaultHandshakeTimeout = 20 * time.Millisecond
	defaultRetries          = 3
	defaultRetryBackoff     = 5 * time.Millisecond
	handshakePollInterval   = 50 * time.Microsecond
)

// ECTransport talks to the embedded controller through the legacy 0x62/0x66
// port pair, via /dev/port. One transaction at a time; the handshake state
// machine is not reentrant.
type ECTransport struct {
	port   *os.File
	mu     sync.Mutex
	closed bool
}

// NewECTransport opens /dev/port for register access. Requires CAP_SYS_RAWIO.
func NewECTransport() (*ECTransport, error) {
	errFactory := errors.New()

	port, err := os.OpenFile("/dev/port", os.O_RDWR, 0)
	if err != nil {
		return nil, errFactory.Wrap(ErrPortOpenFailed, err)
	}

	logger.Debug().Msg("EC transport opened")

	return &ECTransport{port: port}, nil
}

func (t *ECTransport) Read(ctx context.Context, reg Register) (uint8, error) {
	errFactory := errors.New()
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, errFactory.New(ErrTransportClosed)
	}

	var lastErr error
	for attempt := 0; attempt <= defaultRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, errFactory.Wrap(errors.ErrTimeout, err)
		}

		value, err := t.readOnce(reg)
		if err == nil {
			return value, nil
		}
		lastErr = err
		time.Sleep(defaultRetryBackoff)
	}

	return 0, errFactory.Wrap(ErrReadTimeout, lastErr)
}

func (t *ECTransport) Write(ctx context.Context, reg Register, value uint8) error {
	errFactory := errors.New()
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errFactory.New(ErrTransportClosed)
	}

	var lastErr error
	for attempt := 0; attempt <= defaultRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errFactory.Wrap(errors.ErrTimeout, err)
		}

		err := t.writeOnce(reg, value)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(defaultRetryBackoff)
	}

	return errFactory.Wrap(ErrWriteTimeout, lastErr)
}

func (t *ECTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	return t.port.Close()
}

func (t *ECTransport) readOnce(reg Register) (uint8, error) {
	if err := t.waitInputClear(); err != nil {
		return 0, err
	}
	if err := t.outb(ecPortCmd, ecCmdRead); err != nil {
		return 0, err
	}
	if err := t.waitInputClear(); err != nil {
		return 0, err
	}
	if err := t.outb(ecPortData, uint8(reg)); err != nil {
		return 0, err
	}
	if err := t.waitOutputFull(); err != nil {
		return 0, err
	}

	return t.inb(ecPortData)
}

func (t *ECTransport) writeOnce(reg Register, value uint8) error {
	if err := t.waitInputClear(); err != nil {
		return err
	}
	if err := t.outb(ecPortCmd, ecCmdWrite); err != nil {
		return err
	}
	if err := t.waitInputClear(); err != nil {
		return err
	}
	if err := t.outb(ecPortData, uint8(reg)); err != nil {
		return err
	}
	if err := t.waitInputClear(); err != nil {
		return err
	}

	return t.outb(ecPortData, value)
}

// waitInputClear spins until the EC has consumed the previous byte.
func (t *ECTransport) waitInputClear() error {
	return t.waitStatus(func(status uint8) bool { return status&ecStatusIBF == 0 })
}

// waitOutputFull spins until the EC has produced the requested byte.
func (t *ECTransport) waitOutputFull() error {
	return t.waitStatus(func(status uint8) bool { return status&ecStatusOBF != 0 })
}

func (t *ECTransport) waitStatus(ready func(uint8) bool) error {
	errFactory := errors.New()
	deadline := time.Now().Add(defaultHandshakeTimeout)

	for time.Now().Before(deadline) {
		status, err := t.inb(ecPortCmd)
		if err != nil {
			return err
		}
		if ready(status) {
			return nil
		}
		time.Sleep(handshakePollInterval)
	}

	return errFactory.New(ErrHandshakeStuck)
}

func (t *ECTransport) inb(port int64) (uint8, error) {
	errFactory := errors.New()
	buf := make([]byte, 1)
	if _, err := t.port.ReadAt(buf, port); err != nil {
		return 0, errFactory.Wrap(ErrPortIOFailed, err)
	}

	return buf[0], nil
}

func (t *ECTransport) outb(port int64, value uint8) error {
	errFactory := errors.New()
	if _, err := t.port.WriteAt([]byte{value}, port); err != nil {
		return errFactory.Wrap(ErrPortIOFailed, err)
	}

	return nil
}
