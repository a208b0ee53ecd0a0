// Package busx bounds blocking bus transactions with timeouts and maps their
// failures onto sensor error codes.
package busx

import (
	"context"
	"time"

	"tinygo.org/x/drivers"

	"altruist-go/errcode"
)

// DefaultI2CTimeout bounds a single register transaction.
const DefaultI2CTimeout = 100 * time.Millisecond

// I2C adapts a drivers.I2C so that every Tx is bounded by a timeout.
// The read side lands in a private buffer and is copied back only when the
// transaction completed in time, so a late bus never scribbles on r.
type I2C struct {
	bus     drivers.I2C
	timeout time.Duration
}

// Ensure compile-time conformance with drivers.I2C.
var _ drivers.I2C = (*I2C)(nil)

// NewI2C wraps bus. A transaction that times out keeps running in the
// background, so bus must serialise Tx calls itself; the rp2040 owner
// goroutine and periph buses both do.
func NewI2C(bus drivers.I2C, timeout time.Duration) *I2C {
	if timeout <= 0 {
		timeout = DefaultI2CTimeout
	}
	return &I2C{bus: bus, timeout: timeout}
}

func (s *I2C) Timeout() time.Duration { return s.timeout }

// Tx returns errcode.Timeout when the bus does not answer in time and a
// CommunicationError wrapping the bus error otherwise.
func (s *I2C) Tx(addr uint16, w, r []byte) error {
	return s.TxContext(context.Background(), addr, w, r)
}

// TxContext is Tx bounded additionally by ctx.
func (s *I2C) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	wb := append([]byte(nil), w...)
	var rb []byte
	if len(r) > 0 {
		rb = make([]byte, len(r))
	}
	done := make(chan error, 1) // buffered(1); late replies are discarded
	go func() { done <- s.bus.Tx(addr, wb, rb) }()

	t := time.NewTimer(s.timeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			return errcode.Wrap(errcode.CommunicationError, "i2c tx", err)
		}
		copy(r, rb)
		return nil
	case <-t.C:
		return errcode.Timeout
	case <-ctx.Done():
		return errcode.Timeout
	}
}
