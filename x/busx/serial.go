package busx

import (
	"context"

	"github.com/pkg/errors"

	"altruist-go/errcode"
	"altruist-go/types"
)

// WriteContext writes p to port, giving up with errcode.Timeout when ctx
// expires first. Partial writes are CommunicationErrors.
func WriteContext(ctx context.Context, port types.SerialPort, p []byte) error {
	buf := append([]byte(nil), p...)
	type res struct {
		n   int
		err error
	}
	done := make(chan res, 1)
	go func() {
		n, err := port.Write(buf)
		done <- res{n, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return errcode.Wrap(errcode.CommunicationError, "serial write", r.err)
		}
		if r.n != len(buf) {
			return errcode.New(errcode.CommunicationError, "serial write", "short write")
		}
		return nil
	case <-ctx.Done():
		return errcode.Timeout
	}
}

// ReadFull fills buf from port, concatenating partial reads, until buf is
// full or ctx expires. It returns the number of bytes collected; a short
// count comes with errcode.Timeout.
func ReadFull(ctx context.Context, port types.SerialPort, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := port.RecvSomeContext(ctx, buf[n:])
		n += m
		if n == len(buf) {
			break
		}
		if ctx.Err() != nil {
			return n, errcode.Timeout
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return n, errcode.Wrap(errcode.CommunicationError, "serial read", err)
		}
	}
	return n, nil
}
