//go:build !tinygo

package platform

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"altruist-go/errcode"
	"altruist-go/types"
)

// serialPollTimeout bounds each blocking read so context cancellation is
// noticed promptly.
const serialPollTimeout = 50 * time.Millisecond

// Host opens Linux I2C buses through periph and serial ports through
// tarm/serial.
type Host struct {
	mu     sync.Mutex
	i2c    map[string]i2c.BusCloser
	serial map[string]*hostSerial
}

var _ Resources = (*Host)(nil)

// NewHost initialises periph's host drivers.
func NewHost() (*Host, error) {
	state, err := host.Init()
	if err != nil {
		return nil, errcode.Wrap(errcode.HardwareFailure, "platform init", errors.Wrap(err, "periph host init"))
	}
	for _, f := range state.Failed {
		log.WithField("driver", f.D.String()).WithError(f.Err).Debug("periph driver failed to load")
	}
	return &Host{i2c: map[string]i2c.BusCloser{}, serial: map[string]*hostSerial{}}, nil
}

// I2C opens a bus by periph name ("1", "/dev/i2c-1", or "" for the first).
func (h *Host) I2C(id string) (drivers.I2C, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.i2c[id]; ok {
		return b, nil
	}
	b, err := i2creg.Open(id)
	if err != nil {
		return nil, errcode.Wrap(errcode.HardwareFailure, "open i2c", errors.Wrapf(err, "bus %q", id))
	}
	h.i2c[id] = b
	return b, nil
}

// Serial opens a tty at baud (8N1).
func (h *Host) Serial(id string, baud uint32) (types.SerialPort, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.serial[id]; ok {
		return p, nil
	}
	p, err := serial.OpenPort(&serial.Config{Name: id, Baud: int(baud), ReadTimeout: serialPollTimeout})
	if err != nil {
		return nil, errcode.Wrap(errcode.HardwareFailure, "open serial", errors.Wrapf(err, "port %q", id))
	}
	s := &hostSerial{p: p}
	h.serial[id] = s
	return s, nil
}

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for id, b := range h.i2c {
		if err := b.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing i2c %q", id)
		}
	}
	for id, p := range h.serial {
		if err := p.p.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing serial %q", id)
		}
	}
	h.i2c = map[string]i2c.BusCloser{}
	h.serial = map[string]*hostSerial{}
	return first
}

// hostSerial adapts a tarm port to types.SerialPort.
type hostSerial struct {
	p *serial.Port
}

func (s *hostSerial) Write(b []byte) (int, error) { return s.p.Write(b) }

// RecvSomeContext polls with the port read timeout until data arrives or
// ctx ends. A timed-out read surfaces as io.EOF from tarm and is retried.
func (s *hostSerial) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := s.p.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}
}

func (s *hostSerial) Flush() error { return s.p.Flush() }
