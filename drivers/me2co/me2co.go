// Package me2co drives a Winsen ME2-CO electrochemical carbon monoxide
// module over UART (9600 8N1) in question-and-answer mode.
package me2co

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"altruist-go/errcode"
	"altruist-go/types"
	"altruist-go/x/busx"
	"altruist-go/x/timex"
)

const (
	Name         = "ME2-CO"
	Manufacturer = "Winsen Electronics"
	Version      = "1.0.0"

	BaudRate = 9600
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	ModeWriteTimeout  time.Duration // default 1 s
	ModeSettle        time.Duration // default 100 ms
	QueryWriteTimeout time.Duration // default 500 ms
	ResponseDelay     time.Duration // default 50 ms
	ResponseTimeout   time.Duration // default 1 s
	WarmUp            time.Duration // default 3 s
	Interval          time.Duration // default 30 s
	Clock             clock.Clock
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.ModeWriteTimeout, time.Second)
	def(&c.ModeSettle, 100*time.Millisecond)
	def(&c.QueryWriteTimeout, 500*time.Millisecond)
	def(&c.ResponseDelay, 50*time.Millisecond)
	def(&c.ResponseTimeout, time.Second)
	def(&c.WarmUp, 3*time.Second)
	def(&c.Interval, 30*time.Second)
	c.Clock = timex.OrDefault(c.Clock)
	return c
}

// Device is one ME2-CO module on a serial port. Not safe for concurrent use.
type Device struct {
	port  types.SerialPort
	cfg   Config
	ready bool
	resp  [FrameLen]byte
}

func New(port types.SerialPort, cfg ...Config) *Device {
	var c Config
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return &Device{port: port, cfg: c.withDefaults()}
}

func (d *Device) Info() types.Info {
	return types.Info{Name: Name, SensorType: types.ME2CO, Version: Version, Manufacturer: Manufacturer}
}

func (d *Device) WarmUpTime() time.Duration      { return d.cfg.WarmUp }
func (d *Device) ReadingInterval() time.Duration { return d.cfg.Interval }
func (d *Device) NeedsCalibration() bool         { return false }

// Init switches the module into question-and-answer mode.
func (d *Device) Init(ctx context.Context) error {
	d.ready = false
	if err := d.write(ctx, ModeFrame[:], d.cfg.ModeWriteTimeout); err != nil {
		return errcode.Wrap(errcode.Of(err), "me2co init", err)
	}
	if err := timex.Sleep(ctx, d.cfg.Clock, d.cfg.ModeSettle); err != nil {
		return errcode.Wrap(errcode.Timeout, "me2co init", err)
	}
	d.ready = true
	return nil
}

// Read sends one query and decodes the answer.
func (d *Device) Read(ctx context.Context) (types.Reading, error) {
	if !d.ready {
		return types.Reading{}, errcode.New(errcode.NotInitialized, "me2co read", "init not completed")
	}
	ppm, err := d.Query(ctx)
	if err != nil {
		return types.Reading{}, err
	}
	data := types.Gas{COppm: types.F32(ppm)}
	return types.NewReading(types.ME2CO, data, types.Good, timex.NowMs(d.cfg.Clock)), nil
}

// Query performs the raw question-and-answer exchange.
func (d *Device) Query(ctx context.Context) (float32, error) {
	if f, ok := d.port.(types.SerialFlusher); ok {
		_ = f.Flush()
	}
	if err := d.write(ctx, QueryFrame[:], d.cfg.QueryWriteTimeout); err != nil {
		return 0, errcode.Wrap(errcode.Of(err), "me2co query", err)
	}
	if err := timex.Sleep(ctx, d.cfg.Clock, d.cfg.ResponseDelay); err != nil {
		return 0, errcode.Wrap(errcode.Timeout, "me2co query", err)
	}

	rctx, cancel := d.cfg.Clock.WithTimeout(ctx, d.cfg.ResponseTimeout)
	defer cancel()
	n, err := busx.ReadFull(rctx, d.port, d.resp[:])
	if err != nil {
		if errcode.Is(err, errcode.Timeout) {
			return 0, errcode.New(errcode.Timeout, "me2co response", "short frame")
		}
		return 0, errcode.Wrap(errcode.Of(err), "me2co response", err)
	}
	if n != FrameLen {
		return 0, errcode.New(errcode.Timeout, "me2co response", "short frame")
	}
	return Parse(d.resp)
}

func (d *Device) write(ctx context.Context, p []byte, timeout time.Duration) error {
	wctx, cancel := d.cfg.Clock.WithTimeout(ctx, timeout)
	defer cancel()
	return busx.WriteContext(wctx, d.port, p)
}
