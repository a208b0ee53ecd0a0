// Package sds011 drives a Nova Fitness SDS011 laser particulate sensor over
// UART (9600 8N1). The sensor is put into continuous active reporting and
// measurement frames are picked out of the unsolicited stream.
//
// The device keeps its own failure gate: after MaxErrors consecutive
// failures it answers Timeout without touching the port until Cooldown has
// passed since the last failure.
package sds011

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"altruist-go/errcode"
	"altruist-go/types"
	"altruist-go/x/busx"
	"altruist-go/x/timex"
)

const (
	Name         = "SDS011"
	Manufacturer = "Nova Fitness"
	Version      = "1.0.0"

	BaudRate = 9600
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	WriteTimeout   time.Duration // default 1 s
	CommandGap     time.Duration // between init commands, default 100 ms
	Settle         time.Duration // after start, default 3 s
	AcquireTimeout time.Duration // default 2 s
	IdleSleep      time.Duration // between empty reads, default 10 ms
	DrainWindow    time.Duration // per stale-byte read, default 5 ms
	MaxErrors      int           // default 5
	Cooldown       time.Duration // default 60 s
	WarmUp         time.Duration // default 15 s
	Interval       time.Duration // default 30 s
	Clock          clock.Clock
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.WriteTimeout, time.Second)
	def(&c.CommandGap, 100*time.Millisecond)
	def(&c.Settle, 3*time.Second)
	def(&c.AcquireTimeout, 2*time.Second)
	def(&c.IdleSleep, 10*time.Millisecond)
	def(&c.DrainWindow, 5*time.Millisecond)
	def(&c.Cooldown, 60*time.Second)
	def(&c.WarmUp, 15*time.Second)
	def(&c.Interval, 30*time.Second)
	if c.MaxErrors <= 0 {
		c.MaxErrors = 5
	}
	c.Clock = timex.OrDefault(c.Clock)
	return c
}

// Device is one SDS011 on a serial port. Not safe for concurrent use.
type Device struct {
	port types.SerialPort
	cfg  Config

	ready    bool
	running  bool
	errCount int
	lastErr  time.Time

	scan Scanner
	rx   [32]byte
}

func New(port types.SerialPort, cfg ...Config) *Device {
	var c Config
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return &Device{port: port, cfg: c.withDefaults()}
}

func (d *Device) Info() types.Info {
	return types.Info{Name: Name, SensorType: types.SDS011, Version: Version, Manufacturer: Manufacturer}
}

func (d *Device) WarmUpTime() time.Duration      { return d.cfg.WarmUp }
func (d *Device) ReadingInterval() time.Duration { return d.cfg.Interval }
func (d *Device) NeedsCalibration() bool         { return false }

// Running reports whether the fan and laser were last commanded on.
func (d *Device) Running() bool { return d.running }

// Errors returns the driver's consecutive failure count.
func (d *Device) Errors() int { return d.errCount }

// Init selects continuous active reporting and parks the sensor asleep.
func (d *Device) Init(ctx context.Context) error {
	d.ready = false
	if err := d.send(ctx, ContinuousFrame); err != nil {
		return errcode.Wrap(errcode.Of(err), "sds011 init", err)
	}
	if err := timex.Sleep(ctx, d.cfg.Clock, d.cfg.CommandGap); err != nil {
		return errcode.Wrap(errcode.Timeout, "sds011 init", err)
	}
	if err := d.send(ctx, ActiveReportFrame); err != nil {
		return errcode.Wrap(errcode.Of(err), "sds011 init", err)
	}
	if err := timex.Sleep(ctx, d.cfg.Clock, d.cfg.CommandGap); err != nil {
		return errcode.Wrap(errcode.Timeout, "sds011 init", err)
	}
	if err := d.Stop(ctx); err != nil {
		return err
	}
	d.ready = true
	return nil
}

// Stop puts the sensor to sleep.
func (d *Device) Stop(ctx context.Context) error {
	if err := d.send(ctx, StopFrame); err != nil {
		return errcode.Wrap(errcode.Of(err), "sds011 stop", err)
	}
	d.running = false
	return nil
}

// Read returns the next valid measurement from the stream.
func (d *Device) Read(ctx context.Context) (types.Reading, error) {
	if !d.ready {
		return types.Reading{}, errcode.New(errcode.NotInitialized, "sds011 read", "init not completed")
	}
	now := d.cfg.Clock.Now()
	if d.errCount >= d.cfg.MaxErrors {
		if now.Sub(d.lastErr) < d.cfg.Cooldown {
			return types.Reading{}, errcode.New(errcode.Timeout, "sds011 read", "cooling down")
		}
		d.errCount = 0
	}

	s, err := d.acquire(ctx)
	if err != nil {
		d.errCount++
		d.lastErr = d.cfg.Clock.Now()
		return types.Reading{}, err
	}
	d.errCount = 0
	data := types.AirQuality{PM25: types.F32(s.PM25), PM10: types.F32(s.PM10)}
	return types.NewReading(types.SDS011, data, Grade(s), timex.NowMs(d.cfg.Clock)), nil
}

// Grade maps concentrations to a quality band. A decoded high reading is
// still Good: the sensor works, the air is bad.
func Grade(s Sample) types.Quality {
	switch {
	case s.PM25 < 25 && s.PM10 < 50:
		return types.Good
	case s.PM25 < 75 && s.PM10 < 150:
		return types.Degraded
	default:
		return types.Good
	}
}

func (d *Device) acquire(ctx context.Context) (Sample, error) {
	if !d.running {
		if err := d.send(ctx, StartFrame); err != nil {
			return Sample{}, errcode.Wrap(errcode.Of(err), "sds011 start", err)
		}
		d.running = true
		if err := timex.Sleep(ctx, d.cfg.Clock, d.cfg.Settle); err != nil {
			return Sample{}, errcode.Wrap(errcode.Timeout, "sds011 settle", err)
		}
	}
	d.discardStale(ctx)

	actx, cancel := d.cfg.Clock.WithTimeout(ctx, d.cfg.AcquireTimeout)
	defer cancel()
	d.scan.Reset()
	for {
		n, err := d.port.RecvSomeContext(actx, d.rx[:])
		for _, b := range d.rx[:n] {
			if d.scan.Feed(b) {
				return DecodePayload(d.scan.Payload())
			}
		}
		if actx.Err() != nil {
			return Sample{}, errcode.New(errcode.Timeout, "sds011 read", "no valid frame")
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return Sample{}, errcode.Wrap(errcode.CommunicationError, "sds011 read", err)
		}
		if n == 0 {
			if timex.Sleep(actx, d.cfg.Clock, d.cfg.IdleSleep) != nil {
				return Sample{}, errcode.New(errcode.Timeout, "sds011 read", "no valid frame")
			}
		}
	}
}

// discardStale drops whatever the port buffered since the last read so the
// next frame is fresh.
func (d *Device) discardStale(ctx context.Context) {
	if f, ok := d.port.(types.SerialFlusher); ok && f.Flush() == nil {
		return
	}
	for i := 0; i < 64; i++ {
		rctx, cancel := d.cfg.Clock.WithTimeout(ctx, d.cfg.DrainWindow)
		n, err := d.port.RecvSomeContext(rctx, d.rx[:])
		cancel()
		if n == 0 || (err != nil && rctx.Err() == nil) {
			return
		}
	}
}

func (d *Device) send(ctx context.Context, f [CommandLen]byte) error {
	wctx, cancel := d.cfg.Clock.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()
	return busx.WriteContext(wctx, d.port, f[:])
}
