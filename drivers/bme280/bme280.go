// Package bme280 drives a Bosch BME280 temperature/humidity/pressure sensor
// over I2C in forced mode.
//
//	d := bme280.New(bus)
//	if err := d.Init(ctx); err != nil { ... }
//	r, err := d.Read(ctx)
//
// Every register transaction is bounded by Config.TxTimeout. Compensation
// uses the datasheet integer algorithms; only the final scaling is float.
package bme280

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"tinygo.org/x/drivers"

	"altruist-go/errcode"
	"altruist-go/types"
	"altruist-go/x/busx"
	"altruist-go/x/mathx"
	"altruist-go/x/timex"
)

const (
	Name         = "BME280"
	Manufacturer = "Bosch"
	Version      = "1.0.0"
)

// Accepted output ranges. Values outside become nil in the reading.
const (
	MinCelsius = -40
	MaxCelsius = 85
	MinRH      = 0
	MaxRH      = 100
	MinHPa     = 300
	MaxHPa     = 1100
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Addresses are probed in order. Default 0x76 then 0x77.
	Addresses []uint16
	// TxTimeout bounds each register transaction. Default 100 ms.
	TxTimeout time.Duration
	// ConversionWait is the delay between trigger and burst read. Default 50 ms.
	ConversionWait time.Duration
	// WarmUp defaults to 2 s.
	WarmUp time.Duration
	// Interval defaults to 30 s.
	Interval time.Duration
	// Clock stamps readings and drives sleeps. Default wall clock.
	Clock clock.Clock
}

func (c Config) withDefaults() Config {
	if len(c.Addresses) == 0 {
		c.Addresses = []uint16{AddressPrimary, AddressSecondary}
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = busx.DefaultI2CTimeout
	}
	if c.ConversionWait <= 0 {
		c.ConversionWait = 50 * time.Millisecond
	}
	if c.WarmUp <= 0 {
		c.WarmUp = 2 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	c.Clock = timex.OrDefault(c.Clock)
	return c
}

// Device is a BME280 on one I2C bus. Not safe for concurrent use.
type Device struct {
	bus  *busx.I2C
	cfg  Config
	addr uint16

	calib Calibration
	ready bool
	buf   [calibTPLen]byte
}

// New creates a Device; it does not touch the bus.
func New(bus drivers.I2C, cfg ...Config) *Device {
	var c Config
	if len(cfg) > 0 {
		c = cfg[0]
	}
	c = c.withDefaults()
	return &Device{bus: busx.NewI2C(bus, c.TxTimeout), cfg: c}
}

// Address returns the address found by the last successful Init, or 0.
func (d *Device) Address() uint16 { return d.addr }

// Calibration returns the trimming parameters read by Init.
func (d *Device) Calibration() Calibration { return d.calib }

func (d *Device) Info() types.Info {
	return types.Info{Name: Name, SensorType: types.BME280, Version: Version, Manufacturer: Manufacturer}
}

func (d *Device) WarmUpTime() time.Duration      { return d.cfg.WarmUp }
func (d *Device) ReadingInterval() time.Duration { return d.cfg.Interval }
func (d *Device) NeedsCalibration() bool         { return false }

// Init locates the chip, loads calibration and programs the control
// registers. It may be called again after a failure.
func (d *Device) Init(ctx context.Context) error {
	d.ready = false
	addr, err := d.Probe(ctx)
	if err != nil {
		return err
	}
	d.addr = addr

	tp := d.buf[:calibTPLen]
	if err := d.readReg(ctx, regCalibTP, tp); err != nil {
		return annotate("bme280 read calibration", err)
	}
	d.calib.parseTP(tp)

	var h1 [1]byte
	if err := d.readReg(ctx, regCalibH1, h1[:]); err != nil {
		return annotate("bme280 read calibration", err)
	}
	h := d.buf[:calibHLen]
	if err := d.readReg(ctx, regCalibH2, h); err != nil {
		return annotate("bme280 read calibration", err)
	}
	d.calib.parseH(h1[0], h)

	// ctrl_hum only latches on the following ctrl_meas write.
	for _, w := range [][2]byte{
		{regCtrlHum, osrsH1x},
		{regConfig, configValue},
		{regCtrlMeas, ctrlMeasForced},
	} {
		if err := d.writeReg(ctx, w[0], w[1]); err != nil {
			return annotate("bme280 configure", err)
		}
	}
	d.ready = true
	return nil
}

// Probe returns the first configured address answering with the BME280
// chip ID. Exhausting the list is a HardwareFailure.
func (d *Device) Probe(ctx context.Context) (uint16, error) {
	var id [1]byte
	for _, a := range d.cfg.Addresses {
		if err := d.bus.TxContext(ctx, a, []byte{regChipID}, id[:]); err != nil {
			if ctx.Err() != nil {
				return 0, errcode.Wrap(errcode.Timeout, "bme280 probe", ctx.Err())
			}
			continue
		}
		if id[0] == ChipID {
			return a, nil
		}
	}
	return 0, errcode.New(errcode.HardwareFailure, "bme280 probe", "no chip at any address")
}

// Read triggers one forced conversion and returns the compensated sample.
func (d *Device) Read(ctx context.Context) (types.Reading, error) {
	if !d.ready {
		return types.Reading{}, errcode.New(errcode.NotInitialized, "bme280 read", "init not completed")
	}
	m, err := d.Measure(ctx)
	if err != nil {
		return types.Reading{}, err
	}
	env, q := Classify(m)
	return types.NewReading(types.BME280, env, q, timex.NowMs(d.cfg.Clock)), nil
}

// Measure performs trigger, wait and burst read without range validation.
func (d *Device) Measure(ctx context.Context) (Measurement, error) {
	if err := d.writeReg(ctx, regCtrlMeas, ctrlMeasForced); err != nil {
		return Measurement{}, annotate("bme280 trigger", err)
	}
	if err := timex.Sleep(ctx, d.cfg.Clock, d.cfg.ConversionWait); err != nil {
		return Measurement{}, errcode.Wrap(errcode.Timeout, "bme280 conversion", err)
	}
	b := d.buf[:measurementSz]
	if err := d.readReg(ctx, regPressMSB, b); err != nil {
		return Measurement{}, annotate("bme280 read data", err)
	}
	return d.calib.Compensate(decodeRaw(b)), nil
}

// Classify range-checks each field. Quality is Good only when all three
// fields survive.
func Classify(m Measurement) (types.Environmental, types.Quality) {
	var env types.Environmental
	if t := m.Celsius(); mathx.Between(t, MinCelsius, MaxCelsius) {
		env.Temperature = types.F32(t)
	}
	if h := m.RelHumidity(); mathx.Between(h, MinRH, MaxRH) {
		env.Humidity = types.F32(h)
	}
	if p := m.HectoPascal(); mathx.Between(p, MinHPa, MaxHPa) {
		env.Pressure = types.F32(p)
	}
	if env.Temperature != nil && env.Humidity != nil && env.Pressure != nil {
		return env, types.Good
	}
	return env, types.Bad
}

func (d *Device) readReg(ctx context.Context, reg byte, r []byte) error {
	return d.bus.TxContext(ctx, d.addr, []byte{reg}, r)
}

func (d *Device) writeReg(ctx context.Context, reg, v byte) error {
	return d.bus.TxContext(ctx, d.addr, []byte{reg, v}, nil)
}

// annotate keeps the bus error's code and adds the driver operation.
func annotate(op string, err error) error {
	return errcode.Wrap(errcode.Of(err), op, err)
}
