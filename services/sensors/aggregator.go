package sensors

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"altruist-go/bus"
	"altruist-go/types"
)

// ValueTopic is where the aggregator publishes a reading:
// sensors/<data-kind>/<sensor-name>/value.
func ValueTopic(r types.Reading) bus.Topic {
	kind := "unknown"
	if r.Data != nil {
		kind = string(r.Data.Kind())
	}
	return bus.T("sensors", kind, r.SensorType.Name(), "value")
}

// Aggregator is the single consumer of the reading channel.
type Aggregator struct {
	in   *Channel
	conn *bus.Connection
	log  logrus.FieldLogger

	processed atomic.Uint64
	invalid   atomic.Uint64
}

// NewAggregator drains in. conn may be nil, in which case readings are only
// logged.
func NewAggregator(in *Channel, conn *bus.Connection, log logrus.FieldLogger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{in: in, conn: conn, log: log.WithField("service", "aggregator")}
}

// Run receives until ctx ends.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		r, err := a.in.Receive(ctx)
		if err != nil {
			return err
		}
		a.Handle(r)
	}
}

// Handle renders one reading and forwards it on the bus.
func (a *Aggregator) Handle(r types.Reading) {
	a.processed.Add(1)
	f := Fields(r.Data)
	f["sensor"] = r.SensorType.Name()
	f["quality"] = r.Quality.String()
	f["ts_ms"] = r.TsMs

	if !r.IsValid() {
		a.invalid.Add(1)
		a.log.WithFields(f).Warn("unreliable reading")
	} else {
		a.log.WithFields(f).Info("reading")
	}
	if a.conn != nil {
		a.conn.Publish(a.conn.NewMessage(ValueTopic(r), r, true))
	}
}

func (a *Aggregator) Processed() uint64 { return a.processed.Load() }
func (a *Aggregator) Invalid() uint64   { return a.invalid.Load() }

// Fields flattens the populated fields of d for logging. Absent optional
// values are left out.
func Fields(d types.Data) logrus.Fields {
	f := logrus.Fields{}
	opt := func(k string, v *float32) {
		if v != nil {
			f[k] = *v
		}
	}
	switch v := d.(type) {
	case types.Environmental:
		opt("temperature_c", v.Temperature)
		opt("humidity_pct", v.Humidity)
		opt("pressure_hpa", v.Pressure)
		opt("gas_resistance_ohm", v.GasResistance)
	case types.AirQuality:
		opt("pm25_ugm3", v.PM25)
		opt("pm10_ugm3", v.PM10)
	case types.Gas:
		opt("co_ppm", v.COppm)
		if v.CO2ppm != nil {
			f["co2_ppm"] = *v.CO2ppm
		}
		opt("voc_index", v.VOCIndex)
	case types.Radiation:
		f["dose_rate_usvh"] = v.DoseRate
		opt("total_dose_usv", v.TotalDose)
	case types.Noise:
		f["db_a"] = v.DBA
		opt("db_c", v.DBC)
	case types.Location:
		f["latitude"] = v.Latitude
		f["longitude"] = v.Longitude
		opt("altitude_m", v.Altitude)
		if v.Satellites != nil {
			f["satellites"] = *v.Satellites
		}
	case types.Analog:
		f["voltage"] = v.Voltage
		f["raw"] = v.RawValue
		opt("converted", v.ConvertedValue)
		if v.Units != "" {
			f["units"] = v.Units
		}
	case nil:
		f["data"] = "none"
	}
	return f
}
