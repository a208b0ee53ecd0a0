// Package metrics exports acquisition events as Prometheus series. It is
// host-only; firmware builds run the acquisition loop without an observer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"altruist-go/errcode"
	"altruist-go/services/sensors"
	"altruist-go/types"
)

const namespace = "altruist"

// Metrics implements sensors.Observer.
type Metrics struct {
	reads      *prometheus.CounterVec
	initErrors *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	state      *prometheus.GaugeVec
	value      *prometheus.GaugeVec
	quality    *prometheus.GaugeVec
}

var _ sensors.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_reads_total",
			Help:      "Sensor read attempts by outcome code.",
		}, []string{"sensor", "code"}),
		initErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_init_errors_total",
			Help:      "Failed sensor initialisation attempts by code.",
		}, []string{"sensor", "code"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Readings dropped because the reading channel was full.",
		}, []string{"sensor"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_state",
			Help:      "Acquisition task state (0 uninitialized, 1 initializing, 2 warming up, 3 sampling, 4 backoff).",
		}, []string{"sensor"}),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last reported value per quantity (°C, %RH, hPa, µg/m³, ppm).",
		}, []string{"sensor", "quantity"}),
		quality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_quality",
			Help:      "Quality of the last reading (0 good, 1 degraded, 2 bad).",
		}, []string{"sensor"}),
	}
	reg.MustRegister(m.reads, m.initErrors, m.dropped, m.state, m.value, m.quality)
	return m
}

func (m *Metrics) ReadOK(sensor string, r types.Reading) {
	m.reads.WithLabelValues(sensor, string(errcode.OK)).Inc()
	m.quality.WithLabelValues(sensor).Set(float64(r.Quality))
	for q, v := range quantities(r.Data) {
		m.value.WithLabelValues(sensor, q).Set(v)
	}
}

func (m *Metrics) ReadFailed(sensor string, code errcode.Code) {
	m.reads.WithLabelValues(sensor, string(code)).Inc()
}

func (m *Metrics) InitFailed(sensor string, code errcode.Code) {
	m.initErrors.WithLabelValues(sensor, string(code)).Inc()
}

func (m *Metrics) Dropped(sensor string) { m.dropped.WithLabelValues(sensor).Inc() }

func (m *Metrics) StateChanged(sensor string, s sensors.State) {
	m.state.WithLabelValues(sensor).Set(float64(s))
}

// quantities picks the numeric fields worth a gauge.
func quantities(d types.Data) map[string]float64 {
	out := map[string]float64{}
	set := func(k string, v *float32) {
		if v != nil {
			out[k] = float64(*v)
		}
	}
	switch v := d.(type) {
	case types.Environmental:
		set("temperature", v.Temperature)
		set("humidity", v.Humidity)
		set("pressure", v.Pressure)
		set("gas_resistance", v.GasResistance)
	case types.AirQuality:
		set("pm25", v.PM25)
		set("pm10", v.PM10)
	case types.Gas:
		set("co", v.COppm)
		if v.CO2ppm != nil {
			out["co2"] = float64(*v.CO2ppm)
		}
		set("voc_index", v.VOCIndex)
	case types.Radiation:
		out["dose_rate"] = float64(v.DoseRate)
	case types.Noise:
		out["db_a"] = float64(v.DBA)
	}
	return out
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
