package types

// Quality is a coarse reliability grade attached to every reading.
type Quality uint8

const (
	// Good: sensor operating normally, data is reliable.
	Good Quality = iota
	// Degraded: usable, but outside the nominal comfort range.
	Degraded
	// Bad: unreliable; treat like missing data.
	Bad
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "good"
	case Degraded:
		return "degraded"
	default:
		return "bad"
	}
}

// Reading is the normalised record flowing from drivers to the aggregator.
// It is immutable once built; TsMs comes from the caller's clock.
type Reading struct {
	SensorType SensorType `json:"sensor_type"`
	Data       Data       `json:"data"`
	TsMs       int64      `json:"ts_ms"`
	Quality    Quality    `json:"quality"`
}

func NewReading(t SensorType, d Data, q Quality, tsMs int64) Reading {
	return Reading{SensorType: t, Data: d, TsMs: tsMs, Quality: q}
}

// IsValid reports whether downstream code may treat the numeric fields as
// ground truth. Bad readings may still carry data for diagnostics.
func (r Reading) IsValid() bool { return r.Quality != Bad }

// Info is static driver metadata; it never changes after construction.
type Info struct {
	Name         string     `json:"name"`
	SensorType   SensorType `json:"sensor_type"`
	Version      string     `json:"version"`
	Manufacturer string     `json:"manufacturer"`
}
