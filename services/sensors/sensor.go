// Package sensors is the acquisition framework: the driver contract, the
// bounded reading channel, the registry of active sensors, the per-sensor
// acquisition task and the aggregator draining the channel.
package sensors

import (
	"context"
	"time"

	"altruist-go/types"
)

// DefaultReadingInterval applies to drivers that do not say otherwise.
const DefaultReadingInterval = 30 * time.Second

// Sensor is the contract every driver satisfies. Read must return within a
// bounded time; all waiting inside it is timeout-limited.
type Sensor interface {
	Init(ctx context.Context) error
	Read(ctx context.Context) (types.Reading, error)
	Info() types.Info
}

// Optional timing and calibration hints.
type (
	WarmUpper         interface{ WarmUpTime() time.Duration }
	IntervalHinter    interface{ ReadingInterval() time.Duration }
	CalibrationNeeder interface{ NeedsCalibration() bool }
)

// WarmUpTime returns the sensor's settle delay, or zero.
func WarmUpTime(s Sensor) time.Duration {
	if w, ok := s.(WarmUpper); ok {
		return w.WarmUpTime()
	}
	return 0
}

// ReadingInterval returns the sensor's sampling period, or 30 s.
func ReadingInterval(s Sensor) time.Duration {
	if h, ok := s.(IntervalHinter); ok {
		if d := h.ReadingInterval(); d > 0 {
			return d
		}
	}
	return DefaultReadingInterval
}

func NeedsCalibration(s Sensor) bool {
	if c, ok := s.(CalibrationNeeder); ok {
		return c.NeedsCalibration()
	}
	return false
}
