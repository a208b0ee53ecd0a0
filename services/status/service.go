// Package status periodically reports registry health: one log line per
// sensor and a retained snapshot on status/sensors. It also answers
// snapshot requests on status/sensors/get.
package status

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"altruist-go/bus"
	"altruist-go/services/config"
	"altruist-go/services/sensors"
	"altruist-go/x/timex"
)

var (
	topicConfigStatus = config.Topic("status")
	TopicSnapshot     = bus.T("status", "sensors")
	TopicGet          = bus.T("status", "sensors", "get")
)

const DefaultInterval = 10 * time.Second

// Registry is the read side of sensors.Manager.
type Registry interface {
	Snapshot() []sensors.Entry
}

// Snapshot is the payload published on TopicSnapshot.
type Snapshot struct {
	TsMs    int64           `json:"ts_ms"`
	Sensors []sensors.Entry `json:"sensors"`
	Dropped uint64          `json:"dropped"`
}

type Service struct {
	Registry Registry
	// Channel, when set, contributes its drop counter.
	Channel  *sensors.Channel
	Interval time.Duration
	Clock    clock.Clock
	Log      logrus.FieldLogger
}

func (s *Service) snapshot(clk clock.Clock) Snapshot {
	snap := Snapshot{TsMs: timex.NowMs(clk), Sensors: s.Registry.Snapshot()}
	if s.Channel != nil {
		snap.Dropped = s.Channel.Dropped()
	}
	return snap
}

func (s *Service) report(conn *bus.Connection, clk clock.Clock, log logrus.FieldLogger) {
	snap := s.snapshot(clk)
	for _, e := range snap.Sensors {
		log.WithFields(logrus.Fields{
			"sensor":       e.SensorType.Name(),
			"spawned":      e.Spawned,
			"last_reading": e.LastReadingMs,
			"errors":       e.ErrorCount,
		}).Info("sensor status")
	}
	conn.Publish(conn.NewMessage(TopicSnapshot, snap, true))
}

// Run loops until ctx is cancelled, reporting on each tick and reacting to
// config/status updates.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) error {
	clk := timex.OrDefault(s.Clock)
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("service", "status")
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	cfgSub := conn.Subscribe(topicConfigStatus)
	defer conn.Unsubscribe(cfgSub)
	getSub := conn.Subscribe(TopicGet)
	defer conn.Unsubscribe(getSub)

	tick := clk.Ticker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("status service stopping")
			return ctx.Err()
		case <-tick.C:
			s.report(conn, clk, log)
		case msg := <-getSub.Channel():
			conn.Reply(msg, s.snapshot(clk), false)
		case msg := <-cfgSub.Channel():
			if d, ok := intervalOf(msg.Payload); ok && d > 0 && d != interval {
				interval = d
				tick.Reset(d)
				log.WithField("interval", d).Info("status interval changed")
			}
		}
	}
}

// intervalOf accepts the typed config section or a loose map with
// "interval" in seconds.
func intervalOf(p any) (time.Duration, bool) {
	switch v := p.(type) {
	case config.Status:
		return v.Interval, true
	case map[string]any:
		if f, ok := v["interval"].(float64); ok {
			return time.Duration(f * float64(time.Second)), true
		}
	}
	return 0, false
}

// Start runs the service in its own goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go func() { _ = s.Run(ctx, conn) }()
	return nil
}
