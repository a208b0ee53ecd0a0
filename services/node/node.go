// Package node assembles the sensor node: it builds drivers from the
// configuration, registers them, runs one acquisition task per sensor, the
// aggregator and the status service, all sharing one reading channel.
package node

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"altruist-go/bus"
	"altruist-go/drivers/bme280"
	"altruist-go/drivers/me2co"
	"altruist-go/drivers/sds011"
	"altruist-go/platform"
	"altruist-go/services/config"
	"altruist-go/services/sensors"
	"altruist-go/services/status"
	"altruist-go/x/timex"
)

const busQueueLen = 16

// BuildSensors constructs every enabled driver. A sensor whose bus cannot
// be opened is left out; the returned error lists all such failures.
func BuildSensors(cfg config.Config, res platform.Resources, clk clock.Clock) ([]sensors.Sensor, error) {
	clk = timex.OrDefault(clk)
	var out []sensors.Sensor
	var errs []error

	if c := cfg.Sensors.BME280; c.Enabled {
		b, err := res.I2C(c.Bus)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "bme280"))
		} else {
			out = append(out, bme280.New(b, bme280.Config{Addresses: c.Addresses, Clock: clk}))
		}
	}
	if c := cfg.Sensors.SDS011; c.Enabled {
		p, err := res.Serial(c.Port, baudOr(c.Baud, sds011.BaudRate))
		if err != nil {
			errs = append(errs, errors.Wrap(err, "sds011"))
		} else {
			out = append(out, sds011.New(p, sds011.Config{Clock: clk}))
		}
	}
	if c := cfg.Sensors.ME2CO; c.Enabled {
		p, err := res.Serial(c.Port, baudOr(c.Baud, me2co.BaudRate))
		if err != nil {
			errs = append(errs, errors.Wrap(err, "me2co"))
		} else {
			out = append(out, me2co.New(p, me2co.Config{Clock: clk}))
		}
	}
	return out, stderrors.Join(errs...)
}

func baudOr(b, def int) uint32 {
	if b > 0 {
		return uint32(b)
	}
	return uint32(def)
}

// Options carries the ambient collaborators. All fields are optional.
type Options struct {
	Bus      *bus.Bus
	Clock    clock.Clock
	Log      logrus.FieldLogger
	Observer sensors.Observer
}

// Node owns the reading channel, the registry and the tasks.
type Node struct {
	cfg     config.Config
	sensors []sensors.Sensor
	bus     *bus.Bus
	clock   clock.Clock
	log     logrus.FieldLogger
	obs     sensors.Observer

	mgr *sensors.Manager
	ch  *sensors.Channel

	mu    sync.Mutex
	tasks []*sensors.Task
}

func New(cfg config.Config, list []sensors.Sensor, opts Options) *Node {
	if opts.Bus == nil {
		opts.Bus = bus.NewBus(busQueueLen)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	n := &Node{
		cfg:     cfg,
		sensors: list,
		bus:     opts.Bus,
		clock:   timex.OrDefault(opts.Clock),
		log:     opts.Log,
		obs:     opts.Observer,
		mgr:     sensors.NewManager(),
	}
	n.ch = sensors.NewChannel(cfg.Channel.Capacity, n.log, n.obs)
	return n
}

func (n *Node) Bus() *bus.Bus             { return n.bus }
func (n *Node) Manager() *sensors.Manager { return n.mgr }
func (n *Node) Channel() *sensors.Channel { return n.ch }

// Tasks returns the tasks spawned so far.
func (n *Node) Tasks() []*sensors.Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*sensors.Task(nil), n.tasks...)
}

// Run blocks until ctx is cancelled and every goroutine has returned.
func (n *Node) Run(ctx context.Context) error {
	conn := n.bus.NewConnection("node")
	defer conn.Disconnect()
	if err := config.NewService(n.cfg).Start(ctx, conn); err != nil {
		return err
	}

	var wg sync.WaitGroup
	goRun := func(name string, f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx); err != nil && ctx.Err() == nil {
				n.log.WithError(err).WithField("service", name).Error("stopped unexpectedly")
			}
		}()
	}

	tcfg := sensors.TaskConfig{
		InitRetryDelay:   n.cfg.Loop.InitRetryDelay,
		BackoffThreshold: n.cfg.Loop.BackoffThreshold,
		BackoffDelay:     n.cfg.Loop.BackoffDelay,
		Clock:            n.clock,
		Log:              n.log,
		Observer:         n.obs,
	}
	for _, s := range n.sensors {
		info := s.Info()
		// registration precedes spawn
		if err := n.mgr.Register(info.SensorType); err != nil {
			n.log.WithError(err).WithField("sensor", info.Name).Warn("not starting sensor")
			continue
		}
		t := sensors.NewTask(s, n.ch, n.mgr, tcfg)
		n.mu.Lock()
		n.tasks = append(n.tasks, t)
		n.mu.Unlock()
		goRun(info.Name, t.Run)
		n.mgr.MarkTaskSpawned(info.SensorType)
	}

	agg := sensors.NewAggregator(n.ch, n.bus.NewConnection("aggregator"), n.log)
	goRun("aggregator", agg.Run)

	st := &status.Service{Registry: n.mgr, Channel: n.ch, Interval: n.cfg.Status.Interval, Clock: n.clock, Log: n.log}
	stConn := n.bus.NewConnection("status")
	goRun("status", func(ctx context.Context) error { return st.Run(ctx, stConn) })

	n.log.WithFields(logrus.Fields{"device": n.cfg.Device, "sensors": len(n.Tasks())}).Info("node running")
	<-ctx.Done()
	wg.Wait()
	n.log.Info("node stopped")
	return nil
}
