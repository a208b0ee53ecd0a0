package sensors

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"altruist-go/errcode"
	"altruist-go/types"
	"altruist-go/x/timex"
)

// State is the lifecycle position of an acquisition task.
type State uint32

const (
	StateUninitialized State = iota
	StateInitializing
	StateWarmingUp
	StateSampling
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateWarmingUp:
		return "warming_up"
	case StateSampling:
		return "sampling"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TaskConfig controls the acquisition loop. All fields are optional.
type TaskConfig struct {
	// InitRetryDelay separates Init attempts. Default 5 s.
	InitRetryDelay time.Duration
	// BackoffThreshold: the loop backs off once consecutive failures exceed
	// it. Default 3.
	BackoffThreshold int
	// BackoffDelay replaces the interval sleep while backing off. Default 60 s.
	BackoffDelay time.Duration
	Clock        clock.Clock
	Log          logrus.FieldLogger
	Observer     Observer
}

func (c TaskConfig) withDefaults() TaskConfig {
	if c.InitRetryDelay <= 0 {
		c.InitRetryDelay = 5 * time.Second
	}
	if c.BackoffThreshold <= 0 {
		c.BackoffThreshold = 3
	}
	if c.BackoffDelay <= 0 {
		c.BackoffDelay = 60 * time.Second
	}
	c.Clock = timex.OrDefault(c.Clock)
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	c.Observer = orNop(c.Observer)
	return c
}

// Task drives one sensor: init with retry, warm-up, then sampling with
// backoff. It is the only caller of its sensor.
type Task struct {
	sensor Sensor
	out    *Channel
	mgr    *Manager
	cfg    TaskConfig
	info   types.Info
	log    logrus.FieldLogger

	state    atomic.Uint32
	errs     atomic.Int32
	attempts atomic.Uint32
}

// NewTask binds s to the shared channel and registry. mgr may be nil.
func NewTask(s Sensor, out *Channel, mgr *Manager, cfg TaskConfig) *Task {
	cfg = cfg.withDefaults()
	info := s.Info()
	return &Task{
		sensor: s,
		out:    out,
		mgr:    mgr,
		cfg:    cfg,
		info:   info,
		log:    cfg.Log.WithField("sensor", info.Name),
	}
}

func (t *Task) Info() types.Info { return t.info }
func (t *Task) State() State     { return State(t.state.Load()) }

// ConsecutiveErrors is the loop's own failure counter.
func (t *Task) ConsecutiveErrors() int { return int(t.errs.Load()) }

// InitAttempts counts Init calls so far.
func (t *Task) InitAttempts() int { return int(t.attempts.Load()) }

func (t *Task) setState(s State) {
	if State(t.state.Swap(uint32(s))) != s {
		t.cfg.Observer.StateChanged(t.info.Name, s)
	}
}

// Run loops until ctx ends and then returns ctx.Err(). Sensor failures
// never end the loop.
func (t *Task) Run(ctx context.Context) error {
	if err := t.initialize(ctx); err != nil {
		return err
	}
	if w := WarmUpTime(t.sensor); w > 0 {
		t.setState(StateWarmingUp)
		t.log.WithField("warm_up", w).Info("warming up")
		if err := t.sleep(ctx, w); err != nil {
			return err
		}
	}

	interval := ReadingInterval(t.sensor)
	t.setState(StateSampling)
	t.log.WithField("interval", interval).Info("sampling")
	for {
		delay := interval
		if t.sample(ctx) {
			t.setState(StateBackoff)
			t.log.WithField("backoff", t.cfg.BackoffDelay).Warn("too many consecutive errors, backing off")
			delay = t.cfg.BackoffDelay
		}
		if err := t.sleep(ctx, delay); err != nil {
			return err
		}
		t.setState(StateSampling)
	}
}

func (t *Task) initialize(ctx context.Context) error {
	t.setState(StateInitializing)
	for {
		t.attempts.Add(1)
		err := t.sensor.Init(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		code := errcode.Of(err)
		t.cfg.Observer.InitFailed(t.info.Name, code)
		t.log.WithError(err).WithField("code", code).Warn("init failed, retrying")
		if err := t.sleep(ctx, t.cfg.InitRetryDelay); err != nil {
			return err
		}
	}
	t.log.WithFields(logrus.Fields{
		"manufacturer": t.info.Manufacturer,
		"version":      t.info.Version,
	}).Info("initialized")
	if NeedsCalibration(t.sensor) {
		t.log.Warn("sensor reports it needs calibration")
	}
	return nil
}

// sample performs one read and reports whether the loop must back off.
func (t *Task) sample(ctx context.Context) bool {
	r, err := t.sensor.Read(ctx)
	now := timex.NowMs(t.cfg.Clock)
	if err == nil {
		t.errs.Store(0)
		t.updateStats(now, false)
		t.cfg.Observer.ReadOK(t.info.Name, r)
		t.out.TrySend(r)
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	n := t.errs.Add(1)
	t.updateStats(now, true)
	code := errcode.Of(err)
	t.cfg.Observer.ReadFailed(t.info.Name, code)
	l := t.log.WithError(err).WithFields(logrus.Fields{"code": code, "consecutive": n})
	if code == errcode.NotInitialized {
		l.Error("read before init completed")
	} else {
		l.Warn("read failed")
	}
	return int(n) > t.cfg.BackoffThreshold
}

func (t *Task) updateStats(now int64, hadError bool) {
	if t.mgr != nil {
		t.mgr.UpdateSensorStats(t.info.SensorType, now, hadError)
	}
}

func (t *Task) sleep(ctx context.Context, d time.Duration) error {
	return timex.Sleep(ctx, t.cfg.Clock, d)
}
