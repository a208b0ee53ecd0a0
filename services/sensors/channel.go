package sensors

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"altruist-go/types"
)

// DefaultCapacity is the reading channel depth.
const DefaultCapacity = 32

// Channel is the bounded FIFO between acquisition tasks and the aggregator.
// Sends never block: when full, the new reading is dropped.
type Channel struct {
	ch      chan types.Reading
	dropped atomic.Uint64
	log     logrus.FieldLogger
	obs     Observer
}

// NewChannel returns a channel of the given capacity (DefaultCapacity when
// not positive). log and obs may be nil.
func NewChannel(capacity int, log logrus.FieldLogger, obs Observer) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{ch: make(chan types.Reading, capacity), log: log, obs: orNop(obs)}
}

// TrySend enqueues r, reporting false if the channel was full.
func (c *Channel) TrySend(r types.Reading) bool {
	select {
	case c.ch <- r:
		return true
	default:
		n := c.dropped.Add(1)
		name := r.SensorType.Name()
		c.obs.Dropped(name)
		c.log.WithFields(logrus.Fields{"sensor": name, "dropped": n}).Warn("reading channel full, dropping reading")
		return false
	}
}

// Receive blocks for the next reading or until ctx ends.
func (c *Channel) Receive(ctx context.Context) (types.Reading, error) {
	select {
	case r := <-c.ch:
		return r, nil
	case <-ctx.Done():
		return types.Reading{}, ctx.Err()
	}
}

func (c *Channel) Len() int        { return len(c.ch) }
func (c *Channel) Cap() int        { return cap(c.ch) }
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }
