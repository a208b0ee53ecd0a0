// Package bus is the in-process pub/sub bus shared by services. Topics are
// token paths with MQTT-style wildcards ("+" one level, "#" the rest),
// retained messages are replayed to new subscribers, and every subscription
// has a bounded queue that drops its oldest message on overflow.
package bus

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

const (
	SingleWild = "+"
	MultiWild  = "#"
)

// Topic is a sequence of comparable tokens (usually strings).
type Topic []any

// T builds a Topic, panicking on a non-comparable token.
func T(tokens ...any) Topic {
	for _, t := range tokens {
		if t == nil || !reflect.TypeOf(t).Comparable() {
			panic("bus: topic token is not comparable")
		}
	}
	return Topic(tokens)
}

// Append returns a new topic with extra tokens.
func (t Topic) Append(tokens ...any) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	return append(append(out, t...), tokens...)
}

func (t Topic) String() string {
	s := ""
	for i, tok := range t {
		if i > 0 {
			s += "/"
		}
		switch v := tok.(type) {
		case string:
			s += v
		case int:
			s += strconv.Itoa(v)
		default:
			s += "?"
		}
	}
	return s
}

// Match reports whether topic t is covered by filter f.
func Match(f, t Topic) bool {
	for i, tok := range f {
		if tok == MultiWild {
			return true
		}
		if i >= len(t) {
			return false
		}
		if tok != SingleWild && tok != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

func (s *Subscription) deliver(m *Message) {
	select {
	case s.ch <- m:
	default:
		// drop oldest
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- m:
		default:
		}
	}
}

// node is a trie level keyed by filter token; wildcards are ordinary keys.
type node struct {
	children map[any]*node
	subs     []*Subscription
}

type Bus struct {
	mu       sync.Mutex
	root     *node
	retained map[string]*Message
	qLen     int
	seq      atomic.Uint64
}

// NewBus creates a bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{root: &node{}, retained: make(map[string]*Message), qLen: queueLen}
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.topic {
		if n.children == nil {
			n.children = make(map[any]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	for _, m := range b.retained {
		if Match(sub.topic, m.Topic) {
			sub.deliver(m)
		}
	}
}

// Publish delivers msg to every matching subscription. A retained message
// with nil payload clears the retained slot for its topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		key := msg.Topic.String()
		if msg.Payload == nil {
			delete(b.retained, key)
		} else {
			b.retained[key] = msg
		}
	}
	b.walk(b.root, msg.Topic, 0, func(s *Subscription) { s.deliver(msg) })
}

func (b *Bus) walk(n *node, t Topic, i int, fn func(*Subscription)) {
	if c := n.children[MultiWild]; c != nil {
		for _, s := range c.subs {
			fn(s)
		}
	}
	if i == len(t) {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.children[t[i]]; c != nil {
		b.walk(c, t, i+1, fn)
	}
	if c := n.children[SingleWild]; c != nil {
		b.walk(c, t, i+1, fn)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.topic))
	for _, tok := range sub.topic {
		child, ok := n.children[tok]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	// prune empty nodes
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent, key := stack[i], sub.topic[i]
		child := parent.children[key]
		if len(child.subs) != 0 || len(child.children) != 0 {
			break
		}
		delete(parent.children, key)
	}
}

// Connection groups the subscriptions of one client.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions of this connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}

// Request assigns a private ReplyTo topic, subscribes to it and publishes
// msg. The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	msg.ReplyTo = Topic{"_reply", c.id, int(c.bus.seq.Add(1))}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait publishes msg and waits for the first reply or ctx.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case m, ok := <-sub.Channel():
		if !ok {
			return nil, errors.New("bus: reply subscription closed")
		}
		return m, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "bus: waiting for reply to "+msg.Topic.String())
	}
}

// Reply answers req on its ReplyTo topic. Requests without ReplyTo are
// ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}
