package bus

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// Topics as the node uses them.
var (
	envBME280 = T("sensors", "environmental", "BME280", "value")
	aqSDS011  = T("sensors", "air_quality", "SDS011", "value")
	gasME2CO  = T("sensors", "gas", "ME2-CO", "value")
	cfgLoop   = T("config", "loop")
	cfgStatus = T("config", "status")
	statusGet = T("status", "sensors", "get")
)

// collect reads whatever is queued on sub without blocking past wait.
func collect(sub *Subscription, wait time.Duration) []string {
	var out []string
	for {
		select {
		case m, ok := <-sub.Channel():
			if !ok {
				return out
			}
			s, _ := m.Payload.(string)
			out = append(out, s)
		case <-time.After(wait):
			return out
		}
	}
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestReadingFanOut(t *testing.T) {
	b := NewBus(16)
	agg := b.NewConnection("aggregator")
	c := b.NewConnection("consumer")

	subs := map[string]*Subscription{
		"exact bme280":  c.Subscribe(envBME280),
		"every value":   c.Subscribe(T("sensors", "+", "+", "value")),
		"air quality":   c.Subscribe(T("sensors", "air_quality", "#")),
		"any gas":       c.Subscribe(T("sensors", "gas", "+", "value")),
		"everything":    c.Subscribe(T("#")),
		"status only":   c.Subscribe(T("status", "#")),
		"too shallow":   c.Subscribe(T("sensors", "+")),
		"wrong sensor":  c.Subscribe(T("sensors", "environmental", "SHT30", "value")),
		"under sensors": c.Subscribe(T("sensors", "#")),
	}

	agg.Publish(agg.NewMessage(envBME280, "t=25.08", false))
	agg.Publish(agg.NewMessage(aqSDS011, "pm25=12.3", false))
	agg.Publish(agg.NewMessage(gasME2CO, "co=5.0", false))

	want := map[string][]string{
		"exact bme280":  {"t=25.08"},
		"every value":   {"co=5.0", "pm25=12.3", "t=25.08"},
		"air quality":   {"pm25=12.3"},
		"any gas":       {"co=5.0"},
		"everything":    {"co=5.0", "pm25=12.3", "t=25.08"},
		"status only":   nil,
		"too shallow":   nil,
		"wrong sensor":  nil,
		"under sensors": {"co=5.0", "pm25=12.3", "t=25.08"},
	}
	for name, sub := range subs {
		got := sorted(collect(sub, 20*time.Millisecond))
		if diff := cmp.Diff(want[name], got); diff != "" {
			t.Errorf("%s (-want +got):\n%s", name, diff)
		}
	}
}

func TestRetainedConfigReplay(t *testing.T) {
	b := NewBus(8)
	cfg := b.NewConnection("config")

	cfg.Publish(cfg.NewMessage(cfgLoop, "backoff=60s", true))
	cfg.Publish(cfg.NewMessage(cfgStatus, "interval=10s", true))
	cfg.Publish(cfg.NewMessage(cfgStatus, "interval=5s", true))
	cfg.Publish(cfg.NewMessage(T("config", "log"), "level=info", false))

	svc := b.NewConnection("status")
	if got := collect(svc.Subscribe(cfgStatus), 20*time.Millisecond); !cmp.Equal(got, []string{"interval=5s"}) {
		t.Fatalf("status config = %v, want only the latest retained value", got)
	}
	got := sorted(collect(svc.Subscribe(T("config", "+")), 20*time.Millisecond))
	if diff := cmp.Diff([]string{"backoff=60s", "interval=5s"}, got); diff != "" {
		t.Fatalf("config/+ replay (-want +got):\n%s", diff)
	}
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(8)
	agg := b.NewConnection("aggregator")

	agg.Publish(agg.NewMessage(aqSDS011, "pm25=12.3", true))
	agg.Publish(agg.NewMessage(gasME2CO, "co=5.0", true))
	agg.Publish(agg.NewMessage(aqSDS011, nil, true))

	got := collect(b.NewConnection("late").Subscribe(T("sensors", "#")), 20*time.Millisecond)
	if !cmp.Equal(got, []string{"co=5.0"}) {
		t.Fatalf("replayed %v, want [co=5.0]", got)
	}
}

func TestQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(T("sensors", "#"))

	for _, v := range []string{"r1", "r2", "r3"} {
		c.Publish(c.NewMessage(gasME2CO, v, false))
	}
	if got := collect(s, 20*time.Millisecond); !cmp.Equal(got, []string{"r2", "r3"}) {
		t.Fatalf("got %v, want [r2 r3]", got)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		f, t Topic
		want bool
	}{
		{T("sensors", "+", "+", "value"), gasME2CO, true},
		{T("sensors", "#"), T("sensors"), true},
		{T("#"), statusGet, true},
		{T("sensors", "+"), T("sensors"), false},
		{T("sensors", "gas", "+", "value"), envBME280, false},
		{T("status", "sensors"), statusGet, false},
		{statusGet, T("status", "sensors"), false},
		{T("_reply", "+", 3), T("_reply", "cli", 3), true},
		{T("_reply", "+", 3), T("_reply", "cli", 4), false},
	}
	for _, tt := range tests {
		if got := Match(tt.f, tt.t); got != tt.want {
			t.Errorf("Match(%v, %v) = %v, want %v", tt.f, tt.t, got, tt.want)
		}
	}
}

func TestTopicString(t *testing.T) {
	if got := gasME2CO.String(); got != "sensors/gas/ME2-CO/value" {
		t.Fatalf("String() = %q", got)
	}
	if got := T("_reply", "node", 7).String(); got != "_reply/node/7" {
		t.Fatalf("String() = %q", got)
	}
	base := T("sensors", "gas")
	full := base.Append("ME2-CO", "value")
	if len(base) != 2 || !Match(full, gasME2CO) {
		t.Fatalf("Append changed base or built %v", full)
	}
}

func TestTPanicsOnUncomparableToken(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("no panic for a []byte token")
		}
	}()
	_ = T("sensors", []byte("gas"))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("status")
	s := c.Subscribe(cfgStatus)
	s.Unsubscribe()
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel should be closed")
	}
	// publishing after unsubscribe must not panic
	c.Publish(c.NewMessage(cfgStatus, "interval=5s", false))
	c.Unsubscribe(s)
}

func TestDisconnectClosesAll(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("status")
	subs := []*Subscription{c.Subscribe(cfgStatus), c.Subscribe(statusGet)}
	c.Disconnect()
	for _, s := range subs {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%v still open", s.Topic())
		}
	}
	other := b.NewConnection("other")
	live := other.Subscribe(cfgStatus)
	other.Publish(other.NewMessage(cfgStatus, "interval=5s", false))
	if got := collect(live, 20*time.Millisecond); len(got) != 1 {
		t.Fatalf("remaining subscriber got %v", got)
	}
}

type snapshot struct {
	Sensors []string
	Dropped uint64
}

// serveStatus answers status requests until its subscription closes.
func serveStatus(conn *Connection, snap snapshot) *Subscription {
	sub := conn.Subscribe(statusGet)
	go func() {
		for m := range sub.Channel() {
			conn.Reply(m, snap, false)
		}
	}()
	return sub
}

func TestStatusRequestWait(t *testing.T) {
	b := NewBus(8)
	svc := b.NewConnection("status")
	want := snapshot{Sensors: []string{"BME280", "SDS011"}, Dropped: 2}
	defer serveStatus(svc, want).Unsubscribe()

	cli := b.NewConnection("cli")
	req := cli.NewMessage(statusGet, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := cli.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if diff := cmp.Diff(want, reply.Payload); diff != "" {
		t.Fatalf("snapshot (-want +got):\n%s", diff)
	}
	if !Match(req.ReplyTo, reply.Topic) || req.ReplyTo[0] != "_reply" || req.ReplyTo[1] != "cli" {
		t.Fatalf("reply on %v, request ReplyTo %v", reply.Topic, req.ReplyTo)
	}
}

func TestStatusRequestsGetDistinctReplyTopics(t *testing.T) {
	b := NewBus(8)
	svc := b.NewConnection("status")
	defer serveStatus(svc, snapshot{Sensors: []string{"ME2-CO"}}).Unsubscribe()

	cli := b.NewConnection("cli")
	r1 := cli.NewMessage(statusGet, nil, false)
	r2 := cli.NewMessage(statusGet, nil, false)
	s1 := cli.Request(r1)
	s2 := cli.Request(r2)
	defer cli.Disconnect()

	if r1.ReplyTo.String() == r2.ReplyTo.String() {
		t.Fatalf("both requests reply on %v", r1.ReplyTo)
	}
	for _, s := range []*Subscription{s1, s2} {
		select {
		case m := <-s.Channel():
			if got := m.Payload.(snapshot).Sensors; !cmp.Equal(got, []string{"ME2-CO"}) {
				t.Fatalf("sensors = %v", got)
			}
		case <-time.After(300 * time.Millisecond):
			t.Fatalf("no reply on %v", s.Topic())
		}
	}
}

func TestRequestWaitTimesOut(t *testing.T) {
	b := NewBus(8)
	cli := b.NewConnection("cli")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cli.RequestWait(ctx, cli.NewMessage(statusGet, nil, false))
	if err == nil || !strings.Contains(err.Error(), "status/sensors/get") {
		t.Fatalf("err = %v, want a timeout naming the request topic", err)
	}
}

func TestReplyWithoutReplyToIsDropped(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("status")
	all := c.Subscribe(T("#"))
	c.Reply(c.NewMessage(statusGet, nil, false), "ignored", false)
	if got := collect(all, 20*time.Millisecond); len(got) != 0 {
		t.Fatalf("reply published: %v", got)
	}
}
