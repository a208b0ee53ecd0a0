package sds011

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"altruist-go/errcode"
	"altruist-go/types"
)

// 12.3 µg/m³ PM2.5, 45.6 µg/m³ PM10, id 0x3412.
var goodPayload = []byte{0x7B, 0x00, 0xC8, 0x01, 0x12, 0x34, 0x8A, 0xAB}

func frame(p []byte) []byte { return append([]byte{0xAA, 0xC0}, p...) }

// streamPort hands out queued chunks; with noise set it returns filler
// bytes forever instead of blocking.
type streamPort struct {
	mu      sync.Mutex
	writes  [][]byte
	chunks  [][]byte
	noise   bool
	flushes int
	reads   int
}

func (p *streamPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *streamPort) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	p.mu.Lock()
	p.reads++
	if len(p.chunks) > 0 {
		c := p.chunks[0]
		p.chunks = p.chunks[1:]
		p.mu.Unlock()
		return copy(b, c), nil
	}
	noise := p.noise
	p.mu.Unlock()
	if noise {
		time.Sleep(time.Millisecond)
		return copy(b, []byte{0x11, 0xAA, 0x22, 0xC0}), nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (p *streamPort) Flush() error {
	p.mu.Lock()
	p.flushes++
	p.mu.Unlock()
	return nil
}

func (p *streamPort) push(c ...[]byte) {
	p.mu.Lock()
	p.chunks = append(p.chunks, c...)
	p.mu.Unlock()
}

func fastConfig() Config {
	return Config{
		CommandGap:     time.Millisecond,
		Settle:         time.Millisecond,
		AcquireTimeout: 40 * time.Millisecond,
		IdleSleep:      time.Millisecond,
	}
}

func TestCommandFrames(t *testing.T) {
	tests := []struct {
		name string
		got  [CommandLen]byte
		cs   byte
		cmd  []byte
	}{
		{"continuous", ContinuousFrame, 0x07, []byte{0x08, 0x01, 0x00}},
		{"active report", ActiveReportFrame, 0x01, []byte{0x02, 0x01, 0x00}},
		{"start", StartFrame, 0x06, []byte{0x06, 0x01, 0x01}},
		{"stop", StopFrame, 0x05, []byte{0x06, 0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := make([]byte, CommandLen)
			want[0], want[1] = 0xAA, 0xB4
			copy(want[2:], tt.cmd)
			want[15], want[16], want[17], want[18] = 0xFF, 0xFF, tt.cs, 0xAB
			if diff := cmp.Diff(want, tt.got[:]); diff != "" {
				t.Fatalf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	s, err := DecodePayload(goodPayload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(Sample{PM25: 12.3, PM10: 45.6, ID: 0x3412}, s); diff != "" {
		t.Fatalf("sample (-want +got):\n%s", diff)
	}
}

func TestPayloadAlterationRejected(t *testing.T) {
	for i := range goodPayload {
		p := append([]byte(nil), goodPayload...)
		p[i] ^= 0x01
		if ValidPayload(p) {
			t.Fatalf("altered byte %d still valid", i)
		}
	}
}

func TestScannerSkipsBadFrameAndContinues(t *testing.T) {
	bad := append([]byte(nil), goodPayload...)
	bad[0] = 0x7C
	var stream []byte
	stream = append(stream, 0x01, 0x02, 0xAA, 0x03)
	stream = append(stream, frame(bad)...)
	stream = append(stream, 0xAA)
	stream = append(stream, frame(goodPayload)...)

	var sc Scanner
	hits := 0
	for _, b := range stream {
		if sc.Feed(b) {
			hits++
			if !bytes.Equal(sc.Payload(), goodPayload) {
				t.Fatalf("payload = % X", sc.Payload())
			}
		}
	}
	if hits != 1 || sc.Rejected != 1 {
		t.Fatalf("hits=%d rejected=%d", hits, sc.Rejected)
	}
}

func TestScannerResyncsInsideRejectedCandidate(t *testing.T) {
	// A frame cut short after three payload bytes runs into the next header.
	var stream []byte
	stream = append(stream, 0xAA, 0xC0, 0x7B, 0x00, 0xC8)
	stream = append(stream, frame(goodPayload)...)

	var sc Scanner
	hits := 0
	for _, b := range stream {
		if sc.Feed(b) {
			hits++
			if !bytes.Equal(sc.Payload(), goodPayload) {
				t.Fatalf("payload = % X", sc.Payload())
			}
		}
	}
	if hits != 1 || sc.Rejected != 1 {
		t.Fatalf("hits=%d rejected=%d", hits, sc.Rejected)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	p := []byte{0x10, 0x27, 0x00, 0x00, 0x00, 0x00, 0x00, 0xAB} // 1000.0
	p[6] = p[0] + p[1]
	if _, err := DecodePayload(p); !errcode.Is(err, errcode.InvalidData) {
		t.Fatalf("err = %v, want invalid_data", err)
	}
}

func TestInitSequence(t *testing.T) {
	p := &streamPort{}
	d := New(p, fastConfig())
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	want := [][]byte{ContinuousFrame[:], ActiveReportFrame[:], StopFrame[:]}
	if diff := cmp.Diff(want, p.writes); diff != "" {
		t.Fatalf("writes (-want +got):\n%s", diff)
	}
	if d.Running() {
		t.Fatal("should be stopped after init")
	}
}

func TestReadStartsAndDecodes(t *testing.T) {
	p := &streamPort{}
	d := New(p, fastConfig())
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	p.push([]byte{0x00, 0xAA}, frame(goodPayload)[:5], frame(goodPayload)[5:])

	r, err := d.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(p.writes[len(p.writes)-1], StartFrame[:]) || !d.Running() {
		t.Fatal("start not sent")
	}
	if p.flushes == 0 {
		t.Fatal("stale bytes not discarded")
	}
	aq := r.Data.(types.AirQuality)
	if *aq.PM25 != 12.3 || *aq.PM10 != 45.6 || r.Quality != types.Good {
		t.Fatalf("reading = %+v pm25=%v pm10=%v", r, *aq.PM25, *aq.PM10)
	}
}

func TestReadTimesOutOnNoise(t *testing.T) {
	p := &streamPort{noise: true}
	d := New(p, fastConfig())
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	start := time.Now()
	_, err := d.Read(ctx)
	if !errcode.Is(err, errcode.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("gave up before the acquisition deadline")
	}
	if d.Errors() != 1 {
		t.Fatalf("errors = %d, want 1", d.Errors())
	}
}

// brokenPort accepts writes but every read fails, like an unplugged
// USB serial adapter.
type brokenPort struct{ streamPort }

func (p *brokenPort) RecvSomeContext(context.Context, []byte) (int, error) {
	return 0, errors.New("input/output error")
}

func TestReadPortErrorIsCommunicationError(t *testing.T) {
	p := &brokenPort{}
	cfg := fastConfig()
	cfg.AcquireTimeout = time.Second
	d := New(p, cfg)
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	start := time.Now()
	_, err := d.Read(ctx)
	if !errcode.Is(err, errcode.CommunicationError) {
		t.Fatalf("err = %v, want communication_error", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("waited for the acquisition deadline on a dead port")
	}
	if d.Errors() != 1 {
		t.Fatalf("errors = %d, want 1", d.Errors())
	}
}

func TestReadOutOfRangeCounts(t *testing.T) {
	p := &streamPort{}
	d := New(p, fastConfig())
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	hi := []byte{0x10, 0x27, 0x00, 0x00, 0x00, 0x00, 0x37, 0xAB}
	p.push(frame(hi))
	if _, err := d.Read(ctx); !errcode.Is(err, errcode.InvalidData) {
		t.Fatalf("err = %v, want invalid_data", err)
	}
	if d.Errors() != 1 {
		t.Fatalf("errors = %d", d.Errors())
	}
}

func TestCooldownGate(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_000_000))
	cfg := fastConfig()
	cfg.Clock = mock

	p := &streamPort{}
	d := New(p, cfg)
	d.ready, d.running = true, true
	d.errCount = 5
	d.lastErr = mock.Now()

	mock.Add(59 * time.Second)
	if _, err := d.Read(context.Background()); !errcode.Is(err, errcode.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if d.Errors() != 5 || !d.lastErr.Equal(time.UnixMilli(1_000_000)) {
		t.Fatalf("cooldown must not touch the counter: %d %v", d.Errors(), d.lastErr)
	}
	if p.reads != 0 || len(p.writes) != 0 {
		t.Fatal("port touched during cooldown")
	}

	mock.Add(2 * time.Second)
	p.push(frame(goodPayload))
	r, err := d.Read(context.Background())
	if err != nil {
		t.Fatalf("read after cooldown: %v", err)
	}
	if d.Errors() != 0 {
		t.Fatalf("errors = %d, want 0", d.Errors())
	}
	if r.TsMs != mock.Now().UnixMilli() {
		t.Fatalf("ts = %d, want %d", r.TsMs, mock.Now().UnixMilli())
	}
}

func TestAcquireDeadlineFollowsClock(t *testing.T) {
	mock := clock.NewMock()
	cfg := fastConfig()
	cfg.Clock = mock

	p := &streamPort{}
	d := New(p, cfg)
	d.ready, d.running = true, true

	done := make(chan error, 1)
	go func() {
		_, err := d.Read(context.Background())
		done <- err
	}()
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		n := p.reads
		p.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("read never reached the port")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-done:
		t.Fatalf("read returned before the clock moved: %v", err)
	case <-time.After(60 * time.Millisecond):
	}

	mock.Add(cfg.AcquireTimeout)
	select {
	case err := <-done:
		if !errcode.Is(err, errcode.Timeout) {
			t.Fatalf("err = %v, want timeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("deadline on the injected clock did not fire")
	}
}

func TestGradeBands(t *testing.T) {
	tests := []struct {
		s    Sample
		want types.Quality
	}{
		{Sample{PM25: 10, PM10: 20}, types.Good},
		{Sample{PM25: 30, PM10: 20}, types.Degraded},
		{Sample{PM25: 10, PM10: 60}, types.Degraded},
		{Sample{PM25: 80, PM10: 20}, types.Good},
		{Sample{PM25: 10, PM10: 200}, types.Good},
	}
	for _, tt := range tests {
		if got := Grade(tt.s); got != tt.want {
			t.Fatalf("Grade(%+v) = %v, want %v", tt.s, got, tt.want)
		}
	}
}
