package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"altruist-go/bus"
	"altruist-go/errcode"
)

func TestPresetsAreValid(t *testing.T) {
	for _, d := range Devices() {
		c, err := Preset(d)
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		if err := c.Validate(); err != nil {
			t.Fatalf("%s: %v", d, err)
		}
	}
	if _, err := Preset("esp32"); !errcode.Is(err, errcode.ConfigError) {
		t.Fatalf("unknown preset err = %v", err)
	}
}

func TestPresetReturnsCopy(t *testing.T) {
	a, _ := Preset("pico")
	a.Sensors.BME280.Addresses[0] = 0x10
	b, _ := Preset("pico")
	if b.Sensors.BME280.Addresses[0] != 0x76 {
		t.Fatal("preset shared state")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Channel.Capacity = 0 }},
		{"zero threshold", func(c *Config) { c.Loop.BackoffThreshold = 0 }},
		{"no retry delay", func(c *Config) { c.Loop.InitRetryDelay = 0 }},
		{"bme280 without bus", func(c *Config) { c.Sensors.BME280.Bus = "" }},
		{"8-bit address", func(c *Config) { c.Sensors.BME280.Addresses = []uint16{0xEC} }},
		{"sds011 without port", func(c *Config) { c.Sensors.SDS011.Port = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := Preset("pico")
			tt.mutate(&c)
			if err := c.Validate(); !errcode.Is(err, errcode.ConfigError) {
				t.Fatalf("err = %v, want config_error", err)
			}
		})
	}

	c, _ := Preset("pico")
	c.Sensors.SDS011 = SerialSensor{}
	if err := c.Validate(); err != nil {
		t.Fatalf("disabled sensor without port should pass: %v", err)
	}
}

func TestService_PublishesRetainedPerSection(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	c, _ := Preset("pico")

	if err := NewService(c).Start(context.Background(), conn); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Subscribe after publishing; retained messages should arrive immediately.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})
	got := map[string]any{}
	deadline := time.After(500 * time.Millisecond)
	for len(got) < len(c.Sections()) {
		select {
		case m := <-sub.Channel():
			if !m.Retained || len(m.Topic) != 2 {
				t.Fatalf("unexpected message %#v", m)
			}
			got[m.Topic[1].(string)] = m.Payload
		case <-deadline:
			t.Fatalf("got %d sections, want %d", len(got), len(c.Sections()))
		}
	}
	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"channel", "log", "loop", "metrics", "sensors", "status"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if got["status"].(Status).Interval != 10*time.Second {
		t.Fatalf("status = %#v", got["status"])
	}
}

func TestService_RejectsInvalid(t *testing.T) {
	c, _ := Preset("pico")
	c.Channel.Capacity = -1
	conn := bus.NewBus(4).NewConnection("test")
	if err := NewService(c).Start(context.Background(), conn); !errcode.Is(err, errcode.ConfigError) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadMergesFileOverPreset(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	yml := `
log:
  level: debug
loop:
  backoff_delay: 90s
sensors:
  sds011:
    port: /dev/ttyS3
`
	if err := os.WriteFile(p, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, _, err := Load(LoadOptions{Device: "linux", File: p})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want, _ := Preset("linux")
	want.Log.Level = "debug"
	want.Loop.BackoffDelay = 90 * time.Second
	want.Sensors.SDS011.Port = "/dev/ttyS3"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("config (-want +got):\n%s", diff)
	}
}

func TestLoadEnvAndFlagOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv("ALTRUIST_CHANNEL_CAPACITY", "8")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	if err := fs.Parse([]string{"--log-level=warn"}); err != nil {
		t.Fatal(err)
	}
	c, _, err := Load(LoadOptions{Device: "pico", Flags: map[string]*pflag.Flag{"log.level": fs.Lookup("log-level")}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Channel.Capacity != 8 || c.Log.Level != "warn" || c.Device != "pico" {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, _, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml")})
	if !errcode.Is(err, errcode.ConfigError) {
		t.Fatalf("err = %v", err)
	}
}

func TestSaveRefusesOverwrite(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "config.yaml")
	c, _ := Preset("linux")
	if err := Save(c, p, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Save(c, p, false); !errcode.Is(err, errcode.ConfigError) {
		t.Fatalf("second save err = %v", err)
	}
	if err := Save(c, p, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, err := Load(LoadOptions{File: p})
	if err != nil {
		t.Fatalf("load saved: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("saved config (-want +got):\n%s", diff)
	}
}
