// Package config holds the node configuration, its built-in per-device
// presets, and the publisher that puts each section on the bus retained
// under config/<section>.
package config

import (
	"context"
	"time"

	"altruist-go/bus"
	"altruist-go/errcode"
	"altruist-go/services/sensors"
)

const (
	serviceName  = "config"
	configPrefix = "config"

	DefaultDevice = "linux"
)

type Log struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

type Channel struct {
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// Loop tunes the acquisition loop shared by every sensor.
type Loop struct {
	InitRetryDelay   time.Duration `yaml:"init_retry_delay" mapstructure:"init_retry_delay"`
	BackoffThreshold int           `yaml:"backoff_threshold" mapstructure:"backoff_threshold"`
	BackoffDelay     time.Duration `yaml:"backoff_delay" mapstructure:"backoff_delay"`
}

type Status struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

type Metrics struct {
	// Listen is the host address for /metrics; empty disables it.
	Listen string `yaml:"listen" mapstructure:"listen"`
}

type I2CSensor struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	Bus       string   `yaml:"bus" mapstructure:"bus"`
	Addresses []uint16 `yaml:"addresses,flow" mapstructure:"addresses"`
}

type SerialSensor struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    string `yaml:"port" mapstructure:"port"`
	Baud    int    `yaml:"baud" mapstructure:"baud"`
}

type Sensors struct {
	BME280 I2CSensor    `yaml:"bme280" mapstructure:"bme280"`
	SDS011 SerialSensor `yaml:"sds011" mapstructure:"sds011"`
	ME2CO  SerialSensor `yaml:"me2co" mapstructure:"me2co"`
}

type Config struct {
	Device  string  `yaml:"device" mapstructure:"device"`
	Log     Log     `yaml:"log" mapstructure:"log"`
	Channel Channel `yaml:"channel" mapstructure:"channel"`
	Loop    Loop    `yaml:"loop" mapstructure:"loop"`
	Status  Status  `yaml:"status" mapstructure:"status"`
	Metrics Metrics `yaml:"metrics" mapstructure:"metrics"`
	Sensors Sensors `yaml:"sensors" mapstructure:"sensors"`
}

func base(device string) Config {
	return Config{
		Device:  device,
		Log:     Log{Level: "info"},
		Channel: Channel{Capacity: sensors.DefaultCapacity},
		Loop: Loop{
			InitRetryDelay:   5 * time.Second,
			BackoffThreshold: 3,
			BackoffDelay:     60 * time.Second,
		},
		Status: Status{Interval: 10 * time.Second},
	}
}

// presets are the built-in per-device configurations.
var presets = map[string]func() Config{
	"pico": func() Config {
		c := base("pico")
		c.Sensors = Sensors{
			BME280: I2CSensor{Enabled: true, Bus: "i2c0", Addresses: []uint16{0x76, 0x77}},
			SDS011: SerialSensor{Enabled: true, Port: "uart0", Baud: 9600},
			ME2CO:  SerialSensor{Enabled: true, Port: "uart1", Baud: 9600},
		}
		return c
	},
	"linux": func() Config {
		c := base("linux")
		c.Metrics.Listen = ":9100"
		c.Sensors = Sensors{
			BME280: I2CSensor{Enabled: true, Bus: "1", Addresses: []uint16{0x76, 0x77}},
			SDS011: SerialSensor{Enabled: true, Port: "/dev/ttyUSB0", Baud: 9600},
			ME2CO:  SerialSensor{Enabled: false, Port: "/dev/ttyAMA0", Baud: 9600},
		}
		return c
	},
}

// Preset returns a fresh copy of the named device preset.
func Preset(device string) (Config, error) {
	f, ok := presets[device]
	if !ok {
		return Config{}, errcode.New(errcode.ConfigError, "config preset", "no preset for device "+device)
	}
	return f(), nil
}

// Devices lists the preset names.
func Devices() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	return out
}

// Validate checks the invariants the node relies on.
func (c Config) Validate() error {
	bad := func(msg string) error { return errcode.New(errcode.ConfigError, "config validate", msg) }
	if c.Channel.Capacity <= 0 {
		return bad("channel.capacity must be positive")
	}
	if c.Loop.BackoffThreshold <= 0 {
		return bad("loop.backoff_threshold must be positive")
	}
	if c.Loop.InitRetryDelay <= 0 || c.Loop.BackoffDelay <= 0 {
		return bad("loop delays must be positive")
	}
	if c.Status.Interval < 0 {
		return bad("status.interval must not be negative")
	}
	s := c.Sensors
	if s.BME280.Enabled {
		if s.BME280.Bus == "" {
			return bad("sensors.bme280.bus is required")
		}
		for _, a := range s.BME280.Addresses {
			if a > 0x7F {
				return bad("sensors.bme280.addresses must be 7-bit")
			}
		}
	}
	for name, ser := range map[string]SerialSensor{"sds011": s.SDS011, "me2co": s.ME2CO} {
		if ser.Enabled && ser.Port == "" {
			return bad("sensors." + name + ".port is required")
		}
		if ser.Enabled && ser.Baud < 0 {
			return bad("sensors." + name + ".baud must not be negative")
		}
	}
	if n := c.enabledSensors(); n > sensors.MaxSensors {
		return bad("too many sensors enabled")
	}
	return nil
}

func (c Config) enabledSensors() int {
	n := 0
	for _, on := range []bool{c.Sensors.BME280.Enabled, c.Sensors.SDS011.Enabled, c.Sensors.ME2CO.Enabled} {
		if on {
			n++
		}
	}
	return n
}

// Sections maps section names to their values, as published on the bus.
func (c Config) Sections() map[string]any {
	return map[string]any{
		"log":     c.Log,
		"channel": c.Channel,
		"loop":    c.Loop,
		"status":  c.Status,
		"metrics": c.Metrics,
		"sensors": c.Sensors,
	}
}

// Topic returns config/<section>.
func Topic(section string) bus.Topic { return bus.T(configPrefix, section) }

// Publish puts every section on the bus as a retained message.
func Publish(conn *bus.Connection, c Config) {
	for k, v := range c.Sections() {
		conn.Publish(conn.NewMessage(Topic(k), v, true))
	}
}

// Service republishes the active configuration.
type Service struct {
	Name string
	cfg  Config
}

func NewService(c Config) *Service {
	return &Service{Name: serviceName, cfg: c}
}

func (s *Service) Config() Config { return s.cfg }

// Start validates and publishes the configuration.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	Publish(conn, s.cfg)
	return nil
}
