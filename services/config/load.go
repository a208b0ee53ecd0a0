//go:build !tinygo

package config

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"altruist-go/errcode"
)

const (
	AppName           = "altruist"
	DefaultConfigName = "config"
	EnvPrefix         = "ALTRUIST"
	EnvConfig         = "ALTRUIST_CONFIG"
)

var userHomeDir, _ = os.UserHomeDir()

// DefaultConfigPath is where init writes by default.
var DefaultConfigPath = path.Join(userHomeDir, ".config", AppName, DefaultConfigName+".yaml")

var searchPaths = []string{
	path.Join(userHomeDir, ".config", AppName),
	"/etc/" + AppName,
	"./",
}

// LoadOptions selects where configuration comes from. Precedence, lowest
// first: device preset, config file, ALTRUIST_* environment, bound flags.
type LoadOptions struct {
	// Device picks the preset. Default "linux".
	Device string
	// File overrides the search; falls back to $ALTRUIST_CONFIG.
	File string
	// Flags maps config keys (e.g. "log.level") to flags.
	Flags map[string]*pflag.Flag
	// Search enables the default search path when no file is given.
	Search bool
}

// Load builds a validated Config.
func Load(opts LoadOptions) (Config, *viper.Viper, error) {
	device := opts.Device
	if device == "" {
		device = DefaultDevice
	}
	preset, err := Preset(device)
	if err != nil {
		return Config{}, nil, err
	}
	raw, err := Marshal(preset)
	if err != nil {
		return Config{}, nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return Config{}, nil, errors.Wrap(err, "config: reading preset")
	}

	file := opts.File
	if file == "" {
		file = os.Getenv(EnvConfig)
	}
	switch {
	case file != "":
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, nil, errcode.Wrap(errcode.ConfigError, "config load", errors.Wrapf(err, "reading %s", file))
		}
		log.Debugln("using config file:", v.ConfigFileUsed())
	case opts.Search:
		v.SetConfigName(DefaultConfigName)
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
		if err := v.MergeInConfig(); err == nil {
			log.Debugln("using config file:", v.ConfigFileUsed())
		} else {
			log.Debugln("no config file found, using preset", device)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, f := range opts.Flags {
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Config{}, nil, errors.Wrapf(err, "config: binding flag %s", f.Name)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, nil, errcode.Wrap(errcode.ConfigError, "config load", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, nil, err
	}
	return c, v, nil
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	b, err := yaml.Marshal(c)
	return b, errors.Wrap(err, "config: marshal")
}

// Save writes c to p, creating parent directories. An existing file is
// only replaced when overwrite is set.
func Save(c Config, p string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(p); err == nil {
			return errcode.New(errcode.ConfigError, "config save", p+" already exists")
		}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return errors.Wrapf(err, "config: creating %s", filepath.Dir(p))
	}
	b, err := Marshal(c)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(p, b, 0o644), "config: writing %s", p)
}
