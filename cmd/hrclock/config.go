package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"go.sazak.io/hrclock/clock"
	"go.sazak.io/hrclock/cmd/hrclock/api"
	"go.sazak.io/hrclock/cmd/hrclock/storage"
)

const defaultConfigFile = "hrclock.toml"

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type serveConfig struct {
	Port         int      `toml:"port"`
	TickInterval duration `toml:"tick_interval"`
}

type config struct {
	StorageDir    string      `toml:"storage_dir"`
	StorageFormat string      `toml:"storage_format"`
	Unit          clock.Unit  `toml:"unit"`
	Serve         serveConfig `toml:"serve"`
}

func defaultConfig() *config {
	return &config{
		StorageDir:    "./sessions",
		StorageFormat: storage.FormatJSONL,
		Unit:          clock.Milliseconds,
		Serve: serveConfig{
			Port:         8080,
			TickInterval: duration{time.Second},
		},
	}
}

// loadConfig decodes path over the defaults. An empty path means
// defaultConfigFile, which may be absent.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	return cfg, cfg.validate()
}

func (c *config) validate() error {
	format, err := storage.NormalizeFormat(c.StorageFormat)
	if err != nil {
		return err
	}
	c.StorageFormat = format

	if c.StorageDir == "" {
		return errors.New("storage_dir must not be empty")
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Serve.Port)
	}
	if iv := c.Serve.TickInterval.Duration; iv < time.Millisecond || iv > api.MaxTickInterval {
		return fmt.Errorf("tick_interval must be between 1ms and %s, got %s", api.MaxTickInterval, iv)
	}
	return nil
}

// applyFlags overrides config values with flags the user set explicitly.
func (c *config) applyFlags(flags *pflag.FlagSet) error {
	if flags.Changed("storage-dir") {
		c.StorageDir, _ = flags.GetString("storage-dir")
	}
	if flags.Changed("format") {
		c.StorageFormat, _ = flags.GetString("format")
	}
	if flags.Changed("unit") {
		name, _ := flags.GetString("unit")
		u, err := clock.ParseUnit(name)
		if err != nil {
			return err
		}
		c.Unit = u
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		c.Serve.Port, _ = flags.GetInt("port")
	}
	if flags.Lookup("tick-interval") != nil && flags.Changed("tick-interval") {
		c.Serve.TickInterval.Duration, _ = flags.GetDuration("tick-interval")
	}
	return c.validate()
}
