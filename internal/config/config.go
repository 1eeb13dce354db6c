package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source kinds understood by the capture package.
const (
	SourceFile     = "file"
	SourceSnapshot = "snapshot"
	SourceScreen   = "screen"
)

// Region is a screen rectangle; a zero width or height means the whole screen.
type Region struct {
	X      int `mapstructure:"x"`
	Y      int `mapstructure:"y"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// SourceConfig selects the capture surface.
type SourceConfig struct {
	Kind   string `mapstructure:"kind"`
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
	Region Region `mapstructure:"region"`
}

// Config defines the runtime configuration for the detection client.
type Config struct {
	Addr          string        `mapstructure:"addr"`
	BaseURL       string        `mapstructure:"base_url"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UILogCapacity int           `mapstructure:"ui_log_capacity"`
	Persist       bool          `mapstructure:"persist"`
	AutoStart     bool          `mapstructure:"auto_start"`
	Source        SourceConfig  `mapstructure:"source"`
	LogLevel      string        `mapstructure:"log_level"`
	LogColor      bool          `mapstructure:"log_color"`
}

// DefaultConfig returns the 2 samples/second, 2 s deadline design point.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8090",
		BaseURL:       "",
		Interval:      500 * time.Millisecond,
		Timeout:       2 * time.Second,
		UILogCapacity: 50,
		Source: SourceConfig{
			Kind: SourceFile,
			Path: "./frame.jpg",
		},
		LogLevel: "info",
		LogColor: true,
	}
}

// SetDefaults registers DefaultConfig with v and binds the environment.
// The service address is read from DETECT_API_URL (or DETECT_BASE_URL);
// every other key uses the DETECT_ prefix, e.g. DETECT_SOURCE_PATH.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("ui_log_capacity", d.UILogCapacity)
	v.SetDefault("persist", d.Persist)
	v.SetDefault("auto_start", d.AutoStart)
	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.url", d.Source.URL)
	v.SetDefault("source.region.x", 0)
	v.SetDefault("source.region.y", 0)
	v.SetDefault("source.region.width", 0)
	v.SetDefault("source.region.height", 0)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_color", d.LogColor)

	v.SetEnvPrefix("detect")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("base_url", "DETECT_API_URL", "DETECT_BASE_URL")
}

// Load reads an optional config file and decodes v into a Config.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.UILogCapacity <= 0 {
		c.UILogCapacity = d.UILogCapacity
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Source.Kind == "" {
		c.Source.Kind = d.Source.Kind
	}
	return c
}
