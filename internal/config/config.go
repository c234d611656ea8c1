// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. PAGERT_RUNTIME_MAX_CONCURRENT_LAYOUTS.
const EnvPrefix = "PAGERT"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Runtime() RuntimeConfig
	Viewport() ViewportConfig
	Vsync() VsyncConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Viewport Setters
	SetViewportWidth(float64)
	SetViewportHeight(float64)
	SetViewportSupportsPositionFixed(bool)

	// Runtime Setters
	SetRuntimeMaxConcurrentLayouts(int)
	SetRuntimeIdleRenderEnabled(bool)
	SetRuntimeLayoutTimeout(d time.Duration)
	SetRuntimeUnlayoutViewports(float64)
}

// Config holds the entire application configuration. Sections are reached
// through the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	RuntimeCfg  RuntimeConfig  `mapstructure:"runtime" yaml:"runtime"`
	ViewportCfg ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	VsyncCfg    VsyncConfig    `mapstructure:"vsync" yaml:"vsync"`
	// runCfg gets its marching orders from CLI flags, not the config file.
	runCfg RunConfig
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Runtime() RuntimeConfig   { return c.RuntimeCfg }
func (c *Config) Viewport() ViewportConfig { return c.ViewportCfg }
func (c *Config) Vsync() VsyncConfig       { return c.VsyncCfg }
func (c *Config) Run() RunConfig           { return c.runCfg }

func (c *Config) SetRunConfig(rc RunConfig) { c.runCfg = rc }

// -- Viewport Setters --

func (c *Config) SetViewportWidth(w float64)  { c.ViewportCfg.Width = w }
func (c *Config) SetViewportHeight(h float64) { c.ViewportCfg.Height = h }
func (c *Config) SetViewportSupportsPositionFixed(b bool) {
	c.ViewportCfg.SupportsPositionFixed = b
}

// -- Runtime Setters --

func (c *Config) SetRuntimeMaxConcurrentLayouts(n int)    { c.RuntimeCfg.MaxConcurrentLayouts = n }
func (c *Config) SetRuntimeIdleRenderEnabled(b bool)      { c.RuntimeCfg.IdleRenderEnabled = b }
func (c *Config) SetRuntimeLayoutTimeout(d time.Duration) { c.RuntimeCfg.LayoutTimeout = d }
func (c *Config) SetRuntimeUnlayoutViewports(n float64)   { c.RuntimeCfg.UnlayoutViewports = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RuntimeConfig tunes the page scheduler.
type RuntimeConfig struct {
	// ElementPrefix selects the managed elements by tag name.
	ElementPrefix        string        `mapstructure:"element_prefix" yaml:"element_prefix"`
	MaxConcurrentLayouts int           `mapstructure:"max_concurrent_layouts" yaml:"max_concurrent_layouts"`
	PassInterval         time.Duration `mapstructure:"pass_interval" yaml:"pass_interval"`
	LayoutTimeout        time.Duration `mapstructure:"layout_timeout" yaml:"layout_timeout"`
	// IdleRenderEnabled admits resources by their idle render distance once
	// nothing in the viewport is waiting for layout.
	IdleRenderEnabled bool `mapstructure:"idle_render_enabled" yaml:"idle_render_enabled"`
	// UnlayoutViewports is how many viewports away a laid out resource may
	// drift before it is torn down. Zero disables unlayout.
	UnlayoutViewports float64 `mapstructure:"unlayout_viewports" yaml:"unlayout_viewports"`
}

// ViewportConfig describes the simulated viewport.
type ViewportConfig struct {
	Width                 float64 `mapstructure:"width" yaml:"width"`
	Height                float64 `mapstructure:"height" yaml:"height"`
	ScrollLeft            float64 `mapstructure:"scroll_left" yaml:"scroll_left"`
	ScrollTop             float64 `mapstructure:"scroll_top" yaml:"scroll_top"`
	SupportsPositionFixed bool    `mapstructure:"supports_position_fixed" yaml:"supports_position_fixed"`
}

// VsyncConfig paces measure and mutate frames.
type VsyncConfig struct {
	// FrameRate in frames per second. Zero or less runs frames unpaced.
	FrameRate float64 `mapstructure:"frame_rate" yaml:"frame_rate"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// RunConfig holds the per-invocation options of the run command.
type RunConfig struct {
	PagePath        string
	ScrollPositions []float64
	Passes          int
	Output          string
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagert")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Runtime --
	v.SetDefault("runtime.element_prefix", "amp-")
	v.SetDefault("runtime.max_concurrent_layouts", 4)
	v.SetDefault("runtime.pass_interval", "250ms")
	v.SetDefault("runtime.layout_timeout", "5s")
	v.SetDefault("runtime.idle_render_enabled", true)
	v.SetDefault("runtime.unlayout_viewports", 0)

	// -- Viewport --
	v.SetDefault("viewport.width", 1280)
	v.SetDefault("viewport.height", 800)
	v.SetDefault("viewport.scroll_left", 0)
	v.SetDefault("viewport.scroll_top", 0)
	v.SetDefault("viewport.supports_position_fixed", true)

	// -- Vsync --
	v.SetDefault("vsync.frame_rate", 60)
	v.SetDefault("vsync.burst", 1)
}

// ConfigureViper points v at the config file (or ./config.yaml when file is
// empty), wires environment overrides and reads the file if it exists.
func ConfigureViper(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		expanded, err := homedir.Expand(file)
		if err != nil {
			return fmt.Errorf("error expanding config path %q: %w", file, err)
		}
		v.SetConfigFile(filepath.Clean(expanded))
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || (file == "" && errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.RuntimeCfg.Validate(); err != nil {
		return fmt.Errorf("runtime configuration invalid: %w", err)
	}
	if err := c.ViewportCfg.Validate(); err != nil {
		return fmt.Errorf("viewport configuration invalid: %w", err)
	}
	if c.VsyncCfg.FrameRate > 0 && c.VsyncCfg.Burst <= 0 {
		return fmt.Errorf("vsync.burst must be a positive integer when frame_rate is set")
	}
	return nil
}

// Validate checks the RuntimeConfig settings.
func (r *RuntimeConfig) Validate() error {
	if strings.TrimSpace(r.ElementPrefix) == "" {
		return fmt.Errorf("element_prefix must not be empty")
	}
	if r.MaxConcurrentLayouts <= 0 {
		return fmt.Errorf("max_concurrent_layouts must be a positive integer")
	}
	if r.PassInterval <= 0 {
		return fmt.Errorf("pass_interval must be a positive duration")
	}
	if r.LayoutTimeout <= 0 {
		return fmt.Errorf("layout_timeout must be a positive duration")
	}
	if r.UnlayoutViewports < 0 {
		return fmt.Errorf("unlayout_viewports must not be negative")
	}
	return nil
}

// Validate checks the ViewportConfig settings.
func (vp *ViewportConfig) Validate() error {
	if vp.Width <= 0 || vp.Height <= 0 {
		return fmt.Errorf("width and height must be positive, got %gx%g", vp.Width, vp.Height)
	}
	return nil
}
