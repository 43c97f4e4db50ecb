// Package config loads the instrument configuration for beamscan from a
// JSON or TOML file. Fields are pointers so that a partial file only
// overrides what it names; the Get* methods supply the defaults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/beamscan/internal/instrument"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/beamscan.example.toml"

const maxFileSize = 1 * 1024 * 1024

// Renderer kinds.
const (
	RendererAuto  = "auto"
	RendererImage = "image"
	RendererHTML  = "html"
	RendererBoth  = "both"
)

// InstrumentConfig is the root configuration.
type InstrumentConfig struct {
	// Connection
	Port           *string                 `json:"port,omitempty" toml:"port"`
	Serial         *instrument.PortOptions `json:"serial,omitempty" toml:"serial"`
	CommandTimeout *string                 `json:"command_timeout,omitempty" toml:"command_timeout"` // duration string like "30s"
	Simulate       *bool                   `json:"simulate,omitempty" toml:"simulate"`

	// Acquisition
	Frames     *int     `json:"frames,omitempty" toml:"frames"`
	FrameRate  *float64 `json:"frame_rate,omitempty" toml:"frame_rate"`   // frames per second
	SettleTime *string  `json:"settle_time,omitempty" toml:"settle_time"` // duration string like "250ms"

	Axes []AxisConfig `json:"axes,omitempty" toml:"axes"`

	// Output
	Database    *string `json:"database,omitempty" toml:"database"`
	PlotOutput  *string `json:"plot,omitempty" toml:"plot"`
	Renderer    *string `json:"renderer,omitempty" toml:"renderer"`
	LogDir      *string `json:"log_dir,omitempty" toml:"log_dir"`
	DebugListen *string `json:"debug_listen,omitempty" toml:"debug_listen"`
	Verbose     *bool   `json:"verbose,omitempty" toml:"verbose"`
}

// AxisConfig names a motion axis and its soft limits. A nil limit is
// unbounded. Peak only affects the simulator.
type AxisConfig struct {
	Name string           `json:"name" toml:"name"`
	Min  *float64         `json:"min,omitempty" toml:"min"`
	Max  *float64         `json:"max,omitempty" toml:"max"`
	Peak *instrument.Peak `json:"peak,omitempty" toml:"peak"`
}

// Load reads a configuration file; the format follows the extension
// (.json or .toml).
func Load(path string) (*InstrumentConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &InstrumentConfig{}
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *InstrumentConfig) Validate() error {
	for name, d := range map[string]*string{
		"command_timeout": c.CommandTimeout,
		"settle_time":     c.SettleTime,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *d)
		}
	}

	if c.Frames != nil && *c.Frames < 1 {
		return fmt.Errorf("frames must be at least 1, got %d", *c.Frames)
	}
	if c.FrameRate != nil && *c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %g", *c.FrameRate)
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Axes))
	for i, a := range c.Axes {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("axes[%d]: missing name", i)
		}
		if seen[name] {
			return fmt.Errorf("axes[%d]: duplicate axis %q", i, name)
		}
		seen[name] = true
		if a.Min != nil && a.Max != nil && *a.Min > *a.Max {
			return fmt.Errorf("axis %q: min %g exceeds max %g", name, *a.Min, *a.Max)
		}
	}

	switch c.GetRenderer() {
	case RendererAuto, RendererImage, RendererHTML, RendererBoth:
	default:
		return fmt.Errorf("unknown renderer %q", *c.Renderer)
	}
	return nil
}

// GetPort returns the serial device path; empty means none configured.
func (c *InstrumentConfig) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetSerial returns the serial options, defaults applied by the instrument package.
func (c *InstrumentConfig) GetSerial() instrument.PortOptions {
	if c.Serial == nil {
		return instrument.PortOptions{}
	}
	return *c.Serial
}

// GetCommandTimeout returns the per-command reply timeout.
func (c *InstrumentConfig) GetCommandTimeout() time.Duration {
	return parseDuration(c.CommandTimeout, instrument.DefaultTimeout)
}

// GetSimulate reports whether to run against the in-process simulator.
func (c *InstrumentConfig) GetSimulate() bool {
	if c.Simulate == nil {
		return false
	}
	return *c.Simulate
}

// GetFrames returns the frames counted per scan step.
func (c *InstrumentConfig) GetFrames() int {
	if c.Frames == nil {
		return 50
	}
	return *c.Frames
}

// GetFrameRate returns the source frame rate in Hz.
func (c *InstrumentConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 10
	}
	return *c.FrameRate
}

// GetSettleTime returns the pause after each move before counting.
func (c *InstrumentConfig) GetSettleTime() time.Duration {
	return parseDuration(c.SettleTime, 0)
}

// GetDatabase returns the sqlite path for run records.
func (c *InstrumentConfig) GetDatabase() string {
	if c.Database == nil {
		return "beamscan.db"
	}
	return *c.Database
}

// GetPlotOutput returns the plot output path; empty means the renderer default.
func (c *InstrumentConfig) GetPlotOutput() string {
	if c.PlotOutput == nil {
		return ""
	}
	return *c.PlotOutput
}

// GetRenderer returns the renderer kind.
func (c *InstrumentConfig) GetRenderer() string {
	if c.Renderer == nil || *c.Renderer == "" {
		return RendererAuto
	}
	return strings.ToLower(*c.Renderer)
}

// GetLogDir returns the directory for timestamped scan logs.
func (c *InstrumentConfig) GetLogDir() string {
	if c.LogDir == nil {
		return "."
	}
	return *c.LogDir
}

// GetDebugListen returns the debug server address; empty disables it.
func (c *InstrumentConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return ""
	}
	return *c.DebugListen
}

// GetVerbose reports whether debug logging is enabled.
func (c *InstrumentConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// Axis returns the named axis configuration.
func (c *InstrumentConfig) Axis(name string) (AxisConfig, bool) {
	for _, a := range c.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisConfig{}, false
}

// Limits returns the travel limits of every axis with at least one bound.
func (c *InstrumentConfig) Limits() map[string]instrument.Limits {
	out := make(map[string]instrument.Limits)
	for _, a := range c.Axes {
		if a.Min == nil && a.Max == nil {
			continue
		}
		l := instrument.Limits{Min: math.Inf(-1), Max: math.Inf(1)}
		if a.Min != nil {
			l.Min = *a.Min
		}
		if a.Max != nil {
			l.Max = *a.Max
		}
		out[a.Name] = l
	}
	return out
}

// Simulator builds an in-process instrument from the axis configuration.
func (c *InstrumentConfig) Simulator(seed uint64) *instrument.Simulator {
	sim := instrument.NewSimulator(seed)
	for name, l := range c.Limits() {
		sim.SetLimits(name, l)
	}
	for _, a := range c.Axes {
		if a.Peak != nil {
			sim.SetPeak(a.Name, *a.Peak)
		}
	}
	return sim
}

func parseDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
