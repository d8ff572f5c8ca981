// Package config loads the configuration of the reactive command.
//
// The configuration is a YAML file (or JSON, chosen by the .json extension):
//
//	addr: localhost:7070
//	scheduler:
//	  strategy: macrotask      # sync | macrotask | frame | manual
//	  frameInterval: 16ms
//	hub:
//	  stableTimeout: 2s
//	metrics:
//	  enabled: true
//	  namespace: reactive
//	  path: /metrics
//	log:
//	  level: info              # debug | info | warn | error
//	  format: text             # text | json
//	signals:
//	  count: 0
//	  title: hello
//
// Unknown keys are rejected so typos surface as errors.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/reactive/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddr is the default hub listen address.
	DefaultAddr = "localhost:7070"

	// DefaultStrategy is the default scheduler strategy.
	DefaultStrategy = StrategyMacrotask

	// DefaultStableTimeout bounds how long a hub write waits for stability.
	DefaultStableTimeout = 2 * time.Second

	// DefaultMetricsPath is where metrics are served.
	DefaultMetricsPath = "/metrics"
)

// Scheduler strategy names.
const (
	StrategySync      = "sync"
	StrategyMacrotask = "macrotask"
	StrategyFrame     = "frame"
	StrategyManual    = "manual"
)

// Strategies lists the accepted strategy names.
var Strategies = []string{StrategySync, StrategyMacrotask, StrategyFrame, StrategyManual}

// Config is the complete configuration.
type Config struct {
	// Addr is the hub listen address (host:port).
	Addr string `yaml:"addr" json:"addr"`

	// Scheduler selects the scheduler strategy for hub sessions.
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Hub contains hub request settings.
	Hub HubConfig `yaml:"hub" json:"hub"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Log contains logging settings.
	Log LogConfig `yaml:"log" json:"log"`

	// Signals are the hub's named signals and their initial values.
	Signals map[string]any `yaml:"signals,omitempty" json:"signals,omitempty"`

	// path stores where the config was loaded from.
	path string
}

// SchedulerConfig selects a scheduler.
type SchedulerConfig struct {
	// Strategy is one of sync, macrotask, frame or manual.
	Strategy string `yaml:"strategy" json:"strategy"`

	// FrameInterval is the frame period of the frame strategy.
	FrameInterval Duration `yaml:"frameInterval,omitempty" json:"frameInterval,omitempty"`
}

// HubConfig contains hub request settings.
type HubConfig struct {
	// StableTimeout bounds how long a write waits for stability.
	StableTimeout Duration `yaml:"stableTimeout,omitempty" json:"stableTimeout,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Addr: DefaultAddr,
		Scheduler: SchedulerConfig{
			Strategy:      DefaultStrategy,
			FrameInterval: Duration(time.Second / 60),
		},
		Hub: HubConfig{
			StableTimeout: Duration(DefaultStableTimeout),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "reactive",
			Path:      DefaultMetricsPath,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path. Values missing from the file keep
// their defaults. Load does not validate; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("R100").
				WithDetail("No config file at " + path).
				WithSuggestion("Pass an existing file with --config, or omit the flag to use defaults")
		}
		return nil, errors.New("R100").Wrap(err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes a YAML (or JSON) document over the defaults.
func Parse(data []byte, isJSON bool) (*Config, error) {
	cfg := Default()

	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.New("R101").
				WithDetail("Failed to parse JSON: " + err.Error()).
				WithSuggestion("Check that the file is valid JSON and uses only known keys")
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, errors.New("R101").
				WithDetail("Failed to parse YAML: " + err.Error()).
				WithSuggestion("Check indentation and key names")
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Path returns the path the config was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// applyDefaults fills in zero values that an explicit document cleared.
func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Scheduler.Strategy == "" {
		c.Scheduler.Strategy = DefaultStrategy
	}
	c.Scheduler.Strategy = strings.ToLower(c.Scheduler.Strategy)
	if c.Scheduler.FrameInterval == 0 {
		c.Scheduler.FrameInterval = Duration(time.Second / 60)
	}
	if c.Hub.StableTimeout == 0 {
		c.Hub.StableTimeout = Duration(DefaultStableTimeout)
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "reactive"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if _, port, err := net.SplitHostPort(c.Addr); err != nil || port == "" {
		return errors.New("R104").
			WithKey("addr").
			WithDetailf("%q is not host:port", c.Addr).
			WithSuggestion(`Use a value such as "localhost:7070" or ":7070"`)
	}

	if !validStrategy(c.Scheduler.Strategy) {
		return errors.New("R102").
			WithKey("scheduler.strategy").
			WithDetailf("unknown strategy %q", c.Scheduler.Strategy).
			WithSuggestion("Use one of: " + strings.Join(Strategies, ", "))
	}
	if c.Scheduler.FrameInterval < 0 {
		return errors.New("R103").
			WithKey("scheduler.frameInterval").
			WithDetailf("%s is negative", c.Scheduler.FrameInterval)
	}
	if c.Hub.StableTimeout < 0 {
		return errors.New("R103").
			WithKey("hub.stableTimeout").
			WithDetailf("%s is negative", c.Hub.StableTimeout)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("R107").
			WithKey("metrics.path").
			WithDetailf("%q does not start with /", c.Metrics.Path)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.New("R105").
			WithKey("log.level").
			WithDetail(err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("R105").
			WithKey("log.format").
			WithDetailf("unknown format %q", c.Log.Format).
			WithSuggestion("Use text or json")
	}

	for name := range c.Signals {
		if !ValidSignalName(name) {
			return errors.New("R106").
				WithKey("signals." + name).
				WithDetailf("%q is not a valid signal name", name)
		}
	}
	return nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.New("R101").Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.New("R101").Wrap(err)
	}
	return buf.Bytes(), nil
}

func validStrategy(s string) bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// ValidSignalName reports whether name can be used as a hub signal name.
// Names appear in URL paths and metric labels.
func ValidSignalName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
