package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the doorcounter daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. Classification and matching parameters are read once
// at startup.
type Config struct {
	Barriers    BarriersConfig    `yaml:"barriers"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Input       InputConfig       `yaml:"input"`
	IPC         IPCConfig         `yaml:"ipc"`
	HTTP        HTTPConfig        `yaml:"http"`
	Store       StoreConfig       `yaml:"store"`
	Reset       ResetConfig       `yaml:"reset"`
	Report      ReportConfig      `yaml:"report"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type BarriersConfig struct {
	EnterThreshold int `yaml:"enter_threshold"`
	ExitThreshold  int `yaml:"exit_threshold"`
	DebounceMS     int `yaml:"debounce_ms"`
}

type MatcherConfig struct {
	SequenceTimeoutMS int    `yaml:"sequence_timeout_ms"`
	Delivery          string `yaml:"delivery"`   // "latest" or "queued"
	QueueSize         int    `yaml:"queue_size"` // queued mode only
	PinWorkers        bool   `yaml:"pin_workers"`
	CPUs              []int  `yaml:"cpus,omitempty"` // [increment, decrement]
}

type InputConfig struct {
	Source string       `yaml:"source"` // "evdev", "serial" or "none"
	Evdev  EvdevConfig  `yaml:"evdev"`
	Serial SerialConfig `yaml:"serial"`
}

type EvdevConfig struct {
	Devices       []string `yaml:"devices"`
	EventType     string   `yaml:"event_type"` // "key" or "abs"
	OuterCode     uint16   `yaml:"outer_code"`
	InnerCode     uint16   `yaml:"inner_code"`
	BlockedSample int      `yaml:"blocked_sample"`
	ClearSample   int      `yaml:"clear_sample"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ResetConfig struct {
	DailyAt string `yaml:"daily_at"` // "HH:MM" local time; empty disables
}

type ReportConfig struct {
	IntervalSec int `yaml:"interval_sec"` // 0 disables periodic reports
	QueueSize   int `yaml:"queue_size"`
}

type DiagnosticsConfig struct {
	ChatterWindowMS  int `yaml:"chatter_window_ms"`
	ChatterThreshold int `yaml:"chatter_threshold"` // 0 disables
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Barriers: BarriersConfig{
			EnterThreshold: defaultEnterThreshold,
			ExitThreshold:  defaultExitThreshold,
			DebounceMS:     int(defaultDebounce / time.Millisecond),
		},
		Matcher: MatcherConfig{
			SequenceTimeoutMS: int(defaultSequenceTimeout / time.Millisecond),
			Delivery:          string(DeliveryLatest),
			QueueSize:         defaultQueueSize,
			CPUs:              []int{0, 1},
		},
		Input: InputConfig{
			Source: "evdev",
			Evdev: EvdevConfig{
				Devices:       []string{"/dev/input/event0"},
				EventType:     "key",
				OuterCode:     0x100, // BTN_0
				InnerCode:     0x101, // BTN_1
				BlockedSample: defaultBlockedSample,
				ClearSample:   defaultClearSample,
			},
			Serial: SerialConfig{
				Port: "/dev/ttyUSB0",
				Baud: defaultSerialBaud,
			},
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Port:    defaultHTTPPort,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "/var/lib/doorcounter/crossings.db",
		},
		Reset: ResetConfig{
			DailyAt: "00:00",
		},
		Report: ReportConfig{
			IntervalSec: int(defaultReportInterval / time.Second),
			QueueSize:   defaultReportQueue,
		},
		Diagnostics: DiagnosticsConfig{
			ChatterWindowMS:  int(defaultChatterWindow / time.Millisecond),
			ChatterThreshold: defaultChatterThreshold,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document. Decoding into
	// a Node keeps KnownFields from turning a trailing document into an error
	// that would pass for end of input.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies command-line flags on top of a loaded config.
// Each field is a pointer; nil means the flag was not set.
type FlagOverrides struct {
	EnterThreshold    *int
	ExitThreshold     *int
	DebounceMS        *int
	SequenceTimeoutMS *int
	Delivery          *string

	InputSource string
	EvdevDevice *string
	SerialPort  *string
	SerialBaud  *int

	IPCSocketPath *string
	HTTPPort      *int
	StorePath     *string
	ResetAt       *string

	LogLevel *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.EnterThreshold != nil {
		cfg.Barriers.EnterThreshold = *o.EnterThreshold
	}
	if o.ExitThreshold != nil {
		cfg.Barriers.ExitThreshold = *o.ExitThreshold
	}
	if o.DebounceMS != nil {
		cfg.Barriers.DebounceMS = *o.DebounceMS
	}
	if o.SequenceTimeoutMS != nil {
		cfg.Matcher.SequenceTimeoutMS = *o.SequenceTimeoutMS
	}
	if o.Delivery != nil {
		cfg.Matcher.Delivery = *o.Delivery
	}

	if o.InputSource != "" {
		cfg.Input.Source = o.InputSource
	}
	if o.EvdevDevice != nil {
		cfg.Input.Evdev.Devices = []string{*o.EvdevDevice}
	}
	if o.SerialPort != nil {
		cfg.Input.Serial.Port = *o.SerialPort
	}
	if o.SerialBaud != nil {
		cfg.Input.Serial.Baud = *o.SerialBaud
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		// Port 0 disables the HTTP listener from the command line.
		cfg.HTTP.Port = *o.HTTPPort
		cfg.HTTP.Enabled = *o.HTTPPort != 0
	}
	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
		cfg.Store.Enabled = *o.StorePath != ""
	}
	if o.ResetAt != nil {
		cfg.Reset.DailyAt = *o.ResetAt
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Barriers
	if c.Barriers.EnterThreshold > c.Barriers.ExitThreshold {
		return errors.New("barriers.enter_threshold must be <= barriers.exit_threshold")
	}
	if c.Barriers.DebounceMS < 0 {
		return errors.New("barriers.debounce_ms must be >= 0")
	}

	// Matcher
	if c.Matcher.SequenceTimeoutMS <= 0 {
		return errors.New("matcher.sequence_timeout_ms must be > 0")
	}
	switch DeliveryMode(c.Matcher.Delivery) {
	case DeliveryLatest:
	case DeliveryQueued:
		if c.Matcher.QueueSize <= 0 {
			return errors.New("matcher.queue_size must be > 0 in queued delivery")
		}
	default:
		return fmt.Errorf("matcher.delivery must be %q or %q", DeliveryLatest, DeliveryQueued)
	}
	if c.Matcher.PinWorkers {
		if len(c.Matcher.CPUs) != 2 {
			return errors.New("matcher.cpus must list exactly two CPUs (increment, decrement) when pin_workers is set")
		}
		for i, cpu := range c.Matcher.CPUs {
			if cpu < 0 {
				return fmt.Errorf("matcher.cpus[%d] must be >= 0", i)
			}
		}
	}

	// Input
	switch c.Input.Source {
	case "evdev":
		if len(c.Input.Evdev.Devices) == 0 {
			return errors.New("input.evdev.devices must not be empty")
		}
		for i, dev := range c.Input.Evdev.Devices {
			if dev == "" {
				return fmt.Errorf("input.evdev.devices[%d] is empty", i)
			}
		}
		if _, err := parseEventType(c.Input.Evdev.EventType); err != nil {
			return fmt.Errorf("input.evdev.event_type: %w", err)
		}
		if c.Input.Evdev.OuterCode == c.Input.Evdev.InnerCode {
			return errors.New("input.evdev.outer_code and inner_code must differ")
		}
	case "serial":
		if c.Input.Serial.Port == "" {
			return errors.New("input.serial.port must not be empty")
		}
		if c.Input.Serial.Baud <= 0 {
			return errors.New("input.serial.baud must be > 0")
		}
	case "none":
	default:
		return fmt.Errorf("input.source must be one of evdev, serial, none (got %q)", c.Input.Source)
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// HTTP
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}

	// Store
	if c.Store.Enabled && c.Store.Path == "" {
		return errors.New("store.enabled is true but store.path is empty")
	}

	// Reset
	if c.Reset.DailyAt != "" {
		if _, err := parseDailySchedule(c.Reset.DailyAt, time.Local); err != nil {
			return fmt.Errorf("reset.daily_at: %w", err)
		}
	}

	// Report
	if c.Report.IntervalSec < 0 {
		return errors.New("report.interval_sec must be >= 0")
	}
	if c.Report.QueueSize <= 0 {
		return errors.New("report.queue_size must be > 0")
	}

	// Diagnostics
	if c.Diagnostics.ChatterThreshold < 0 {
		return errors.New("diagnostics.chatter_threshold must be >= 0")
	}
	if c.Diagnostics.ChatterThreshold > 0 && c.Diagnostics.ChatterWindowMS <= 0 {
		return errors.New("diagnostics.chatter_window_ms must be > 0")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToEngineConfig converts the file config into the engine's parameters.
func (c *Config) ToEngineConfig() EngineConfig {
	cfg := EngineConfig{
		Thresholds: Thresholds{
			Enter: c.Barriers.EnterThreshold,
			Exit:  c.Barriers.ExitThreshold,
		},
		Debounce:        time.Duration(c.Barriers.DebounceMS) * time.Millisecond,
		SequenceTimeout: time.Duration(c.Matcher.SequenceTimeoutMS) * time.Millisecond,
		Delivery:        DeliveryMode(c.Matcher.Delivery),
		QueueSize:       c.Matcher.QueueSize,
		PinWorkers:      c.Matcher.PinWorkers,
	}
	if len(c.Matcher.CPUs) == 2 {
		cfg.CPUs = [2]int{c.Matcher.CPUs[0], c.Matcher.CPUs[1]}
	}
	return cfg
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
