package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"EnigmaNetz/Enigma-Go-Capture/internal/logger"
)

// Config represents the application configuration
type Config struct {
	// Logging configuration
	Logging struct {
		// Level is the minimum log level to output (debug, info, warn, error)
		Level string `json:"level" toml:"level" yaml:"level"`
		// File is the path to the log file. If empty, logs go to stderr only
		File string `json:"file" toml:"file" yaml:"file"`
		// MaxSizeMB is the maximum size of log file before rotation
		MaxSizeMB int64 `json:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
		// LogRetentionDays is how long rotated log files are kept
		LogRetentionDays int `json:"log_retention_days" toml:"log_retention_days" yaml:"log_retention_days"`
	} `json:"logging" toml:"logging" yaml:"logging"`

	// Capture configuration
	Capture struct {
		// Interface is the device to capture from, or "auto"
		Interface string `json:"interface" toml:"interface" yaml:"interface"`
		// OutputDir is where relative capture file names are resolved
		OutputDir string `json:"output_dir" toml:"output_dir" yaml:"output_dir"`
		// DurationSeconds is how long a capture runs when the CLI gives no duration
		DurationSeconds int `json:"duration_seconds" toml:"duration_seconds" yaml:"duration_seconds"`
		// SnapLen is the per-packet snapshot length
		SnapLen int `json:"snap_len" toml:"snap_len" yaml:"snap_len"`
		// Promiscuous enables promiscuous mode
		Promiscuous *bool `json:"promiscuous" toml:"promiscuous" yaml:"promiscuous"`
		// Filter is an optional BPF filter expression
		Filter string `json:"filter" toml:"filter" yaml:"filter"`
		// FlushEvery is the number of frames between periodic flushes
		FlushEvery int `json:"flush_every" toml:"flush_every" yaml:"flush_every"`
		// StatsEvery is the number of frames between stats events
		StatsEvery int `json:"stats_every" toml:"stats_every" yaml:"stats_every"`
		// ControlPollMillis is the stdin control channel poll interval
		ControlPollMillis int `json:"control_poll_ms" toml:"control_poll_ms" yaml:"control_poll_ms"`
		// StopGraceMillis bounds the wait for the capture loop on stop
		StopGraceMillis int `json:"stop_grace_ms" toml:"stop_grace_ms" yaml:"stop_grace_ms"`
		// VerifyTimeoutSeconds bounds the final file verification
		VerifyTimeoutSeconds int `json:"verify_timeout_seconds" toml:"verify_timeout_seconds" yaml:"verify_timeout_seconds"`
		// AnalyzeOnComplete prints an analyzer summary after a successful capture
		AnalyzeOnComplete bool `json:"analyze_on_complete" toml:"analyze_on_complete" yaml:"analyze_on_complete"`
	} `json:"capture" toml:"capture" yaml:"capture"`

	// History configuration
	History struct {
		// Path is the session history database
		Path string `json:"path" toml:"path" yaml:"path"`
		// Disabled turns off session history
		Disabled bool `json:"disabled" toml:"disabled" yaml:"disabled"`
	} `json:"history" toml:"history" yaml:"history"`
}

// DefaultConfigPaths are searched in order when no config file is given
func DefaultConfigPaths() []string {
	if os.PathSeparator == '\\' {
		return []string{`C:\ProgramData\EnigmaCapture\config.json`, "config.json"}
	}
	return []string{"/etc/enigma-capture/config.json", "config.json"}
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ValidateAndSetDefaults()
	return cfg
}

// LoadConfig loads configuration from a JSON, TOML or YAML file, chosen by
// extension (JSON when unknown)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	if err := config.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidateAndSetDefaults fills unset fields and rejects invalid ones
func (c *Config) ValidateAndSetDefaults() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100 // 100MB default
	}
	if c.Logging.LogRetentionDays == 0 {
		c.Logging.LogRetentionDays = 7
	}
	if c.Capture.Interface == "" {
		c.Capture.Interface = "auto"
	}
	if c.Capture.OutputDir == "" {
		c.Capture.OutputDir = "temp"
	}
	if c.Capture.DurationSeconds == 0 {
		c.Capture.DurationSeconds = 30
	}
	if c.Capture.SnapLen == 0 {
		c.Capture.SnapLen = 65535
	}
	if c.Capture.Promiscuous == nil {
		on := true
		c.Capture.Promiscuous = &on
	}
	if c.Capture.FlushEvery == 0 {
		c.Capture.FlushEvery = 50
	}
	if c.Capture.StatsEvery == 0 {
		c.Capture.StatsEvery = 10
	}
	if c.Capture.ControlPollMillis == 0 {
		c.Capture.ControlPollMillis = 100
	}
	if c.Capture.StopGraceMillis == 0 {
		c.Capture.StopGraceMillis = 2000
	}
	if c.Capture.VerifyTimeoutSeconds == 0 {
		c.Capture.VerifyTimeoutSeconds = 10
	}
	if c.History.Path == "" {
		c.History.Path = "history.db"
	}

	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %v", err)
	}
	if !strings.EqualFold(c.Capture.Interface, "auto") {
		if err := validateInterfaceName(c.Capture.Interface); err != nil {
			return fmt.Errorf("invalid interface '%s': %v", c.Capture.Interface, err)
		}
	}
	switch {
	case c.Capture.DurationSeconds < 0:
		return fmt.Errorf("capture.duration_seconds must not be negative")
	case c.Capture.SnapLen < 0 || c.Capture.SnapLen > 65535:
		return fmt.Errorf("capture.snap_len must be between 1 and 65535")
	case c.Capture.FlushEvery < 0 || c.Capture.StatsEvery < 0:
		return fmt.Errorf("capture.flush_every and capture.stats_every must be positive")
	case c.Capture.ControlPollMillis < 0 || c.Capture.StopGraceMillis < 0 || c.Capture.VerifyTimeoutSeconds < 0:
		return fmt.Errorf("capture timeouts must not be negative")
	}
	return nil
}

// ControlPollInterval returns the stdin poll interval
func (c *Config) ControlPollInterval() time.Duration {
	return time.Duration(c.Capture.ControlPollMillis) * time.Millisecond
}

// StopGrace returns the bounded wait for the capture loop to exit
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Capture.StopGraceMillis) * time.Millisecond
}

// VerifyTimeout returns the bound on final file verification
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.Capture.VerifyTimeoutSeconds) * time.Second
}

// InitializeLogging sets up logging based on config
func (c *Config) InitializeLogging() error {
	level, err := logger.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %v", err)
	}

	logConfig := logger.Config{
		LogLevel:   level,
		LogFile:    c.Logging.File,
		MaxSizeMB:  int(c.Logging.MaxSizeMB),
		MaxAgeDays: c.Logging.LogRetentionDays,
	}

	if err := logger.Initialize(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	return nil
}

var (
	interfaceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
	npcapDevicePattern   = regexp.MustCompile(`^\\Device\\NPF_(\{[0-9A-Fa-f-]+\}|Loopback)$`)
	unsafeFileChars      = regexp.MustCompile(`[^a-zA-Z0-9()]`)
)

// ValidateInterfaceName checks that name is a plausible capture device name
func ValidateInterfaceName(name string) error {
	return validateInterfaceName(name)
}

func validateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("interface name too long: %d characters", len(name))
	}
	if npcapDevicePattern.MatchString(name) {
		return nil
	}
	if !interfaceNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("interface name contains invalid characters")
	}
	return nil
}

// DefaultOutputName builds "<sanitized-interface>_<timestamp>.pcap"
func DefaultOutputName(iface string, now time.Time) string {
	clean := unsafeFileChars.ReplaceAllString(iface, "")
	if clean == "" {
		clean = "capture"
	}
	return fmt.Sprintf("%s_%s.pcap", clean, now.Format("20060102T150405"))
}

// ResolveOutputPath turns the CLI output argument into a file path. Quotes
// around the name are stripped, relative names land in workDir, and an empty
// name gets the default name for iface.
func ResolveOutputPath(workDir, iface, name string, now time.Time) string {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" {
		name = DefaultOutputName(iface, now)
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(workDir, name)
}
