package diagnostics

import (
	"archive/zip"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
)

func TestMachineID_Stable(t *testing.T) {
	id1 := MachineID()
	id2 := MachineID()
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA256 hex")
}

func TestDescribeHost(t *testing.T) {
	h := DescribeHost("auto")
	assert.NotEmpty(t, h.MachineID)
	assert.NotEmpty(t, h.Version)
	assert.NotEmpty(t, h.OSName)
	assert.NotEmpty(t, h.OSVersion)
	assert.NotEmpty(t, h.Architecture)
	assert.LessOrEqual(t, len(h.HostIPs), maxHostIPs)
}

func TestPickMAC(t *testing.T) {
	mac := func(s string) net.HardwareAddr {
		hw, err := net.ParseMAC(s)
		require.NoError(t, err)
		return hw
	}

	tests := []struct {
		name   string
		ifaces []net.Interface
		want   string
	}{
		{"wired preferred", []net.Interface{
			{Name: "wlan0", HardwareAddr: mac("00:00:00:00:00:02")},
			{Name: "eth0", HardwareAddr: mac("00:00:00:00:00:01")},
		}, "00:00:00:00:00:01"},
		{"loopback skipped", []net.Interface{
			{Name: "lo", HardwareAddr: mac("00:00:00:00:00:09"), Flags: net.FlagLoopback},
			{Name: "docker0", HardwareAddr: mac("00:00:00:00:00:03")},
		}, "00:00:00:00:00:03"},
		{"none", []net.Interface{{Name: "tun0"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickMAC(tt.ifaces))
		})
	}
}

func TestPrivateAddresses(t *testing.T) {
	addrs := map[string][]net.Addr{
		"lo":    {&net.IPNet{IP: net.ParseIP("127.0.0.1")}},
		"eth0":  {&net.IPNet{IP: net.ParseIP("8.8.4.4")}, &net.IPNet{IP: net.ParseIP("10.0.0.5")}},
		"wlan0": {&net.IPNet{IP: net.ParseIP("192.168.1.7")}},
		"down0": {&net.IPNet{IP: net.ParseIP("172.16.0.1")}},
	}
	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "eth0", Flags: net.FlagUp},
		{Name: "wlan0", Flags: net.FlagUp},
		{Name: "down0"},
	}
	lookup := func(i net.Interface) []net.Addr { return addrs[i.Name] }

	assert.Equal(t, []string{"10.0.0.5", "192.168.1.7"}, privateAddresses(ifaces, "auto", lookup))
	assert.Equal(t, []string{"192.168.1.7"}, privateAddresses(ifaces, "wlan0", lookup))
	assert.Equal(t, []string{"10.0.0.5", "192.168.1.7"}, privateAddresses(ifaces, "down0", lookup))
}

func TestLinuxVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(path, []byte("NAME=\"Ubuntu\"\nVERSION=\"22.04 LTS\"\nID=ubuntu\n"), 0644))

	assert.Equal(t, "Ubuntu 22.04 LTS", linuxVersion(path))
	assert.Equal(t, "Linux", linuxVersion(filepath.Join(dir, "missing")))
}

func zipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(data)
	}
	return out
}

func TestCollectBundle(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	capDir := filepath.Join(dir, "temp")
	require.NoError(t, os.MkdirAll(logDir, 0755))
	require.NoError(t, os.MkdirAll(capDir, 0755))

	logFile := filepath.Join(logDir, "capture.log")
	require.NoError(t, os.WriteFile(logFile, []byte("current\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "capture-2024-01-01T00-00-00.000.log.gz"), []byte("old"), 0644))

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.pcap", "b.pcap", "c.pcap", "notes.txt"} {
		p := filepath.Join(capDir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0644))
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mod, mod))
	}

	cfgFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte("{}"), 0644))

	zipName := filepath.Join(dir, "bundle.zip")
	err := CollectBundle(zipName, BundleSources{
		LogFile:     logFile,
		CaptureDir:  capDir,
		MaxCaptures: 2,
		ConfigFile:  cfgFile,
		HistoryFile: filepath.Join(dir, "missing.db"),
		Interface:   "eth0",
		Devices: func() ([]capture.Device, error) {
			return []capture.Device{{Name: "eth0", Addresses: []string{"10.0.0.5"}}}, nil
		},
	})
	require.NoError(t, err)

	entries := zipEntries(t, zipName)
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"captures/b.pcap",
		"captures/c.pcap",
		"config.json",
		"interfaces.json",
		"logs/capture-2024-01-01T00-00-00.000.log.gz",
		"logs/capture.log",
		"system-info.txt",
		"version.txt",
	}, names)
	assert.Contains(t, entries["interfaces.json"], `"eth0"`)
	assert.Contains(t, entries["system-info.txt"], "Machine ID:")
}

func TestCollectBundle_DeviceError(t *testing.T) {
	zipName := filepath.Join(t.TempDir(), "bundle.zip")
	err := CollectBundle(zipName, BundleSources{
		Devices: func() ([]capture.Device, error) { return nil, errors.New("no driver") },
	})
	require.NoError(t, err)

	entries := zipEntries(t, zipName)
	assert.Contains(t, entries["interfaces.txt"], "no driver")
	assert.NotContains(t, entries, "interfaces.json")
}

func TestCollectBundle_BadPath(t *testing.T) {
	err := CollectBundle(filepath.Join(t.TempDir(), "missing", "bundle.zip"), BundleSources{})
	assert.ErrorContains(t, err, "failed to create zip")
}
