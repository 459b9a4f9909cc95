package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
	"EnigmaNetz/Enigma-Go-Capture/internal/history"
)

func TestRenderInterfaces(t *testing.T) {
	var buf bytes.Buffer
	renderInterfaces(&buf, []capture.Device{
		{Name: "eth0", Description: "Onboard", Addresses: []string{"10.0.0.5", "fe80::1"}},
		{Name: "lo"},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "eth0")
	assert.Contains(t, out, "10.0.0.5, fe80::1")
	assert.Contains(t, out, "lo")
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(&buf, []history.Entry{
		{ID: "a1", Interface: "eth0", State: "stopped", PacketCount: 42, OutputPath: "temp/eth0.pcap", StartTime: time.Now()},
		{ID: "b2", Interface: "wlan0", State: "failed", StartTime: time.Now()},
	})

	out := buf.String()
	for _, want := range []string{"STARTED", "a1", "42", "temp/eth0.pcap", "b2", "failed"} {
		assert.Contains(t, out, want)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, path, err := loadConfig("")
	assert.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "auto", cfg.Capture.Interface)
}
