package diagnostics

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
	"EnigmaNetz/Enigma-Go-Capture/internal/version"
)

// DefaultMaxCaptures is how many of the newest capture files a bundle holds
const DefaultMaxCaptures = 5

// BundleSources lists what goes into a support bundle. Empty fields are skipped.
type BundleSources struct {
	// LogFile is the active log file; rotated siblings are included too
	LogFile string
	// CaptureDir holds .pcap files; the newest MaxCaptures are included
	CaptureDir  string
	MaxCaptures int
	ConfigFile  string
	HistoryFile string
	Interface   string
	// Devices lists capture devices; nil means enumerate with pcap
	Devices func() ([]capture.Device, error)
}

// CollectBundle writes a zip archive with logs, recent captures, the config
// file, the history database, version and host information. Missing sources
// are skipped.
func CollectBundle(zipName string, src BundleSources) error {
	out, err := os.Create(zipName)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	if src.LogFile != "" {
		dir := filepath.Dir(src.LogFile)
		base := strings.TrimSuffix(filepath.Base(src.LogFile), filepath.Ext(src.LogFile))
		matches, _ := filepath.Glob(filepath.Join(dir, base+"*"))
		for _, m := range matches {
			_ = addFile(zw, m, filepath.Join("logs", filepath.Base(m)))
		}
	}

	if src.CaptureDir != "" {
		limit := src.MaxCaptures
		if limit <= 0 {
			limit = DefaultMaxCaptures
		}
		for _, p := range newestCaptures(src.CaptureDir, limit) {
			_ = addFile(zw, p, filepath.Join("captures", filepath.Base(p)))
		}
	}

	if src.ConfigFile != "" {
		_ = addFile(zw, src.ConfigFile, filepath.Base(src.ConfigFile))
	}
	if src.HistoryFile != "" {
		_ = addFile(zw, src.HistoryFile, filepath.Base(src.HistoryFile))
	}

	_ = addString(zw, "version.txt", version.Version+"\n")
	_ = addString(zw, "system-info.txt", systemInfo(src.Interface))

	devices := src.Devices
	if devices == nil {
		devices = capture.ListInterfaces
	}
	if devs, err := devices(); err != nil {
		_ = addString(zw, "interfaces.txt", fmt.Sprintf("device enumeration failed: %v\n", err))
	} else if data, err := json.MarshalIndent(devs, "", "  "); err == nil {
		_ = addString(zw, "interfaces.json", string(data)+"\n")
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return nil
}

func newestCaptures(dir string, limit int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type capFile struct {
		path string
		mod  int64
	}
	var files []capFile
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pcap") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, capFile{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod != files[j].mod {
			return files[i].mod > files[j].mod
		}
		return files[i].path < files[j].path
	})
	if len(files) > limit {
		files = files[:limit]
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(filepath.ToSlash(name))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func addString(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, content)
	return err
}

func systemInfo(captureInterface string) string {
	h := DescribeHost(captureInterface)
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var b strings.Builder
	fmt.Fprintf(&b, "Hostname: %s\n", h.Hostname)
	fmt.Fprintf(&b, "Machine ID: %s\n", h.MachineID)
	fmt.Fprintf(&b, "OS: %s (%s)\n", h.OSName, h.OSVersion)
	fmt.Fprintf(&b, "Arch: %s\n", h.Architecture)
	fmt.Fprintf(&b, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(&b, "NumCPU: %d\n", runtime.NumCPU())
	fmt.Fprintf(&b, "GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Fprintf(&b, "Memory: Alloc=%d TotalAlloc=%d Sys=%d NumGC=%d\n", m.Alloc, m.TotalAlloc, m.Sys, m.NumGC)
	if len(h.HostIPs) > 0 {
		fmt.Fprintf(&b, "Host IPs: %s\n", strings.Join(h.HostIPs, ", "))
	}
	return b.String()
}
