// Package diagnostics describes the capture host and packages support
// bundles.
package diagnostics

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"EnigmaNetz/Enigma-Go-Capture/internal/version"
)

// maxHostIPs caps the address list on hosts with many virtual NICs
const maxHostIPs = 10

// Host identifies the machine a capture ran on
type Host struct {
	MachineID    string   `json:"machine_id"`
	Hostname     string   `json:"hostname"`
	Version      string   `json:"version"`
	OSName       string   `json:"os_name"`
	OSVersion    string   `json:"os_version"`
	Architecture string   `json:"architecture"`
	HostIPs      []string `json:"host_ips,omitempty"`
}

// DescribeHost collects host identity. When captureInterface names a system
// interface, its private address is listed alone.
func DescribeHost(captureInterface string) Host {
	hostname, _ := os.Hostname()
	return Host{
		MachineID:    MachineID(),
		Hostname:     hostname,
		Version:      version.Version,
		OSName:       runtime.GOOS,
		OSVersion:    osVersion(),
		Architecture: runtime.GOARCH,
		HostIPs:      hostAddresses(captureInterface),
	}
}

// MachineID is a stable SHA256 of the primary MAC address
func MachineID() string {
	mac := primaryMAC()
	if mac == "" {
		mac = "unknown-device"
	}
	sum := sha256.Sum256([]byte(mac))
	return hex.EncodeToString(sum[:])
}

func hostAddresses(captureInterface string) []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	return privateAddresses(ifaces, captureInterface, func(i net.Interface) []net.Addr {
		addrs, _ := i.Addrs()
		return addrs
	})
}

// privateAddresses picks private IPv4 addresses from up, non-loopback
// interfaces, preferring the capture interface
func privateAddresses(ifaces []net.Interface, preferred string, addrsOf func(net.Interface) []net.Addr) []string {
	private := func(a net.Addr) string {
		if ipnet, ok := a.(*net.IPNet); ok {
			if ip := ipnet.IP.To4(); ip != nil && ip.IsPrivate() {
				return ip.String()
			}
		}
		return ""
	}

	if preferred != "" && !strings.EqualFold(preferred, "auto") {
		for _, iface := range ifaces {
			if iface.Name != preferred || iface.Flags&net.FlagUp == 0 {
				continue
			}
			for _, a := range addrsOf(iface) {
				if ip := private(a); ip != "" {
					return []string{ip}
				}
			}
		}
	}

	var ips []string
	seen := make(map[string]bool)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		for _, a := range addrsOf(iface) {
			ip := private(a)
			if ip == "" || seen[ip] {
				continue
			}
			seen[ip] = true
			ips = append(ips, ip)
			if len(ips) >= maxHostIPs {
				return ips
			}
		}
	}
	return ips
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	return pickMAC(ifaces)
}

// pickMAC prefers wired, then wireless, then any non-loopback interface
func pickMAC(ifaces []net.Interface) string {
	sorted := append([]net.Interface(nil), ifaces...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	usable := func(i net.Interface) bool {
		return i.Flags&net.FlagLoopback == 0 && len(i.HardwareAddr) > 0
	}
	for _, prefix := range []string{"eth", "en", "wlan", "wl"} {
		for _, iface := range sorted {
			if strings.HasPrefix(iface.Name, prefix) && usable(iface) {
				return iface.HardwareAddr.String()
			}
		}
	}
	for _, iface := range sorted {
		if usable(iface) {
			return iface.HardwareAddr.String()
		}
	}
	return ""
}

func osVersion() string {
	switch runtime.GOOS {
	case "linux":
		return linuxVersion("/etc/os-release")
	case "darwin":
		if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
			return "macOS " + strings.TrimSpace(string(out))
		}
		return "macOS"
	case "windows":
		out, err := exec.Command("cmd", "/c", "ver").Output()
		if err != nil {
			return "Windows"
		}
		// "Microsoft Windows [Version 10.0.19044.1766]"
		if _, v, ok := strings.Cut(strings.TrimSpace(string(out)), "Version"); ok {
			return "Windows " + strings.Trim(v, " []")
		}
		return "Windows"
	default:
		return runtime.GOOS
	}
}

func linuxVersion(osRelease string) string {
	f, err := os.Open(osRelease)
	if err != nil {
		return "Linux"
	}
	defer f.Close()

	var name, ver string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "NAME="); ok {
			name = strings.Trim(v, `"`)
		} else if v, ok := strings.CutPrefix(line, "VERSION="); ok {
			ver = strings.Trim(v, `"`)
		}
	}
	switch {
	case name != "" && ver != "":
		return name + " " + ver
	case name != "":
		return name
	default:
		return "Linux"
	}
}
