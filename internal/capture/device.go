package capture

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket/pcap"
)

// Device is a capture device with its addresses
type Device struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Addresses   []string `json:"addresses"`
}

// ListInterfaces enumerates the capture devices known to pcap
func ListInterfaces() ([]Device, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate devices: %v", ErrAttachFailure, err)
	}
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		dev := Device{Name: d.Name, Description: d.Description}
		for _, addr := range d.Addresses {
			dev.Addresses = append(dev.Addresses, addr.IP.String())
		}
		out = append(out, dev)
	}
	return out, nil
}

// ResolveInterface maps "auto" (or an empty name) to the device carrying the
// default route, falling back to the first active device. Other names are
// matched against device names, then against device descriptions (so
// "Intel(R) Ethernet Connection" finds its \Device\NPF_{...} name), and
// returned unchanged when nothing matches.
func ResolveInterface(name string) (string, error) {
	auto := name == "" || strings.EqualFold(name, "auto")
	devs, err := pcap.FindAllDevs()
	if err != nil {
		if !auto {
			return name, nil
		}
		return "", fmt.Errorf("%w: failed to enumerate devices: %v", ErrAttachFailure, err)
	}
	if !auto {
		if dev, ok := matchDevice(devs, name); ok {
			return dev, nil
		}
		return name, nil
	}
	return selectDevice(devs, defaultRouteIP())
}

func matchDevice(devs []pcap.Interface, name string) (string, bool) {
	for _, d := range devs {
		if d.Name == name {
			return d.Name, true
		}
	}
	want := normalizeDescription(name)
	for _, d := range devs {
		if d.Description != "" && normalizeDescription(d.Description) == want {
			return d.Name, true
		}
	}
	return "", false
}

// normalizeDescription folds case and spacing, and drops vendor decorations
// that differ between tools
func normalizeDescription(desc string) string {
	desc = strings.Join(strings.Fields(strings.ToLower(desc)), " ")
	desc = strings.TrimPrefix(desc, "microsoft ")
	desc = strings.TrimSuffix(desc, " adapter")
	return strings.TrimSuffix(desc, " controller")
}

// defaultRouteIP returns the local address used to reach the internet. The
// UDP dial sends nothing; it only makes the kernel pick a route.
func defaultRouteIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return nil
}

func selectDevice(devs []pcap.Interface, routeIP net.IP) (string, error) {
	if len(devs) == 0 {
		return "", fmt.Errorf("%w: no network devices found", ErrAttachFailure)
	}
	if routeIP != nil {
		for _, d := range devs {
			for _, addr := range d.Addresses {
				if addr.IP.Equal(routeIP) {
					return d.Name, nil
				}
			}
		}
	}
	for _, d := range devs {
		if isLoopback(d) {
			continue
		}
		for _, addr := range d.Addresses {
			if usableAddress(addr.IP) {
				return d.Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no active network interface found, specify one explicitly", ErrAttachFailure)
}

func isLoopback(d pcap.Interface) bool {
	name := strings.ToLower(d.Name)
	if name == "lo" || strings.Contains(name, "loopback") || strings.Contains(strings.ToLower(d.Description), "loopback") {
		return true
	}
	for _, addr := range d.Addresses {
		if addr.IP.IsLoopback() {
			return true
		}
	}
	return false
}

func usableAddress(ip net.IP) bool {
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return false
	}
	return ip.To4() != nil
}
