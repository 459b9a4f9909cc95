// Package analyzer summarizes a capture file: protocol mix, busiest
// addresses and conversations.
package analyzer

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"EnigmaNetz/Enigma-Go-Capture/internal/pcapfile"
)

const (
	// MaxPackets bounds how many frames a report looks at
	MaxPackets = 1000
	// TopN is the number of addresses and conversations listed
	TopN = 5
	// TopProtocols is the number of protocols listed
	TopProtocols = 10
)

// Count is a protocol and how many packets carried it
type Count struct {
	Name    string `json:"name"`
	Packets int    `json:"packets"`
}

// Traffic is the packet and byte total for an address or conversation
type Traffic struct {
	Key     string `json:"key"`
	Packets int    `json:"packets"`
	Bytes   int64  `json:"bytes"`
}

// Report is the summary of one capture file
type Report struct {
	File              string    `json:"file"`
	PacketCount       int       `json:"packet_count"`
	TotalBytes        int64     `json:"total_bytes"`
	Limited           bool      `json:"limited"`
	Truncated         bool      `json:"truncated"`
	Protocols         []Count   `json:"protocols"`
	TopAddresses      []Traffic `json:"top_addresses"`
	TopConversations  []Traffic `json:"top_conversations"`
	AveragePacketSize float64   `json:"average_packet_size"`
}

// AnalyzeFile reads a capture file and summarizes up to MaxPackets frames.
// A file that is still being written is summarized up to its last complete
// record.
func AnalyzeFile(path string) (*Report, error) {
	c, err := pcapfile.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading pcap file: %w", err)
	}
	r := Analyze(c.Header.LinkType, c.Frames)
	r.File = path
	r.Truncated = c.Truncated
	return r, nil
}

// Analyze summarizes frames captured with the given link type
func Analyze(linkType layers.LinkType, frames []pcapfile.Frame) *Report {
	r := &Report{
		Protocols:        []Count{},
		TopAddresses:     []Traffic{},
		TopConversations: []Traffic{},
	}
	if len(frames) > MaxPackets {
		frames = frames[:MaxPackets]
		r.Limited = true
	}

	protocols := make(map[string]int)
	addresses := make(map[string]*Traffic)
	conversations := make(map[string]*Traffic)
	add := func(m map[string]*Traffic, key string, size int64) {
		t, ok := m[key]
		if !ok {
			t = &Traffic{Key: key}
			m[key] = t
		}
		t.Packets++
		t.Bytes += size
	}

	for _, f := range frames {
		r.PacketCount++
		size := int64(f.Length)
		r.TotalBytes += size

		packet := gopacket.NewPacket(f.Data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		src, dst, proto, ok := networkEndpoints(packet)
		if !ok {
			continue
		}
		protocols[proto]++
		add(addresses, src, size)
		add(addresses, dst, size)
		add(conversations, src+" -> "+dst, size)
	}

	for name, n := range protocols {
		r.Protocols = append(r.Protocols, Count{Name: name, Packets: n})
	}
	sort.Slice(r.Protocols, func(i, j int) bool {
		if r.Protocols[i].Packets != r.Protocols[j].Packets {
			return r.Protocols[i].Packets > r.Protocols[j].Packets
		}
		return r.Protocols[i].Name < r.Protocols[j].Name
	})
	if len(r.Protocols) > TopProtocols {
		r.Protocols = r.Protocols[:TopProtocols]
	}
	r.TopAddresses = top(addresses)
	r.TopConversations = top(conversations)
	if r.PacketCount > 0 {
		r.AveragePacketSize = float64(r.TotalBytes) / float64(r.PacketCount)
	}
	return r
}

func networkEndpoints(packet gopacket.Packet) (src, dst, proto string, ok bool) {
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		return ip.SrcIP.String(), ip.DstIP.String(), protocolName(ip.Protocol), true
	case *layers.IPv6:
		return ip.SrcIP.String(), ip.DstIP.String(), protocolName(ip.NextHeader), true
	}
	return "", "", "", false
}

func protocolName(p layers.IPProtocol) string {
	switch p {
	case layers.IPProtocolICMPv4:
		return "ICMP"
	case layers.IPProtocolICMPv6:
		return "ICMPv6"
	case layers.IPProtocolTCP:
		return "TCP"
	case layers.IPProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(p))
	}
}

func top(m map[string]*Traffic) []Traffic {
	out := make([]Traffic, 0, len(m))
	for _, t := range m {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Packets != out[j].Packets {
			return out[i].Packets > out[j].Packets
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > TopN {
		out = out[:TopN]
	}
	return out
}

// WriteJSON writes the report as a single JSON object
func (r *Report) WriteJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(r)
}

// WriteText writes the human readable report
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	if r.File != "" {
		fmt.Fprintf(&b, "File: %s\n", r.File)
	}
	fmt.Fprintf(&b, "Total packets: %d\n", r.PacketCount)
	if r.Limited {
		fmt.Fprintf(&b, "(first %d packets analyzed)\n", MaxPackets)
	}
	if r.Truncated {
		b.WriteString("(file ends in a partial record)\n")
	}
	b.WriteString("\n")

	if r.PacketCount == 0 {
		b.WriteString("Warning: no packets captured. Possible causes:\n")
		b.WriteString("- wrong capture interface\n")
		b.WriteString("- network device not active\n")
		b.WriteString("- no traffic during capture\n\n")
	}

	b.WriteString("Protocol distribution:\n")
	if len(r.Protocols) == 0 {
		b.WriteString("- no protocol information\n")
	}
	for _, p := range r.Protocols {
		fmt.Fprintf(&b, "- %s: %d packets\n", p.Name, p.Packets)
	}
	b.WriteString("\n")

	writeTraffic(&b, "Top addresses:", "- no IP traffic\n", r.TopAddresses)
	writeTraffic(&b, "Top conversations:", "- no conversations\n", r.TopConversations)

	fmt.Fprintf(&b, "Average packet size: %.2f bytes\n", r.AveragePacketSize)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeTraffic(b *strings.Builder, title, empty string, rows []Traffic) {
	b.WriteString(title + "\n")
	if len(rows) == 0 {
		b.WriteString(empty)
	}
	for _, t := range rows {
		fmt.Fprintf(b, "- %s: %d packets, %d bytes\n", t.Key, t.Packets, t.Bytes)
	}
	b.WriteString("\n")
}
