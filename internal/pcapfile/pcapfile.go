// Package pcapfile encodes and decodes the classic PCAP container used for
// capture files. Only the little-endian microsecond variant is produced and
// accepted.
package pcapfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	// HeaderSize is the size of the global file header in bytes
	HeaderSize = 24
	// RecordHeaderSize is the size of each per-record header in bytes
	RecordHeaderSize = 16
	// SnapLen is the snapshot length written to every capture file
	SnapLen = 65535
	// VersionMajor and VersionMinor identify the container version (2.4)
	VersionMajor = 2
	VersionMinor = 4

	magicMicroseconds          = 0xA1B2C3D4
	magicMicrosecondsBigEndian = 0xD4C3B2A1
	magicNanoseconds           = 0xA1B23C4D
	magicNanosecondsBigEndian  = 0x4D3CB2A1
)

// LinkType is the link-layer type of every capture file (Ethernet)
const LinkType = layers.LinkTypeEthernet

// ErrMalformedContainer is returned when bytes cannot be read as a capture file.
var ErrMalformedContainer = errors.New("malformed pcap container")

// Frame is one captured link-layer packet with its capture metadata.
type Frame struct {
	Timestamp     time.Time
	CaptureLength int
	Length        int
	Data          []byte
}

// NewFrame copies data out of a capture callback so the caller's buffer can
// be reused. The timestamp is truncated to the microsecond precision the
// container stores.
func NewFrame(ci gopacket.CaptureInfo, data []byte) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	length := ci.Length
	if length < len(buf) {
		length = len(buf)
	}
	return Frame{
		Timestamp:     ci.Timestamp.Truncate(time.Microsecond).UTC(),
		CaptureLength: len(buf),
		Length:        length,
		Data:          buf,
	}
}

// CaptureInfo returns the gopacket view of the frame metadata.
func (f Frame) CaptureInfo() gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     f.Timestamp,
		CaptureLength: f.CaptureLength,
		Length:        f.Length,
	}
}

// Equal reports whether two frames carry the same metadata and bytes.
func (f Frame) Equal(o Frame) bool {
	return f.Timestamp.Equal(o.Timestamp) &&
		f.CaptureLength == o.CaptureLength &&
		f.Length == o.Length &&
		bytes.Equal(f.Data, o.Data)
}

// Header is the decoded global file header.
type Header struct {
	VersionMajor uint16
	VersionMinor uint16
	SnapLen      uint32
	LinkType     layers.LinkType
}

// Container is the result of decoding a capture file.
type Container struct {
	Header Header
	Frames []Frame
	// Truncated is set when decoding stopped at an incomplete or invalid record
	Truncated bool
	// ValidLength is the byte offset just past the last complete record
	ValidLength int64
}

// EncodeHeader produces the fixed-size global header.
func EncodeHeader(linkType layers.LinkType, snapLen uint32) []byte {
	var buf bytes.Buffer
	// writes to a bytes.Buffer cannot fail
	_ = pcapgo.NewWriter(&buf).WriteFileHeader(snapLen, linkType)
	return buf.Bytes()
}

// EncodeRecord produces the record header followed by the frame bytes.
func EncodeRecord(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(RecordHeaderSize + len(f.Data))
	if err := AppendRecords(&buf, []Frame{f}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AppendRecords writes the encoded records of frames to w in order.
func AppendRecords(w io.Writer, frames []Frame) error {
	pw := pcapgo.NewWriter(w)
	for i, f := range frames {
		if f.Timestamp.IsZero() {
			return fmt.Errorf("frame %d has no capture timestamp", i)
		}
		if err := pw.WritePacket(f.CaptureInfo(), f.Data); err != nil {
			return fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
	}
	return nil
}

// Encode produces a complete container holding frames.
func Encode(frames []Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(EncodeHeader(LinkType, SnapLen))
	if err := AppendRecords(&buf, frames); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a capture file. Decoding stops at the first truncated or
// invalid record and returns what was decoded before it, since files may be
// read while still being written.
func Decode(b []byte) (*Container, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the file header", ErrMalformedContainer, len(b))
	}
	switch magic := binary.LittleEndian.Uint32(b[0:4]); magic {
	case magicMicroseconds:
	case magicMicrosecondsBigEndian, magicNanosecondsBigEndian:
		return nil, fmt.Errorf("%w: big-endian byte order is not supported", ErrMalformedContainer)
	case magicNanoseconds:
		return nil, fmt.Errorf("%w: nanosecond timestamps are not supported", ErrMalformedContainer)
	default:
		return nil, fmt.Errorf("%w: unknown magic %#08x", ErrMalformedContainer, magic)
	}

	if major := binary.LittleEndian.Uint16(b[4:6]); major != VersionMajor {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedContainer, major)
	}

	reader, err := pcapgo.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}

	c := &Container{
		Header: Header{
			VersionMajor: binary.LittleEndian.Uint16(b[4:6]),
			VersionMinor: binary.LittleEndian.Uint16(b[6:8]),
			SnapLen:      reader.Snaplen(),
			LinkType:     reader.LinkType(),
		},
		Frames:      make([]Frame, 0),
		ValidLength: HeaderSize,
	}

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.Truncated = true
			break
		}
		c.Frames = append(c.Frames, Frame{
			Timestamp:     ci.Timestamp.UTC(),
			CaptureLength: ci.CaptureLength,
			Length:        ci.Length,
			Data:          data,
		})
		c.ValidLength += int64(RecordHeaderSize + len(data))
	}

	return c, nil
}

// DecodeFile reads and decodes the capture file at path.
func DecodeFile(path string) (*Container, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}
	return Decode(b)
}

// WriteEmpty writes a header-only container straight to path. It is the last
// resort when the regular flush path has failed, so it keeps no state and
// skips the temp file.
func WriteEmpty(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	if _, err := f.Write(EncodeHeader(LinkType, SnapLen)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync capture file: %w", err)
	}
	return f.Close()
}
