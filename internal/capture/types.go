package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrAttachFailure means no capture capability is available for the interface
	ErrAttachFailure = errors.New("failed to attach to capture interface")
	// ErrStreamError means the capture source failed while running
	ErrStreamError = errors.New("capture stream error")
	// ErrReadTimeout is returned by a Source when no frame arrived within its read timeout
	ErrReadTimeout = errors.New("capture read timeout")
	// ErrInvalidState is returned when an operation does not apply to the session's state
	ErrInvalidState = errors.New("invalid session state")
)

// State is the lifecycle position of a capture session
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CaptureOptions defines configuration options for a capture session
type CaptureOptions struct {
	// ID identifies the session in events and history records
	ID string

	// Interface is the capture device name (e.g. "eth0", "\Device\NPF_{...}")
	Interface string

	// OutputPath is the capture file. If empty, a name is derived from the
	// interface and start time inside WorkDir
	OutputPath string

	// WorkDir is the directory relative output names resolve against
	WorkDir string

	// Filter is a BPF filter expression to filter captured packets
	Filter string

	// Duration is the length of time to capture for
	// If zero, capture runs until explicitly stopped
	Duration time.Duration

	// SnapLen is the maximum number of bytes to capture per packet
	SnapLen int

	// Promiscuous enables promiscuous mode on the device
	Promiscuous bool

	// FlushEvery is how many frames arrive between periodic flushes
	FlushEvery int

	// StatsEvery is how many frames arrive between stats events
	StatsEvery int

	// ReadTimeout bounds each read so the stop flag is observed between frames
	ReadTimeout time.Duration

	// StopGrace is how long finalize waits for the capture loop to exit
	StopGrace time.Duration

	// VerifyTimeout bounds the wait for the finalized file to appear
	VerifyTimeout time.Duration

	// VerifyInterval is the poll interval while verifying the file
	VerifyInterval time.Duration
}

func (o *CaptureOptions) setDefaults() {
	if o.SnapLen <= 0 {
		o.SnapLen = 65535
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = 50
	}
	if o.StatsEvery <= 0 {
		o.StatsEvery = 10
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 100 * time.Millisecond
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2 * time.Second
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = 10 * time.Second
	}
	if o.VerifyInterval <= 0 {
		o.VerifyInterval = 100 * time.Millisecond
	}
}

// CaptureResult contains information about a completed capture
type CaptureResult struct {
	// SessionID is the ID of the session that produced the result
	SessionID string

	// State is the terminal session state (stopped or failed)
	State State

	// Interface is the device the session captured from
	Interface string

	// PCAPFile is the path to the generated PCAP file
	PCAPFile string

	// FileSize is the size of the verified file in bytes
	FileSize int64

	// PacketCount is the number of packets captured
	PacketCount int64

	// ByteCount is the number of bytes captured
	ByteCount int64

	// PersistedCount is the number of packets present in the file
	PersistedCount int

	// StartTime is when the capture began
	StartTime time.Time

	// EndTime is when the capture ended
	EndTime time.Time

	// Trigger names what ended the session
	Trigger string

	// Error contains any error that occurred during capture
	Error error
}

// Duration returns how long the session ran
func (r CaptureResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ExitCode is 0 when the capture file was verified on disk, 1 otherwise
func (r CaptureResult) ExitCode() int {
	if r.State == StateStopped {
		return 0
	}
	return 1
}

// Source yields raw captured frames. ReadPacketData returns ErrReadTimeout
// when nothing arrived in time and io.EOF when the stream has ended.
type Source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
	Close()
}

// OpenParams describes the device a Source is opened on
type OpenParams struct {
	Interface   string
	SnapLen     int
	Promiscuous bool
	Filter      string
	ReadTimeout time.Duration
}

// Opener attaches to a capture device
type Opener func(OpenParams) (Source, error)
