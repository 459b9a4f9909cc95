// Package events writes the line-delimited JSON status stream read by the
// supervising process.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Event types recognized by the supervisor
const (
	TypeStatus      = "status"
	TypeStats       = "stats"
	TypeFileUpdated = "file_updated"
	TypeFileSaved   = "file_saved"
	TypeComplete    = "complete"
	TypeDriverError = "driver_error"
	TypeError       = "error"
	TypeWarning     = "warning"
	TypeDebug       = "debug"
	TypeInfo        = "info"
	TypeSuccess     = "success"
)

// DriverDownloadURL is where users are sent when no capture driver is present
const DriverDownloadURL = "https://npcap.com/#download"

// Status announces a started session
type Status struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Interface string `json:"interface"`
	PcapFile  string `json:"pcap_file"`
}

// Stats is the periodic progress report
type Stats struct {
	Type        string  `json:"type"`
	PacketCount int64   `json:"packet_count"`
	TotalSize   int64   `json:"total_size"`
	Duration    float64 `json:"duration"`
}

// File reports a completed flush (file_updated or file_saved)
type File struct {
	Type        string `json:"type"`
	FilePath    string `json:"file_path"`
	PacketCount int    `json:"packet_count"`
	FileSize    int64  `json:"file_size"`
}

// Complete reports a successfully finalized session
type Complete struct {
	Type        string  `json:"type"`
	PacketCount int64   `json:"packet_count"`
	TotalSize   int64   `json:"total_size"`
	Duration    float64 `json:"duration"`
	PcapFile    string  `json:"pcap_file"`
	PcapPath    string  `json:"pcap_path"`
	SessionID   string  `json:"session_id,omitempty"`
}

// DriverError reports that no capture capability is available
type DriverError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Detail      string `json:"detail"`
	DownloadURL string `json:"download_url"`
	Solution    string `json:"solution,omitempty"`
}

// Error reports an unrecoverable condition
type Error struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	Traceback   string `json:"traceback,omitempty"`
	Interface   string `json:"interface,omitempty"`
	PacketCount *int64 `json:"packet_count,omitempty"`
}

// Message is an advisory event (warning, debug, info, success)
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Emitter serializes events to w, one JSON object per line. Every event is
// flushed before Emit returns so a process exit never truncates the stream.
type Emitter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEmitter creates an emitter writing to w
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: bufio.NewWriter(w)}
}

// Emit writes one event
func (e *Emitter) Emit(ev interface{}) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return e.w.Flush()
}

// Flush pushes any buffered output to the underlying writer
func (e *Emitter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Flush()
}

func (e *Emitter) Status(message, iface, pcapFile string) {
	e.Emit(Status{Type: TypeStatus, Message: message, Interface: iface, PcapFile: pcapFile})
}

func (e *Emitter) Stats(packets, bytes int64, seconds float64) {
	e.Emit(Stats{Type: TypeStats, PacketCount: packets, TotalSize: bytes, Duration: seconds})
}

func (e *Emitter) FileUpdated(path string, packets int, size int64) {
	e.Emit(File{Type: TypeFileUpdated, FilePath: path, PacketCount: packets, FileSize: size})
}

func (e *Emitter) FileSaved(path string, packets int, size int64) {
	e.Emit(File{Type: TypeFileSaved, FilePath: path, PacketCount: packets, FileSize: size})
}

func (e *Emitter) DriverError(message, detail string) {
	e.Emit(DriverError{
		Type:        TypeDriverError,
		Message:     message,
		Detail:      detail,
		DownloadURL: DriverDownloadURL,
		Solution:    "Install a packet capture driver (Npcap on Windows, libpcap elsewhere) and retry",
	})
}

func (e *Emitter) Error(message string) {
	e.Emit(Error{Type: TypeError, Message: message})
}

func (e *Emitter) Warning(format string, v ...interface{}) {
	e.Emit(Message{Type: TypeWarning, Message: fmt.Sprintf(format, v...)})
}

func (e *Emitter) Debug(format string, v ...interface{}) {
	e.Emit(Message{Type: TypeDebug, Message: fmt.Sprintf(format, v...)})
}

func (e *Emitter) Info(format string, v ...interface{}) {
	e.Emit(Message{Type: TypeInfo, Message: fmt.Sprintf(format, v...)})
}

func (e *Emitter) Success(format string, v ...interface{}) {
	e.Emit(Message{Type: TypeSuccess, Message: fmt.Sprintf(format, v...)})
}
