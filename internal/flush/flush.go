// Package flush merges buffered frames into the capture file on disk without
// ever leaving an invalid container at the output path.
package flush

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"EnigmaNetz/Enigma-Go-Capture/internal/logger"
	"EnigmaNetz/Enigma-Go-Capture/internal/pcapfile"
)

// ErrFlushFailed wraps any I/O or encoding error raised while flushing
var ErrFlushFailed = errors.New("flush failed")

// Trigger names what asked for a flush
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerPeriodic Trigger = "periodic"
	TriggerStop     Trigger = "stop"
	TriggerSignal   Trigger = "signal"
	TriggerFinal    Trigger = "final"
)

// Mode describes how a flush changed the file
type Mode string

const (
	ModeCreated   Mode = "created"
	ModeAppended  Mode = "appended"
	ModeRewritten Mode = "rewritten"
	ModeUnchanged Mode = "unchanged"
)

// FrameSource is the in-memory capture a Flusher projects onto disk.
// Implementations must return frames in arrival order and never modify a
// frame once it is visible.
type FrameSource interface {
	All() []pcapfile.Frame
	Since(checkpoint int) []pcapfile.Frame
	At(i int) (pcapfile.Frame, bool)
}

// Result describes a completed flush
type Result struct {
	Path        string
	PacketCount int
	FileSize    int64
	Mode        Mode
	Trigger     Trigger
	// Reason is set when the flush fell back to a full rewrite
	Reason string
}

// Option configures a Flusher
type Option func(*Flusher)

// WithRename replaces os.Rename for the final swap of the temp file
func WithRename(rename func(oldpath, newpath string) error) Option {
	return func(f *Flusher) {
		f.rename = rename
	}
}

// WithLogger sets the logger used for fallback diagnostics
func WithLogger(l *logger.Logger) Option {
	return func(f *Flusher) {
		f.log = l
	}
}

// Flusher owns the output file of one capture session. Flushes are mutually
// exclusive; a caller arriving while another flush runs waits for it and then
// merges whatever arrived in the meantime.
type Flusher struct {
	path   string
	frames FrameSource
	rename func(oldpath, newpath string) error
	log    *logger.Logger

	mu         sync.Mutex
	checkpoint int
}

// New creates a Flusher writing frames to path
func New(path string, frames FrameSource, opts ...Option) *Flusher {
	f := &Flusher{
		path:   path,
		frames: frames,
		rename: os.Rename,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.GetLogger()
	}
	return f
}

// Path returns the output file path
func (f *Flusher) Path() string {
	return f.path
}

// Checkpoint returns how many frames the last successful flush left on disk
func (f *Flusher) Checkpoint() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoint
}

// Flush merges the buffered frames into the output file.
func (f *Flusher) Flush(trigger Trigger) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(existing) == 0) {
		return f.rewrite(trigger, ModeCreated, "")
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to read %s: %v", ErrFlushFailed, f.path, err)
	}

	c, err := pcapfile.Decode(existing)
	if reason := f.diverges(c, err); reason != "" {
		f.log.Warn("[flush] Rewriting %s from memory: %s", f.path, reason)
		return f.rewrite(trigger, ModeRewritten, reason)
	}

	tail := f.frames.Since(f.checkpoint)
	if len(tail) == 0 {
		return Result{
			Path:        f.path,
			PacketCount: f.checkpoint,
			FileSize:    int64(len(existing)),
			Mode:        ModeUnchanged,
			Trigger:     trigger,
		}, nil
	}

	var buf bytes.Buffer
	buf.Grow(int(c.ValidLength) + len(tail)*(pcapfile.RecordHeaderSize+128))
	buf.Write(existing[:c.ValidLength])
	if err := pcapfile.AppendRecords(&buf, tail); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFlushFailed, err)
	}
	if err := f.swap(buf.Bytes()); err != nil {
		return Result{}, err
	}
	f.checkpoint += len(tail)
	f.log.Debug("[flush] Appended %d frames to %s (%s)", len(tail), f.path, trigger)

	return Result{
		Path:        f.path,
		PacketCount: f.checkpoint,
		FileSize:    int64(buf.Len()),
		Mode:        ModeAppended,
		Trigger:     trigger,
	}, nil
}

// diverges returns why the decoded file cannot be extended in place, or ""
// when appending the tail is safe.
func (f *Flusher) diverges(c *pcapfile.Container, decodeErr error) string {
	switch {
	case decodeErr != nil:
		return decodeErr.Error()
	case c.Truncated:
		return "file ends in a truncated record"
	case c.Header.LinkType != pcapfile.LinkType || c.Header.SnapLen != pcapfile.SnapLen:
		return fmt.Sprintf("unexpected header (link type %v, snaplen %d)", c.Header.LinkType, c.Header.SnapLen)
	case len(c.Frames) != f.checkpoint:
		return fmt.Sprintf("file holds %d frames, expected %d", len(c.Frames), f.checkpoint)
	}
	if f.checkpoint > 0 {
		want, ok := f.frames.At(f.checkpoint - 1)
		if !ok || !want.Equal(c.Frames[f.checkpoint-1]) {
			return "file content diverges from the capture buffer"
		}
	}
	return ""
}

func (f *Flusher) rewrite(trigger Trigger, mode Mode, reason string) (Result, error) {
	frames := f.frames.All()
	data, err := pcapfile.Encode(frames)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFlushFailed, err)
	}
	if err := f.swap(data); err != nil {
		return Result{}, err
	}
	f.checkpoint = len(frames)
	f.log.Debug("[flush] Wrote %d frames to %s (%s, %s)", len(frames), f.path, mode, trigger)

	return Result{
		Path:        f.path,
		PacketCount: len(frames),
		FileSize:    int64(len(data)),
		Mode:        mode,
		Trigger:     trigger,
		Reason:      reason,
	}, nil
}

// swap writes data to a temp file next to the output and renames it into
// place, so readers only ever see the old or the new complete file.
func (f *Flusher) swap(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create output directory: %v", ErrFlushFailed, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrFlushFailed, err)
	}
	tmpName := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to %s: %v", ErrFlushFailed, step, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fail("set temp file mode", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close temp file: %v", ErrFlushFailed, err)
	}
	if err := f.rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to replace %s: %v", ErrFlushFailed, f.path, err)
	}
	return nil
}
