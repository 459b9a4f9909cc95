package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"EnigmaNetz/Enigma-Go-Capture/internal/pcapfile"
)

// Stats is a point-in-time view of a buffer's counters
type Stats struct {
	Count      int64
	TotalBytes int64
	Elapsed    time.Duration
}

// Buffer holds captured frames in arrival order. It is the authoritative copy
// of a session's capture; the file on disk is rebuilt from it when needed.
type Buffer struct {
	mu     sync.RWMutex
	frames []pcapfile.Frame
	start  time.Time

	count  atomic.Int64
	bytes  atomic.Int64
	sealed atomic.Bool
}

// NewBuffer creates an empty buffer whose elapsed time starts at start
func NewBuffer(start time.Time) *Buffer {
	return &Buffer{
		frames: make([]pcapfile.Frame, 0, 256),
		start:  start,
	}
}

// Append adds a frame and returns the new frame count. Once the buffer is
// sealed, frames are dropped and Append returns false.
func (b *Buffer) Append(f pcapfile.Frame) (int64, bool) {
	b.mu.Lock()
	if b.sealed.Load() {
		b.mu.Unlock()
		return b.count.Load(), false
	}
	b.frames = append(b.frames, f)
	n := int64(len(b.frames))
	b.count.Store(n)
	b.bytes.Add(int64(f.Length))
	b.mu.Unlock()
	return n, true
}

// Len returns the number of buffered frames
func (b *Buffer) Len() int {
	return int(b.count.Load())
}

// At returns the frame at index i
func (b *Buffer) At(i int) (pcapfile.Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.frames) {
		return pcapfile.Frame{}, false
	}
	return b.frames[i], true
}

// Tail returns the last n frames, or all of them if fewer are buffered
func (b *Buffer) Tail(n int) []pcapfile.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.frames) {
		n = len(b.frames)
	}
	if n <= 0 {
		return nil
	}
	return b.frames[len(b.frames)-n : len(b.frames) : len(b.frames)]
}

// Since returns the frames after the first checkpoint frames
func (b *Buffer) Since(checkpoint int) []pcapfile.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if checkpoint < 0 {
		checkpoint = 0
	}
	if checkpoint >= len(b.frames) {
		return nil
	}
	return b.frames[checkpoint:len(b.frames):len(b.frames)]
}

// All returns every buffered frame. Frames are never modified after Append,
// so the returned slice is safe to read while capture continues.
func (b *Buffer) All() []pcapfile.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames[:len(b.frames):len(b.frames)]
}

// Snapshot returns the counters without taking the frame lock
func (b *Buffer) Snapshot() Stats {
	return Stats{
		Count:      b.count.Load(),
		TotalBytes: b.bytes.Load(),
		Elapsed:    time.Since(b.start),
	}
}

// Seal stops the buffer from accepting further frames
func (b *Buffer) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed.Store(true)
}

// Sealed reports whether Seal has been called
func (b *Buffer) Sealed() bool {
	return b.sealed.Load()
}
