package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/uuid"

	"EnigmaNetz/Enigma-Go-Capture/config"
	"EnigmaNetz/Enigma-Go-Capture/internal/events"
	"EnigmaNetz/Enigma-Go-Capture/internal/flush"
	"EnigmaNetz/Enigma-Go-Capture/internal/logger"
	"EnigmaNetz/Enigma-Go-Capture/internal/pcapfile"
)

// Session captures frames from one interface into one PCAP file. The capture
// loop, the control-channel poller and the signal handler all drive the same
// Session; every state change goes through its methods.
type Session struct {
	opts    CaptureOptions
	opener  Opener
	events  *events.Emitter
	log     *logger.Logger
	buffer  *Buffer
	flusher *flush.Flusher

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	trigger   flush.Trigger
	startTime time.Time
	loopErr   error

	loopDone     chan struct{}
	loopOnce     sync.Once
	finalized    chan struct{}
	finalizeOnce sync.Once
	result       CaptureResult
}

// NewSession prepares a session. If opts.OutputPath is empty the path is
// derived from the interface name and the current time inside opts.WorkDir.
func NewSession(opts CaptureOptions, opener Opener, emitter *events.Emitter, flushOpts ...flush.Option) *Session {
	opts.setDefaults()
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.OutputPath == "" {
		opts.OutputPath = config.ResolveOutputPath(opts.WorkDir, opts.Interface, "", time.Now())
	}
	if opener == nil {
		opener = LiveOpener
	}

	log := logger.GetLogger()
	buffer := NewBuffer(time.Now())
	flushOpts = append([]flush.Option{flush.WithLogger(log)}, flushOpts...)

	return &Session{
		opts:      opts,
		opener:    opener,
		events:    emitter,
		log:       log,
		buffer:    buffer,
		flusher:   flush.New(opts.OutputPath, buffer, flushOpts...),
		state:     StateIdle,
		loopDone:  make(chan struct{}),
		finalized: make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.opts.ID
}

// OutputPath returns the capture file path
func (s *Session) OutputPath() string {
	return s.opts.OutputPath
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the frame counters
func (s *Session) Snapshot() Stats {
	return s.buffer.Snapshot()
}

// Start creates the empty capture file, attaches to the interface and starts
// the capture loop. The file exists and is valid when Start returns, even if
// attaching fails.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start a %s session", ErrInvalidState, state)
	}
	s.state = StateRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	if dir := filepath.Dir(s.opts.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			err = fmt.Errorf("failed to create output directory %s: %w", dir, err)
			s.events.Error(err.Error())
			s.fail(err)
			return err
		}
	}
	if _, err := s.flusher.Flush(flush.TriggerStart); err != nil {
		err = fmt.Errorf("failed to create capture file: %w", err)
		s.events.Error(err.Error())
		s.fail(err)
		return err
	}

	s.log.Info("[capture] Starting capture on %s -> %s", s.opts.Interface, s.opts.OutputPath)
	s.events.Status("capture started", s.opts.Interface, s.opts.OutputPath)

	src, err := s.opener(OpenParams{
		Interface:   s.opts.Interface,
		SnapLen:     s.opts.SnapLen,
		Promiscuous: s.opts.Promiscuous,
		Filter:      s.opts.Filter,
		ReadTimeout: s.opts.ReadTimeout,
	})
	if err != nil {
		if !errors.Is(err, ErrAttachFailure) {
			err = fmt.Errorf("%w: %v", ErrAttachFailure, err)
		}
		s.log.Error("[capture] %v", err)
		s.events.DriverError("Packet capture driver not available or interface cannot be opened", err.Error())
		s.events.Emit(events.Error{
			Type:      events.TypeError,
			Message:   fmt.Sprintf("failed to start capture on %s", s.opts.Interface),
			Detail:    err.Error(),
			Interface: s.opts.Interface,
		})
		s.fail(err)
		return err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if s.opts.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	s.mu.Lock()
	s.cancel = cancel
	if s.state != StateRunning {
		// Stop arrived while attaching
		cancel()
	}
	s.mu.Unlock()

	go s.run(runCtx, src)
	return nil
}

// Stop asks the capture loop to end. The loop finalizes the session once it
// exits. Stopping an already stopping or finished session is a no-op.
func (s *Session) Stop() {
	s.requestStop(flush.TriggerStop)
}

// Terminate is the signal path: it forces the stop flag and finalizes
// without waiting on the capture loop beyond the grace period.
func (s *Session) Terminate(sig os.Signal) CaptureResult {
	s.log.Info("[capture] Received %v, finalizing capture", sig)
	s.events.Info("received %v, finalizing capture", sig)
	s.requestStop(flush.TriggerSignal)
	return s.Finalize(flush.TriggerSignal)
}

func (s *Session) requestStop(trigger flush.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StateStopping
	s.trigger = trigger
	if s.cancel != nil {
		s.cancel()
	}
}

// Finalize persists every buffered frame and verifies the file. The first
// call does the work; concurrent and later calls wait for it and get the
// same result.
func (s *Session) Finalize(trigger flush.Trigger) CaptureResult {
	s.finalizeOnce.Do(func() {
		s.finalize(trigger)
	})
	<-s.finalized
	return s.result
}

// Wait blocks until the session has finalized or ctx is done
func (s *Session) Wait(ctx context.Context) (CaptureResult, error) {
	select {
	case <-s.finalized:
		return s.result, nil
	case <-ctx.Done():
		return CaptureResult{}, ctx.Err()
	}
}

// Finalized is closed once the result is available
func (s *Session) Finalized() <-chan struct{} {
	return s.finalized
}

func (s *Session) run(ctx context.Context, src Source) {
	err := s.loop(ctx, src)
	src.Close()

	s.mu.Lock()
	s.loopErr = err
	if s.state == StateRunning {
		s.state = StateStopping
	}
	trigger := s.trigger
	if trigger == "" {
		trigger = flush.TriggerFinal
	}
	s.mu.Unlock()

	s.loopOnce.Do(func() { close(s.loopDone) })
	s.Finalize(trigger)
}

func (s *Session) loop(ctx context.Context, src Source) error {
	packets := gopacket.NewPacketSource(src, src.LinkType())
	packets.Lazy = true
	packets.NoCopy = true

	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.log.Info("[capture] Capture duration of %v reached", s.opts.Duration)
			}
			return nil
		}

		packet, err := packets.NextPacket()
		switch {
		case err == nil:
			s.handleFrame(packet.Metadata().CaptureInfo, packet.Data())
		case errors.Is(err, ErrReadTimeout):
			continue
		case errors.Is(err, io.EOF):
			s.log.Info("[capture] Capture source ended")
			return nil
		default:
			streamErr := fmt.Errorf("%w: %v", ErrStreamError, err)
			s.log.Error("[capture] %v", streamErr)
			count := s.buffer.Snapshot().Count
			s.events.Emit(events.Error{
				Type:        events.TypeError,
				Message:     streamErr.Error(),
				Interface:   s.opts.Interface,
				PacketCount: &count,
			})
			return streamErr
		}
	}
}

func (s *Session) handleFrame(ci gopacket.CaptureInfo, data []byte) {
	if len(data) > s.opts.SnapLen {
		data = data[:s.opts.SnapLen]
	}
	n, ok := s.buffer.Append(pcapfile.NewFrame(ci, data))
	if !ok {
		return
	}

	if n%int64(s.opts.StatsEvery) == 0 {
		st := s.buffer.Snapshot()
		s.events.Stats(st.Count, st.TotalBytes, st.Elapsed.Seconds())
	}
	if n%int64(s.opts.FlushEvery) == 0 {
		res, err := s.flusher.Flush(flush.TriggerPeriodic)
		if err != nil {
			s.log.Warn("[capture] Periodic flush failed: %v", err)
			s.events.Warning("periodic flush failed: %v", err)
			return
		}
		s.events.FileUpdated(res.Path, res.PacketCount, res.FileSize)
	}
}

func (s *Session) finalize(trigger flush.Trigger) {
	select {
	case <-s.loopDone:
	case <-time.After(s.opts.StopGrace):
		s.log.Warn("[capture] Capture loop did not exit within %v, finalizing anyway", s.opts.StopGrace)
	}
	s.buffer.Seal()

	res, err := s.flusher.Flush(trigger)
	if err != nil {
		s.log.Warn("[capture] Final flush failed, retrying: %v", err)
		res, err = s.flusher.Flush(trigger)
	}
	if err != nil {
		s.log.Error("[capture] Final flush failed twice, writing empty capture file: %v", err)
		s.events.Warning("final flush failed, writing empty capture file: %v", err)
		if werr := pcapfile.WriteEmpty(s.opts.OutputPath); werr != nil {
			s.log.Error("[capture] Failed to write empty capture file: %v", werr)
		}
	} else {
		s.events.FileSaved(res.Path, res.PacketCount, res.FileSize)
	}

	size, persisted, verr := s.verify()

	s.mu.Lock()
	st := s.buffer.Snapshot()
	result := CaptureResult{
		SessionID:      s.opts.ID,
		Interface:      s.opts.Interface,
		PCAPFile:       s.opts.OutputPath,
		FileSize:       size,
		PacketCount:    st.Count,
		ByteCount:      st.TotalBytes,
		PersistedCount: persisted,
		StartTime:      s.startTime,
		EndTime:        time.Now(),
		Trigger:        string(trigger),
		Error:          s.loopErr,
	}
	if verr != nil {
		result.State = StateFailed
		result.Error = verr
	} else {
		result.State = StateStopped
	}
	s.state = result.State
	s.result = result
	s.mu.Unlock()

	if verr != nil {
		s.log.Error("[capture] Capture file verification failed: %v", verr)
		s.events.Emit(events.Error{
			Type:        events.TypeError,
			Message:     fmt.Sprintf("capture file could not be verified: %v", verr),
			Interface:   s.opts.Interface,
			PacketCount: &result.PacketCount,
		})
	} else {
		abs, err := filepath.Abs(s.opts.OutputPath)
		if err != nil {
			abs = s.opts.OutputPath
		}
		s.events.Emit(events.Complete{
			Type:        events.TypeComplete,
			PacketCount: result.PacketCount,
			TotalSize:   result.ByteCount,
			Duration:    result.Duration().Seconds(),
			PcapFile:    filepath.Base(s.opts.OutputPath),
			PcapPath:    abs,
			SessionID:   s.opts.ID,
		})
		s.events.Success("capture saved to %s (%d packets)", s.opts.OutputPath, result.PacketCount)
		s.log.Info("[capture] Capture complete: %d packets, %d bytes in %s", result.PacketCount, result.ByteCount, s.opts.OutputPath)
	}
	close(s.finalized)
}

// verify waits for the file to exist with a non-zero size and checks that it
// decodes cleanly.
func (s *Session) verify() (int64, int, error) {
	deadline := time.Now().Add(s.opts.VerifyTimeout)
	for attempt := 1; ; attempt++ {
		info, err := os.Stat(s.opts.OutputPath)
		if err == nil && info.Size() > 0 {
			c, err := pcapfile.DecodeFile(s.opts.OutputPath)
			if err != nil {
				return info.Size(), 0, err
			}
			if c.Truncated {
				return info.Size(), len(c.Frames), fmt.Errorf("%w: file truncated at byte %d", pcapfile.ErrMalformedContainer, c.ValidLength)
			}
			return info.Size(), len(c.Frames), nil
		}
		if time.Now().After(deadline) {
			if err == nil {
				err = fmt.Errorf("%s is empty", s.opts.OutputPath)
			}
			return 0, 0, fmt.Errorf("capture file not ready after %v: %w", s.opts.VerifyTimeout, err)
		}
		s.events.Debug("waiting for capture file %s (attempt %d)", s.opts.OutputPath, attempt)
		time.Sleep(s.opts.VerifyInterval)
	}
}

// fail finishes a session that never reached the capture loop
func (s *Session) fail(err error) {
	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		st := s.buffer.Snapshot()
		s.state = StateFailed
		s.result = CaptureResult{
			SessionID:   s.opts.ID,
			State:       StateFailed,
			Interface:   s.opts.Interface,
			PCAPFile:    s.opts.OutputPath,
			PacketCount: st.Count,
			ByteCount:   st.TotalBytes,
			StartTime:   s.startTime,
			EndTime:     time.Now(),
			Trigger:     string(flush.TriggerStart),
			Error:       err,
		}
		if info, statErr := os.Stat(s.opts.OutputPath); statErr == nil {
			s.result.FileSize = info.Size()
		}
		s.mu.Unlock()
		s.loopOnce.Do(func() { close(s.loopDone) })
		close(s.finalized)
	})
}
