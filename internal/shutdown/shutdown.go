// Package shutdown drives a capture session to its finalize step from the
// stdin control channel and from process signals.
package shutdown

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
	"EnigmaNetz/Enigma-Go-Capture/internal/events"
	"EnigmaNetz/Enigma-Go-Capture/internal/logger"
	"EnigmaNetz/Enigma-Go-Capture/internal/pcapfile"
)

// ErrForcedExit is returned by Run when a second signal forced the exit
var ErrForcedExit = errors.New("forced exit on repeated signal")

// StopCommand is the control line that requests a graceful stop
const StopCommand = "STOP"

// Session is the part of a capture session the controller drives
type Session interface {
	Stop()
	Terminate(sig os.Signal) capture.CaptureResult
	Wait(ctx context.Context) (capture.CaptureResult, error)
	Finalized() <-chan struct{}
	OutputPath() string
	Snapshot() capture.Stats
}

// Option configures a Controller
type Option func(*Controller)

// WithControl sets the line-oriented control channel, usually os.Stdin
func WithControl(r io.Reader) Option {
	return func(c *Controller) {
		c.control = r
	}
}

// WithPollInterval sets how often the control channel is checked
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.pollInterval = d
	}
}

// WithSignals replaces OS signal delivery, mainly for tests
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Controller) {
		c.signals = ch
	}
}

// WithExit replaces os.Exit on the forced-exit path
func WithExit(exit func(code int)) Option {
	return func(c *Controller) {
		c.exit = exit
	}
}

// Controller watches the control channel and termination signals for one
// session and returns its result once finalized.
type Controller struct {
	session      Session
	events       *events.Emitter
	log          *logger.Logger
	control      io.Reader
	pollInterval time.Duration
	signals      <-chan os.Signal
	exit         func(code int)
}

// New creates a Controller for session
func New(session Session, emitter *events.Emitter, opts ...Option) *Controller {
	c := &Controller{
		session:      session,
		events:       emitter,
		log:          logger.GetLogger(),
		pollInterval: 100 * time.Millisecond,
		exit:         os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 100 * time.Millisecond
	}
	return c
}

// Run blocks until the session is finalized and returns its result. The
// first SIGINT or SIGTERM terminates the session; a second one while
// finalizing forces an exit with code 1.
func (c *Controller) Run(ctx context.Context) (capture.CaptureResult, error) {
	sigCh := c.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	var lines chan string
	if c.control != nil {
		lines = make(chan string, 16)
		go readLines(c.control, lines)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	signaled := false
	for {
		select {
		case <-c.session.Finalized():
			return c.session.Wait(ctx)
		case <-ctx.Done():
			return capture.CaptureResult{}, ctx.Err()
		case sig := <-sigCh:
			if !signaled {
				signaled = true
				c.log.Info("[shutdown] Received signal %v, finalizing capture", sig)
				go c.session.Terminate(sig)
				continue
			}
			c.forceExit(sig)
			return capture.CaptureResult{State: capture.StateFailed, PCAPFile: c.session.OutputPath(), Error: ErrForcedExit}, ErrForcedExit
		case <-ticker.C:
			lines = c.poll(lines)
		}
	}
}

// poll drains pending control lines without blocking. It returns nil once
// the control channel has closed.
func (c *Controller) poll(lines chan string) chan string {
	if lines == nil {
		return nil
	}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				c.log.Debug("[shutdown] Control channel closed")
				return nil
			}
			if strings.EqualFold(strings.TrimSpace(line), StopCommand) {
				c.log.Info("[shutdown] Stop requested on control channel")
				c.events.Info("stop requested")
				c.session.Stop()
			}
		default:
			return lines
		}
	}
}

// forceExit leaves a valid file behind without relying on the session
func (c *Controller) forceExit(sig os.Signal) {
	path := c.session.OutputPath()
	if cont, err := pcapfile.DecodeFile(path); err != nil || cont.Truncated {
		c.log.Warn("[shutdown] Capture file not valid on forced exit, writing empty file: %s", path)
		if err := pcapfile.WriteEmpty(path); err != nil {
			c.log.Error("[shutdown] Failed to write empty capture file: %v", err)
		}
	}
	count := c.session.Snapshot().Count
	c.events.Emit(events.Error{
		Type:        events.TypeError,
		Message:     fmt.Sprintf("received %v again while finalizing, exiting", sig),
		PacketCount: &count,
	})
	c.events.Flush()
	c.exit(1)
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
