// Package acquisition runs the background grab loop of a sampling session.
//
// The loop goroutine is the only reader of the device's continuous grab and
// the only writer of the timeout and failure counters and the fault latch.
// The controlling goroutine owns the running flag and joins the loop in
// Stop. A latched fault is handed back exactly once through a channel of
// capacity one.
package acquisition

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/timeutil"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/device"
	"github.com/banshee-data/tofcam/internal/tof/frames"
)

// Config holds grab parameters and escalation thresholds.
type Config struct {
	BufferCount int
	Timeout     time.Duration
	MaxTimeouts int // consecutive timeouts before the session faults
	MaxFailures int // consecutive failed grabs before the session faults
}

// DefaultConfig returns 15 buffers, a 500 ms grab timeout and a threshold
// of 10 for both counters.
func DefaultConfig() Config {
	return Config{
		BufferCount: 15,
		Timeout:     500 * time.Millisecond,
		MaxTimeouts: 10,
		MaxFailures: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferCount <= 0 {
		c.BufferCount = d.BufferCount
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxTimeouts <= 0 {
		c.MaxTimeouts = d.MaxTimeouts
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	return c
}

// Bounds is the per-session snapshot taken at Start. Depths are metres.
type Bounds struct {
	MinDepth float64
	MaxDepth float64
	OffsetX  uint32
	OffsetY  uint32
}

// Sink receives every converted frame. Returning false ends the session.
type Sink func(frames.Frame) bool

// SessionConfig describes one acquisition session.
type SessionConfig struct {
	ID     string
	Device device.Device
	Config Config
	Bounds Bounds
	Sink   Sink
	Clock  timeutil.Clock
}

// Stats is a snapshot of session counters.
type Stats struct {
	Frames   uint64 `json:"frames"`
	Timeouts uint64 `json:"timeouts"`
	Failures uint64 `json:"failures"`
}

// Session is one running acquisition loop.
type Session struct {
	id     string
	dev    device.Device
	cfg    Config
	bounds Bounds
	sink   Sink
	clock  timeutil.Clock

	running atomic.Bool

	// owned by the loop goroutine
	timeoutCounter int
	errorCounter   int
	fault          *tof.Fault

	frames   atomic.Uint64
	timeouts atomic.Uint64
	failures atomic.Uint64

	faults chan tof.Fault
	done   chan struct{}
}

// Start launches the loop and returns immediately.
func Start(sc SessionConfig) *Session {
	clock := sc.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sink := sc.Sink
	if sink == nil {
		sink = func(frames.Frame) bool { return true }
	}
	s := &Session{
		id:     sc.ID,
		dev:    sc.Device,
		cfg:    sc.Config.withDefaults(),
		bounds: sc.Bounds,
		sink:   sink,
		clock:  clock,
		faults: make(chan tof.Fault, 1),
		done:   make(chan struct{}),
	}
	s.running.Store(true)
	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Running reports whether the loop has been asked to keep going.
func (s *Session) Running() bool { return s.running.Load() }

// Done is closed once the loop goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop clears the running flag and blocks until the loop has exited. No
// frame reaches the sink after Stop returns.
func (s *Session) Stop() {
	s.running.Store(false)
	<-s.done
}

// Fault returns the latched fault, if any. Each fault is returned once.
func (s *Session) Fault() (tof.Fault, bool) {
	select {
	case f := <-s.faults:
		return f, true
	default:
		return tof.Fault{}, false
	}
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:   s.frames.Load(),
		Timeouts: s.timeouts.Load(),
		Failures: s.failures.Load(),
	}
}

func (s *Session) run() {
	defer close(s.done)

	monitoring.Debugf("acquisition %s: grabbing with %d buffers, %v timeout", s.id, s.cfg.BufferCount, s.cfg.Timeout)
	if err := s.dev.GrabContinuous(s.cfg.BufferCount, s.cfg.Timeout, s.handle); err != nil && s.fault == nil {
		s.latch(tof.Fault{Kind: tof.ErrDeviceCommunication, Message: err.Error()})
	}
	s.running.Store(false)

	if s.fault != nil {
		monitoring.Warnf("acquisition %s: %s", s.id, s.fault.Message)
		s.faults <- *s.fault
		s.fault = nil
	}
	st := s.Stats()
	monitoring.Infof("acquisition %s: ended after %d frames (%d timeouts, %d failed grabs)",
		s.id, st.Frames, st.Timeouts, st.Failures)
}

// latch records the first fault of the session and stops the loop.
func (s *Session) latch(f tof.Fault) {
	if s.fault == nil {
		s.fault = &f
	}
	s.running.Store(false)
}

func (s *Session) handle(status device.GrabStatus, parts []device.BufferPart) bool {
	if !s.running.Load() {
		return false
	}
	switch status {
	case device.GrabDisconnected:
		s.latch(tof.NewFault(tof.ErrDeviceDisconnected, "device reports not connected"))
		return false

	case device.GrabTimeout:
		s.timeouts.Add(1)
		s.timeoutCounter++
		monitoring.Debugf("acquisition %s: grab timeout %d/%d", s.id, s.timeoutCounter, s.cfg.MaxTimeouts)
		if s.timeoutCounter >= s.cfg.MaxTimeouts {
			s.latch(tof.NewFault(tof.ErrTimeoutExceeded, "%d consecutive grab timeouts", s.timeoutCounter))
			return false
		}
		return true

	case device.GrabFailed:
		s.failures.Add(1)
		s.errorCounter++
		monitoring.Debugf("acquisition %s: grab failed %d/%d", s.id, s.errorCounter, s.cfg.MaxFailures)
		if s.errorCounter >= s.cfg.MaxFailures {
			s.latch(tof.NewFault(tof.ErrDeviceCommunication, "%d consecutive failed grabs", s.errorCounter))
			return false
		}
		return true

	case device.GrabOK:
		s.timeoutCounter = 0
		s.errorCounter = 0
		f, err := s.convert(parts)
		if err != nil {
			s.latch(tof.Fault{Kind: tof.ErrInvariantViolation, Message: err.Error()})
			return false
		}
		s.frames.Add(1)
		if !s.sink(f) {
			s.running.Store(false)
			return false
		}
		return s.running.Load()

	default:
		s.latch(tof.NewFault(tof.ErrInvariantViolation, "unknown grab status %v", status))
		return false
	}
}

func (s *Session) convert(parts []device.BufferPart) (frames.Frame, error) {
	if len(parts) != 2 || parts[0].Kind != device.PartRange || parts[1].Kind != device.PartConfidence {
		kinds := make([]string, len(parts))
		for i, p := range parts {
			kinds[i] = p.Kind.String()
		}
		return frames.Frame{}, fmt.Errorf("%w: expected Range and Confidence parts, got %v",
			tof.ErrInvariantViolation, kinds)
	}
	depth, conf := parts[0], parts[1]
	if depth.Width != conf.Width || depth.Height != conf.Height {
		return frames.Frame{}, fmt.Errorf("%w: range part %dx%d differs from confidence part %dx%d",
			tof.ErrInvariantViolation, depth.Width, depth.Height, conf.Width, conf.Height)
	}
	f, err := frames.Convert(depth.Data, conf.Data, depth.Width, depth.Height, s.bounds.MinDepth, s.bounds.MaxDepth)
	if err != nil {
		return frames.Frame{}, err
	}
	f.Region.OffsetX = s.bounds.OffsetX
	f.Region.OffsetY = s.bounds.OffsetY
	f.Attributes.Timestamp = s.clock.Now()
	return f, nil
}
