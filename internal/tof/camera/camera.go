// Package camera implements the lifecycle of a time-of-flight camera node:
// activation, validated reconfiguration, sampling sessions and fault
// handling. A Camera exclusively owns its device handle.
package camera

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/timeutil"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/tof/device"
	"github.com/banshee-data/tofcam/internal/tof/frames"
	"github.com/banshee-data/tofcam/internal/units"
)

// DefaultSamplePeriodUS is 10 Hz.
const DefaultSamplePeriodUS = 100000

// ExposureAutoContinuous is the factory exposure setting applied on Activate.
const ExposureAutoContinuous = "Continuous"

// Config configures a Camera.
type Config struct {
	// Name is the user-defined device name passed to Open.
	Name           string
	Trigger        tof.TriggerKind
	TriggerLine    string
	SamplePeriodUS int64
	Acquisition    acquisition.Config
}

// Option customises a Camera.
type Option func(*Camera)

// WithObserver installs an observer of lifecycle events.
func WithObserver(o Observer) Option {
	return func(c *Camera) { c.observer = o }
}

// WithClock sets the clock used to stamp frames.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Camera) { c.clock = clock }
}

// WithTriggerGenerator sets the generator armed in externally triggered mode.
func WithTriggerGenerator(g TriggerGenerator) Option {
	return func(c *Camera) { c.trigger = g }
}

// Camera is the lifecycle state machine. All methods are safe for
// concurrent use; they serialise on one mutex, so the control side of the
// camera is effectively single threaded.
type Camera struct {
	dev      device.Device
	pub      Publisher
	observer Observer
	clock    timeutil.Clock
	trigger  TriggerGenerator

	mu            sync.Mutex
	cfg           Config
	state         State
	sensorWidth   uint32
	sensorHeight  uint32
	regionEnabled bool
	depthLower    float64 // metres
	depthUpper    float64
	minRateHz     float64
	maxRateHz     float64
	session       *acquisition.Session
	lastSession   acquisition.Stats
	lastFault     string
	armed         bool
}

// New returns an inactive camera. pub may be nil.
func New(dev device.Device, cfg Config, pub Publisher, opts ...Option) *Camera {
	if cfg.SamplePeriodUS <= 0 {
		cfg.SamplePeriodUS = DefaultSamplePeriodUS
	}
	if cfg.TriggerLine == "" {
		cfg.TriggerLine = tof.DefaultTriggerLine
	}
	if pub == nil {
		pub = PublisherFunc(func(frames.Frame) {})
	}
	c := &Camera{
		dev:      dev,
		pub:      pub,
		observer: NoopObserver{},
		clock:    timeutil.RealClock{},
		cfg:      cfg,
		state:    Inactive,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastFault returns the diagnostic of the last error, if any.
func (c *Camera) LastFault() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFault
}

// SessionStats returns the counters of the running session, or of the last
// one when not sampling.
func (c *Camera) SessionStats() (id string, stats acquisition.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.ID(), c.session.Stats()
	}
	return "", c.lastSession
}

// Status is a snapshot of cached lifecycle data. It never touches the
// device.
type Status struct {
	Name           string            `json:"name"`
	State          State             `json:"state"`
	LastFault      string            `json:"last_fault,omitempty"`
	RegionEnabled  bool              `json:"region_enabled"`
	SensorWidth    uint32            `json:"sensor_width"`
	SensorHeight   uint32            `json:"sensor_height"`
	Trigger        tof.TriggerKind   `json:"trigger"`
	SamplePeriodUS int64             `json:"sample_period_us"`
	SessionID      string            `json:"session_id,omitempty"`
	Session        acquisition.Stats `json:"session"`
}

// Status returns a snapshot of the camera.
func (c *Camera) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Name:           c.cfg.Name,
		State:          c.state,
		LastFault:      c.lastFault,
		RegionEnabled:  c.regionEnabled,
		SensorWidth:    c.sensorWidth,
		SensorHeight:   c.sensorHeight,
		Trigger:        c.cfg.Trigger,
		SamplePeriodUS: c.cfg.SamplePeriodUS,
		Session:        c.lastSession,
	}
	if c.session != nil {
		st.SessionID = c.session.ID()
		st.Session = c.session.Stats()
	}
	return st
}

// setState must be called with mu held.
func (c *Camera) setState(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	monitoring.Infof("camera %s: %s -> %s", c.cfg.Name, from, s)
	c.observer.StateChanged(from, s)
}

// fail latches err and moves to Error. Must be called with mu held.
func (c *Camera) fail(err error) {
	c.lastFault = err.Error()
	monitoring.Warnf("camera %s: %v", c.cfg.Name, err)
	c.setState(Error)
	c.observer.Fault(err)
}

// Activate opens the device and applies the factory configuration. On
// failure the handle is closed, the state is Inactive and the returned
// error wraps ErrActivation.
func (c *Camera) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Inactive {
		return stateError("activate", c.state)
	}
	c.lastFault = ""
	c.setState(Activating)

	if err := c.activate(); err != nil {
		if cerr := c.dev.Close(); cerr != nil {
			monitoring.Warnf("camera %s: close after failed activation: %v", c.cfg.Name, cerr)
		}
		err = fmt.Errorf("%w: %w", ErrActivation, err)
		c.lastFault = err.Error()
		monitoring.Warnf("camera %s: %v", c.cfg.Name, err)
		c.observer.Fault(err)
		c.setState(Inactive)
		return err
	}
	c.setState(Standby)
	return nil
}

func (c *Camera) activate() error {
	if err := c.dev.Open(c.cfg.Name); err != nil {
		return err
	}
	if err := c.dev.SetComponentEnabled(device.ComponentRange, true); err != nil {
		return err
	}
	if err := c.dev.SetEnum(device.ParamPixelFormat, device.PixelFormatCoord3DC16); err != nil {
		return err
	}
	if err := c.dev.SetComponentEnabled(device.ComponentIntensity, false); err != nil {
		return err
	}
	if err := c.dev.SetComponentEnabled(device.ComponentConfidence, true); err != nil {
		return err
	}
	if err := c.dev.SetEnum(device.ParamExposureAuto, ExposureAutoContinuous); err != nil {
		return err
	}

	_, w, err := c.dev.IntRange(device.ParamWidth)
	if err != nil {
		return err
	}
	_, h, err := c.dev.IntRange(device.ParamHeight)
	if err != nil {
		return err
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: sensor reports %dx%d", tof.ErrDeviceCommunication, w, h)
	}
	c.sensorWidth, c.sensorHeight = uint32(w), uint32(h)

	r, err := c.readRegion()
	if err != nil {
		return err
	}
	c.regionEnabled = !r.IsFull(c.sensorWidth, c.sensorHeight)

	lower, _, err := c.dev.IntRange(device.ParamDepthMin)
	if err != nil {
		return err
	}
	_, upper, err := c.dev.IntRange(device.ParamDepthMax)
	if err != nil {
		return err
	}
	c.depthLower, c.depthUpper = units.MillimetresToMetres(lower), units.MillimetresToMetres(upper)

	c.minRateHz, c.maxRateHz, err = c.dev.FloatRange(device.ParamFrameRate)
	if err != nil {
		return err
	}
	monitoring.Infof("camera %s: sensor %dx%d, region %s, depth limits [%g, %g] m, rate [%g, %g] Hz",
		c.cfg.Name, w, h, r, c.depthLower, c.depthUpper, c.minRateHz, c.maxRateHz)
	return nil
}

// Deactivate stops a running session and releases the device handle. It
// is a no-op when the camera is already inactive.
func (c *Camera) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Inactive:
		return nil
	case Sampling:
		// a fault surfacing here is already reported by stop
		_ = c.stop()
	}
	c.setState(Deactivating)
	c.disarm()
	if err := c.dev.Close(); err != nil {
		monitoring.Warnf("camera %s: close: %v", c.cfg.Name, err)
	}
	c.setState(Inactive)
	return nil
}

// Start configures triggering, snapshots the depth range and region offset
// and starts an acquisition session.
func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Standby {
		return stateError("start", c.state)
	}
	if c.cfg.Trigger == tof.FreeRunning {
		if err := c.checkFreeRunningPeriod(c.cfg.SamplePeriodUS); err != nil {
			return err
		}
	}
	mode, err := c.applyTrigger()
	if err != nil {
		c.fail(err)
		return err
	}
	dr, err := c.readRange()
	if err != nil {
		c.fail(err)
		return err
	}
	r, err := c.readRegion()
	if err != nil {
		c.fail(err)
		return err
	}
	if mode.Kind == tof.ExternallyTriggered && c.trigger != nil {
		if err := c.trigger.Arm(c.cfg.SamplePeriodUS); err != nil {
			err = fmt.Errorf("%w: arm trigger generator: %w", tof.ErrDeviceCommunication, err)
			c.fail(err)
			return err
		}
		c.armed = true
	}

	pub := c.pub
	s := acquisition.Start(acquisition.SessionConfig{
		ID:     uuid.NewString(),
		Device: c.dev,
		Config: c.cfg.Acquisition,
		Bounds: acquisition.Bounds{
			MinDepth: dr.MinMeters(),
			MaxDepth: dr.MaxMeters(),
			OffsetX:  r.OffsetX,
			OffsetY:  r.OffsetY,
		},
		Sink: func(f frames.Frame) bool {
			pub.Publish(f)
			return true
		},
		Clock: c.clock,
	})
	c.session = s
	c.setState(Sampling)
	c.observer.SessionStarted(SessionInfo{ID: s.ID(), Trigger: mode, Region: r, Range: dr})
	go c.watch(s)
	return nil
}

// applyTrigger must be called with mu held.
func (c *Camera) applyTrigger() (tof.TriggerMode, error) {
	if c.cfg.Trigger == tof.ExternallyTriggered {
		if err := c.dev.SetEnum(device.ParamTriggerMode, "On"); err != nil {
			return tof.TriggerMode{}, err
		}
		if err := c.dev.SetEnum(device.ParamTriggerSource, c.cfg.TriggerLine); err != nil {
			return tof.TriggerMode{}, err
		}
		return tof.TriggerMode{Kind: tof.ExternallyTriggered, Line: c.cfg.TriggerLine}, nil
	}
	rate := tof.RateFromPeriod(c.cfg.SamplePeriodUS)
	if err := c.dev.SetEnum(device.ParamTriggerMode, "Off"); err != nil {
		return tof.TriggerMode{}, err
	}
	if err := c.dev.SetFloat(device.ParamFrameRate, rate); err != nil {
		return tof.TriggerMode{}, err
	}
	return tof.TriggerMode{Kind: tof.FreeRunning, RateHz: rate}, nil
}

// watch moves the camera out of Sampling when a session ends on its own.
func (c *Camera) watch(s *acquisition.Session) {
	<-s.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		// Stop already took over
		return
	}
	c.session = nil
	c.lastSession = s.Stats()
	c.disarm()
	f, faulted := s.Fault()
	if faulted {
		c.observer.SessionEnded(s.ID(), c.lastSession, &f)
		c.fail(f)
		return
	}
	c.observer.SessionEnded(s.ID(), c.lastSession, nil)
	c.setState(Standby)
}

// Stop ends the running session and returns once the acquisition goroutine
// has exited. If the session faulted before it could be stopped the camera
// moves to Error and the fault is returned.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Sampling {
		return stateError("stop", c.state)
	}
	return c.stop()
}

// stop must be called with mu held and a session running.
func (c *Camera) stop() error {
	s := c.session
	c.session = nil
	s.Stop()
	c.lastSession = s.Stats()
	c.disarm()
	if f, faulted := s.Fault(); faulted {
		c.observer.SessionEnded(s.ID(), c.lastSession, &f)
		c.fail(f)
		return f
	}
	c.observer.SessionEnded(s.ID(), c.lastSession, nil)
	c.setState(Standby)
	return nil
}

// disarm must be called with mu held.
func (c *Camera) disarm() {
	if !c.armed {
		return
	}
	c.armed = false
	if err := c.trigger.Disarm(); err != nil {
		monitoring.Warnf("camera %s: disarm trigger generator: %v", c.cfg.Name, err)
	}
}

// requireStandby must be called with mu held.
func (c *Camera) requireStandby() error {
	if c.state != Standby {
		return fmt.Errorf("%w: %w (state %s)", tof.ErrValue, ErrNotStandby, c.state)
	}
	return nil
}

// requireOpen must be called with mu held.
func (c *Camera) requireOpen() error {
	switch c.state {
	case Standby, Sampling:
		return nil
	}
	return stateError("read", c.state)
}

// IsDeviceError reports whether err came from the device rather than from
// the caller.
func IsDeviceError(err error) bool {
	return errors.Is(err, tof.ErrDeviceCommunication) ||
		errors.Is(err, tof.ErrDeviceDisconnected) ||
		errors.Is(err, tof.ErrTimeoutExceeded)
}
