package device

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotOpen is returned by Sim operations on a closed handle.
var ErrNotOpen = errors.New("device not open")

// GrabEvent is one scripted result fed to a Sim.
type GrabEvent struct {
	Status GrabStatus
	Parts  []BufferPart
}

// SimConfig describes the simulated sensor.
type SimConfig struct {
	ModelName     string
	SensorWidth   int64
	SensorHeight  int64
	DepthLowerMM  int64
	DepthUpperMM  int64
	MinRateHz     float64
	MaxRateHz     float64
	TemperatureC  float64
	Synthetic     bool // generate frames at AcquisitionFrameRate when nothing is fed
	SyntheticSeed uint16
}

// DefaultSimConfig mirrors a 640x480 camera with a 0–13.32 m window.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		ModelName:    "tofcam-sim",
		SensorWidth:  640,
		SensorHeight: 480,
		DepthLowerMM: 0,
		DepthUpperMM: 13320,
		MinRateHz:    1,
		MaxRateHz:    30,
		TemperatureC: 42.5,
	}
}

type intParam struct {
	value, min, max int64
}

type floatParam struct {
	value, min, max float64
}

// Sim is an in-memory Device. Tests drive it with Feed; dev mode sets
// Synthetic to get a depth ramp at the configured frame rate.
type Sim struct {
	mu         sync.Mutex
	cfg        SimConfig
	open       bool
	connected  bool
	name       string
	ints       map[string]*intParam
	floats     map[string]*floatParam
	enums      map[string]string
	components map[string]bool
	failures   map[string]error
	writes     []string
	opens      int
	closes     int
	grabbing   bool

	events chan GrabEvent
}

// NewSim returns a closed simulated device.
func NewSim(cfg SimConfig) *Sim {
	s := &Sim{
		cfg:        cfg,
		connected:  true,
		failures:   make(map[string]error),
		components: make(map[string]bool),
		events:     make(chan GrabEvent, 64),
	}
	s.reset()
	return s
}

func (s *Sim) reset() {
	s.ints = map[string]*intParam{
		ParamWidth:    {value: s.cfg.SensorWidth, min: 2, max: s.cfg.SensorWidth},
		ParamHeight:   {value: s.cfg.SensorHeight, min: 2, max: s.cfg.SensorHeight},
		ParamOffsetX:  {value: 0, min: 0, max: s.cfg.SensorWidth - 2},
		ParamOffsetY:  {value: 0, min: 0, max: s.cfg.SensorHeight - 2},
		ParamDepthMin: {value: s.cfg.DepthLowerMM, min: s.cfg.DepthLowerMM, max: s.cfg.DepthUpperMM},
		ParamDepthMax: {value: s.cfg.DepthUpperMM, min: s.cfg.DepthLowerMM, max: s.cfg.DepthUpperMM},
	}
	s.floats = map[string]*floatParam{
		ParamFrameRate:   {value: s.cfg.MaxRateHz, min: s.cfg.MinRateHz, max: s.cfg.MaxRateHz},
		ParamTemperature: {value: s.cfg.TemperatureC, min: -40, max: 125},
	}
	s.enums = map[string]string{
		ParamPixelFormat:    "Mono16",
		ParamExposureAuto:   "Off",
		ParamTriggerMode:    "Off",
		ParamTriggerSource:  "Software",
		ParamProcessingMode: "Standard",
	}
}

// FailOn makes every operation on param (or component) fail with err until
// cleared with a nil err.
func (s *Sim) FailOn(param string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, param)
		return
	}
	s.failures[param] = err
}

// Disconnect makes the device report not connected; the running grab sees
// GrabDisconnected.
func (s *Sim) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.Feed(GrabEvent{Status: GrabDisconnected})
}

// Feed queues a grab result.
func (s *Sim) Feed(ev GrabEvent) {
	s.events <- ev
}

// Writes returns the parameter writes in order, as "Name=value".
func (s *Sim) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	copy(out, s.writes)
	return out
}

// ClearWrites forgets recorded writes.
func (s *Sim) ClearWrites() {
	s.mu.Lock()
	s.writes = nil
	s.mu.Unlock()
}

// OpenCount and CloseCount report handle usage.
func (s *Sim) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *Sim) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// IsOpen reports whether the handle is open.
func (s *Sim) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Grabbing reports whether GrabContinuous is currently running.
func (s *Sim) Grabbing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grabbing
}

// ComponentEnabled reports the enable flag of a component.
func (s *Sim) ComponentEnabled(component string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.components[component]
}

// check must be called with mu held.
func (s *Sim) check(op, name string) error {
	if !s.open {
		return CommError(op, name, ErrNotOpen)
	}
	if err, ok := s.failures[name]; ok {
		return CommError(op, name, err)
	}
	return nil
}

func (s *Sim) Open(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failures["Open"]; ok {
		return CommError("open", name, err)
	}
	s.open = true
	s.name = name
	s.opens++
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.closes++
	}
	s.open = false
	if err, ok := s.failures["Close"]; ok {
		return CommError("close", s.name, err)
	}
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && s.connected
}

func (s *Sim) Int(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get", name); err != nil {
		return 0, err
	}
	p, ok := s.ints[name]
	if !ok {
		return 0, CommError("get", name, fmt.Errorf("no integer parameter"))
	}
	return p.value, nil
}

func (s *Sim) IntRange(name string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("range", name); err != nil {
		return 0, 0, err
	}
	p, ok := s.ints[name]
	if !ok {
		return 0, 0, CommError("range", name, fmt.Errorf("no integer parameter"))
	}
	return p.min, p.max, nil
}

// SetInt enforces the device-internal offset+size <= sensor invariant the
// way real cameras do, so a wrong write order fails here.
func (s *Sim) SetInt(name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set", name); err != nil {
		return err
	}
	p, ok := s.ints[name]
	if !ok {
		return CommError("set", name, fmt.Errorf("no integer parameter"))
	}
	if value < p.min || value > p.max {
		return CommError("set", name, fmt.Errorf("value %d outside [%d, %d]", value, p.min, p.max))
	}
	switch name {
	case ParamWidth:
		if s.ints[ParamOffsetX].value+value > s.cfg.SensorWidth {
			return CommError("set", name, fmt.Errorf("offset+width exceeds sensor"))
		}
	case ParamOffsetX:
		if s.ints[ParamWidth].value+value > s.cfg.SensorWidth {
			return CommError("set", name, fmt.Errorf("offset+width exceeds sensor"))
		}
	case ParamHeight:
		if s.ints[ParamOffsetY].value+value > s.cfg.SensorHeight {
			return CommError("set", name, fmt.Errorf("offset+height exceeds sensor"))
		}
	case ParamOffsetY:
		if s.ints[ParamHeight].value+value > s.cfg.SensorHeight {
			return CommError("set", name, fmt.Errorf("offset+height exceeds sensor"))
		}
	}
	p.value = value
	s.writes = append(s.writes, fmt.Sprintf("%s=%d", name, value))
	return nil
}

func (s *Sim) Float(name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get", name); err != nil {
		return 0, err
	}
	p, ok := s.floats[name]
	if !ok {
		return 0, CommError("get", name, fmt.Errorf("no float parameter"))
	}
	return p.value, nil
}

func (s *Sim) FloatRange(name string) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("range", name); err != nil {
		return 0, 0, err
	}
	p, ok := s.floats[name]
	if !ok {
		return 0, 0, CommError("range", name, fmt.Errorf("no float parameter"))
	}
	return p.min, p.max, nil
}

func (s *Sim) SetFloat(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set", name); err != nil {
		return err
	}
	p, ok := s.floats[name]
	if !ok {
		return CommError("set", name, fmt.Errorf("no float parameter"))
	}
	if value < p.min || value > p.max {
		return CommError("set", name, fmt.Errorf("value %g outside [%g, %g]", value, p.min, p.max))
	}
	p.value = value
	s.writes = append(s.writes, fmt.Sprintf("%s=%g", name, value))
	return nil
}

func (s *Sim) Enum(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get", name); err != nil {
		return "", err
	}
	v, ok := s.enums[name]
	if !ok {
		return "", CommError("get", name, fmt.Errorf("no enumeration parameter"))
	}
	return v, nil
}

func (s *Sim) SetEnum(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set", name); err != nil {
		return err
	}
	if _, ok := s.enums[name]; !ok {
		return CommError("set", name, fmt.Errorf("no enumeration parameter"))
	}
	s.enums[name] = value
	s.writes = append(s.writes, fmt.Sprintf("%s=%s", name, value))
	return nil
}

func (s *Sim) String(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get", name); err != nil {
		return "", err
	}
	if name != ParamDeviceModelName {
		return "", CommError("get", name, fmt.Errorf("no string parameter"))
	}
	return s.cfg.ModelName, nil
}

func (s *Sim) SetComponentEnabled(component string, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("select", component); err != nil {
		return err
	}
	switch component {
	case ComponentRange, ComponentIntensity, ComponentConfidence:
	default:
		return CommError("select", component, fmt.Errorf("unknown component"))
	}
	s.components[component] = enable
	s.writes = append(s.writes, fmt.Sprintf("%s.Enable=%t", component, enable))
	return nil
}

func (s *Sim) GrabContinuous(bufferCount int, timeout time.Duration, h GrabHandler) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return CommError("grab", s.name, ErrNotOpen)
	}
	if err, ok := s.failures["Grab"]; ok {
		s.mu.Unlock()
		return CommError("grab", s.name, err)
	}
	if bufferCount <= 0 {
		s.mu.Unlock()
		return CommError("grab", s.name, fmt.Errorf("buffer count %d must be positive", bufferCount))
	}
	s.grabbing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.grabbing = false
		s.mu.Unlock()
	}()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if s.cfg.Synthetic {
		if period := s.framePeriod(); period > 0 {
			ticker = time.NewTicker(period)
			defer ticker.Stop()
			tick = ticker.C
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)

		var ev GrabEvent
		select {
		case ev = <-s.events:
		case <-tick:
			ev = s.synthesize()
		case <-timer.C:
			ev = GrabEvent{Status: GrabTimeout}
		}
		if !s.IsConnected() && ev.Status != GrabDisconnected {
			ev = GrabEvent{Status: GrabDisconnected}
		}
		if !h(ev.Status, ev.Parts) {
			return nil
		}
	}
}

// framePeriod returns the free-running period, or zero when triggered.
func (s *Sim) framePeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enums[ParamTriggerMode] == "On" {
		return 0
	}
	rate := s.floats[ParamFrameRate].value
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rate)
}

// Trigger emits one synthetic sample, standing in for a pulse on the
// trigger line.
func (s *Sim) Trigger() {
	s.Feed(s.synthesize())
}

// synthesize builds a horizontal depth ramp with a zero-confidence border.
func (s *Sim) synthesize() GrabEvent {
	s.mu.Lock()
	w := int(s.ints[ParamWidth].value)
	h := int(s.ints[ParamHeight].value)
	s.cfg.SyntheticSeed += 257
	seed := s.cfg.SyntheticSeed
	s.mu.Unlock()

	depth := make([]uint16, w*h)
	conf := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			depth[i] = uint16(min((x*65535)/max(w-1, 1)+int(seed%64), 65535))
			if x > 0 && y > 0 && x < w-1 && y < h-1 {
				conf[i] = 0xFFFF
			}
		}
	}
	return GrabEvent{
		Status: GrabOK,
		Parts: []BufferPart{
			{Kind: PartRange, Width: w, Height: h, Data: depth},
			{Kind: PartConfidence, Width: w, Height: h, Data: conf},
		},
	}
}
