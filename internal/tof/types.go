package tof

import (
	"fmt"

	"github.com/banshee-data/tofcam/internal/units"
)

// Region is a rectangular sub-window of the sensor, in pixels.
type Region struct {
	OffsetX uint32 `json:"offset_x"`
	OffsetY uint32 `json:"offset_y"`
	SizeX   uint32 `json:"size_x"`
	SizeY   uint32 `json:"size_y"`
}

// FullRegion returns the region covering the whole sensor.
func FullRegion(sensorWidth, sensorHeight uint32) Region {
	return Region{SizeX: sensorWidth, SizeY: sensorHeight}
}

// IsFull reports whether r covers the whole sensor from the origin.
func (r Region) IsFull(sensorWidth, sensorHeight uint32) bool {
	return r.OffsetX == 0 && r.OffsetY == 0 && r.SizeX == sensorWidth && r.SizeY == sensorHeight
}

// Pixels returns SizeX*SizeY.
func (r Region) Pixels() int {
	return int(r.SizeX) * int(r.SizeY)
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.SizeX, r.SizeY, r.OffsetX, r.OffsetY)
}

// DepthRange is the device depth window in integer millimetres.
type DepthRange struct {
	MinMM int64 `json:"min_mm"`
	MaxMM int64 `json:"max_mm"`
}

// MinMeters returns the lower bound in metres.
func (d DepthRange) MinMeters() float64 { return units.MillimetresToMetres(d.MinMM) }

// MaxMeters returns the upper bound in metres.
func (d DepthRange) MaxMeters() float64 { return units.MillimetresToMetres(d.MaxMM) }

// TriggerKind selects how samples are clocked.
type TriggerKind int

const (
	// FreeRunning samples on the device's internal clock.
	FreeRunning TriggerKind = iota
	// ExternallyTriggered samples on pulses arriving on an input line.
	ExternallyTriggered
)

func (k TriggerKind) String() string {
	switch k {
	case FreeRunning:
		return "free-running"
	case ExternallyTriggered:
		return "externally-triggered"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// DefaultTriggerLine is the input line used in externally triggered mode.
const DefaultTriggerLine = "Line1"

// TriggerMode describes how a session is clocked. RateHz is only
// meaningful for FreeRunning and Line only for ExternallyTriggered.
type TriggerMode struct {
	Kind   TriggerKind `json:"kind"`
	RateHz float64     `json:"rate_hz,omitempty"`
	Line   string      `json:"line,omitempty"`
}

// RateFromPeriod converts a sample period in microseconds to a rate in Hz.
func RateFromPeriod(periodUS int64) float64 {
	if periodUS <= 0 {
		return 0
	}
	return 1.0e6 / float64(periodUS)
}

// ParseTriggerKind accepts the String form of a TriggerKind.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch s {
	case "free-running", "free_running", "":
		return FreeRunning, nil
	case "externally-triggered", "externally_triggered", "external":
		return ExternallyTriggered, nil
	}
	return FreeRunning, fmt.Errorf("%w: unknown trigger mode %q", ErrValue, s)
}

func (k TriggerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TriggerKind) UnmarshalText(b []byte) error {
	v, err := ParseTriggerKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
