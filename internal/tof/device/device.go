// Package device defines the Sensor Access Layer: the typed parameter store
// and continuous-grab primitive of a time-of-flight camera. Vendor bindings
// implement Device; this package only ships a simulated implementation.
package device

import (
	"fmt"
	"time"

	"github.com/banshee-data/tofcam/internal/tof"
)

// Parameter names understood by the camera layer.
const (
	ParamWidth            = "Width"
	ParamHeight           = "Height"
	ParamOffsetX          = "OffsetX"
	ParamOffsetY          = "OffsetY"
	ParamDepthMin         = "DepthMin"
	ParamDepthMax         = "DepthMax"
	ParamFrameRate        = "AcquisitionFrameRate"
	ParamTriggerMode      = "TriggerMode"
	ParamTriggerSource    = "TriggerSource"
	ParamPixelFormat      = "PixelFormat"
	ParamExposureAuto     = "ExposureAuto"
	ParamProcessingMode   = "ProcessingMode"
	ParamDeviceModelName  = "DeviceModelName"
	ParamTemperature      = "DeviceTemperature"
	ComponentRange        = "Range"
	ComponentIntensity    = "Intensity"
	ComponentConfidence   = "Confidence"
	PixelFormatCoord3DC16 = "Coord3D_C16"
)

// PartKind tags a buffer part delivered by a grab.
type PartKind int

const (
	PartUnknown PartKind = iota
	PartRange
	PartIntensity
	PartConfidence
)

func (k PartKind) String() string {
	switch k {
	case PartRange:
		return "Range"
	case PartIntensity:
		return "Intensity"
	case PartConfidence:
		return "Confidence"
	default:
		return fmt.Sprintf("PartKind(%d)", int(k))
	}
}

// BufferPart is one component of a grabbed sample.
type BufferPart struct {
	Kind   PartKind
	Width  int
	Height int
	Data   []uint16
}

// GrabStatus classifies one grab result.
type GrabStatus int

const (
	GrabOK GrabStatus = iota
	GrabTimeout
	GrabFailed
	GrabDisconnected
)

func (s GrabStatus) String() string {
	switch s {
	case GrabOK:
		return "ok"
	case GrabTimeout:
		return "timeout"
	case GrabFailed:
		return "failed"
	case GrabDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("GrabStatus(%d)", int(s))
	}
}

// GrabHandler receives every grab result. Returning false ends the grab.
type GrabHandler func(status GrabStatus, parts []BufferPart) bool

// Device is the capability set of a ToF camera handle. Every method that
// touches the hardware returns an error wrapping tof.ErrDeviceCommunication
// on failure. This interface can be mocked.
type Device interface {
	// Open connects to the camera with the given user-defined name.
	Open(name string) error
	// Close releases the handle. Safe to call on a closed device.
	Close() error
	// IsConnected reports whether the device still answers.
	IsConnected() bool

	Int(name string) (int64, error)
	IntRange(name string) (min, max int64, err error)
	SetInt(name string, value int64) error

	Float(name string) (float64, error)
	FloatRange(name string) (min, max float64, err error)
	SetFloat(name string, value float64) error

	Enum(name string) (string, error)
	SetEnum(name, value string) error

	// String reads a read-only string parameter such as DeviceModelName.
	String(name string) (string, error)

	// SetComponentEnabled selects component via ComponentSelector and sets
	// ComponentEnable.
	SetComponentEnabled(component string, enable bool) error

	// GrabContinuous blocks, delivering every result to h until h returns
	// false. A grab that does not complete within timeout is delivered as
	// GrabTimeout.
	GrabContinuous(bufferCount int, timeout time.Duration, h GrabHandler) error
}

// CommError wraps a device-side failure as tof.ErrDeviceCommunication.
func CommError(op, name string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", tof.ErrDeviceCommunication, op, name, err)
}
