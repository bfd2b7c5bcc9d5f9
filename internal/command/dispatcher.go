// Package command turns operator requests into camera operations. The same
// Dispatcher serves the MQTT command topic and the HTTP API.
package command

import (
	"errors"
	"fmt"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/camera"
)

// Command names.
const (
	Activate            = "activate"
	Deactivate          = "deactivate"
	Start               = "start"
	Stop                = "stop"
	SetRegion           = "set_region"
	DisableRegion       = "disable_region"
	SetRange            = "set_range"
	SetSamplePeriod     = "set_sample_period"
	SetTriggerMode      = "set_trigger_mode"
	IsSamplingSupported = "is_sampling_supported"
	GetStatus           = "get_status"
	GetRegion           = "get_region"
	GetRange            = "get_range"
	GetTemperature      = "get_temperature"
	GetDeviceName       = "get_device_name"
)

// Controller is the camera surface driven by commands.
type Controller interface {
	Activate() error
	Deactivate() error
	Start() error
	Stop() error
	SetRegion(tof.Region) error
	DisableRegion() error
	SetRange(minM, maxM float64) error
	SetSamplePeriod(periodUS int64) error
	SetTriggerMode(tof.TriggerKind) error
	IsSamplingSupported(periodUS int64) (bool, error)
	Status() camera.Status
	Region() (tof.Region, error)
	RegionEnabled() bool
	Range() (minM, maxM float64, err error)
	RangeLimits() (lowerM, upperM float64, err error)
	Temperature() (float64, error)
	DeviceName() (string, error)
}

// Request is one operator command.
type Request struct {
	ID       string           `json:"id,omitempty"`
	Command  string           `json:"command"`
	Region   *tof.Region      `json:"region,omitempty"`
	MinM     *float64         `json:"min_m,omitempty"`
	MaxM     *float64         `json:"max_m,omitempty"`
	PeriodUS *int64           `json:"period_us,omitempty"`
	Trigger  *tof.TriggerKind `json:"trigger,omitempty"`
}

// Reply carries the outcome. Code is the gRPC status code name.
type Reply struct {
	ID      string      `json:"id,omitempty"`
	Command string      `json:"command"`
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// OK reports whether the command succeeded.
func (r Reply) OK() bool { return r.Code == codes.OK.String() }

// StatusCode parses Code; an unrecognised name is codes.Unknown.
func (r Reply) StatusCode() codes.Code {
	var c codes.Code
	if err := c.UnmarshalJSON([]byte(strconv.Quote(r.Code))); err != nil {
		return codes.Unknown
	}
	return c
}

// RangeData is returned by get_range.
type RangeData struct {
	MinM   float64 `json:"min_m"`
	MaxM   float64 `json:"max_m"`
	LowerM float64 `json:"lower_m"`
	UpperM float64 `json:"upper_m"`
}

// RegionData is returned by get_region.
type RegionData struct {
	Region  tof.Region `json:"region"`
	Enabled bool       `json:"enabled"`
}

// Dispatcher executes requests against a Controller.
type Dispatcher struct {
	ctl Controller
}

// NewDispatcher returns a Dispatcher for ctl.
func NewDispatcher(ctl Controller) *Dispatcher {
	return &Dispatcher{ctl: ctl}
}

// Dispatch runs req and returns its reply. It never panics on bad input.
func (d *Dispatcher) Dispatch(req Request) Reply {
	data, err := d.run(req)
	st := Status(err)
	reply := Reply{
		ID:      req.ID,
		Command: req.Command,
		Code:    st.Code().String(),
		Data:    data,
	}
	if err != nil {
		reply.Message = st.Message()
		monitoring.Infof("command %s rejected (%s): %s", req.Command, reply.Code, reply.Message)
	}
	return reply
}

func (d *Dispatcher) run(req Request) (interface{}, error) {
	switch req.Command {
	case Activate:
		return nil, d.ctl.Activate()
	case Deactivate:
		return nil, d.ctl.Deactivate()
	case Start:
		return nil, d.ctl.Start()
	case Stop:
		return nil, d.ctl.Stop()
	case SetRegion:
		if req.Region == nil {
			return nil, missing("region")
		}
		return nil, d.ctl.SetRegion(*req.Region)
	case DisableRegion:
		return nil, d.ctl.DisableRegion()
	case SetRange:
		if req.MinM == nil || req.MaxM == nil {
			return nil, missing("min_m and max_m")
		}
		return nil, d.ctl.SetRange(*req.MinM, *req.MaxM)
	case SetSamplePeriod:
		if req.PeriodUS == nil {
			return nil, missing("period_us")
		}
		return nil, d.ctl.SetSamplePeriod(*req.PeriodUS)
	case SetTriggerMode:
		if req.Trigger == nil {
			return nil, missing("trigger")
		}
		return nil, d.ctl.SetTriggerMode(*req.Trigger)
	case IsSamplingSupported:
		if req.PeriodUS == nil {
			return nil, missing("period_us")
		}
		return d.ctl.IsSamplingSupported(*req.PeriodUS)
	case GetStatus:
		return d.ctl.Status(), nil
	case GetRegion:
		r, err := d.ctl.Region()
		if err != nil {
			return nil, err
		}
		return RegionData{Region: r, Enabled: d.ctl.RegionEnabled()}, nil
	case GetRange:
		minM, maxM, err := d.ctl.Range()
		if err != nil {
			return nil, err
		}
		lower, upper, err := d.ctl.RangeLimits()
		if err != nil {
			return nil, err
		}
		return RangeData{MinM: minM, MaxM: maxM, LowerM: lower, UpperM: upper}, nil
	case GetTemperature:
		return d.ctl.Temperature()
	case GetDeviceName:
		return d.ctl.DeviceName()
	case "":
		return nil, status.Error(codes.InvalidArgument, "missing command")
	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown command %q", req.Command)
	}
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", tof.ErrValue, field)
}

// Code maps an error kind to a gRPC status code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	switch {
	case errors.Is(err, tof.ErrValue):
		return codes.InvalidArgument
	case errors.Is(err, camera.ErrState):
		return codes.FailedPrecondition
	case errors.Is(err, tof.ErrTimeoutExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, tof.ErrDeviceCommunication),
		errors.Is(err, tof.ErrDeviceDisconnected),
		errors.Is(err, camera.ErrActivation):
		return codes.Unavailable
	case errors.Is(err, tof.ErrInvariantViolation):
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Status converts err to a gRPC status carrying its message.
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(Code(err), err.Error())
}
