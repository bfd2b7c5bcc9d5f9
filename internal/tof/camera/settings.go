package camera

import (
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/device"
	"github.com/banshee-data/tofcam/internal/tof/params"
	"github.com/banshee-data/tofcam/internal/units"
)

// SetRegion validates r and writes it to the device in an order that keeps
// offset+size within the sensor at every step. Only allowed in Standby.
func (c *Camera) SetRegion(r tof.Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStandby(); err != nil {
		return err
	}
	if err := params.ValidateRegion(r, c.sensorWidth, c.sensorHeight); err != nil {
		return err
	}
	current, err := c.readRegion()
	if err != nil {
		c.fail(err)
		return err
	}
	if err := c.applyWrites(params.RegionWrites(current, r)); err != nil {
		c.fail(err)
		return err
	}
	c.regionEnabled = !r.IsFull(c.sensorWidth, c.sensorHeight)
	monitoring.Infof("camera %s: region set to %s", c.cfg.Name, r)
	return nil
}

// DisableRegion restores the full sensor extent. Only allowed in Standby.
func (c *Camera) DisableRegion() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStandby(); err != nil {
		return err
	}
	if err := c.applyWrites(params.DisableRegionWrites(c.sensorWidth, c.sensorHeight)); err != nil {
		c.fail(err)
		return err
	}
	c.regionEnabled = false
	return nil
}

// SetRange validates a depth window in metres and writes it to the device
// in millimetres. Only allowed in Standby.
func (c *Camera) SetRange(minM, maxM float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStandby(); err != nil {
		return err
	}
	next, err := params.ValidateRange(minM, maxM, c.depthLower, c.depthUpper)
	if err != nil {
		return err
	}
	current, err := c.readRange()
	if err != nil {
		c.fail(err)
		return err
	}
	writes := []params.Write{
		{Param: device.ParamDepthMin, Value: next.MinMM},
		{Param: device.ParamDepthMax, Value: next.MaxMM},
	}
	if next.MinMM > current.MaxMM {
		writes[0], writes[1] = writes[1], writes[0]
	}
	if err := c.applyWrites(writes); err != nil {
		c.fail(err)
		return err
	}
	monitoring.Infof("camera %s: depth range set to [%d, %d] mm", c.cfg.Name, next.MinMM, next.MaxMM)
	return nil
}

// IsSamplingSupported reports whether periodUS maps to a frame rate the
// device accepts. It is an error in externally triggered mode.
func (c *Camera) IsSamplingSupported(periodUS int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return false, err
	}
	return params.SamplingSupported(c.cfg.Trigger, periodUS, c.minRateHz, c.maxRateHz)
}

// SetSamplePeriod sets the period used by the next session. In free-running
// mode the period must be supported by the device; in externally triggered
// mode it is the trigger generator period.
func (c *Camera) SetSamplePeriod(periodUS int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStandby(); err != nil {
		return err
	}
	if periodUS <= 0 {
		return params.ErrPeriod(periodUS)
	}
	if c.cfg.Trigger == tof.FreeRunning {
		if err := c.checkFreeRunningPeriod(periodUS); err != nil {
			return err
		}
	}
	c.cfg.SamplePeriodUS = periodUS
	return nil
}

// checkFreeRunningPeriod returns an ErrValue error when the device cannot
// sample at periodUS. Must be called with mu held and the device open.
func (c *Camera) checkFreeRunningPeriod(periodUS int64) error {
	ok, err := params.SamplingSupported(tof.FreeRunning, periodUS, c.minRateHz, c.maxRateHz)
	if err != nil {
		return err
	}
	if !ok {
		return params.ErrRate(tof.RateFromPeriod(periodUS), c.minRateHz, c.maxRateHz)
	}
	return nil
}

// SetTriggerMode selects how the next session is clocked. In Standby,
// switching to free-running requires the stored period to be supported.
func (c *Camera) SetTriggerMode(kind tof.TriggerKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Standby && c.state != Inactive {
		return stateError("set trigger mode", c.state)
	}
	if c.state == Standby && kind == tof.FreeRunning {
		if err := c.checkFreeRunningPeriod(c.cfg.SamplePeriodUS); err != nil {
			return err
		}
	}
	c.cfg.Trigger = kind
	return nil
}

// TriggerMode returns the configured trigger mode.
func (c *Camera) TriggerMode() tof.TriggerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Trigger == tof.ExternallyTriggered {
		return tof.TriggerMode{Kind: tof.ExternallyTriggered, Line: c.cfg.TriggerLine}
	}
	return tof.TriggerMode{Kind: tof.FreeRunning, RateHz: tof.RateFromPeriod(c.cfg.SamplePeriodUS)}
}

// SamplePeriodUS returns the configured sample period.
func (c *Camera) SamplePeriodUS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.SamplePeriodUS
}

// Region reads the current region from the device.
func (c *Camera) Region() (tof.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return tof.Region{}, err
	}
	r, err := c.readRegion()
	if err != nil {
		c.readFailed(err)
		return tof.Region{}, err
	}
	return r, nil
}

// RegionEnabled reports whether the region differs from the full sensor.
func (c *Camera) RegionEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regionEnabled
}

// SensorSize returns the sensor extent read on activation.
func (c *Camera) SensorSize() (width, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensorWidth, c.sensorHeight
}

// Range reads the configured depth window in metres.
func (c *Camera) Range() (minM, maxM float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return 0, 0, err
	}
	dr, err := c.readRange()
	if err != nil {
		c.readFailed(err)
		return 0, 0, err
	}
	return dr.MinMeters(), dr.MaxMeters(), nil
}

// RangeLimits returns the widest depth window the device accepts, in metres.
func (c *Camera) RangeLimits() (lowerM, upperM float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return 0, 0, err
	}
	return c.depthLower, c.depthUpper, nil
}

// RateLimits returns the free-running frame rate limits in Hz.
func (c *Camera) RateLimits() (minHz, maxHz float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minRateHz, c.maxRateHz
}

// Temperature returns the device temperature in kelvin.
func (c *Camera) Temperature() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return 0, err
	}
	t, err := c.dev.Float(device.ParamTemperature)
	if err != nil {
		c.readFailed(err)
		return 0, err
	}
	return units.CelsiusToKelvin(t), nil
}

// DeviceName returns the model name reported by the device.
func (c *Camera) DeviceName() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return "", err
	}
	name, err := c.dev.String(device.ParamDeviceModelName)
	if err != nil {
		c.readFailed(err)
		return "", err
	}
	return name, nil
}

// readFailed moves the camera to Error when a getter lost the device,
// ending a running session first. Must be called with mu held.
func (c *Camera) readFailed(err error) {
	if !IsDeviceError(err) {
		return
	}
	if c.state == Sampling {
		// a session fault is reported by stop
		_ = c.stop()
	}
	if c.state != Error {
		c.fail(err)
	}
}

// readRegion must be called with mu held.
func (c *Camera) readRegion() (tof.Region, error) {
	var vals [4]int64
	for i, name := range []string{device.ParamOffsetX, device.ParamOffsetY, device.ParamWidth, device.ParamHeight} {
		v, err := c.dev.Int(name)
		if err != nil {
			return tof.Region{}, err
		}
		vals[i] = v
	}
	return tof.Region{
		OffsetX: uint32(vals[0]),
		OffsetY: uint32(vals[1]),
		SizeX:   uint32(vals[2]),
		SizeY:   uint32(vals[3]),
	}, nil
}

// readRange must be called with mu held.
func (c *Camera) readRange() (tof.DepthRange, error) {
	minMM, err := c.dev.Int(device.ParamDepthMin)
	if err != nil {
		return tof.DepthRange{}, err
	}
	maxMM, err := c.dev.Int(device.ParamDepthMax)
	if err != nil {
		return tof.DepthRange{}, err
	}
	return tof.DepthRange{MinMM: minMM, MaxMM: maxMM}, nil
}

func (c *Camera) applyWrites(writes []params.Write) error {
	for _, w := range writes {
		if err := c.dev.SetInt(w.Param, w.Value); err != nil {
			return err
		}
	}
	return nil
}
