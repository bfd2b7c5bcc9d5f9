// Package params validates region, depth range and trigger rate requests
// against device limits before anything is written to the device.
// Everything here is pure.
package params

import (
	"fmt"
	"math"

	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/device"
	"github.com/banshee-data/tofcam/internal/units"
)

// ValidateRegion checks r against the sensor extent.
func ValidateRegion(r tof.Region, sensorWidth, sensorHeight uint32) error {
	if r.SizeX == 0 || r.SizeY == 0 {
		return fmt.Errorf("%w: region size (width or height) can not be zero", tof.ErrValue)
	}
	if r.OffsetX%2 != 0 || r.OffsetY%2 != 0 || r.SizeX%2 != 0 || r.SizeY%2 != 0 {
		return fmt.Errorf("%w: region sizes and offsets have to be even numbers, got %s", tof.ErrValue, r)
	}
	if uint64(r.OffsetX)+uint64(r.SizeX) > uint64(sensorWidth) {
		return fmt.Errorf("%w: region width + offset_x > sensor width (%d > %d)",
			tof.ErrValue, uint64(r.OffsetX)+uint64(r.SizeX), sensorWidth)
	}
	if uint64(r.OffsetY)+uint64(r.SizeY) > uint64(sensorHeight) {
		return fmt.Errorf("%w: region height + offset_y > sensor height (%d > %d)",
			tof.ErrValue, uint64(r.OffsetY)+uint64(r.SizeY), sensorHeight)
	}
	return nil
}

// Write is a single integer parameter write.
type Write struct {
	Param string
	Value int64
}

// RegionWrites returns the writes that move the device from current to next.
// Per axis, a growing size writes the offset first and a shrinking (or
// equal) size writes the size first, so offset+size never exceeds the
// sensor between the two writes.
func RegionWrites(current, next tof.Region) []Write {
	writes := make([]Write, 0, 4)
	writes = append(writes, axisWrites(device.ParamOffsetX, device.ParamWidth, current.SizeX, next.OffsetX, next.SizeX)...)
	writes = append(writes, axisWrites(device.ParamOffsetY, device.ParamHeight, current.SizeY, next.OffsetY, next.SizeY)...)
	return writes
}

func axisWrites(offsetParam, sizeParam string, currentSize, offset, size uint32) []Write {
	o := Write{Param: offsetParam, Value: int64(offset)}
	s := Write{Param: sizeParam, Value: int64(size)}
	if size > currentSize {
		return []Write{o, s}
	}
	return []Write{s, o}
}

// DisableRegionWrites resets the device to the full sensor extent.
func DisableRegionWrites(sensorWidth, sensorHeight uint32) []Write {
	return []Write{
		{Param: device.ParamOffsetX, Value: 0},
		{Param: device.ParamOffsetY, Value: 0},
		{Param: device.ParamWidth, Value: int64(sensorWidth)},
		{Param: device.ParamHeight, Value: int64(sensorHeight)},
	}
}

// ValidateRange checks a depth window in metres against the device limits
// (also metres) and returns it in device millimetres.
func ValidateRange(minM, maxM, lowerM, upperM float64) (tof.DepthRange, error) {
	if math.IsNaN(minM) || math.IsNaN(maxM) || math.IsInf(minM, 0) || math.IsInf(maxM, 0) {
		return tof.DepthRange{}, fmt.Errorf("%w: depth range must be finite", tof.ErrValue)
	}
	if minM < lowerM {
		return tof.DepthRange{}, fmt.Errorf("%w: minimum depth must be at least %g m", tof.ErrValue, lowerM)
	}
	if maxM > upperM {
		return tof.DepthRange{}, fmt.Errorf("%w: maximum depth must be at most %g m", tof.ErrValue, upperM)
	}
	if minM > maxM {
		return tof.DepthRange{}, fmt.Errorf("%w: maximum depth must be larger than minimum depth", tof.ErrValue)
	}
	return tof.DepthRange{
		MinMM: units.MetresToMillimetres(minM),
		MaxMM: units.MetresToMillimetres(maxM),
	}, nil
}

// SamplingSupported reports whether a sample period is within the device's
// frame rate limits. The period has no meaning when sampling is externally
// triggered, so asking is an error.
func SamplingSupported(kind tof.TriggerKind, periodUS int64, minRateHz, maxRateHz float64) (bool, error) {
	if kind == tof.ExternallyTriggered {
		return false, fmt.Errorf("%w: period not relevant in externally-triggered mode", tof.ErrValue)
	}
	if periodUS <= 0 {
		return false, ErrPeriod(periodUS)
	}
	rate := tof.RateFromPeriod(periodUS)
	return minRateHz <= rate && rate <= maxRateHz, nil
}

// ErrPeriod is the error for a non-positive sample period.
func ErrPeriod(periodUS int64) error {
	return fmt.Errorf("%w: sample period must be positive, got %d us", tof.ErrValue, periodUS)
}

// ErrRate is the error for a frame rate outside the device limits.
func ErrRate(rateHz, minRateHz, maxRateHz float64) error {
	return fmt.Errorf("%w: sampling rate %g Hz outside [%g, %g] Hz", tof.ErrValue, rateHz, minRateHz, maxRateHz)
}
