package params

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/device"
)

const (
	sensorW = 20
	sensorH = 12
)

func TestValidateRegion_AllValidRegionsAccepted(t *testing.T) {
	for ox := uint32(0); ox < sensorW; ox += 2 {
		for sx := uint32(2); ox+sx <= sensorW; sx += 2 {
			for oy := uint32(0); oy < sensorH; oy += 2 {
				for sy := uint32(2); oy+sy <= sensorH; sy += 2 {
					r := tof.Region{OffsetX: ox, OffsetY: oy, SizeX: sx, SizeY: sy}
					if err := ValidateRegion(r, sensorW, sensorH); err != nil {
						t.Fatalf("ValidateRegion(%s) = %v, want nil", r, err)
					}
				}
			}
		}
	}
}

func TestValidateRegion_Rejections(t *testing.T) {
	tests := []struct {
		name string
		r    tof.Region
	}{
		{"zero width", tof.Region{SizeX: 0, SizeY: 4}},
		{"zero height", tof.Region{SizeX: 4, SizeY: 0}},
		{"odd offset x", tof.Region{OffsetX: 1, SizeX: 4, SizeY: 4}},
		{"odd offset y", tof.Region{OffsetY: 3, SizeX: 4, SizeY: 4}},
		{"odd size x", tof.Region{SizeX: 5, SizeY: 4}},
		{"odd size y", tof.Region{SizeX: 4, SizeY: 7}},
		{"too wide", tof.Region{OffsetX: 10, SizeX: 12, SizeY: 4}},
		{"too tall", tof.Region{OffsetY: 2, SizeX: 4, SizeY: 12}},
		{"overflowing offset", tof.Region{OffsetX: math.MaxUint32 - 1, SizeX: 4, SizeY: 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRegion(tc.r, sensorW, sensorH)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tof.ErrValue), "got %v", err)
		})
	}
}

func TestValidateRegion_OddValuesAlwaysRejected(t *testing.T) {
	for v := uint32(1); v < sensorH; v += 2 {
		for i, r := range []tof.Region{
			{OffsetX: v, SizeX: 2, SizeY: 2},
			{OffsetY: v, SizeX: 2, SizeY: 2},
			{SizeX: v, SizeY: 2},
			{SizeX: 2, SizeY: v},
		} {
			err := ValidateRegion(r, sensorW, sensorH)
			assert.True(t, errors.Is(err, tof.ErrValue), "case %d value %d: got %v", i, v, err)
		}
	}
}

// applyWrites replays writes against a (offset, size) pair per axis and
// fails if any intermediate state exceeds the sensor.
func applyWrites(t *testing.T, start tof.Region, writes []Write) tof.Region {
	t.Helper()
	r := start
	for _, w := range writes {
		switch w.Param {
		case device.ParamOffsetX:
			r.OffsetX = uint32(w.Value)
		case device.ParamWidth:
			r.SizeX = uint32(w.Value)
		case device.ParamOffsetY:
			r.OffsetY = uint32(w.Value)
		case device.ParamHeight:
			r.SizeY = uint32(w.Value)
		default:
			t.Fatalf("unexpected write %+v", w)
		}
		if r.OffsetX+r.SizeX > sensorW || r.OffsetY+r.SizeY > sensorH {
			t.Fatalf("transient region %s exceeds sensor after %s=%d (start %s)", r, w.Param, w.Value, start)
		}
	}
	return r
}

func evenRegions() []tof.Region {
	var out []tof.Region
	for ox := uint32(0); ox < sensorW; ox += 4 {
		for sx := uint32(2); ox+sx <= sensorW; sx += 4 {
			for oy := uint32(0); oy < sensorH; oy += 4 {
				for sy := uint32(2); oy+sy <= sensorH; sy += 4 {
					out = append(out, tof.Region{OffsetX: ox, OffsetY: oy, SizeX: sx, SizeY: sy})
				}
			}
		}
	}
	return out
}

func TestRegionWrites_NoTransientOverflow(t *testing.T) {
	regions := evenRegions()
	require.NotEmpty(t, regions)
	for _, from := range regions {
		for _, to := range regions {
			got := applyWrites(t, from, RegionWrites(from, to))
			if got != to {
				t.Fatalf("RegionWrites(%s -> %s) ended at %s", from, to, got)
			}
		}
	}
}

func TestRegionWrites_Order(t *testing.T) {
	current := tof.Region{OffsetX: 4, OffsetY: 4, SizeX: 8, SizeY: 4}

	grow := RegionWrites(current, tof.Region{OffsetX: 0, OffsetY: 2, SizeX: 16, SizeY: 8})
	assert.Equal(t, []Write{
		{device.ParamOffsetX, 0}, {device.ParamWidth, 16},
		{device.ParamOffsetY, 2}, {device.ParamHeight, 8},
	}, grow)

	shrink := RegionWrites(current, tof.Region{OffsetX: 10, OffsetY: 6, SizeX: 4, SizeY: 4})
	assert.Equal(t, []Write{
		{device.ParamWidth, 4}, {device.ParamOffsetX, 10},
		{device.ParamHeight, 4}, {device.ParamOffsetY, 6},
	}, shrink)
}

func TestDisableRegionWrites(t *testing.T) {
	got := applyWrites(t, tof.Region{OffsetX: 6, OffsetY: 2, SizeX: 8, SizeY: 6}, DisableRegionWrites(sensorW, sensorH))
	assert.Equal(t, tof.FullRegion(sensorW, sensorH), got)
	assert.True(t, got.IsFull(sensorW, sensorH))
}

func TestValidateRange(t *testing.T) {
	const lower, upper = 0.1, 13.32

	tests := []struct {
		name     string
		min, max float64
		want     tof.DepthRange
		wantErr  bool
	}{
		{name: "full window", min: 0.1, max: 13.32, want: tof.DepthRange{MinMM: 100, MaxMM: 13320}},
		{name: "rounds to millimetres", min: 0.5004, max: 2.0006, want: tof.DepthRange{MinMM: 500, MaxMM: 2001}},
		{name: "equal bounds", min: 3, max: 3, want: tof.DepthRange{MinMM: 3000, MaxMM: 3000}},
		{name: "below lower limit", min: 0.05, max: 1, wantErr: true},
		{name: "above upper limit", min: 1, max: 14, wantErr: true},
		{name: "inverted", min: 5, max: 4, wantErr: true},
		{name: "nan", min: math.NaN(), max: 4, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateRange(tc.min, tc.max, lower, upper)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tof.ErrValue))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, int64(math.Round(tc.min*1000)), got.MinMM)
			assert.Equal(t, int64(math.Round(tc.max*1000)), got.MaxMM)
		})
	}
}

func TestSamplingSupported(t *testing.T) {
	ok, err := SamplingSupported(tof.FreeRunning, 100000, 1, 30) // 10 Hz
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = SamplingSupported(tof.FreeRunning, 10000, 1, 30) // 100 Hz
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = SamplingSupported(tof.FreeRunning, 2000000, 1, 30) // 0.5 Hz
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = SamplingSupported(tof.FreeRunning, 1000000, 1, 30) // exactly min
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = SamplingSupported(tof.FreeRunning, 0, 1, 30)
	assert.True(t, errors.Is(err, tof.ErrValue))

	_, err = SamplingSupported(tof.ExternallyTriggered, 100000, 1, 30)
	assert.True(t, errors.Is(err, tof.ErrValue))
}
