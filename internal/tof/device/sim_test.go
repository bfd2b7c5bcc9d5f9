package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/tof"
)

func openSim(t *testing.T, cfg SimConfig) *Sim {
	t.Helper()
	s := NewSim(cfg)
	require.NoError(t, s.Open("cam"))
	return s
}

func TestSimRequiresOpen(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	_, err := s.Int(ParamWidth)
	assert.True(t, errors.Is(err, tof.ErrDeviceCommunication))
	assert.True(t, errors.Is(err, ErrNotOpen))

	err = s.GrabContinuous(1, time.Millisecond, func(GrabStatus, []BufferPart) bool { return false })
	assert.True(t, errors.Is(err, tof.ErrDeviceCommunication))
	assert.False(t, s.IsConnected())
}

func TestSimRejectsTransientOverflow(t *testing.T) {
	s := openSim(t, DefaultSimConfig())

	// growing the offset before shrinking the width overflows the sensor
	err := s.SetInt(ParamOffsetX, 100)
	assert.True(t, errors.Is(err, tof.ErrDeviceCommunication))

	require.NoError(t, s.SetInt(ParamWidth, 100))
	require.NoError(t, s.SetInt(ParamOffsetX, 100))
	assert.Equal(t, []string{"Width=100", "OffsetX=100"}, s.Writes())

	err = s.SetInt(ParamHeight, 1000)
	assert.Error(t, err)
}

func TestSimFailOn(t *testing.T) {
	s := openSim(t, DefaultSimConfig())
	s.FailOn(ParamDepthMin, errors.New("nak"))

	_, err := s.Int(ParamDepthMin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nak")
	_, err = s.Int(ParamDepthMax)
	assert.NoError(t, err)

	s.FailOn(ParamDepthMin, nil)
	_, err = s.Int(ParamDepthMin)
	assert.NoError(t, err)
}

func TestSimOpenClose(t *testing.T) {
	s := openSim(t, DefaultSimConfig())
	assert.True(t, s.IsOpen())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, s.OpenCount())
	assert.Equal(t, 1, s.CloseCount())
	assert.False(t, s.IsOpen())
}

func TestSimParameters(t *testing.T) {
	s := openSim(t, DefaultSimConfig())

	name, err := s.String(ParamDeviceModelName)
	require.NoError(t, err)
	assert.Equal(t, "tofcam-sim", name)

	lo, hi, err := s.FloatRange(ParamFrameRate)
	require.NoError(t, err)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 30.0, hi)
	assert.Error(t, s.SetFloat(ParamFrameRate, 60))

	require.NoError(t, s.SetEnum(ParamPixelFormat, PixelFormatCoord3DC16))
	v, err := s.Enum(ParamPixelFormat)
	require.NoError(t, err)
	assert.Equal(t, PixelFormatCoord3DC16, v)

	require.NoError(t, s.SetComponentEnabled(ComponentConfidence, true))
	assert.True(t, s.ComponentEnabled(ComponentConfidence))
	assert.Error(t, s.SetComponentEnabled("Normals", true))
}

func TestSimGrabTimeoutAndFeed(t *testing.T) {
	s := openSim(t, DefaultSimConfig())
	s.Feed(GrabEvent{Status: GrabFailed})

	var got []GrabStatus
	err := s.GrabContinuous(15, 2*time.Millisecond, func(st GrabStatus, _ []BufferPart) bool {
		got = append(got, st)
		return len(got) < 3
	})
	require.NoError(t, err)
	assert.Equal(t, []GrabStatus{GrabFailed, GrabTimeout, GrabTimeout}, got)
	assert.False(t, s.Grabbing())
}

func TestSimSyntheticFrames(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.SensorWidth, cfg.SensorHeight = 8, 4
	cfg.MaxRateHz = 1000
	cfg.Synthetic = true
	s := openSim(t, cfg)
	require.NoError(t, s.SetFloat(ParamFrameRate, 1000))

	var parts []BufferPart
	err := s.GrabContinuous(1, time.Second, func(st GrabStatus, p []BufferPart) bool {
		if st != GrabOK {
			return true
		}
		parts = p
		return false
	})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, PartRange, parts[0].Kind)
	assert.Equal(t, PartConfidence, parts[1].Kind)
	assert.Len(t, parts[0].Data, 32)
	assert.Zero(t, parts[1].Data[0], "border has no confidence")
	assert.NotZero(t, parts[1].Data[9])
}

func TestSimDisconnect(t *testing.T) {
	s := openSim(t, DefaultSimConfig())
	s.Disconnect()
	assert.False(t, s.IsConnected())

	var st GrabStatus
	require.NoError(t, s.GrabContinuous(1, time.Second, func(got GrabStatus, _ []BufferPart) bool {
		st = got
		return false
	}))
	assert.Equal(t, GrabDisconnected, st)
}

func TestSimSyntheticRampSaturates(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.SyntheticSeed = 63 // next frame uses seed 320, offset 0; the one after 577, offset 1
	s := openSim(t, cfg)
	s.synthesize()

	ev := s.synthesize()
	depth := ev.Parts[0]
	for y := 0; y < depth.Height; y++ {
		row := depth.Data[y*depth.Width : (y+1)*depth.Width]
		for x := 1; x < len(row); x++ {
			require.GreaterOrEqual(t, row[x], row[x-1], "row %d column %d", y, x)
		}
		assert.Equal(t, uint16(65535), row[len(row)-1])
	}
}
