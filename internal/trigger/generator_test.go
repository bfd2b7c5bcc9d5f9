package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/serialmux"
	"github.com/banshee-data/tofcam/internal/tof/camera"
)

func init() {
	monitoring.SetLogger(nil)
}

func newLink(t *testing.T, respond func(string) string) (*serialmux.TestableSerialPort, *serialmux.SerialMux[*serialmux.TestableSerialPort]) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.Respond = respond
	mux := serialmux.NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())
	go mux.Monitor(ctx)
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})
	return port, mux
}

func TestArmDisarm(t *testing.T) {
	port, mux := newLink(t, func(string) string { return "OK" })
	g := NewGenerator(mux, Config{GeneratorID: 2, CameraOutput: 1, OffsetUS: 250})
	var _ camera.TriggerGenerator = g

	require.NoError(t, g.Arm(100000))
	armed, period := g.Armed()
	assert.True(t, armed)
	assert.Equal(t, int64(100000), period)

	require.NoError(t, g.Disarm())
	armed, _ = g.Armed()
	assert.False(t, armed)

	assert.Equal(t, "ARM 2 1 250 100000\nDISARM 2\n", port.Written())
}

func TestArm_Rejected(t *testing.T) {
	_, mux := newLink(t, func(cmd string) string {
		if strings.HasPrefix(cmd, "ARM") {
			return "ERR period out of range"
		}
		return "OK"
	})
	g := NewGenerator(mux, Config{GeneratorID: 1})

	err := g.Arm(10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "period out of range")
	armed, _ := g.Armed()
	assert.False(t, armed)
}

func TestArm_IgnoresChatter(t *testing.T) {
	_, mux := newLink(t, func(string) string { return "STATUS idle\nOK" })
	g := NewGenerator(mux, Config{})
	assert.NoError(t, g.Arm(5000))
}

func TestArm_NoReply(t *testing.T) {
	_, mux := newLink(t, func(string) string { return "" })
	g := NewGenerator(mux, Config{ReplyTimeout: 20 * time.Millisecond})

	err := g.Arm(5000)
	assert.True(t, errors.Is(err, ErrNoReply), "got %v", err)
}

func TestArm_InvalidPeriod(t *testing.T) {
	port, mux := newLink(t, func(string) string { return "OK" })
	g := NewGenerator(mux, Config{})
	assert.Error(t, g.Arm(0))
	assert.Empty(t, port.Written())
}

func TestDisarm_SendErrorStillDisarms(t *testing.T) {
	port, mux := newLink(t, func(string) string { return "OK" })
	g := NewGenerator(mux, Config{})
	require.NoError(t, g.Arm(5000))

	port.WriteError = errors.New("unplugged")
	assert.Error(t, g.Disarm())
	armed, _ := g.Armed()
	assert.False(t, armed)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		line        string
		ok, matched bool
		reason      string
	}{
		{"OK", true, true, ""},
		{" OK \r", true, true, ""},
		{"ERR", false, true, "unspecified"},
		{"ERR busy", false, true, "busy"},
		{"ERROR", false, false, ""},
		{"hello", false, false, ""},
	}
	for _, tc := range tests {
		ok, reason, matched := parseReply(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.matched, matched, tc.line)
		assert.Equal(t, tc.reason, reason, tc.line)
	}
}
