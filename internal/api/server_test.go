package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/command"
	"github.com/banshee-data/tofcam/internal/db"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/testutil"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/tof/camera"
	"github.com/banshee-data/tofcam/internal/tof/device"
	"github.com/banshee-data/tofcam/internal/tof/frames"
)

func init() {
	monitoring.SetLogger(nil)
}

type testEnv struct {
	srv   *Server
	mux   http.Handler
	cam   *camera.Camera
	stats *monitoring.FrameStats
	db    *db.DB
}

func setupTestServer(t *testing.T, withJournal bool) *testEnv {
	t.Helper()
	cfg := device.DefaultSimConfig()
	cfg.SensorWidth, cfg.SensorHeight = 8, 4
	sim := device.NewSim(cfg)
	cam := camera.New(sim, camera.Config{Name: "front", Acquisition: acquisition.Config{Timeout: 5 * time.Millisecond}},
		camera.PublisherFunc(func(frames.Frame) {}))
	t.Cleanup(func() { _ = cam.Deactivate() })

	env := &testEnv{cam: cam, stats: monitoring.NewFrameStats(4)}
	if withJournal {
		d, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		env.db = d
	}
	env.srv = NewServer(cam.Status, command.NewDispatcher(cam), env.stats, env.db)
	env.mux = LoggingMiddleware(env.srv.ServeMux())
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(t, e.mux, method, target, body)
}

func observeFrame(t *testing.T, stats *monitoring.FrameStats, code uint16) frames.Frame {
	t.Helper()
	depth := []uint16{0, code, code / 2, code, code / 4, code / 3}
	conf := []uint16{0xFFFF, 0xFFFF, 0xFFFF, 0, 0xFFFF, 0xFFFF}
	f, err := frames.Convert(depth, conf, 3, 2, 0, 10)
	require.NoError(t, err)
	f.Attributes.Timestamp = time.Unix(1700000000, 0)
	stats.Observe(f)
	return f
}

func TestStatus(t *testing.T) {
	env := setupTestServer(t, false)

	w := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp StatusResponse
	testutil.DecodeJSON(t, w, &resp)
	assert.Equal(t, "front", resp.Camera.Name)
	assert.Equal(t, camera.Inactive, resp.Camera.State)
	require.NotNil(t, resp.Frames)
	assert.Zero(t, resp.Frames.Frames)

	w = env.do(t, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCommand(t *testing.T) {
	env := setupTestServer(t, false)

	w := env.do(t, http.MethodPost, "/api/command", `{"id":"1","command":"activate"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply command.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.True(t, reply.OK())
	assert.Equal(t, "1", reply.ID)
	assert.Equal(t, camera.Standby, env.cam.State())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"odd region", `{"command":"set_region","region":{"offset_x":1,"offset_y":0,"size_x":2,"size_y":2}}`, http.StatusBadRequest},
		{"stop in standby", `{"command":"stop"}`, http.StatusConflict},
		{"unknown command", `{"command":"self_destruct"}`, http.StatusNotImplemented},
		{"valid range", `{"command":"set_range","min_m":0.5,"max_m":4}`, http.StatusOK},
		{"malformed", `{"command":`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/command", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	w = env.do(t, http.MethodGet, "/api/command", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLatestFrame(t *testing.T) {
	env := setupTestServer(t, false)

	w := env.do(t, http.MethodGet, "/api/frames/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f := observeFrame(t, env.stats, 65535)

	w = env.do(t, http.MethodGet, "/api/frames/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary monitoring.FrameSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 6, summary.Pixels)
	assert.Equal(t, 4, summary.Valid)
	assert.InDelta(t, 10.0, summary.Max, 1e-9)
	assert.InDelta(t, 2.5, summary.Min, 1e-3)
	assert.Equal(t, "m", summary.Units)

	w = env.do(t, http.MethodGet, "/api/frames/latest?units=mm", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "mm", summary.Units)
	assert.InDelta(t, 10000.0, summary.Max, 1e-6)

	w = env.do(t, http.MethodGet, "/api/frames/latest?units=ft", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/frames/latest?raw=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var raw frames.Frame
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, f.Distances, raw.Distances)
	assert.Equal(t, f.Validity, raw.Validity)
}

func TestHistogram(t *testing.T) {
	env := setupTestServer(t, false)

	w := env.do(t, http.MethodGet, "/api/frames/histogram.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	observeFrame(t, env.stats, 30000)
	w = env.do(t, http.MethodGet, "/api/frames/histogram.png?bins=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	assert.NoError(t, err)

	w = env.do(t, http.MethodGet, "/api/frames/histogram.png?bins=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	observeFrame(t, env.stats, 0)
	w = env.do(t, http.MethodGet, "/api/frames/histogram.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestJournalDisabled(t *testing.T) {
	env := setupTestServer(t, false)
	for _, path := range []string{"/api/sessions", "/api/sessions/chart", "/api/faults", "/api/state_changes"} {
		w := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestJournalRoutes(t *testing.T) {
	env := setupTestServer(t, true)

	w := env.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/sessions/chart", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	for i := 0; i < 3; i++ {
		_, err := env.db.Exec(`INSERT INTO sessions (session_id, camera, trigger_mode, region, min_depth_mm, max_depth_mm, started_at, frames)
			VALUES (?, 'front', 'free-running', '8x4+0+0', 0, 13320, ?, ?)`,
			fmt.Sprintf("s%d", i), time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC), 10*(i+1))
		require.NoError(t, err)
	}
	_, err := env.db.Exec(`INSERT INTO faults (fault_id, camera, code, message, raised_at) VALUES ('f1', 'front', 'Unavailable', 'gone', ?)`, time.Now())
	require.NoError(t, err)
	_, err = env.db.Exec(`INSERT INTO state_changes (camera, from_state, to_state, changed_at) VALUES ('front', 'Inactive', 'Activating', ?)`, time.Now())
	require.NoError(t, err)

	w = env.do(t, http.MethodGet, "/api/sessions?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []db.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, uint64(30), sessions[0].Frames)

	w = env.do(t, http.MethodGet, "/api/sessions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/sessions/chart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Acquisition sessions")

	w = env.do(t, http.MethodGet, "/api/faults", "")
	require.Equal(t, http.StatusOK, w.Code)
	var faults []db.FaultRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &faults))
	require.Len(t, faults, 1)
	assert.Equal(t, "gone", faults[0].Message)

	w = env.do(t, http.MethodGet, "/api/state_changes", "")
	require.Equal(t, http.StatusOK, w.Code)
	var changes []db.StateChange
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, "Activating", changes[0].To)

	w = env.do(t, http.MethodDelete, "/api/faults", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"302"+colorReset, statusCodeColor(302))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/x?y=1", nil))

	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "418")
	assert.Contains(t, logged[0], "/api/x?y=1")
}
