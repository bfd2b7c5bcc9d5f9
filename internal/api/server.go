// Package api serves the node's HTTP surface: camera status, operator
// commands, live frame views and the session journal.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/tofcam/internal/command"
	"github.com/banshee-data/tofcam/internal/db"
	"github.com/banshee-data/tofcam/internal/httputil"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/tof/camera"
	"github.com/banshee-data/tofcam/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxCommandBody caps POST /api/command bodies.
const maxCommandBody = 64 << 10

// StatusFunc returns the camera snapshot.
type StatusFunc func() camera.Status

type Server struct {
	status StatusFunc
	disp   *command.Dispatcher
	stats  *monitoring.FrameStats
	db     *db.DB
}

// NewServer creates the API server. stats and journal may be nil; their
// routes then answer 404 and 503 respectively.
func NewServer(status StatusFunc, disp *command.Dispatcher, stats *monitoring.FrameStats, journal *db.DB) *Server {
	return &Server{
		status: status,
		disp:   disp,
		stats:  stats,
		db:     journal,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/command", s.runCommand)
	mux.HandleFunc("/api/frames/latest", s.showLatestFrame)
	mux.HandleFunc("/api/frames/histogram.png", s.showHistogram)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/chart", s.showSessionChart)
	mux.HandleFunc("/api/faults", s.listFaults)
	mux.HandleFunc("/api/state_changes", s.listStateChanges)
	return mux
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Camera camera.Status        `json:"camera"`
	Frames *monitoring.Snapshot `json:"frames,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{Camera: s.status()}
	if s.stats != nil {
		snap := s.stats.Snapshot()
		resp.Frames = &snap
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req command.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCommandBody)).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid command body: "+err.Error())
		return
	}
	reply := s.disp.Dispatch(req)
	httputil.WriteJSON(w, httputil.HTTPStatus(reply.StatusCode()), reply)
}

func (s *Server) showLatestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.stats == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame received")
		return
	}
	f, ok := s.stats.Latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame received")
		return
	}
	if r.URL.Query().Get("raw") == "true" {
		httputil.WriteJSONOK(w, f)
		return
	}
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.Metres
	}
	if !units.IsValid(unit) {
		httputil.BadRequest(w, "Invalid 'units' parameter. Must be one of: "+units.GetValidUnitsString())
		return
	}
	httputil.WriteJSONOK(w, monitoring.Summarize(f).In(unit))
}

func (s *Server) showHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	bins := 50
	if b := r.URL.Query().Get("bins"); b != "" {
		parsed, err := strconv.Atoi(b)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.BadRequest(w, "Invalid 'bins' parameter")
			return
		}
		bins = parsed
	}
	if s.stats == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame received")
		return
	}
	f, ok := s.stats.Latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame received")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := monitoring.WriteHistogramPNG(w, monitoring.ValidDistances(f), bins, "Depth histogram"); err != nil {
		if errors.Is(err, monitoring.ErrNoData) {
			w.Header().Del("Content-Type")
			httputil.WriteJSONError(w, http.StatusNotFound, "latest frame has no valid pixels")
			return
		}
		monitoring.Warnf("histogram: %v", err)
	}
}

func limitParam(r *http.Request) (int, bool) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (s *Server) journal(w http.ResponseWriter, r *http.Request) (int, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return 0, false
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return 0, false
	}
	limit, ok := limitParam(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return 0, false
	}
	return limit, true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.journal(w, r)
	if !ok {
		return
	}
	sessions, err := s.db.Sessions(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSessionChart(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.journal(w, r)
	if !ok {
		return
	}
	sessions, err := s.db.Sessions(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve sessions: "+err.Error())
		return
	}
	points := make([]monitoring.SessionPoint, 0, len(sessions))
	// oldest first, left to right
	for i := len(sessions) - 1; i >= 0; i-- {
		sess := sessions[i]
		points = append(points, monitoring.SessionPoint{
			Label:    sess.StartedAt.Format("01-02 15:04:05"),
			Frames:   sess.Frames,
			Timeouts: sess.Timeouts,
			Failures: sess.Failures,
		})
	}
	if len(points) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no sessions recorded")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := monitoring.WriteSessionChart(w, "Acquisition sessions", points); err != nil {
		monitoring.Warnf("session chart: %v", err)
	}
}

func (s *Server) listFaults(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.journal(w, r)
	if !ok {
		return
	}
	faults, err := s.db.Faults(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve faults: "+err.Error())
		return
	}
	if faults == nil {
		faults = []db.FaultRecord{}
	}
	httputil.WriteJSONOK(w, faults)
}

func (s *Server) listStateChanges(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.journal(w, r)
	if !ok {
		return
	}
	changes, err := s.db.StateChanges(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve state changes: "+err.Error())
		return
	}
	if changes == nil {
		changes = []db.StateChange{}
	}
	httputil.WriteJSONOK(w, changes)
}
