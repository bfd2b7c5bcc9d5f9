// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/tofcam/internal/tof/device"
)

// FrameEvent builds a successful grab of a w x h sample where every pixel
// carries the same depth code and confidence.
func FrameEvent(w, h int, code, confidence uint16) device.GrabEvent {
	depth := make([]uint16, w*h)
	conf := make([]uint16, w*h)
	for i := range depth {
		depth[i] = code
		conf[i] = confidence
	}
	return device.GrabEvent{Status: device.GrabOK, Parts: []device.BufferPart{
		{Kind: device.PartRange, Width: w, Height: h, Data: depth},
		{Kind: device.PartConfidence, Width: w, Height: h, Data: conf},
	}}
}

// StatusEvent builds a grab result carrying no parts.
func StatusEvent(status device.GrabStatus) device.GrabEvent {
	return device.GrabEvent{Status: status}
}

// Serve runs one request through h. A non-empty body is sent as JSON.
func Serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON unmarshals the recorded body into v, failing the test on error.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
