package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/command"
	"github.com/banshee-data/tofcam/internal/httputil"
	"github.com/banshee-data/tofcam/internal/tof"
)

func sent(t *testing.T, m *httputil.MockHTTPClient) command.Request {
	t.Helper()
	require.Equal(t, 1, m.RequestCount())
	var req command.Request
	require.NoError(t, json.Unmarshal(m.Bodies[0], &req))
	return req
}

func TestRun_Activate(t *testing.T) {
	m := httputil.NewMockHTTPClient().AddResponse(200, `{"command":"activate","code":"OK"}`)
	var out, errOut bytes.Buffer

	code := run([]string{"-addr", "http://node:8080/", "activate"}, m, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "http://node:8080/api/command", m.Requests[0].URL.String())
	assert.Equal(t, command.Activate, sent(t, m).Command)
	assert.Contains(t, out.String(), `"code": "OK"`)
}

func TestRun_SetRegion(t *testing.T) {
	m := httputil.NewMockHTTPClient().AddResponse(200, `{"command":"set_region","code":"OK"}`)
	code := run([]string{"set_region", "-region", "2, 4,16,8"}, m, io.Discard, io.Discard)
	assert.Equal(t, 0, code)
	req := sent(t, m)
	require.NotNil(t, req.Region)
	assert.Equal(t, tof.Region{OffsetX: 2, OffsetY: 4, SizeX: 16, SizeY: 8}, *req.Region)
}

func TestRun_SetRangeAndPeriod(t *testing.T) {
	m := httputil.NewMockHTTPClient().AddResponse(200, `{"code":"OK"}`)
	require.Equal(t, 0, run([]string{"set_range", "-min", "0.5", "-max", "4"}, m, io.Discard, io.Discard))
	req := sent(t, m)
	require.NotNil(t, req.MinM)
	assert.Equal(t, 0.5, *req.MinM)
	assert.Equal(t, 4.0, *req.MaxM)

	m = httputil.NewMockHTTPClient().AddResponse(200, `{"code":"OK"}`)
	require.Equal(t, 0, run([]string{"is_sampling_supported", "-period-us", "50000"}, m, io.Discard, io.Discard))
	assert.Equal(t, int64(50000), *sent(t, m).PeriodUS)
}

func TestRun_SetTriggerMode(t *testing.T) {
	m := httputil.NewMockHTTPClient().AddResponse(200, `{"code":"OK"}`)
	require.Equal(t, 0, run([]string{"set_trigger_mode", "-mode", "externally-triggered"}, m, io.Discard, io.Discard))
	req := sent(t, m)
	require.NotNil(t, req.Trigger)
	assert.Equal(t, tof.ExternallyTriggered, *req.Trigger)
}

func TestRun_Rejected(t *testing.T) {
	m := httputil.NewMockHTTPClient().AddResponse(409, `{"command":"stop","code":"FailedPrecondition","message":"not sampling"}`)
	var errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"stop"}, m, io.Discard, &errOut))
	assert.Contains(t, errOut.String(), "FailedPrecondition (HTTP 409)")
}

func TestRun_Errors(t *testing.T) {
	assert.Equal(t, 2, run(nil, httputil.NewMockHTTPClient(), io.Discard, io.Discard))
	assert.Equal(t, 2, run([]string{"set_region", "-region", "1,2"}, httputil.NewMockHTTPClient(), io.Discard, io.Discard))
	assert.Equal(t, 2, run([]string{"set_trigger_mode", "-mode", "sometimes"}, httputil.NewMockHTTPClient(), io.Discard, io.Discard))

	m := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))
	var errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"activate"}, m, io.Discard, &errOut))
	assert.Contains(t, errOut.String(), "connection refused")
}

func TestParseRegion(t *testing.T) {
	_, err := parseRegion("a,b,c,d")
	assert.Error(t, err)
	r, err := parseRegion("0,0,640,480")
	require.NoError(t, err)
	assert.Equal(t, tof.Region{SizeX: 640, SizeY: 480}, r)
}
