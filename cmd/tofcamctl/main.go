// Command tofcamctl sends one operator command to a tofcamd node over HTTP
// and prints the reply.
//
//	tofcamctl -addr http://node:8080 activate
//	tofcamctl set_region -region 0,0,320,240
//	tofcamctl set_range -min 0.5 -max 4
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/tofcam/internal/command"
	"github.com/banshee-data/tofcam/internal/httputil"
	"github.com/banshee-data/tofcam/internal/tof"
)

func main() {
	os.Exit(run(os.Args[1:], httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second}), os.Stdout, os.Stderr))
}

func run(args []string, client httputil.HTTPClient, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tofcamctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "tofcamd HTTP address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: tofcamctl [-addr URL] <command> [command flags]")
		return 2
	}

	req, err := buildRequest(fs.Arg(0), fs.Args()[1:], stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	var reply command.Reply
	code, err := httputil.PostJSON(client, strings.TrimRight(*addr, "/")+"/api/command", req, &reply)
	if err != nil {
		fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.Encode(reply)
	if !reply.OK() {
		fmt.Fprintf(stderr, "%s (HTTP %d)\n", reply.Code, code)
		return 1
	}
	return 0
}

func buildRequest(name string, args []string, stderr io.Writer) (command.Request, error) {
	req := command.Request{ID: strconv.FormatInt(time.Now().UnixNano(), 36), Command: name}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch name {
	case command.SetRegion:
		region := fs.String("region", "", "offset_x,offset_y,size_x,size_y")
		if err := fs.Parse(args); err != nil {
			return req, err
		}
		r, err := parseRegion(*region)
		if err != nil {
			return req, err
		}
		req.Region = &r
	case command.SetRange:
		minM := fs.Float64("min", 0, "minimum depth in metres")
		maxM := fs.Float64("max", 0, "maximum depth in metres")
		if err := fs.Parse(args); err != nil {
			return req, err
		}
		req.MinM, req.MaxM = minM, maxM
	case command.SetSamplePeriod, command.IsSamplingSupported:
		period := fs.Int64("period-us", 0, "sample period in microseconds")
		if err := fs.Parse(args); err != nil {
			return req, err
		}
		req.PeriodUS = period
	case command.SetTriggerMode:
		mode := fs.String("mode", "free-running", "free-running or externally-triggered")
		if err := fs.Parse(args); err != nil {
			return req, err
		}
		k, err := tof.ParseTriggerKind(*mode)
		if err != nil {
			return req, err
		}
		req.Trigger = &k
	default:
		if err := fs.Parse(args); err != nil {
			return req, err
		}
	}
	return req, nil
}

func parseRegion(s string) (tof.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tof.Region{}, fmt.Errorf("region must be offset_x,offset_y,size_x,size_y, got %q", s)
	}
	var v [4]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return tof.Region{}, fmt.Errorf("region value %q: %w", p, err)
		}
		v[i] = uint32(n)
	}
	return tof.Region{OffsetX: v[0], OffsetY: v[1], SizeX: v[2], SizeY: v[3]}, nil
}
