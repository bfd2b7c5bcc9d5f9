package monitoring

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/frames"
	"github.com/banshee-data/tofcam/internal/units"
)

// FrameSummary describes the valid pixels of one frame. Distances are in
// Units.
type FrameSummary struct {
	Timestamp  time.Time  `json:"timestamp"`
	Units      string     `json:"units"`
	Region     tof.Region `json:"region"`
	Pixels     int        `json:"pixels"`
	Valid      int        `json:"valid"`
	ValidRatio float64    `json:"valid_ratio"`
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
	Mean       float64    `json:"mean"`
	StdDev     float64    `json:"stddev"`
	P50        float64    `json:"p50"`
	P95        float64    `json:"p95"`
}

// Summarize computes a FrameSummary. Statistics are zero when no pixel is
// valid.
func Summarize(f frames.Frame) FrameSummary {
	s := FrameSummary{
		Timestamp: f.Attributes.Timestamp,
		Units:     units.Metres,
		Region:    f.Region,
		Pixels:    len(f.Distances),
	}
	valid := ValidDistances(f)
	s.Valid = len(valid)
	if s.Pixels > 0 {
		s.ValidRatio = float64(s.Valid) / float64(s.Pixels)
	}
	if len(valid) == 0 {
		return s
	}
	sort.Float64s(valid)
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	s.P50 = stat.Quantile(0.5, stat.Empirical, valid, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, valid, nil)
	return s
}

// In returns s with every distance statistic converted to target, which
// must satisfy units.IsValid.
func (s FrameSummary) In(target string) FrameSummary {
	if target == s.Units {
		return s
	}
	for _, v := range []*float64{&s.Min, &s.Max, &s.Mean, &s.StdDev, &s.P50, &s.P95} {
		*v = units.ConvertDepth(*v, target)
	}
	s.Units = target
	return s
}

// ValidDistances returns the distances of pixels marked Valid.
func ValidDistances(f frames.Frame) []float64 {
	out := make([]float64, 0, len(f.Distances))
	for i, d := range f.Distances {
		if i < len(f.Validity) && f.Validity[i] == frames.Valid {
			out = append(out, d)
		}
	}
	return out
}

// FrameStats keeps the latest frame and summary plus a frame rate estimate.
// Feed it from a publish.Bus subscription with Run.
type FrameStats struct {
	mu      sync.RWMutex
	last    *frames.Frame
	summary FrameSummary
	count   uint64
	times   []time.Time // recent frame timestamps, oldest first
	window  int
}

// NewFrameStats estimates the frame rate over the last window frames.
func NewFrameStats(window int) *FrameStats {
	if window < 2 {
		window = 2
	}
	return &FrameStats{window: window}
}

// Observe records one frame.
func (fs *FrameStats) Observe(f frames.Frame) {
	s := Summarize(f)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.last = &f
	fs.summary = s
	fs.count++
	fs.times = append(fs.times, f.Attributes.Timestamp)
	if len(fs.times) > fs.window {
		fs.times = fs.times[len(fs.times)-fs.window:]
	}
}

// Run observes frames from ch until ctx is done or ch is closed.
func (fs *FrameStats) Run(ctx context.Context, ch <-chan frames.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			fs.Observe(f)
		}
	}
}

// Snapshot is the state exposed over HTTP.
type Snapshot struct {
	Frames uint64        `json:"frames"`
	RateHz float64       `json:"rate_hz"`
	Latest *FrameSummary `json:"latest,omitempty"`
}

// Snapshot returns the current counters.
func (fs *FrameStats) Snapshot() Snapshot {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	snap := Snapshot{Frames: fs.count}
	if fs.last != nil {
		s := fs.summary
		snap.Latest = &s
	}
	if n := len(fs.times); n >= 2 {
		if span := fs.times[n-1].Sub(fs.times[0]).Seconds(); span > 0 {
			snap.RateHz = float64(n-1) / span
		}
	}
	return snap
}

// Latest returns the most recent frame.
func (fs *FrameStats) Latest() (frames.Frame, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.last == nil {
		return frames.Frame{}, false
	}
	return *fs.last, true
}
