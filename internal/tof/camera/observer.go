package camera

import (
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/tof/frames"
)

// Publisher receives converted frames. Publish must not block for long; it
// runs on the acquisition goroutine.
type Publisher interface {
	Publish(frames.Frame)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(frames.Frame)

func (f PublisherFunc) Publish(fr frames.Frame) { f(fr) }

// SessionInfo describes a sampling session when it starts.
type SessionInfo struct {
	ID      string          `json:"id"`
	Trigger tof.TriggerMode `json:"trigger"`
	Region  tof.Region      `json:"region"`
	Range   tof.DepthRange  `json:"range"`
}

// Observer is notified of lifecycle events. Implementations must not call
// back into the Camera.
type Observer interface {
	StateChanged(from, to State)
	SessionStarted(info SessionInfo)
	SessionEnded(id string, stats acquisition.Stats, fault *tof.Fault)
	// Fault receives the diagnostic of every error that moved the camera
	// to Error or aborted an activation.
	Fault(err error)
}

// NoopObserver ignores every event.
type NoopObserver struct{}

func (NoopObserver) StateChanged(State, State)                          {}
func (NoopObserver) SessionStarted(SessionInfo)                         {}
func (NoopObserver) SessionEnded(string, acquisition.Stats, *tof.Fault) {}
func (NoopObserver) Fault(error)                                        {}

// Observers fans every event out to each element in order.
type Observers []Observer

func (o Observers) StateChanged(from, to State) {
	for _, ob := range o {
		ob.StateChanged(from, to)
	}
}

func (o Observers) SessionStarted(info SessionInfo) {
	for _, ob := range o {
		ob.SessionStarted(info)
	}
}

func (o Observers) SessionEnded(id string, stats acquisition.Stats, fault *tof.Fault) {
	for _, ob := range o {
		ob.SessionEnded(id, stats, fault)
	}
}

func (o Observers) Fault(err error) {
	for _, ob := range o {
		ob.Fault(err)
	}
}

// TriggerGenerator drives the external trigger line. Start arms it in
// ExternallyTriggered mode and Stop disarms it.
type TriggerGenerator interface {
	Arm(periodUS int64) error
	Disarm() error
}
