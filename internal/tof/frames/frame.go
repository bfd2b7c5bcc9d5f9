package frames

import (
	"time"

	"github.com/banshee-data/tofcam/internal/tof"
)

// Validity is the status of a single pixel.
type Validity uint8

const (
	Valid Validity = iota
	RangeError
)

func (v Validity) String() string {
	if v == Valid {
		return "valid"
	}
	return "range_error"
}

// SampleValidity is the frame-level status forwarded from the device.
type SampleValidity uint8

const (
	SampleValid SampleValidity = iota
	SampleInvalid
)

// Attributes carry frame-level metadata.
type Attributes struct {
	Timestamp time.Time      `json:"timestamp"`
	Validity  SampleValidity `json:"validity"`
}

// Frame is an immutable measurement frame. Distances and Validity are
// row-major and both hold Region.SizeX*Region.SizeY entries.
type Frame struct {
	Region     tof.Region `json:"region"`
	Distances  []float64  `json:"distances"`
	Validity   []Validity `json:"validity"`
	Attributes Attributes `json:"attributes"`
}

// ValidCount returns the number of pixels marked Valid.
func (f *Frame) ValidCount() int {
	n := 0
	for _, v := range f.Validity {
		if v == Valid {
			n++
		}
	}
	return n
}
