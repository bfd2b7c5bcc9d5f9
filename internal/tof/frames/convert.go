package frames

import (
	"fmt"

	"github.com/banshee-data/tofcam/internal/tof"
)

// MaxDepthCode is the depth code mapped to the far end of the window.
const MaxDepthCode = 65535

// Convert scales depth codes linearly from [0, MaxDepthCode] onto
// [minDepth, maxDepth] and marks pixels with a zero depth code or zero
// confidence as RangeError. The output unit is the unit of the bounds.
//
// Buffers whose length differs from width*height are a collaborator bug and
// yield an error wrapping tof.ErrInvariantViolation; nothing is truncated.
func Convert(depth, confidence []uint16, width, height int, minDepth, maxDepth float64) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("%w: frame size %dx%d", tof.ErrInvariantViolation, width, height)
	}
	size := width * height
	if len(depth) != size || len(confidence) != size {
		return Frame{}, fmt.Errorf("%w: %dx%d frame with %d depth and %d confidence values",
			tof.ErrInvariantViolation, width, height, len(depth), len(confidence))
	}

	// code 0 is minDepth, MaxDepthCode is maxDepth
	span := maxDepth - minDepth

	f := Frame{
		Region:    tof.Region{SizeX: uint32(width), SizeY: uint32(height)},
		Distances: make([]float64, size),
		Validity:  make([]Validity, size),
		Attributes: Attributes{
			Validity: SampleValid,
		},
	}
	for i := 0; i < size; i++ {
		f.Distances[i] = minDepth + float64(depth[i])*span/MaxDepthCode
		if depth[i] == 0 || confidence[i] == 0 {
			f.Validity[i] = RangeError
		}
	}
	return f, nil
}
