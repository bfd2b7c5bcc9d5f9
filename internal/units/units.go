// Package units provides shared constants and conversions for depth and
// temperature units
package units

import "math"

// Depth unit constants
const (
	Metres      = "m"
	Centimetres = "cm"
	Millimetres = "mm"
)

// ValidUnits contains all valid depth unit values
var ValidUnits = []string{Metres, Centimetres, Millimetres}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "m, cm, mm"
}

// ConvertDepth converts a depth in metres to the target units.
// Frames carry distances in metres.
func ConvertDepth(metres float64, targetUnits string) float64 {
	switch targetUnits {
	case Centimetres:
		return metres * 100
	case Millimetres:
		return metres * 1000
	default:
		return metres
	}
}

// MetresToMillimetres rounds to the nearest device millimetre.
func MetresToMillimetres(m float64) int64 {
	return int64(math.Round(m * 1000))
}

// MillimetresToMetres converts a device millimetre value to metres.
func MillimetresToMetres(mm int64) float64 {
	return float64(mm) / 1000
}

// CelsiusToKelvin converts a device temperature reading.
func CelsiusToKelvin(c float64) float64 {
	return c + 273.15
}
