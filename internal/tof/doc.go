// Package tof holds the value types and error kinds shared by the
// time-of-flight camera layers.
//
// Layers, leaves first:
//
//	device      Sensor Access Layer contract and a simulated device
//	frames      raw depth/confidence -> measurement frame
//	params      region, depth range and trigger rate validation
//	acquisition background grab loop with timeout/error escalation
//	camera      activation lifecycle that owns the device handle
//
// Dependency rule: a layer may import tof and any layer above it in this
// list, never one below.
package tof
