// Package frames converts raw ToF samples into measurement frames.
//
// Responsibilities: scaling 16-bit depth codes into the session's depth
// window and classifying each pixel as valid or out of range.
//
// Dependency rule: frames may depend on tof, never on acquisition or camera.
package frames
