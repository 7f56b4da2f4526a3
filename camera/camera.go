/*
Package camera describes the interfaces a machine vision camera proxy offers
to the layers above it, and converts raw frames in camera memory to Go images.

Minimal contains the basics, RingGrabber continuous acquisition into a ring of
caller owned buffers, and SingleShooter one-off captures.
*/
package camera

import (
	"github.com/google/uuid"
)

// Minimal describes a camera with only the basics
type Minimal interface {
	// IsActive is true while the camera is connected and usable
	IsActive() bool

	// Width is the width of the last frame in pixels
	Width() uint64

	// Height is the height of the last frame in pixels
	Height() uint64

	// PayloadSize is the number of bytes in one frame
	PayloadSize() int

	// PixelFormat is the pixel format fixed at startup, e.g. Mono16
	PixelFormat() string
}

// InfoArrayer exposes the 12 slot parameter vector
// [width, height, payload, expMin, expMax, expVal, gainMin, gainMax, gainVal,
// blackMin, blackMax, blackVal].  Only the three values are written.
type InfoArrayer interface {
	InfoArray() ([12]uint64, error)
	SetInfoArray([12]uint64) error
}

// RingGrabber describes continuous acquisition into a ring of buffers
type RingGrabber interface {
	// StartContinuous lends count buffers of bufferSize bytes, laid end to
	// end in buffers, to the camera and starts it
	StartContinuous(buffers []byte, count, bufferSize int) error

	// StopContinuous stops the camera and takes every buffer back
	StopContinuous() error

	// GetFrame waits for the next filled slot and returns its index, or -1
	GetFrame() (int, error)

	// Requeue gives a slot back to the camera once it has been consumed
	Requeue(int) error

	// SlotView returns the memory of a slot
	SlotView(int) []byte

	// Running is true while the ring is cycling
	Running() bool

	// Session identifies the current ring
	Session() uuid.UUID
}

// SingleShooter describes a camera that can capture one frame on demand
type SingleShooter interface {
	// Acquire fills buffer with one frame
	Acquire(buffer []byte) error
}
