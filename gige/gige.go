/*
Package gige describes the contract of a GenICam-style machine vision SDK for
GigE and IEEE 1394 cameras.

The SDK is organized the way the vendor libraries are:

	Runtime         process-wide library state (Initialize / Terminate)
	TransportLayer  created per device class, enumerates and creates devices
	Device          an opened camera, with a node map of features
	StreamGrabber   the buffer queue of one stream channel of a Device

Buffers handed to a StreamGrabber are owned by the caller; the grabber only
borrows them between RegisterBuffer and DeregisterBuffer.  A registered buffer
is filled by the camera after QueueBuffer and comes back on the output queue,
which is read with Wait followed by RetrieveResult.

Drivers register themselves by name with Register, in the same manner as
database/sql drivers.  The in-memory Mock is registered as "sim".
*/
package gige

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DeviceClass names a family of transport layers
type DeviceClass string

const (
	// ClassGigE is the GigE Vision transport layer
	ClassGigE DeviceClass = "GigE"

	// Class1394 is the IEEE 1394 (FireWire) transport layer
	Class1394 DeviceClass = "1394"
)

// BufferHandle is an opaque handle to a registered buffer
type BufferHandle uintptr

// GrabStatus is the completion status of a queued buffer
type GrabStatus int

const (
	// Idle means the buffer has not been processed
	Idle GrabStatus = iota

	// Grabbed means the buffer was filled successfully
	Grabbed

	// Canceled means the buffer came back because of CancelGrab
	Canceled

	// Failed means the transfer failed
	Failed
)

func (s GrabStatus) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Grabbed:
		return "Grabbed"
	case Canceled:
		return "Canceled"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("GrabStatus(%d)", int(s))
	}
}

// GrabResult is one entry of a stream grabber's output queue
type GrabResult struct {
	// Handle is the buffer the result refers to
	Handle BufferHandle

	// Context is the value passed to QueueBuffer alongside Handle
	Context interface{}

	// Status is the completion status
	Status GrabStatus

	// SizeX is the width of the transferred image in pixels
	SizeX int64

	// SizeY is the height of the transferred image in pixels
	SizeY int64

	// PayloadSize is the number of bytes written into the buffer
	PayloadSize int

	// ErrorCode is nonzero when Status is Failed
	ErrorCode int

	// ErrorDescription is a human readable description of a failure
	ErrorDescription string
}

// Succeeded is true if the buffer holds a complete image
func (r GrabResult) Succeeded() bool {
	return r.Status == Grabbed
}

// DeviceInfo describes an enumerated device
type DeviceInfo struct {
	// FullName uniquely identifies the device on its transport layer
	FullName string `json:"fullName"`

	// Model is the camera model name
	Model string `json:"model"`

	// SerialNumber is the camera's serial number
	SerialNumber string `json:"serialNumber"`

	// Class is the transport layer of the device
	Class DeviceClass `json:"class"`
}

// Runtime is the process-wide SDK state
type Runtime interface {
	// Initialize loads and initializes the SDK.  It must be paired with Terminate.
	Initialize() error

	// Terminate releases the SDK
	Terminate() error

	// CreateTransportLayer creates the transport layer for a device class.
	// A nil TransportLayer with a nil error means the class is not available.
	CreateTransportLayer(DeviceClass) (TransportLayer, error)
}

// TransportLayer enumerates and creates devices of one class
type TransportLayer interface {
	EnumerateDevices() ([]DeviceInfo, error)
	CreateDevice(DeviceInfo) (Device, error)
}

// NodeMap is the feature access of a Device.  Feature names are listed in Features.
type NodeMap interface {
	// GetInt reads an integer feature
	GetInt(name string) (int64, error)

	// IntRange reads the inclusive bounds of an integer feature
	IntRange(name string) (min, max int64, err error)

	// SetInt writes an integer feature.  Values out of range are rejected
	// with an Exception.
	SetInt(name string, v int64) error

	// GetEnum reads an enumeration feature as its symbolic value
	GetEnum(name string) (string, error)

	// SetEnum writes an enumeration feature by symbolic value
	SetEnum(name, value string) error

	// EnumEntryAvailable reports whether an entry of an enumeration exists
	// and is available on this device
	EnumEntryAvailable(name, entry string) bool

	// Execute runs a command feature
	Execute(name string) error
}

// Device is an opened camera
type Device interface {
	NodeMap

	Open() error
	Close() error
	IsOpen() bool

	// Info returns the enumeration record of the device
	Info() DeviceInfo

	// StreamGrabber returns stream channel idx of the device
	StreamGrabber(idx int) (StreamGrabber, error)
}

// StreamGrabber is the buffer queue of one stream channel
type StreamGrabber interface {
	Open() error
	Close() error

	// SetMaxBufferSize sets the largest buffer size, in bytes, that will be registered
	SetMaxBufferSize(n int) error

	// SetMaxNumBuffer sets the largest number of buffers that will be registered
	SetMaxNumBuffer(n int) error

	// PrepareGrab allocates the grab resources.  Image geometry must not be
	// changed until FinishGrab.
	PrepareGrab() error

	// FinishGrab releases the grab resources
	FinishGrab() error

	// RegisterBuffer lends buf to the grabber
	RegisterBuffer(buf []byte) (BufferHandle, error)

	// DeregisterBuffer ends the loan of a buffer.  The buffer must not be queued.
	DeregisterBuffer(BufferHandle) error

	// QueueBuffer puts a registered buffer on the input queue with a context
	// value that is handed back in its GrabResult
	QueueBuffer(h BufferHandle, context interface{}) error

	// Wait blocks until the output queue is not empty or timeout elapses.
	// It returns false on timeout.
	Wait(timeout time.Duration) (bool, error)

	// RetrieveResult pops the head of the output queue without blocking.
	// ok is false if the queue was empty.
	RetrieveResult() (res GrabResult, ok bool, err error)

	// CancelGrab moves every buffer of the input queue to the output queue
	// with status Canceled
	CancelGrab() error
}

// Exception is an error raised by the SDK or the device
type Exception struct {
	// Code is the SDK error code
	Code int

	// Description is the SDK's description of the error
	Description string
}

// Error satisfies the error interface
func (e *Exception) Error() string {
	return fmt.Sprintf("SDK exception %d: %s", e.Code, e.Description)
}

// Except is shorthand for an Exception with a formatted description
func Except(code int, format string, a ...interface{}) *Exception {
	return &Exception{Code: code, Description: fmt.Sprintf(format, a...)}
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]func() Runtime{}
)

// Register makes a Runtime factory available under name.  It panics if
// called twice for the same name.
func Register(name string, factory func() Runtime) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("gige: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("gige: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Lookup returns a new Runtime from the factory registered under name
func Lookup(name string) (Runtime, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gige: unknown driver %q (registered: %v)", name, Drivers())
	}
	return factory(), nil
}

// Drivers returns the sorted names of the registered drivers
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for k := range drivers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
