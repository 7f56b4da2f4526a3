package proxy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the errors returned at the boundary of a Proxy operation
type Kind int

const (
	// KindSDK is any error raised by the SDK or the device
	KindSDK Kind = iota + 1

	// KindInit is a failure to find a transport layer or a device
	KindInit

	// KindSizeMismatch is a caller buffer that does not fit the payload
	KindSizeMismatch

	// KindTimeout is a frame that did not arrive in time
	KindTimeout

	// KindGrabFailed is a frame the device reported as failed
	KindGrabFailed

	// KindState is an operation invalid in the current state
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindSDK:
		return "sdk"
	case KindInit:
		return "init"
	case KindSizeMismatch:
		return "size mismatch"
	case KindTimeout:
		return "timeout"
	case KindGrabFailed:
		return "grab failed"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by every failing Proxy operation
type Error struct {
	// Op is the operation that failed, e.g. "start"
	Op string

	// Kind classifies the failure
	Kind Kind

	// Err is the underlying error
	Err error
}

// Error satisfies the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 if err did not come from a Proxy
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

var (
	// ErrNotOpen is generated when the camera is not connected
	ErrNotOpen = errors.New("no camera connection available or camera not active")

	// ErrNotRunning is generated when a ring operation is used outside of continuous acquisition
	ErrNotRunning = errors.New("continuous acquisition is not running")

	// ErrRunning is generated when continuous acquisition is started twice
	ErrRunning = errors.New("continuous acquisition is already running")

	// ErrBusy is generated when an operation overlaps a single shot acquisition
	ErrBusy = errors.New("single shot acquisition in progress")

	// ErrTimeout is generated when no frame arrives in time
	ErrTimeout = errors.New("timeout occurred")

	// ErrNoTransportLayer is generated when the SDK has no transport layer for the device class
	ErrNoTransportLayer = errors.New("failed to create transport layer")

	// ErrNoCamera is generated when enumeration finds no device
	ErrNoCamera = errors.New("no camera present")
)
