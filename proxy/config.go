package proxy

import (
	"time"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

// Config holds the knobs of a Proxy
type Config struct {
	// DeviceClass selects the transport layer
	DeviceClass gige.DeviceClass

	// PixelFormat is fixed at startup
	PixelFormat string

	// FrameTimeout bounds GetFrame's wait
	FrameTimeout time.Duration

	// AcquireTimeout bounds Acquire's wait
	AcquireTimeout time.Duration

	// OpenRetry is how long transport layer creation and enumeration are
	// retried at startup.  Zero means a single attempt.
	OpenRetry time.Duration

	// InitialExposure is the raw exposure time programmed at startup
	InitialExposure int64
}

// DefaultConfig returns the configuration of a GigE camera in Mono16
func DefaultConfig() Config {
	return Config{
		DeviceClass:     gige.ClassGigE,
		PixelFormat:     gige.Mono16,
		FrameTimeout:    1000 * time.Millisecond,
		AcquireTimeout:  3000 * time.Millisecond,
		InitialExposure: 100,
	}
}

// Option modifies a Proxy before it opens the camera
type Option func(*Proxy)

// WithReporter replaces the default stderr reporter
func WithReporter(r Reporter) Option {
	return func(p *Proxy) {
		p.reporter = r
	}
}
