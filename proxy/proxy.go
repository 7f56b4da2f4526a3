/*
Package proxy is a thin control and acquisition layer over a GenICam-style
camera SDK.

A Proxy opens the first camera of a transport layer and its first stream
channel, fixes the pixel format and a full frame AOI, and then offers two
ways of taking pictures:

Continuous acquisition runs the camera free and cycles a ring of caller owned
buffers through the stream grabber:

	buf := make([]byte, n*size)
	err := p.StartContinuous(buf, n, size)
	for {
		slot, err := p.GetFrame()  // -1 on timeout or failed grab
		if err != nil {
			continue
		}
		use(p.SlotView(slot))
		p.Requeue(slot)  // or the slot is never refilled
	}
	p.StopContinuous()

Single shot acquisition registers one buffer, takes one frame and releases
the buffer again:

	err := p.Acquire(buf)

Every operation reports what it does and what went wrong through a Reporter,
and returns a *Error.  Nothing panics into the caller.
*/
package proxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

const (
	opInit    = "initialize"
	opClose   = "close"
	opInfo    = "info"
	opStart   = "start"
	opStop    = "stop"
	opFrame   = "frame"
	opRequeue = "requeue"
	opAcquire = "acquire"
)

// slot is one borrowed region of a ring, registered with the grabber
type slot struct {
	handle gige.BufferHandle
	view   []byte
	tag    *Tag
}

// Tag is the context queued with every ring buffer.  A fresh Tag is made for
// every queue operation.
type Tag struct {
	// Slot is the index of the buffer in the ring
	Slot int

	// Session identifies the continuous acquisition the buffer belongs to
	Session uuid.UUID
}

// Proxy controls one camera.  It is safe for concurrent use, though the
// camera itself serves one acquisition at a time.
type Proxy struct {
	mu  sync.Mutex
	cfg Config

	repMu    sync.RWMutex
	reporter Reporter

	driver *Driver
	held   bool
	active bool

	device  gige.Device
	grabber gige.StreamGrabber

	// geometry, refreshed on every successful grab
	width, height uint64
	payload       int

	// continuous acquisition
	slots    []slot
	nreg     int
	running  bool
	shooting bool
	session  uuid.UUID
}

// Open initializes the SDK through d and opens the first camera found.
//
// A Proxy is always returned.  If err is not nil, the proxy is inactive: the
// failure was reported, the SDK reference was released and every operation
// will refuse to run.
func Open(d *Driver, cfg Config, opts ...Option) (*Proxy, error) {
	p := &Proxy{driver: d, cfg: cfg, reporter: NewLogReporter(nil)}
	for _, opt := range opts {
		opt(p)
	}
	err := p.init()
	return p, err
}

// SetReporter replaces the message sink.  A probe message is sent to the new
// sink.  A nil reporter discards messages.
func (p *Proxy) SetReporter(r Reporter) {
	if r == nil {
		r = Discard
	}
	p.repMu.Lock()
	p.reporter = r
	p.repMu.Unlock()
	r.Report(SeverityDebug, "message sink attached")
}

func (p *Proxy) report(sev Severity, msg string) {
	p.repMu.RLock()
	r := p.reporter
	p.repMu.RUnlock()
	r.Report(sev, msg)
}

func (p *Proxy) reportf(sev Severity, format string, a ...interface{}) {
	p.report(sev, fmt.Sprintf(format, a...))
}

// fail reports err and returns it as an *Error
func (p *Proxy) fail(op string, kind Kind, err error) error {
	e := &Error{Op: op, Kind: kind, Err: err}
	p.report(SeverityError, e.Error())
	return e
}

// recoverTo converts a panic raised below a public operation into an error.
// It must be deferred before any lock is taken.
func (p *Proxy) recoverTo(op string, err *error) {
	if r := recover(); r != nil {
		*err = p.fail(op, KindSDK, errors.Errorf("SDK panic: %v", r))
	}
}

func (p *Proxy) init() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(opInit, KindSDK, errors.Errorf("SDK panic: %v", r))
		}
		if err != nil {
			p.abandon()
		}
	}()
	if err = p.driver.Acquire(); err != nil {
		return p.fail(opInit, KindInit, errors.Wrap(err, "initialize SDK"))
	}
	p.held = true

	tl, info, err := p.discover()
	if err != nil {
		return err
	}
	dev, err := tl.CreateDevice(info)
	if err != nil {
		return p.fail(opInit, KindSDK, errors.Wrapf(err, "create device %s", info.FullName))
	}
	if err = dev.Open(); err != nil {
		return p.fail(opInit, KindSDK, errors.Wrapf(err, "open device %s", info.FullName))
	}
	p.device = dev

	g, err := dev.StreamGrabber(0)
	if err != nil {
		return p.fail(opInit, KindSDK, errors.Wrap(err, "get stream grabber"))
	}
	if err = g.Open(); err != nil {
		return p.fail(opInit, KindSDK, errors.Wrap(err, "open stream grabber"))
	}
	p.grabber = g

	if err = p.configure(); err != nil {
		return p.fail(opInit, KindSDK, err)
	}
	p.active = true
	p.reportf(SeverityInfo, "opened %s (%s, serial %s): %dx%d %s, payload %d bytes",
		info.FullName, info.Model, info.SerialNumber, p.width, p.height, p.cfg.PixelFormat, p.payload)
	return nil
}

// discover creates the transport layer and enumerates its devices, retrying
// for up to cfg.OpenRetry
func (p *Proxy) discover() (gige.TransportLayer, gige.DeviceInfo, error) {
	var (
		tl    gige.TransportLayer
		devs  []gige.DeviceInfo
		kind  = KindInit
		cause error
	)
	op := func() error {
		var err error
		tl, err = p.driver.Runtime().CreateTransportLayer(p.cfg.DeviceClass)
		if err != nil {
			kind, cause = KindSDK, errors.Wrap(err, "create transport layer")
			return backoff.Permanent(cause)
		}
		if tl == nil {
			kind, cause = KindInit, ErrNoTransportLayer
			return cause
		}
		devs, err = tl.EnumerateDevices()
		if err != nil {
			kind, cause = KindSDK, errors.Wrap(err, "enumerate devices")
			return backoff.Permanent(cause)
		}
		if len(devs) == 0 {
			kind, cause = KindInit, ErrNoCamera
			return cause
		}
		return nil
	}
	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.cfg.OpenRetry > 0 {
		b = &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      p.cfg.OpenRetry,
			Clock:               backoff.SystemClock}
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, gige.DeviceInfo{}, p.fail(opInit, kind, cause)
	}
	return tl, devs[0], nil
}

// configure fixes the pixel format and a full frame AOI
func (p *Proxy) configure() error {
	d := p.device
	if err := d.SetEnum(gige.PixelFormat, p.cfg.PixelFormat); err != nil {
		return errors.Wrap(err, gige.PixelFormat)
	}
	for _, name := range []string{gige.OffsetX, gige.OffsetY} {
		if err := d.SetInt(name, 0); err != nil {
			return errors.Wrap(err, name)
		}
	}
	for _, name := range []string{gige.Width, gige.Height} {
		_, max, err := d.IntRange(name)
		if err != nil {
			return errors.Wrap(err, name)
		}
		if err = d.SetInt(name, max); err != nil {
			return errors.Wrap(err, name)
		}
	}
	if d.EnumEntryAvailable(gige.ExposureMode, gige.ExposureTimed) {
		if err := d.SetEnum(gige.ExposureMode, gige.ExposureTimed); err != nil {
			return errors.Wrap(err, gige.ExposureMode)
		}
	}
	if p.cfg.InitialExposure > 0 {
		if err := d.SetInt(gige.ExposureTimeRaw, p.cfg.InitialExposure); err != nil {
			return errors.Wrap(err, gige.ExposureTimeRaw)
		}
	}
	return p.refreshGeometry()
}

func (p *Proxy) refreshGeometry() error {
	d := p.device
	w, err := d.GetInt(gige.Width)
	if err != nil {
		return errors.Wrap(err, gige.Width)
	}
	h, err := d.GetInt(gige.Height)
	if err != nil {
		return errors.Wrap(err, gige.Height)
	}
	n, err := d.GetInt(gige.PayloadSize)
	if err != nil {
		return errors.Wrap(err, gige.PayloadSize)
	}
	p.width, p.height, p.payload = uint64(w), uint64(h), int(n)
	return nil
}

// abandon undoes a partial initialization
func (p *Proxy) abandon() {
	if p.grabber != nil {
		p.grabber.Close()
		p.grabber = nil
	}
	if p.device != nil {
		if p.device.IsOpen() {
			p.device.Close()
		}
		p.device = nil
	}
	if p.held {
		p.driver.Release()
		p.held = false
	}
	p.active = false
}

// Close stops any acquisition, deregisters every buffer still registered,
// closes the stream grabber and the camera and releases the SDK.  Calling
// Close more than once is harmless.  Close fails while a single shot is in
// flight.
func (p *Proxy) Close() (err error) {
	defer p.recoverTo(opClose, &err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shooting {
		return p.fail(opClose, KindState, ErrBusy)
	}
	var errs error
	if p.grabber != nil {
		if p.nreg > 0 {
			errs = multierr.Append(errs, p.stop())
		}
		for _, s := range p.slots {
			errs = multierr.Append(errs, errors.Wrap(p.grabber.DeregisterBuffer(s.handle), "deregister buffer"))
		}
		p.slots = nil
		p.nreg = 0
		errs = multierr.Append(errs, errors.Wrap(p.grabber.Close(), "close stream grabber"))
		p.grabber = nil
	}
	if p.device != nil {
		errs = multierr.Append(errs, errors.Wrap(p.device.Close(), "close device"))
		p.device = nil
	}
	if p.held {
		errs = multierr.Append(errs, errors.Wrap(p.driver.Release(), "terminate SDK"))
		p.held = false
	}
	p.active = false
	if errs != nil {
		return p.fail(opClose, KindSDK, errs)
	}
	return nil
}

// IsActive is true if the camera was opened and has not been closed
func (p *Proxy) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Width is the width of the last frame, or of the AOI before any frame
func (p *Proxy) Width() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width
}

// Height is the height of the last frame, or of the AOI before any frame
func (p *Proxy) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// PayloadSize is the number of bytes the camera writes per frame
func (p *Proxy) PayloadSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payload
}

// PixelFormat is the pixel format programmed at startup
func (p *Proxy) PixelFormat() string {
	return p.cfg.PixelFormat
}

// Outstanding is the number of buffers currently registered with the grabber
func (p *Proxy) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nreg
}

// Running is true between a successful StartContinuous and StopContinuous
func (p *Proxy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Session is the identifier of the running continuous acquisition, or
// uuid.Nil
func (p *Proxy) Session() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return uuid.Nil
	}
	return p.session
}

// DeviceInfo returns the enumeration record of the open camera
func (p *Proxy) DeviceInfo() (gige.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open() {
		return gige.DeviceInfo{}, ErrNotOpen
	}
	return p.device.Info(), nil
}

// open is true if the camera can be talked to.  p.mu must be held.
func (p *Proxy) open() bool {
	return p.device != nil && p.device.IsOpen()
}
