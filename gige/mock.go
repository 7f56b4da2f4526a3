package gige

import (
	"encoding/binary"
	"sync"
	"time"
)

func init() {
	Register("sim", func() Runtime { return NewMock(MockOptions{}) })
}

// MockOptions configures a Mock
type MockOptions struct {
	// SensorWidth is the sensor width in pixels, default 640
	SensorWidth int64

	// SensorHeight is the sensor height in pixels, default 480
	SensorHeight int64

	// Model is the model name reported at enumeration
	Model string

	// Serial is the serial number reported at enumeration
	Serial string

	// NoTransportLayer makes CreateTransportLayer return nil
	NoTransportLayer bool

	// NoDevices makes enumeration find nothing
	NoDevices bool
}

// Mock is an in-memory SDK runtime with a single simulated camera attached.
// Frames are produced on demand when a stream grabber is waited on, so the
// simulation is deterministic.
type Mock struct {
	mu    sync.Mutex
	opts  MockOptions
	live  bool
	inits int
	terms int
	cam   *MockCamera
}

// NewMock returns a new simulated SDK
func NewMock(opts MockOptions) *Mock {
	if opts.SensorWidth == 0 {
		opts.SensorWidth = 640
	}
	if opts.SensorHeight == 0 {
		opts.SensorHeight = 480
	}
	if opts.Model == "" {
		opts.Model = "acA640-sim"
	}
	if opts.Serial == "" {
		opts.Serial = "00000001"
	}
	m := &Mock{opts: opts}
	m.cam = newMockCamera(DeviceInfo{
		FullName:     "sim#" + opts.Serial,
		Model:        opts.Model,
		SerialNumber: opts.Serial,
		Class:        ClassGigE,
	}, opts.SensorWidth, opts.SensorHeight)
	return m
}

// Initialize satisfies Runtime
func (m *Mock) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	m.live = true
	return nil
}

// Terminate satisfies Runtime
func (m *Mock) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live {
		return Except(1, "runtime is not initialized")
	}
	m.terms++
	m.live = false
	return nil
}

// Initializations is the number of Initialize calls so far
func (m *Mock) Initializations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

// Terminations is the number of successful Terminate calls so far
func (m *Mock) Terminations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terms
}

// Camera returns the simulated camera, for fault injection
func (m *Mock) Camera() *MockCamera {
	return m.cam
}

// CreateTransportLayer satisfies Runtime
func (m *Mock) CreateTransportLayer(c DeviceClass) (TransportLayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live {
		return nil, Except(2, "runtime is not initialized")
	}
	if m.opts.NoTransportLayer {
		return nil, nil
	}
	return &mockTransportLayer{m: m, class: c}, nil
}

type mockTransportLayer struct {
	m     *Mock
	class DeviceClass
}

func (tl *mockTransportLayer) EnumerateDevices() ([]DeviceInfo, error) {
	if tl.m.opts.NoDevices {
		return nil, nil
	}
	info := tl.m.cam.info
	info.Class = tl.class
	return []DeviceInfo{info}, nil
}

func (tl *mockTransportLayer) CreateDevice(info DeviceInfo) (Device, error) {
	if tl.m.opts.NoDevices || info.FullName != tl.m.cam.info.FullName {
		return nil, Except(3, "device %s not found", info.FullName)
	}
	return tl.m.cam, nil
}

type intNode struct {
	val, min, max int64
	readOnly      bool
}

type enumNode struct {
	val     string
	entries []string
}

func (e *enumNode) has(v string) bool {
	for _, s := range e.entries {
		if s == v {
			return true
		}
	}
	return false
}

type queued struct {
	h   BufferHandle
	ctx interface{}
}

// MockCamera is the simulated device.  It also implements the stream
// grabber of channel 0; both share one lock.
type MockCamera struct {
	mu   sync.Mutex
	info DeviceInfo
	open bool

	sensorW, sensorH int64

	ints         map[string]*intNode
	enums        map[string]*enumNode
	triggerModes map[string]string

	// acquisition
	acquiring bool
	credits   int
	failNext  int
	stalled   bool
	frames    uint64

	// stream grabber
	grabberOpen bool
	prepared    bool
	maxBufSize  int
	maxNumBuf   int
	nextHandle  BufferHandle
	registered  map[BufferHandle][]byte
	input       []queued
	output      []GrabResult
	notify      chan struct{}
}

func newMockCamera(info DeviceInfo, w, h int64) *MockCamera {
	c := &MockCamera{
		info:    info,
		sensorW: w,
		sensorH: h,
		ints: map[string]*intNode{
			Width:           {val: w, min: 1, max: w},
			Height:          {val: h, min: 1, max: h},
			OffsetX:         {val: 0, min: 0, max: 0},
			OffsetY:         {val: 0, min: 0, max: 0},
			ExposureTimeRaw: {val: 35000, min: 35, max: 999985},
			GainRaw:         {val: 0, min: 0, max: 500},
			BlackLevelRaw:   {val: 32, min: 0, max: 255},
		},
		enums: map[string]*enumNode{
			PixelFormat:     {val: Mono8, entries: []string{Mono8, Mono12, Mono16}},
			ExposureMode:    {val: ExposureTimed, entries: []string{ExposureTimed}},
			AcquisitionMode: {val: AcquisitionContinuous, entries: []string{AcquisitionContinuous, AcquisitionSingleFrame}},
			TriggerSelector: {val: SelectorAcquisitionStart, entries: []string{SelectorAcquisitionStart, SelectorFrameStart}},
			TriggerMode:     {val: TriggerOff, entries: []string{TriggerOff, TriggerOn}},
		},
		triggerModes: map[string]string{
			SelectorAcquisitionStart: TriggerOff,
			SelectorFrameStart:       TriggerOff,
		},
		registered: map[BufferHandle][]byte{},
		notify:     make(chan struct{}, 1),
	}
	return c
}

func (c *MockCamera) kick() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// FailNext makes the next n grabs complete with status Failed
func (c *MockCamera) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// SetStalled stops (true) or resumes (false) frame production
func (c *MockCamera) SetStalled(b bool) {
	c.mu.Lock()
	c.stalled = b
	c.mu.Unlock()
	c.kick()
}

// SetTriggerMode sets the trigger mode of a selector directly, the way a
// previous session may have left the camera
func (c *MockCamera) SetTriggerMode(selector, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerModes[selector] = mode
}

// Frames is the number of frames produced so far, failed ones included
func (c *MockCamera) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Registered is the number of buffers currently registered
func (c *MockCamera) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registered)
}

// Queued is the number of buffers on the input queue
func (c *MockCamera) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.input)
}

// Acquiring reports whether the camera is acquiring
func (c *MockCamera) Acquiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquiring
}

// GrabberOpen reports whether the stream grabber is open
func (c *MockCamera) GrabberOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grabberOpen
}

// Open satisfies Device
func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return Except(10, "device %s is already open", c.info.FullName)
	}
	c.open = true
	return nil
}

// Close satisfies Device
func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return Except(11, "device %s is not open", c.info.FullName)
	}
	c.open = false
	c.acquiring = false
	return nil
}

// IsOpen satisfies Device
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Info satisfies Device
func (c *MockCamera) Info() DeviceInfo {
	return c.info
}

// StreamGrabber satisfies Device
func (c *MockCamera) StreamGrabber(idx int) (StreamGrabber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, Except(11, "device %s is not open", c.info.FullName)
	}
	if idx != 0 {
		return nil, Except(12, "stream grabber %d does not exist", idx)
	}
	return (*mockGrabber)(c), nil
}

func (c *MockCamera) bpp() int64 {
	n, err := BytesPerPixel(c.enums[PixelFormat].val)
	if err != nil {
		return 1
	}
	return int64(n)
}

func (c *MockCamera) payload() int64 {
	return c.ints[Width].val * c.ints[Height].val * c.bpp()
}

// refreshBounds keeps the AOI inside the sensor
func (c *MockCamera) refreshBounds() {
	c.ints[Width].max = c.sensorW - c.ints[OffsetX].val
	c.ints[Height].max = c.sensorH - c.ints[OffsetY].val
	c.ints[OffsetX].max = c.sensorW - c.ints[Width].val
	c.ints[OffsetY].max = c.sensorH - c.ints[Height].val
}

// GetInt satisfies NodeMap
func (c *MockCamera) GetInt(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, Except(11, "device %s is not open", c.info.FullName)
	}
	if name == PayloadSize {
		return c.payload(), nil
	}
	n, ok := c.ints[name]
	if !ok || Features[name] != "int" {
		return 0, ErrFeatureNotFound{Feature: name}
	}
	return n.val, nil
}

// IntRange satisfies NodeMap
func (c *MockCamera) IntRange(name string) (int64, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, 0, Except(11, "device %s is not open", c.info.FullName)
	}
	if name == PayloadSize {
		p := c.payload()
		return p, p, nil
	}
	n, ok := c.ints[name]
	if !ok || Features[name] != "int" {
		return 0, 0, ErrFeatureNotFound{Feature: name}
	}
	return n.min, n.max, nil
}

// SetInt satisfies NodeMap
func (c *MockCamera) SetInt(name string, v int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return Except(11, "device %s is not open", c.info.FullName)
	}
	if name == PayloadSize {
		return Except(20, "node %s is not writable", name)
	}
	n, ok := c.ints[name]
	if !ok || Features[name] != "int" {
		return ErrFeatureNotFound{Feature: name}
	}
	switch name {
	case Width, Height, OffsetX, OffsetY:
		if c.prepared {
			return Except(21, "node %s is locked while a grab is prepared", name)
		}
	}
	if v < n.min || v > n.max {
		return Except(22, "value %d of node %s is out of range [%d, %d]", v, name, n.min, n.max)
	}
	n.val = v
	c.refreshBounds()
	return nil
}

// GetEnum satisfies NodeMap
func (c *MockCamera) GetEnum(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return "", Except(11, "device %s is not open", c.info.FullName)
	}
	if name == TriggerMode {
		return c.triggerModes[c.enums[TriggerSelector].val], nil
	}
	e, ok := c.enums[name]
	if !ok || Features[name] != "enum" {
		return "", ErrFeatureNotFound{Feature: name}
	}
	return e.val, nil
}

// SetEnum satisfies NodeMap
func (c *MockCamera) SetEnum(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return Except(11, "device %s is not open", c.info.FullName)
	}
	e, ok := c.enums[name]
	if !ok || Features[name] != "enum" {
		return ErrFeatureNotFound{Feature: name}
	}
	if !e.has(value) {
		return Except(23, "%s is not an entry of node %s", value, name)
	}
	if name == PixelFormat && c.prepared {
		return Except(21, "node %s is locked while a grab is prepared", name)
	}
	if name == TriggerMode {
		c.triggerModes[c.enums[TriggerSelector].val] = value
		return nil
	}
	e.val = value
	return nil
}

// EnumEntryAvailable satisfies NodeMap
func (c *MockCamera) EnumEntryAvailable(name, entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.enums[name]
	return ok && e.has(entry)
}

// Execute satisfies NodeMap
func (c *MockCamera) Execute(name string) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return Except(11, "device %s is not open", c.info.FullName)
	}
	if Features[name] != "command" {
		c.mu.Unlock()
		return ErrFeatureNotFound{Feature: name}
	}
	switch name {
	case AcquisitionStart:
		c.acquiring = true
	case AcquisitionStop:
		c.acquiring = false
	case TriggerSoftware:
		c.credits++
	default:
		c.mu.Unlock()
		return ErrFeatureNotFound{Feature: name}
	}
	c.mu.Unlock()
	c.kick()
	return nil
}

func (c *MockCamera) triggered() bool {
	return c.triggerModes[SelectorAcquisitionStart] == TriggerOn ||
		c.triggerModes[SelectorFrameStart] == TriggerOn
}

// produce completes the head of the input queue if the camera is able to.
// c.mu must be held.
func (c *MockCamera) produce() bool {
	if !c.open || !c.acquiring || c.stalled || len(c.input) == 0 {
		return false
	}
	if c.triggered() {
		if c.credits == 0 {
			return false
		}
		c.credits--
	}
	q := c.input[0]
	c.input = c.input[1:]
	c.frames++
	res := GrabResult{Handle: q.h, Context: q.ctx}
	if c.failNext > 0 {
		c.failNext--
		res.Status = Failed
		res.ErrorCode = 0x14
		res.ErrorDescription = "The buffer was incompletely grabbed"
	} else {
		w, h := c.ints[Width].val, c.ints[Height].val
		res.Status = Grabbed
		res.SizeX, res.SizeY = w, h
		res.PayloadSize = fillPattern(c.registered[q.h], w, h, c.bpp(), c.frames)
	}
	c.output = append(c.output, res)
	if c.enums[AcquisitionMode].val == AcquisitionSingleFrame {
		c.acquiring = false
	}
	return true
}

// fillPattern writes a diagonal ramp offset by the frame number
func fillPattern(buf []byte, w, h, bpp int64, frame uint64) int {
	n := 0
	for y := int64(0); y < h; y++ {
		for x := int64(0); x < w; x++ {
			off := (y*w + x) * bpp
			if off+bpp > int64(len(buf)) {
				return n
			}
			v := uint16((x + y + int64(frame)) * 64)
			if bpp == 1 {
				buf[off] = byte(v >> 8)
			} else {
				binary.LittleEndian.PutUint16(buf[off:], v)
			}
			n += int(bpp)
		}
	}
	return n
}

// mockGrabber is the stream grabber view of a MockCamera
type mockGrabber MockCamera

func (g *mockGrabber) cam() *MockCamera { return (*MockCamera)(g) }

func (g *mockGrabber) Open() error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return Except(11, "device %s is not open", c.info.FullName)
	}
	if c.grabberOpen {
		return Except(30, "stream grabber is already open")
	}
	c.grabberOpen = true
	return nil
}

func (g *mockGrabber) Close() error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.grabberOpen {
		return Except(31, "stream grabber is not open")
	}
	if len(c.registered) > 0 {
		return Except(32, "%d buffers are still registered", len(c.registered))
	}
	c.grabberOpen = false
	c.prepared = false
	return nil
}

func (g *mockGrabber) ready() error {
	c := g.cam()
	if !c.open {
		return Except(11, "device %s is not open", c.info.FullName)
	}
	if !c.grabberOpen {
		return Except(31, "stream grabber is not open")
	}
	return nil
}

func (g *mockGrabber) SetMaxBufferSize(n int) error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := g.ready(); err != nil {
		return err
	}
	if c.prepared {
		return Except(33, "MaxBufferSize is locked while a grab is prepared")
	}
	c.maxBufSize = n
	return nil
}

func (g *mockGrabber) SetMaxNumBuffer(n int) error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := g.ready(); err != nil {
		return err
	}
	if c.prepared {
		return Except(33, "MaxNumBuffer is locked while a grab is prepared")
	}
	if n < 1 {
		return Except(22, "MaxNumBuffer %d is out of range", n)
	}
	c.maxNumBuf = n
	return nil
}

func (g *mockGrabber) PrepareGrab() error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := g.ready(); err != nil {
		return err
	}
	if c.prepared {
		return Except(34, "grab is already prepared")
	}
	c.prepared = true
	return nil
}

func (g *mockGrabber) FinishGrab() error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := g.ready(); err != nil {
		return err
	}
	if len(c.input) > 0 {
		return Except(35, "%d buffers are still queued", len(c.input))
	}
	c.prepared = false
	return nil
}

func (g *mockGrabber) RegisterBuffer(buf []byte) (BufferHandle, error) {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := g.ready(); err != nil {
		return 0, err
	}
	if !c.prepared {
		return 0, Except(36, "grab is not prepared")
	}
	if len(buf) < c.maxBufSize {
		return 0, Except(37, "buffer of %d bytes is smaller than MaxBufferSize %d", len(buf), c.maxBufSize)
	}
	if len(c.registered) >= c.maxNumBuf {
		return 0, Except(38, "MaxNumBuffer %d reached", c.maxNumBuf)
	}
	c.nextHandle++
	c.registered[c.nextHandle] = buf
	return c.nextHandle, nil
}

// inFlight is true if the handle is queued or has an unretrieved result.
// c.mu must be held.
func (c *MockCamera) inFlight(h BufferHandle) bool {
	for _, q := range c.input {
		if q.h == h {
			return true
		}
	}
	for _, r := range c.output {
		if r.Handle == h {
			return true
		}
	}
	return false
}

func (g *mockGrabber) DeregisterBuffer(h BufferHandle) error {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.registered[h]; !ok {
		return Except(39, "buffer handle %d is not registered", h)
	}
	if c.inFlight(h) {
		return Except(40, "buffer handle %d is still in flight", h)
	}
	delete(c.registered, h)
	return nil
}

func (g *mockGrabber) QueueBuffer(h BufferHandle, ctx interface{}) error {
	c := g.cam()
	c.mu.Lock()
	if err := g.ready(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.registered[h]; !ok {
		c.mu.Unlock()
		return Except(39, "buffer handle %d is not registered", h)
	}
	if c.inFlight(h) {
		c.mu.Unlock()
		return Except(41, "buffer handle %d is already queued", h)
	}
	c.input = append(c.input, queued{h: h, ctx: ctx})
	c.mu.Unlock()
	c.kick()
	return nil
}

func (g *mockGrabber) Wait(timeout time.Duration) (bool, error) {
	c := g.cam()
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		if err := g.ready(); err != nil {
			c.mu.Unlock()
			return false, err
		}
		if len(c.output) > 0 || c.produce() {
			c.mu.Unlock()
			return true, nil
		}
		c.mu.Unlock()
		remain := time.Until(deadline)
		if remain <= 0 {
			return false, nil
		}
		t := time.NewTimer(remain)
		select {
		case <-c.notify:
			t.Stop()
		case <-t.C:
		}
	}
}

func (g *mockGrabber) RetrieveResult() (GrabResult, bool, error) {
	c := g.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := g.ready(); err != nil {
		return GrabResult{}, false, err
	}
	if len(c.output) == 0 {
		return GrabResult{}, false, nil
	}
	r := c.output[0]
	c.output = c.output[1:]
	return r, true, nil
}

func (g *mockGrabber) CancelGrab() error {
	c := g.cam()
	c.mu.Lock()
	if err := g.ready(); err != nil {
		c.mu.Unlock()
		return err
	}
	for _, q := range c.input {
		c.output = append(c.output, GrabResult{Handle: q.h, Context: q.ctx, Status: Canceled})
	}
	c.input = nil
	c.mu.Unlock()
	c.kick()
	return nil
}
