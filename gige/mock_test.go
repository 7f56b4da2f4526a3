package gige

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMock(t *testing.T) (*Mock, Device, StreamGrabber) {
	t.Helper()
	m := NewMock(MockOptions{SensorWidth: 4, SensorHeight: 2})
	require.NoError(t, m.Initialize())
	tl, err := m.CreateTransportLayer(ClassGigE)
	require.NoError(t, err)
	devs, err := tl.EnumerateDevices()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	d, err := tl.CreateDevice(devs[0])
	require.NoError(t, err)
	require.NoError(t, d.Open())
	g, err := d.StreamGrabber(0)
	require.NoError(t, err)
	require.NoError(t, g.Open())
	return m, d, g
}

// prepare readies the grabber for n buffers of the current payload
func prepare(t *testing.T, d Device, g StreamGrabber, n int) []BufferHandle {
	t.Helper()
	size, err := d.GetInt(PayloadSize)
	require.NoError(t, err)
	require.NoError(t, g.SetMaxBufferSize(int(size)))
	require.NoError(t, g.SetMaxNumBuffer(n))
	require.NoError(t, g.PrepareGrab())
	hs := make([]BufferHandle, n)
	for i := range hs {
		hs[i], err = g.RegisterBuffer(make([]byte, size))
		require.NoError(t, err)
	}
	return hs
}

func TestSimIsRegistered(t *testing.T) {
	assert.Contains(t, Drivers(), "sim")
	rt, err := Lookup("sim")
	require.NoError(t, err)
	_, ok := rt.(*Mock)
	assert.True(t, ok)

	_, err = Lookup("nonexistent")
	assert.Error(t, err)
	assert.Panics(t, func() { Register("sim", func() Runtime { return nil }) })
}

func TestTransportLayerAvailability(t *testing.T) {
	m := NewMock(MockOptions{NoTransportLayer: true})
	_, err := m.CreateTransportLayer(ClassGigE)
	assert.Error(t, err, "runtime is not initialized")

	require.NoError(t, m.Initialize())
	tl, err := m.CreateTransportLayer(Class1394)
	assert.NoError(t, err)
	assert.Nil(t, tl)
	require.NoError(t, m.Terminate())
	assert.Error(t, m.Terminate())
	assert.Equal(t, 1, m.Terminations())

	m = NewMock(MockOptions{NoDevices: true})
	require.NoError(t, m.Initialize())
	tl, err = m.CreateTransportLayer(Class1394)
	require.NoError(t, err)
	devs, err := tl.EnumerateDevices()
	assert.NoError(t, err)
	assert.Empty(t, devs)
}

func TestPayloadFollowsFormatAndAOI(t *testing.T) {
	_, d, _ := openMock(t)
	n, err := d.GetInt(PayloadSize)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	require.NoError(t, d.SetEnum(PixelFormat, Mono16))
	n, _ = d.GetInt(PayloadSize)
	assert.Equal(t, int64(16), n)

	require.NoError(t, d.SetInt(Width, 2))
	n, _ = d.GetInt(PayloadSize)
	assert.Equal(t, int64(8), n)

	_, max, err := d.IntRange(OffsetX)
	require.NoError(t, err)
	assert.Equal(t, int64(2), max)

	assert.Error(t, d.SetInt(PayloadSize, 4))
	assert.Error(t, d.SetInt(GainRaw, 501))
	assert.Error(t, d.SetEnum(PixelFormat, "RGB8"))
	_, err = d.GetInt("Temperature")
	assert.Equal(t, ErrFeatureNotFound{Feature: "Temperature"}, err)
	assert.True(t, d.EnumEntryAvailable(TriggerSelector, SelectorFrameStart))
	assert.False(t, d.EnumEntryAvailable(TriggerSelector, "LineStart"))
}

func TestGeometryLockedWhilePrepared(t *testing.T) {
	_, d, g := openMock(t)
	prepare(t, d, g, 1)
	assert.Error(t, d.SetInt(Width, 2))
	assert.Error(t, d.SetEnum(PixelFormat, Mono16))
	assert.Error(t, g.SetMaxNumBuffer(4))
}

func TestQueueCycle(t *testing.T) {
	m, d, g := openMock(t)
	hs := prepare(t, d, g, 2)
	_, err := g.RegisterBuffer(make([]byte, 8))
	assert.Error(t, err, "MaxNumBuffer reached")

	require.NoError(t, g.QueueBuffer(hs[0], "a"))
	require.NoError(t, g.QueueBuffer(hs[1], "b"))
	assert.Error(t, g.QueueBuffer(hs[0], "a"), "already queued")

	// nothing is produced before AcquisitionStart
	ok, err := g.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Execute(AcquisitionStart))
	for _, want := range []string{"a", "b"} {
		ok, err = g.Wait(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		res, ok, err := g.RetrieveResult()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, res.Succeeded())
		assert.Equal(t, want, res.Context)
		assert.Equal(t, int64(4), res.SizeX)
		assert.Equal(t, int64(2), res.SizeY)
		assert.Equal(t, 8, res.PayloadSize)
	}
	assert.Equal(t, uint64(2), m.Camera().Frames())

	// input queue empty: times out
	ok, err = g.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.DeregisterBuffer(hs[0]))
	require.NoError(t, g.DeregisterBuffer(hs[1]))
	require.NoError(t, g.FinishGrab())
	require.NoError(t, g.Close())
}

func TestInFlightBufferCannotBeDeregistered(t *testing.T) {
	m, d, g := openMock(t)
	hs := prepare(t, d, g, 1)
	require.NoError(t, g.QueueBuffer(hs[0], nil))
	assert.Error(t, g.DeregisterBuffer(hs[0]))
	assert.Error(t, g.FinishGrab())
	assert.Error(t, g.Close())

	require.NoError(t, g.CancelGrab())
	assert.Equal(t, 0, m.Camera().Queued())
	// the canceled result still refers to the buffer
	assert.Error(t, g.DeregisterBuffer(hs[0]))
	ok, err := g.Wait(0)
	require.NoError(t, err)
	require.True(t, ok)
	res, _, err := g.RetrieveResult()
	require.NoError(t, err)
	assert.Equal(t, Canceled, res.Status)
	assert.False(t, res.Succeeded())
	assert.NoError(t, g.DeregisterBuffer(hs[0]))
	assert.NoError(t, g.FinishGrab())
}

func TestFailuresAndStall(t *testing.T) {
	m, d, g := openMock(t)
	hs := prepare(t, d, g, 1)
	require.NoError(t, d.Execute(AcquisitionStart))

	m.Camera().FailNext(1)
	require.NoError(t, g.QueueBuffer(hs[0], nil))
	ok, _ := g.Wait(time.Second)
	require.True(t, ok)
	res, _, _ := g.RetrieveResult()
	assert.Equal(t, Failed, res.Status)
	assert.NotZero(t, res.ErrorCode)
	assert.NotEmpty(t, res.ErrorDescription)

	m.Camera().SetStalled(true)
	require.NoError(t, g.QueueBuffer(hs[0], nil))
	ok, _ = g.Wait(20 * time.Millisecond)
	assert.False(t, ok)

	// a stall released while waiting completes the wait
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Camera().SetStalled(false)
	}()
	ok, _ = g.Wait(time.Second)
	assert.True(t, ok)
}

func TestSingleFrameAndTriggers(t *testing.T) {
	m, d, g := openMock(t)
	hs := prepare(t, d, g, 2)
	require.NoError(t, d.SetEnum(AcquisitionMode, AcquisitionSingleFrame))
	require.NoError(t, d.SetEnum(TriggerSelector, SelectorFrameStart))
	require.NoError(t, d.SetEnum(TriggerMode, TriggerOn))
	mode, err := d.GetEnum(TriggerMode)
	require.NoError(t, err)
	assert.Equal(t, TriggerOn, mode)

	require.NoError(t, g.QueueBuffer(hs[0], nil))
	require.NoError(t, g.QueueBuffer(hs[1], nil))
	require.NoError(t, d.Execute(AcquisitionStart))

	// waiting for a trigger
	ok, _ := g.Wait(10 * time.Millisecond)
	assert.False(t, ok)
	require.NoError(t, d.Execute(TriggerSoftware))
	ok, _ = g.Wait(time.Second)
	assert.True(t, ok)
	g.RetrieveResult()

	// single frame: the camera stopped after one
	assert.False(t, m.Camera().Acquiring())
	require.NoError(t, d.Execute(TriggerSoftware))
	ok, _ = g.Wait(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestDeviceLifecycle(t *testing.T) {
	m, d, g := openMock(t)
	assert.True(t, m.Camera().GrabberOpen())
	assert.Error(t, g.Open())
	require.NoError(t, g.Close())
	require.NoError(t, d.Close())
	assert.False(t, d.IsOpen())
	_, err := d.GetInt(Width)
	assert.Error(t, err)
	_, err = d.StreamGrabber(0)
	assert.Error(t, err)
	assert.Error(t, d.Close())
	assert.Equal(t, "sim#00000001", d.Info().FullName)
}
