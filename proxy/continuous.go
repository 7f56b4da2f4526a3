package proxy

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

// StartContinuous starts free-run acquisition into a ring of count slots.
// Slot i is buffers[i*bufferSize:(i+1)*bufferSize].  bufferSize must equal
// the payload size of the camera; on a mismatch nothing is touched.
//
// The memory stays owned by the caller and must not be reused until
// StopContinuous returns.
func (p *Proxy) StartContinuous(buffers []byte, count, bufferSize int) (err error) {
	defer p.recoverTo(opStart, &err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open() {
		return p.fail(opStart, KindState, ErrNotOpen)
	}
	if p.running {
		return p.fail(opStart, KindState, ErrRunning)
	}
	if p.shooting {
		return p.fail(opStart, KindState, ErrBusy)
	}
	if count < 1 {
		return p.fail(opStart, KindState, errors.Errorf("need at least one buffer, got %d", count))
	}
	payload, err := p.device.GetInt(gige.PayloadSize)
	if err != nil {
		return p.fail(opStart, KindSDK, errors.Wrap(err, gige.PayloadSize))
	}
	if int64(bufferSize) != payload {
		return p.fail(opStart, KindSizeMismatch,
			errors.Errorf("buffer sizes dont match, wont start acquisition: got %d bytes, camera needs %d", bufferSize, payload))
	}
	if bufferSize < 1 || count > len(buffers)/bufferSize {
		return p.fail(opStart, KindSizeMismatch,
			errors.Errorf("%d bytes cannot hold %d buffers of %d bytes", len(buffers), count, bufferSize))
	}
	p.payload = int(payload)

	d := p.device
	steps := []struct {
		name string
		fn   func() error
	}{
		{gige.TriggerSelector, func() error { return d.SetEnum(gige.TriggerSelector, gige.SelectorAcquisitionStart) }},
		{gige.TriggerMode, func() error { return d.SetEnum(gige.TriggerMode, gige.TriggerOff) }},
		{gige.AcquisitionMode, func() error { return d.SetEnum(gige.AcquisitionMode, gige.AcquisitionContinuous) }},
		{"MaxBufferSize", func() error { return p.grabber.SetMaxBufferSize(bufferSize) }},
		{"MaxNumBuffer", func() error { return p.grabber.SetMaxNumBuffer(count) }},
		{"PrepareGrab", p.grabber.PrepareGrab},
	}
	for _, s := range steps {
		if err = s.fn(); err != nil {
			return p.fail(opStart, KindSDK, errors.Wrap(err, s.name))
		}
	}

	p.session = uuid.New()
	p.reportf(SeverityDebug, "registering %d buffers of %d bytes for session %s", count, bufferSize, p.session)
	p.slots = make([]slot, 0, count)
	for i := 0; i < count; i++ {
		view := buffers[i*bufferSize : (i+1)*bufferSize : (i+1)*bufferSize]
		h, err := p.grabber.RegisterBuffer(view)
		if err != nil {
			return p.rollback(errors.Wrapf(err, "register buffer %d", i))
		}
		p.slots = append(p.slots, slot{handle: h, view: view})
		p.nreg = i + 1
		tag := &Tag{Slot: i, Session: p.session}
		if err = p.grabber.QueueBuffer(h, tag); err != nil {
			return p.rollback(errors.Wrapf(err, "queue buffer %d", i))
		}
		p.slots[i].tag = tag
	}
	if err = d.Execute(gige.AcquisitionStart); err != nil {
		return p.rollback(errors.Wrap(err, gige.AcquisitionStart))
	}
	p.running = true
	p.report(SeverityInfo, "continuous acquisition started")
	return nil
}

// rollback undoes a partially started ring.  p.mu must be held.
func (p *Proxy) rollback(cause error) error {
	if err := p.stop(); err != nil {
		cause = multierr.Append(cause, err)
	}
	return p.fail(opStart, KindSDK, cause)
}

// StopContinuous stops the camera, cancels every queued buffer, waits for
// all of them to come back and deregisters the ring.  Calling it when
// nothing is registered does nothing.
func (p *Proxy) StopContinuous() (err error) {
	defer p.recoverTo(opStop, &err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running && p.nreg == 0 {
		p.report(SeverityDebug, "stop: no buffers outstanding")
		return nil
	}
	if p.shooting {
		return p.fail(opStop, KindState, ErrBusy)
	}
	if err = p.stop(); err != nil {
		return p.fail(opStop, KindSDK, err)
	}
	p.report(SeverityInfo, "continuous acquisition stopped")
	return nil
}

// stop is the teardown of a ring.  Each step runs even if an earlier one
// failed; slots that could not be deregistered stay in p.slots.  p.mu must
// be held.
func (p *Proxy) stop() error {
	var errs error
	p.running = false
	if p.open() {
		errs = multierr.Append(errs, errors.Wrap(p.device.Execute(gige.AcquisitionStop), gige.AcquisitionStop))
	}
	errs = multierr.Append(errs, errors.Wrap(p.grabber.CancelGrab(), "cancel grab"))
	errs = multierr.Append(errs, p.drain())

	var kept []slot
	for _, s := range p.slots {
		if err := p.grabber.DeregisterBuffer(s.handle); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "deregister buffer %d", len(kept)))
			kept = append(kept, s)
		}
	}
	p.slots = kept
	p.nreg = len(kept)
	if p.nreg == 0 {
		errs = multierr.Append(errs, errors.Wrap(p.grabber.FinishGrab(), "finish grab"))
	}
	return errs
}

// drain consumes the output queue without looking at the results.  It must
// follow CancelGrab so that nothing is in flight when it returns.
func (p *Proxy) drain() error {
	for {
		ok, err := p.grabber.Wait(0)
		if err != nil {
			return errors.Wrap(err, "wait")
		}
		if !ok {
			return nil
		}
		if _, _, err = p.grabber.RetrieveResult(); err != nil {
			return errors.Wrap(err, "retrieve result")
		}
	}
}

// GetFrame waits up to the frame timeout for the next filled ring slot and
// returns its index.  The slot's memory may be read until it is handed back
// with Requeue.
//
// On a timeout -1 is returned and no buffer is touched.  If the camera
// reports a failed grab the slot is requeued at once and -1 is returned.
func (p *Proxy) GetFrame() (idx int, err error) {
	idx = -1
	defer p.recoverTo(opFrame, &err)
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return -1, p.fail(opFrame, KindState, ErrNotRunning)
	}
	g, session, timeout := p.grabber, p.session, p.cfg.FrameTimeout
	p.mu.Unlock()

	ok, err := g.Wait(timeout)
	if err != nil {
		return -1, p.fail(opFrame, KindSDK, errors.Wrap(err, "wait"))
	}
	if !ok {
		return -1, p.fail(opFrame, KindTimeout, errors.Wrapf(ErrTimeout, "no frame within %v", timeout))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.session != session {
		// stopped while we waited, the result was drained by stop
		return -1, p.fail(opFrame, KindState, ErrNotRunning)
	}
	res, ok, err := g.RetrieveResult()
	if err != nil {
		return -1, p.fail(opFrame, KindSDK, errors.Wrap(err, "retrieve result"))
	}
	if !ok {
		return -1, p.fail(opFrame, KindTimeout, errors.Wrap(ErrTimeout, "result queue empty"))
	}
	tag, _ := res.Context.(*Tag)
	if tag == nil || tag.Session != session || tag.Slot < 0 || tag.Slot >= len(p.slots) {
		return -1, p.fail(opFrame, KindGrabFailed, errors.Errorf("result with foreign context %v", res.Context))
	}
	if !res.Succeeded() {
		p.report(SeverityWarning, "No image acquired!")
		err = p.fail(opFrame, KindGrabFailed, errors.Errorf("slot %d: %s (status %v, code %#x)",
			tag.Slot, res.ErrorDescription, res.Status, res.ErrorCode))
		if rerr := p.requeue(tag.Slot); rerr != nil {
			p.report(SeverityError, rerr.Error())
		}
		return -1, err
	}
	p.width, p.height = uint64(res.SizeX), uint64(res.SizeY)
	return tag.Slot, nil
}

// Requeue hands a slot obtained from GetFrame back to the grabber with a
// fresh context tag.  It is rejected once the camera is closed or the ring
// is stopped.
func (p *Proxy) Requeue(idx int) (err error) {
	defer p.recoverTo(opRequeue, &err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open() {
		return p.fail(opRequeue, KindState, ErrNotOpen)
	}
	if !p.running {
		return p.fail(opRequeue, KindState, ErrNotRunning)
	}
	if idx < 0 || idx >= len(p.slots) {
		return p.fail(opRequeue, KindState, errors.Errorf("slot %d out of range [0, %d)", idx, len(p.slots)))
	}
	if err = p.requeue(idx); err != nil {
		return p.fail(opRequeue, KindSDK, err)
	}
	return nil
}

// requeue queues slot idx with a new tag.  p.mu must be held.
func (p *Proxy) requeue(idx int) error {
	tag := &Tag{Slot: idx, Session: p.session}
	if err := p.grabber.QueueBuffer(p.slots[idx].handle, tag); err != nil {
		return errors.Wrapf(err, "queue buffer %d", idx)
	}
	p.slots[idx].tag = tag
	return nil
}

// SlotView returns the memory of ring slot idx, or nil if there is no such
// slot
func (p *Proxy) SlotView(idx int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.slots) {
		return nil
	}
	return p.slots[idx].view
}

// RingSize is the number of slots of the running ring
func (p *Proxy) RingSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// FrameTimeout is how long GetFrame waits
func (p *Proxy) FrameTimeout() time.Duration {
	return p.cfg.FrameTimeout
}
