package proxy

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

// Acquire takes one picture into buffer, which must hold at least one
// payload.  Acquisition start and frame start triggers are switched off if
// the camera has them.
//
// The buffer is always deregistered before Acquire returns.  If the frame
// does not arrive within the acquire timeout the grab is cancelled, and the
// buffer is only deregistered once the grabber has handed it back.
func (p *Proxy) Acquire(buffer []byte) (err error) {
	defer p.recoverTo(opAcquire, &err)
	p.mu.Lock()
	if !p.open() {
		p.mu.Unlock()
		return p.fail(opAcquire, KindState, ErrNotOpen)
	}
	if p.grabber == nil {
		p.mu.Unlock()
		return p.fail(opAcquire, KindState, errors.New("no stream grabber initialized, cannot acquire image"))
	}
	if p.running {
		p.mu.Unlock()
		return p.fail(opAcquire, KindState, ErrRunning)
	}
	if p.shooting {
		p.mu.Unlock()
		return p.fail(opAcquire, KindState, ErrBusy)
	}
	if p.nreg > 0 {
		n := p.nreg
		p.mu.Unlock()
		return p.fail(opAcquire, KindState, errors.Errorf("%d ring buffers are still registered, stop continuous acquisition first", n))
	}
	g, d, timeout := p.grabber, p.device, p.cfg.AcquireTimeout

	payload, err := d.GetInt(gige.PayloadSize)
	if err != nil {
		p.mu.Unlock()
		return p.fail(opAcquire, KindSDK, errors.Wrap(err, gige.PayloadSize))
	}
	if int64(len(buffer)) < payload {
		p.mu.Unlock()
		return p.fail(opAcquire, KindSizeMismatch,
			errors.Errorf("buffer of %d bytes cannot hold a payload of %d bytes", len(buffer), payload))
	}
	p.payload = int(payload)

	for _, sel := range []string{gige.SelectorAcquisitionStart, gige.SelectorFrameStart} {
		if !d.EnumEntryAvailable(gige.TriggerSelector, sel) {
			continue
		}
		if err = d.SetEnum(gige.TriggerSelector, sel); err == nil {
			err = d.SetEnum(gige.TriggerMode, gige.TriggerOff)
		}
		if err != nil {
			p.mu.Unlock()
			return p.fail(opAcquire, KindSDK, errors.Wrapf(err, "disable %s trigger", sel))
		}
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{gige.AcquisitionMode, func() error { return d.SetEnum(gige.AcquisitionMode, gige.AcquisitionSingleFrame) }},
		{"MaxBufferSize", func() error { return g.SetMaxBufferSize(int(payload)) }},
		{"MaxNumBuffer", func() error { return g.SetMaxNumBuffer(1) }},
		{"PrepareGrab", g.PrepareGrab},
	}
	for _, s := range steps {
		if err = s.fn(); err != nil {
			p.mu.Unlock()
			return p.fail(opAcquire, KindSDK, errors.Wrap(err, s.name))
		}
	}
	view := buffer[:payload:payload]
	h, err := g.RegisterBuffer(view)
	if err != nil {
		err = multierr.Append(errors.Wrap(err, "register buffer"), errors.Wrap(g.FinishGrab(), "FinishGrab"))
		p.mu.Unlock()
		return p.fail(opAcquire, KindSDK, err)
	}
	p.nreg = 1
	p.shooting = true
	p.mu.Unlock()

	retrieved := false
	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cerr := p.release(h, retrieved); cerr != nil {
			if err == nil {
				err = p.fail(opAcquire, KindSDK, cerr)
			} else {
				p.report(SeverityError, cerr.Error())
			}
		}
		p.nreg = 0
		p.shooting = false
	}()

	if err = g.QueueBuffer(h, nil); err != nil {
		return p.fail(opAcquire, KindSDK, errors.Wrap(err, "queue buffer"))
	}
	if err = d.Execute(gige.AcquisitionStart); err != nil {
		return p.fail(opAcquire, KindSDK, errors.Wrap(err, gige.AcquisitionStart))
	}
	ok, err := g.Wait(timeout)
	if err != nil {
		return p.fail(opAcquire, KindSDK, errors.Wrap(err, "wait"))
	}
	if !ok {
		return p.fail(opAcquire, KindTimeout, errors.Wrapf(ErrTimeout, "no frame within %v", timeout))
	}
	res, ok, err := g.RetrieveResult()
	if err != nil {
		return p.fail(opAcquire, KindSDK, errors.Wrap(err, "retrieve result"))
	}
	retrieved = ok
	if !ok {
		return p.fail(opAcquire, KindTimeout, errors.Wrap(ErrTimeout, "result queue empty"))
	}
	if !res.Succeeded() {
		p.report(SeverityWarning, "No image acquired!")
		return p.fail(opAcquire, KindGrabFailed, errors.Errorf("%s (status %v, code %#x)",
			res.ErrorDescription, res.Status, res.ErrorCode))
	}
	p.mu.Lock()
	p.width, p.height = uint64(res.SizeX), uint64(res.SizeY)
	p.mu.Unlock()
	return nil
}

// release returns the single shot buffer.  Unless its result was already
// retrieved the grab is cancelled and the output queue drained first, so the
// buffer is not in flight when it is deregistered.  p.mu must be held.
func (p *Proxy) release(h gige.BufferHandle, retrieved bool) error {
	var errs error
	if !retrieved {
		p.report(SeverityDebug, "cancelling single shot grab")
		if p.open() {
			errs = multierr.Append(errs, errors.Wrap(p.device.Execute(gige.AcquisitionStop), gige.AcquisitionStop))
		}
		errs = multierr.Append(errs, errors.Wrap(p.grabber.CancelGrab(), "cancel grab"))
		errs = multierr.Append(errs, p.drain())
	}
	p.report(SeverityDebug, "deregistering single buffer")
	errs = multierr.Append(errs, errors.Wrap(p.grabber.DeregisterBuffer(h), "deregister buffer"))
	errs = multierr.Append(errs, errors.Wrap(p.grabber.FinishGrab(), "finish grab"))
	return errs
}
