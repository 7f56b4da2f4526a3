package proxy

import (
	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

// InfoArray is the fixed layout parameter vector of a camera
type InfoArray = [12]uint64

// indices into an InfoArray
const (
	IdxWidth = iota
	IdxHeight
	IdxPayload
	IdxExpMin
	IdxExpMax
	IdxExpVal
	IdxGainMin
	IdxGainMax
	IdxGainVal
	IdxBlackMin
	IdxBlackMax
	IdxBlackVal
)

// triple is a min/max/value group of the array and the feature behind it
type triple struct {
	feature string
	min     int
}

var triples = []triple{
	{gige.ExposureTimeRaw, IdxExpMin},
	{gige.GainRaw, IdxGainMin},
	{gige.BlackLevelRaw, IdxBlackMin},
}

// InfoArray returns a snapshot of the geometry and of the exposure, gain and
// black level ranges and values.  Width and height are those of the last
// frame.
func (p *Proxy) InfoArray() (a InfoArray, err error) {
	defer p.recoverTo(opInfo, &err)
	p.mu.Lock()
	defer p.mu.Unlock()
	a[IdxWidth], a[IdxHeight] = p.width, p.height
	if !p.open() {
		return a, p.fail(opInfo, KindState, ErrNotOpen)
	}
	d := p.device
	n, err := d.GetInt(gige.PayloadSize)
	if err != nil {
		return a, p.fail(opInfo, KindSDK, errors.Wrap(err, gige.PayloadSize))
	}
	a[IdxPayload] = uint64(n)
	for _, t := range triples {
		min, max, err := d.IntRange(t.feature)
		if err != nil {
			return a, p.fail(opInfo, KindSDK, errors.Wrap(err, t.feature))
		}
		v, err := d.GetInt(t.feature)
		if err != nil {
			return a, p.fail(opInfo, KindSDK, errors.Wrap(err, t.feature))
		}
		a[t.min], a[t.min+1], a[t.min+2] = uint64(min), uint64(max), uint64(v)
	}
	return a, nil
}

// SetInfoArray writes the exposure, gain and black level values of a to the
// camera.  Every other slot is ignored.  Values are not checked here; the
// camera refuses what it cannot take and the first refusal ends the update.
func (p *Proxy) SetInfoArray(a InfoArray) (err error) {
	defer p.recoverTo(opInfo, &err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open() {
		return p.fail(opInfo, KindState, ErrNotOpen)
	}
	for _, t := range triples {
		if err = p.device.SetInt(t.feature, int64(a[t.min+2])); err != nil {
			return p.fail(opInfo, KindSDK, errors.Wrap(err, t.feature))
		}
	}
	return nil
}

// setOne changes a single value slot of the array, leaving the others as the
// camera has them
func (p *Proxy) setOne(idx int, v uint64) error {
	a, err := p.InfoArray()
	if err != nil {
		return err
	}
	a[idx] = v
	return p.SetInfoArray(a)
}

func (p *Proxy) getOne(idx int) (uint64, error) {
	a, err := p.InfoArray()
	return a[idx], err
}

// Exposure returns the raw exposure time
func (p *Proxy) Exposure() (uint64, error) { return p.getOne(IdxExpVal) }

// SetExposure sets the raw exposure time
func (p *Proxy) SetExposure(v uint64) error { return p.setOne(IdxExpVal, v) }

// Gain returns the raw gain
func (p *Proxy) Gain() (uint64, error) { return p.getOne(IdxGainVal) }

// SetGain sets the raw gain
func (p *Proxy) SetGain(v uint64) error { return p.setOne(IdxGainVal, v) }

// BlackLevel returns the raw black level
func (p *Proxy) BlackLevel() (uint64, error) { return p.getOne(IdxBlackVal) }

// SetBlackLevel sets the raw black level
func (p *Proxy) SetBlackLevel(v uint64) error { return p.setOne(IdxBlackVal, v) }
