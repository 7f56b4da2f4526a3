// Package camera provides a generic HTTP interface to a machine vision camera proxy
package camera

import (
	"encoding/json"
	"go/types"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/gigeproxy/camera"
	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp"
	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
	"github.jpl.nasa.gov/bdube/gigeproxy/imgrec"
	"github.jpl.nasa.gov/bdube/gigeproxy/proxy"
	"github.jpl.nasa.gov/bdube/gigeproxy/util"
)

// Camera is everything the HTTP wrapper needs from a camera proxy
type Camera interface {
	camera.Minimal
	camera.InfoArrayer
	camera.RingGrabber
	camera.SingleShooter

	// Outstanding is the number of buffers registered with the camera
	Outstanding() int

	// DeviceInfo describes the open camera
	DeviceInfo() (gige.DeviceInfo, error)

	Exposure() (uint64, error)
	SetExposure(uint64) error
	Gain() (uint64, error)
	SetGain(uint64) error
	BlackLevel() (uint64, error)
	SetBlackLevel(uint64) error
}

// Options tune an HTTPCamera
type Options struct {
	// RingBuffers is the ring size used when a start request does not name one
	RingBuffers int

	// MaxRingBuffers is the largest ring a start request may ask for
	MaxRingBuffers int

	// StreamFPS is the default frame rate of the live view
	StreamFPS float64

	// Messages, if not nil, is served on /messages
	Messages *MessageLog
}

// HTTPCamera wraps a camera proxy in an HTTP interface.  The memory of the
// continuous ring is owned by the wrapper.
type HTTPCamera struct {
	Camera Camera

	// Recorder receives single shot FITS images when it is active
	Recorder *imgrec.Recorder

	opts Options

	// ring is the memory lent to the camera while continuous acquisition
	// runs.  It is only replaced after the ring has been stopped.
	ringMu sync.Mutex
	ring   []byte

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new wrapper with the route table populated
func NewHTTPCamera(c Camera, rec *imgrec.Recorder, opts Options) *HTTPCamera {
	if opts.RingBuffers < 1 {
		opts.RingBuffers = 8
	}
	if opts.MaxRingBuffers < 1 {
		opts.MaxRingBuffers = 64
	}
	if opts.MaxRingBuffers < opts.RingBuffers {
		opts.MaxRingBuffers = opts.RingBuffers
	}
	if opts.StreamFPS <= 0 {
		opts.StreamFPS = 10
	}
	w := &HTTPCamera{Camera: c, Recorder: rec, opts: opts}
	w.RouteTable = generichttp.RouteTable{
		// state
		{Method: http.MethodGet, Path: "/active"}:       generichttp.GetBool(func() (bool, error) { return c.IsActive(), nil }),
		{Method: http.MethodGet, Path: "/width"}:        generichttp.GetInt(func() (int, error) { return int(c.Width()), nil }),
		{Method: http.MethodGet, Path: "/height"}:       generichttp.GetInt(func() (int, error) { return int(c.Height()), nil }),
		{Method: http.MethodGet, Path: "/payload-size"}: generichttp.GetInt(func() (int, error) { return c.PayloadSize(), nil }),
		{Method: http.MethodGet, Path: "/pixel-format"}: generichttp.GetString(func() (string, error) { return c.PixelFormat(), nil }),
		{Method: http.MethodGet, Path: "/device"}:       w.GetDevice,

		// parameters
		{Method: http.MethodGet, Path: "/info"}:           w.GetInfo,
		{Method: http.MethodPost, Path: "/info"}:          w.SetInfo,
		{Method: http.MethodGet, Path: "/exposure-time"}:  getUint(c.Exposure),
		{Method: http.MethodPost, Path: "/exposure-time"}: setUint(c.SetExposure),
		{Method: http.MethodGet, Path: "/gain"}:           getUint(c.Gain),
		{Method: http.MethodPost, Path: "/gain"}:          setUint(c.SetGain),
		{Method: http.MethodGet, Path: "/black-level"}:    getUint(c.BlackLevel),
		{Method: http.MethodPost, Path: "/black-level"}:   setUint(c.SetBlackLevel),

		// continuous acquisition
		{Method: http.MethodPost, Path: "/continuous/start"}:   w.StartContinuous,
		{Method: http.MethodPost, Path: "/continuous/stop"}:    w.StopContinuous,
		{Method: http.MethodGet, Path: "/continuous/status"}:   w.Status,
		{Method: http.MethodGet, Path: "/continuous/frame"}:    w.GetRingFrame,
		{Method: http.MethodPost, Path: "/continuous/requeue"}: generichttp.SetInt(c.Requeue),
		{Method: http.MethodGet, Path: "/continuous/stream"}:   w.Stream,

		// single shot
		{Method: http.MethodGet, Path: "/image"}: w.GetFrame,
	}
	if opts.Messages != nil {
		w.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/messages"}] = opts.Messages.HTTPGet
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(w)
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h *HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// errStatus maps a proxy error to an HTTP status code
func errStatus(err error) int {
	switch proxy.KindOf(err) {
	case proxy.KindSizeMismatch:
		return http.StatusBadRequest
	case proxy.KindState:
		return http.StatusConflict
	case proxy.KindTimeout:
		return http.StatusGatewayTimeout
	case proxy.KindGrabFailed:
		return http.StatusBadGateway
	case proxy.KindInit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errStatus(err))
}

func getUint(fcn func() (uint64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fcn()
		if err != nil {
			httpError(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Int, Int: int(v)}
		hp.EncodeAndRespond(w, r)
	}
}

func setUint(fcn func(uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := generichttp.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if i.Int < 0 {
			http.Error(w, "value must not be negative", http.StatusBadRequest)
			return
		}
		if err = fcn(uint64(i.Int)); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetDevice sends the enumeration record of the camera as JSON
func (h *HTTPCamera) GetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := h.Camera.DeviceInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(info)
}

// GetInfo sends the 12 slot parameter array as a JSON array
func (h *HTTPCamera) GetInfo(w http.ResponseWriter, r *http.Request) {
	a, err := h.Camera.InfoArray()
	if err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(a)
}

// SetInfo writes a 12 slot JSON array to the camera.  Only the exposure, gain
// and black level values are used.
func (h *HTTPCamera) SetInfo(w http.ResponseWriter, r *http.Request) {
	var a [12]uint64
	err := json.NewDecoder(r.Body).Decode(&a)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Camera.SetInfoArray(a); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// cards builds FITS header metadata describing the camera state
func (h *HTTPCamera) cards() []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "HDRVER", Value: "1", Comment: "header version"},
		{Name: "DATE", Value: time.Now().UTC().Format(time.RFC3339Nano), Comment: "time the image was encoded"},
		{Name: "PIXFMT", Value: h.Camera.PixelFormat(), Comment: "camera pixel format"},
	}
	if info, err := h.Camera.DeviceInfo(); err == nil {
		cards = append(cards,
			fitsio.Card{Name: "CAMERA", Value: info.Model, Comment: "camera model"},
			fitsio.Card{Name: "SERIAL", Value: info.SerialNumber, Comment: "camera serial number"})
	}
	if a, err := h.Camera.InfoArray(); err == nil {
		cards = append(cards,
			fitsio.Card{Name: "EXPRAW", Value: int(a[proxy.IdxExpVal]), Comment: "raw exposure time"},
			fitsio.Card{Name: "GAINRAW", Value: int(a[proxy.IdxGainVal]), Comment: "raw gain"},
			fitsio.Card{Name: "BLKRAW", Value: int(a[proxy.IdxBlackVal]), Comment: "raw black level"})
	}
	return cards
}

// encode writes a frame to w in the format named by the fmt query parameter,
// jpg if it is absent.  FITS output is also written to tee if it is not nil.
func (h *HTTPCamera) encode(w http.ResponseWriter, r *http.Request, f camera.Frame, cards []fitsio.Card, tee io.Writer) error {
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "jpg"
	}
	switch format {
	case "jpg":
		im, err := f.Gray8()
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		return jpeg.Encode(w, im, nil)
	case "png":
		im, err := f.Image()
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		return png.Encode(w, im)
	case "fits":
		var w2 io.Writer = w
		if tee != nil {
			w2 = io.MultiWriter(w, tee)
		}
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		return WriteFits(w2, append(h.cards(), cards...), []camera.Frame{f})
	default:
		http.Error(w, "format must be one of jpg, png, fits", http.StatusBadRequest)
		return nil
	}
}

// GetFrame takes a single picture and returns it on a GET request.
//
// the image format may be specified in a query parameter fmt; default to jpg.
//
// a raw exposure time may be given as the query parameter exposureTime, it is
// programmed before the picture is taken.
//
// FITS images are also written to the recorder if it is enabled.
func (h *HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if texp := q.Get("exposureTime"); texp != "" {
		if !util.AllElementsNumbers(texp) {
			http.Error(w, "exposureTime must be a raw integer exposure", http.StatusBadRequest)
			return
		}
		v, err := strconv.ParseUint(texp, 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = h.Camera.SetExposure(v); err != nil {
			httpError(w, err)
			return
		}
	}
	buf := make([]byte, h.Camera.PayloadSize())
	if err := h.Camera.Acquire(buf); err != nil {
		httpError(w, err)
		return
	}
	f := camera.Frame{
		Buf:    buf,
		Width:  int(h.Camera.Width()),
		Height: int(h.Camera.Height()),
		Format: h.Camera.PixelFormat(),
	}
	var tee io.Writer
	if h.Recorder != nil && h.Recorder.Active() && q.Get("fmt") == "fits" {
		tee = h.Recorder
		defer h.Recorder.Incr()
	}
	if err := h.encode(w, r, f, nil, tee); err != nil {
		http.Error(w, errors.Wrap(err, "encode image").Error(), http.StatusInternalServerError)
	}
}
