package camera

import (
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/astrogo/fitsio"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/gigeproxy/camera"
	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp"
	"github.jpl.nasa.gov/bdube/gigeproxy/proxy"
	"github.jpl.nasa.gov/bdube/gigeproxy/util"
)

// RingStatus describes the continuous acquisition
type RingStatus struct {
	Running     bool   `json:"running"`
	Session     string `json:"session,omitempty"`
	Slots       int    `json:"slots"`
	SlotSize    int    `json:"slotSize"`
	Outstanding int    `json:"outstanding"`
}

func (h *HTTPCamera) status() RingStatus {
	s := RingStatus{
		Running:     h.Camera.Running(),
		SlotSize:    h.Camera.PayloadSize(),
		Outstanding: h.Camera.Outstanding(),
	}
	if s.Running {
		s.Session = h.Camera.Session().String()
		h.ringMu.Lock()
		if s.SlotSize > 0 {
			s.Slots = len(h.ring) / s.SlotSize
		}
		h.ringMu.Unlock()
	}
	return s
}

func (h *HTTPCamera) respondStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.status())
}

// StartContinuous allocates a ring of payload sized slots and starts free run
// acquisition into it.  The number of slots is read from {"int": n}; an empty
// body uses the configured default.
func (h *HTTPCamera) StartContinuous(w http.ResponseWriter, r *http.Request) {
	n := generichttp.IntT{}
	err := json.NewDecoder(r.Body).Decode(&n)
	defer r.Body.Close()
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n.Int == 0 {
		n.Int = h.opts.RingBuffers
	}
	if n.Int < 0 {
		http.Error(w, "number of buffers must be positive", http.StatusBadRequest)
		return
	}
	if n.Int > h.opts.MaxRingBuffers {
		http.Error(w, fmt.Sprintf("at most %d buffers may be requested, got %d", h.opts.MaxRingBuffers, n.Int), http.StatusBadRequest)
		return
	}
	h.ringMu.Lock()
	defer h.ringMu.Unlock()
	if h.Camera.Running() || h.Camera.Outstanding() > 0 {
		http.Error(w, proxy.ErrRunning.Error(), http.StatusConflict)
		return
	}
	size := h.Camera.PayloadSize()
	if size > 0 && n.Int > math.MaxInt/size {
		http.Error(w, fmt.Sprintf("%d buffers of %d bytes do not fit in memory", n.Int, size), http.StatusBadRequest)
		return
	}
	ring := make([]byte, n.Int*size)
	if err = h.Camera.StartContinuous(ring, n.Int, size); err != nil {
		httpError(w, err)
		return
	}
	h.ring = ring
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(RingStatus{
		Running:     true,
		Session:     h.Camera.Session().String(),
		Slots:       n.Int,
		SlotSize:    size,
		Outstanding: h.Camera.Outstanding(),
	})
}

// StopContinuous stops the ring and releases its memory
func (h *HTTPCamera) StopContinuous(w http.ResponseWriter, r *http.Request) {
	h.ringMu.Lock()
	defer h.ringMu.Unlock()
	if err := h.Camera.StopContinuous(); err != nil {
		httpError(w, err)
		return
	}
	if h.Camera.Outstanding() == 0 {
		h.ring = nil
	}
	w.WriteHeader(http.StatusOK)
}

// Status sends the RingStatus as JSON
func (h *HTTPCamera) Status(w http.ResponseWriter, r *http.Request) {
	h.respondStatus(w)
}

// ringFrame waits for the next slot and wraps it in a Frame
func (h *HTTPCamera) ringFrame() (int, camera.Frame, error) {
	idx, err := h.Camera.GetFrame()
	if err != nil {
		return -1, camera.Frame{}, err
	}
	f := camera.Frame{
		Buf:    h.Camera.SlotView(idx),
		Width:  int(h.Camera.Width()),
		Height: int(h.Camera.Height()),
		Format: h.Camera.PixelFormat(),
	}
	return idx, f, nil
}

// GetRingFrame returns the next frame of the ring.
//
// fmt selects jpg (default), png, fits, or json, which sends the slot index,
// geometry and the raw bytes.  Unless requeue=false is given the slot is
// handed back to the camera after the frame is encoded; otherwise the client
// must POST its index to /continuous/requeue.
func (h *HTTPCamera) GetRingFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requeue := true
	if s := q.Get("requeue"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requeue = b
	}
	idx, f, err := h.ringFrame()
	if err != nil {
		httpError(w, err)
		return
	}
	if requeue {
		defer h.Camera.Requeue(idx)
	}
	if q.Get("fmt") == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(struct {
			Slot   int    `json:"slot"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Format string `json:"format"`
			Data   []byte `json:"data"`
		}{idx, f.Width, f.Height, f.Format, f.Buf})
		return
	}
	cards := []fitsio.Card{
		{Name: "SESSION", Value: h.Camera.Session().String(), Comment: "continuous acquisition"},
		{Name: "SLOT", Value: idx, Comment: "ring slot"},
	}
	if err = h.encode(w, r, f, cards, nil); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Stream sends the running ring as an MJPEG live view.  The frame rate is
// capped by the fps query parameter, within [0.1, 60].  The stream ends when
// the client goes away or the ring is stopped.
func (h *HTTPCamera) Stream(w http.ResponseWriter, r *http.Request) {
	fps := h.opts.StreamFPS
	if s := r.URL.Query().Get("fps"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fps = f
	}
	fps = util.Clamp(fps, 0.1, 60)
	if !h.Camera.Running() {
		http.Error(w, proxy.ErrNotRunning.Error(), http.StatusConflict)
		return
	}
	lim := rate.NewLimiter(rate.Limit(fps), 1)
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	ctx := r.Context()
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		idx, f, err := h.ringFrame()
		if err != nil {
			switch proxy.KindOf(err) {
			case proxy.KindTimeout, proxy.KindGrabFailed:
				continue
			default:
				mw.Close()
				return
			}
		}
		im, err := f.Gray8()
		if err == nil {
			var part io.Writer
			part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err == nil {
				err = jpeg.Encode(part, im, nil)
			}
		}
		h.Camera.Requeue(idx)
		if err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
