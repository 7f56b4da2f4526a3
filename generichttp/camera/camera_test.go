package camera

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"image/png"
	"io/ioutil"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp"
	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
	"github.jpl.nasa.gov/bdube/gigeproxy/imgrec"
	"github.jpl.nasa.gov/bdube/gigeproxy/proxy"
)

var _ Camera = (*proxy.Proxy)(nil)

type fixture struct {
	mock *gige.Mock
	p    *proxy.Proxy
	h    *HTTPCamera
	mux  *chi.Mux
	log  *MessageLog
}

func newFixture(t *testing.T, rec *imgrec.Recorder) *fixture {
	t.Helper()
	m := gige.NewMock(gige.MockOptions{SensorWidth: 16, SensorHeight: 8})
	cfg := proxy.DefaultConfig()
	cfg.FrameTimeout = 50 * time.Millisecond
	cfg.AcquireTimeout = 100 * time.Millisecond
	log := NewMessageLog(16, nil)
	p, err := proxy.Open(proxy.NewDriver(m), cfg, proxy.WithReporter(log))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	h := NewHTTPCamera(p, rec, Options{RingBuffers: 3, StreamFPS: 50, Messages: log})
	mux := chi.NewRouter()
	h.RT().Bind(mux)
	return &fixture{mock: m, p: p, h: h, mux: mux, log: log}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestStateRoutes(t *testing.T) {
	f := newFixture(t, nil)
	assert.JSONEq(t, `{"bool":true}`, f.do(http.MethodGet, "/active", "").Body.String())
	assert.JSONEq(t, `{"int":16}`, f.do(http.MethodGet, "/width", "").Body.String())
	assert.JSONEq(t, `{"int":8}`, f.do(http.MethodGet, "/height", "").Body.String())
	assert.JSONEq(t, `{"int":256}`, f.do(http.MethodGet, "/payload-size", "").Body.String())
	assert.JSONEq(t, `{"str":"Mono16"}`, f.do(http.MethodGet, "/pixel-format", "").Body.String())

	dev := gige.DeviceInfo{}
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, "/device", "").Body.Bytes(), &dev))
	assert.Equal(t, "acA640-sim", dev.Model)
}

func TestInfoRoutes(t *testing.T) {
	f := newFixture(t, nil)
	var a [12]uint64
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, "/info", "").Body.Bytes(), &a))
	assert.Equal(t, uint64(256), a[proxy.IdxPayload])

	a[proxy.IdxGainVal] = 42
	body, _ := json.Marshal(a)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/info", string(body)).Code)
	assert.JSONEq(t, `{"int":42}`, f.do(http.MethodGet, "/gain", "").Body.String())

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/exposure-time", `{"int":1234}`).Code)
	assert.JSONEq(t, `{"int":1234}`, f.do(http.MethodGet, "/exposure-time", "").Body.String())

	w := f.do(http.MethodPost, "/black-level", `{"int":9999}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "out of range")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/gain", `{"int":-1}`).Code)
}

func TestContinuousRoutes(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/continuous/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := RingStatus{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.Slots)
	assert.Equal(t, 256, st.SlotSize)
	assert.Equal(t, 3, st.Outstanding)
	assert.NotEmpty(t, st.Session)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/continuous/start", `{"int":2}`).Code)

	// json frames, requeued automatically
	for i := 0; i < 4; i++ {
		w = f.do(http.MethodGet, "/continuous/frame?fmt=json", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		fr := struct {
			Slot int
			Data []byte
		}{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fr))
		assert.Equal(t, i%3, fr.Slot)
		assert.Len(t, fr.Data, 256)
	}

	// held frame, requeued by hand
	w = f.do(http.MethodGet, "/continuous/frame?fmt=png&requeue=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, f.mock.Camera().Queued())
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/continuous/requeue", `{"int":1}`).Code)
	assert.Equal(t, 3, f.mock.Camera().Queued())

	w = f.do(http.MethodGet, "/continuous/frame?fmt=fits", "")
	require.Equal(t, http.StatusOK, w.Code)
	fits, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer fits.Close()
	img := fits.HDU(0).(fitsio.Image)
	assert.Equal(t, []int{16, 8}, img.Header().Axes())
	assert.NotNil(t, img.Header().Get("SESSION"))

	f.mock.Camera().SetStalled(true)
	assert.Equal(t, http.StatusGatewayTimeout, f.do(http.MethodGet, "/continuous/frame", "").Code)
	f.mock.Camera().SetStalled(false)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/continuous/stop", "").Code)
	assert.Equal(t, 0, f.mock.Camera().Registered())
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, "/continuous/status", "").Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.Outstanding)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/continuous/frame", "").Code)
}

func TestContinuousStartIsBounded(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{`{"int":65}`, `{"int":40000000000000000}`, `{"int":-1}`} {
		w := f.do(http.MethodPost, "/continuous/start", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, 0, f.mock.Camera().Registered())
	assert.False(t, f.p.Running())

	w := f.do(http.MethodPost, "/continuous/start", `{"int":64}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 64, f.p.Outstanding())
}

func TestMaxRingBuffersDefaults(t *testing.T) {
	f := newFixture(t, nil)
	h := NewHTTPCamera(f.p, nil, Options{})
	assert.Equal(t, 8, h.opts.RingBuffers)
	assert.Equal(t, 64, h.opts.MaxRingBuffers)

	h = NewHTTPCamera(f.p, nil, Options{RingBuffers: 8, MaxRingBuffers: 4})
	assert.Equal(t, 8, h.opts.MaxRingBuffers)
}

func TestSingleShotRoute(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/image", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	im, err := jpeg.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, im.Bounds().Dx())

	w = f.do(http.MethodGet, "/image?fmt=png&exposureTime=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	exp, err := f.p.Exposure()
	require.NoError(t, err)
	assert.Equal(t, uint64(500), exp)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/image?exposureTime=5ms", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/image?fmt=bmp", "").Code)

	f.mock.Camera().FailNext(1)
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/image", "").Code)
	assert.Equal(t, 0, f.p.Outstanding())
}

func TestSingleShotIsRecorded(t *testing.T) {
	root, err := ioutil.TempDir("", "gigeproxy")
	require.NoError(t, err)
	defer os.RemoveAll(root)
	rec := &imgrec.Recorder{Root: root, Prefix: "shot", Enabled: true}
	f := newFixture(t, rec)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodGet, "/image?fmt=fits", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.True(t, strings.HasSuffix(rec.Filename(), "shot000002.fits"))
	matches, err := filepath.Glob(filepath.Join(root, "*", "shot*.fits"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	// the recorder routes were injected
	assert.JSONEq(t, `{"str":"shot"}`, f.do(http.MethodGet, "/autowrite/prefix", "").Body.String())
}

func TestMessagesRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodPost, "/continuous/requeue", `{"int":0}`)
	msgs := []Message{}
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, "/messages", "").Body.Bytes(), &msgs))
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "error", last.Severity)
	assert.Contains(t, last.Text, "not running")
}

func TestMessageLogKeepsTail(t *testing.T) {
	var got []string
	l := NewMessageLog(2, proxy.ReporterFunc(func(_ proxy.Severity, m string) { got = append(got, m) }))
	l.Report(proxy.SeverityInfo, "a")
	l.Report(proxy.SeverityInfo, "b")
	l.Report(proxy.SeverityWarning, "c")
	msgs := l.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Text)
	assert.Equal(t, "warning", msgs[1].Severity)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/continuous/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/continuous/start", `{"int":2}`).Code)
	resp, err = http.Get(srv.URL + "/continuous/stream?fps=50")
	require.NoError(t, err)
	defer resp.Body.Close()
	mt, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mt)
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		im, err := jpeg.Decode(part)
		require.NoError(t, err)
		assert.Equal(t, 8, im.Bounds().Dy())
	}
}

func TestRoutesListed(t *testing.T) {
	f := newFixture(t, nil)
	eps := strings.Join(f.h.RT().Endpoints(), "\n")
	for _, r := range []string{"GET /info", "POST /continuous/start", "GET /continuous/stream", "GET /image", "GET /messages"} {
		assert.Contains(t, eps, r)
	}
	var _ generichttp.HTTPer = f.h
}
