package generichttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
)

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"cam":       "/cam",
		"/cam/":     "/cam",
		"omc/cam//": "/omc/cam",
		"/omc/cam":  "/omc/cam",
	}
	for in, expected := range cases {
		if out := SubMuxSanitize(in); out != expected {
			t.Errorf("SubMuxSanitize(%q) = %q, expected %q", in, out, expected)
		}
	}
}

func TestEndpointsSorted(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	rt := RouteTable{
		{Method: http.MethodPost, Path: "/gain"}:  noop,
		{Method: http.MethodGet, Path: "/gain"}:   noop,
		{Method: http.MethodGet, Path: "/active"}: noop,
	}
	out := strings.Join(rt.Endpoints(), ",")
	expected := "GET /active,GET /gain,POST /gain"
	if out != expected {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestBindAndIntRoundTrip(t *testing.T) {
	val := 3
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/v"}:   GetInt(func() (int, error) { return val, nil }),
		{Method: http.MethodPost, Path: "/v"}:  SetInt(func(i int) error { val = i; return nil }),
		{Method: http.MethodGet, Path: "/bad"}: GetBool(func() (bool, error) { return false, errors.New("boom") }),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v", strings.NewReader(`{"int": 7}`)))
	if w.Code != http.StatusOK || val != 7 {
		t.Errorf("POST /v: code %d, val %d", w.Code, val)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"int":7}` {
		t.Errorf("GET /v: got %s", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected json content type, got %s", ct)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "boom") {
		t.Errorf("expected 500 with the error text, got %d %s", w.Code, w.Body.String())
	}
}

func TestStringAndFloatPayloads(t *testing.T) {
	w := httptest.NewRecorder()
	GetString(func() (string, error) { return "Mono16", nil })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"str":"Mono16"}` {
		t.Errorf("got %s", body)
	}
	w = httptest.NewRecorder()
	GetFloat(func() (float64, error) { return 1.5, nil })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"f64":1.5}` {
		t.Errorf("got %s", body)
	}
	on := false
	w = httptest.NewRecorder()
	SetBool(func(b bool) error { on = b; return nil })(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool":true}`)))
	if !on {
		t.Error("SetBool did not pass the value through")
	}
}
