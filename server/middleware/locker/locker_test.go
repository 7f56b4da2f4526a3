package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func TestLockBouncesProtectedRoutes(t *testing.T) {
	l := New()
	rt := table{
		{Method: http.MethodPost, Path: "/continuous/start"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	Inject(rt, l)
	mux := chi.NewRouter()
	mux.Use(l.Check)
	generichttp.RouteTable(rt).Bind(mux)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}
	if w := do(http.MethodPost, "/continuous/start", ""); w.Code != http.StatusOK {
		t.Errorf("unlocked: expected 200 got %d", w.Code)
	}
	if w := do(http.MethodPost, "/lock", `{"bool":true}`); w.Code != http.StatusOK {
		t.Errorf("lock: expected 200 got %d", w.Code)
	}
	if w := do(http.MethodPost, "/continuous/start", ""); w.Code != http.StatusLocked {
		t.Errorf("locked: expected 423 got %d", w.Code)
	}
	if w := do(http.MethodGet, "/lock", ""); strings.TrimSpace(w.Body.String()) != `{"bool":true}` {
		t.Errorf("GET /lock: %s", w.Body.String())
	}
	do(http.MethodPost, "/lock", `{"bool":false}`)
	if l.Locked() {
		t.Error("expected the locker to be unlocked")
	}
}
