// Package server assembles HTTPers into a single router.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp"
)

// Mount is an HTTPer and the path it is served under
type Mount struct {
	Stem   string
	HTTPer generichttp.HTTPer

	// Middleware wraps only the routes of this HTTPer
	Middleware []func(http.Handler) http.Handler
}

// BuildMux binds every mount on a sub router at its stem.
// The mux serves a special route, /endpoints, which returns a map of
// stem to the routes bound under it as JSON.
func BuildMux(mounts ...Mount) *chi.Mux {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)
	supergraph := map[string][]string{}
	for _, m := range mounts {
		stem := generichttp.SubMuxSanitize(m.Stem)
		sub := chi.NewRouter()
		sub.Use(m.Middleware...)
		m.HTTPer.RT().Bind(sub)
		supergraph[stem] = m.HTTPer.RT().Endpoints()
		root.Mount(stem, sub)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
