// Package generichttp defines the route table and JSON envelopes shared by
// the HTTP wrappers, and handler builders for simple getters and setters
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is an HTTP method and a URL path, the key of a RouteTable
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method+path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table as "METHOD /path", sorted by path
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Slice(routes, func(i, j int) bool {
		a, b := strings.SplitN(routes[i], " ", 2), strings.SplitN(routes[j], " ", 2)
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[0] < b[0]
	})
	return routes
}

// Bind registers every route of the table on r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fn)
	}
}

// HTTPer is anything that exposes a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize makes str suitable for chi's Mount: a leading slash and no
// trailing slash, except for the root itself
func SubMuxSanitize(str string) string {
	if !strings.HasPrefix(str, "/") {
		str = "/" + str
	}
	for len(str) > 1 && strings.HasSuffix(str, "/") {
		str = str[:len(str)-1]
	}
	return str
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct containing the basic types that a device may
// respond with.  T selects which field is encoded.
type HumanPayload struct {
	Bool   bool
	Float  float64
	Int    int
	String string
	T      types.BasicKind
}

// EncodeAndRespond encodes the payload as JSON, e.g. {"int": 3}, and writes
// it to w
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) error {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	return err
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := IntT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.Int)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}
