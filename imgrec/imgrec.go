// Package imgrec contains an image recorder used to automatically save images to disk.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp"
)

// Recorder records image sequences with incrementing filenames in yyyy-mm-dd
// subfolders.  A file is written by any number of Write calls followed by
// Incr, which moves on to the next file.
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the file being written
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	// now is time.Now, swapped in tests
	now func() time.Time
}

// Active is true if the recorder is enabled and has somewhere to write
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// updateFolder sets the date subfolder from the current time
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	y, m, d := now().Date()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Filename is the path of the file the next Write goes to
func (r *Recorder) Filename() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	return r.filename()
}

func (r *Recorder) filename() string {
	return path.Join(r.Root, r.timeFldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
}

// Write implements io.Writer and appends to the current fits file
func (r *Recorder) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	if _, err = r.mkDir(); err != nil {
		return 0, err
	}
	fid, err := os.OpenFile(r.filename(), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0666)
	if err != nil {
		return 0, err
	}
	defer fid.Close()
	return fid.Write(p)
}

// Incr updates the filename counter; it scans the folder to do so.  If there is an error, the counter is not incremented
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	dn, _ := r.mkDir()
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		return
	}
	count := -1
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = str.Str
	rec.updateFolder()
	if _, err = rec.mkDir(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Root}
	h.Recorder.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.mu.Lock()
	h.Recorder.Prefix = str.Str
	h.Recorder.counter = 0
	h.Recorder.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	h.Recorder.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	h.Recorder.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.Recorder.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
