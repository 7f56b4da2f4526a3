package proxy

import (
	"sync"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
)

// Driver is the process-wide SDK context.  The runtime is initialized by the
// first Acquire and terminated by the Release that balances it; further
// Releases do nothing.
type Driver struct {
	mu   sync.Mutex
	rt   gige.Runtime
	refs int
}

// NewDriver wraps a runtime.  Only one Driver should exist per runtime.
func NewDriver(rt gige.Runtime) *Driver {
	return &Driver{rt: rt}
}

// Runtime returns the wrapped runtime
func (d *Driver) Runtime() gige.Runtime {
	return d.rt
}

// Acquire takes a reference, initializing the runtime if it is the first
func (d *Driver) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		if err := d.rt.Initialize(); err != nil {
			return err
		}
	}
	d.refs++
	return nil
}

// Release drops a reference, terminating the runtime if it was the last
func (d *Driver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return nil
	}
	d.refs--
	if d.refs == 0 {
		return d.rt.Terminate()
	}
	return nil
}

// Active is true while at least one reference is held
func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs > 0
}
