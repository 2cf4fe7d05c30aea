// Package handle implements the observable, possibly-unset reference to a
// remote log server described in spec §3 ("Log server handle"). The handle
// may transition between present and absent as rejoins occur; consumers
// observe the transition through a change-notification channel rather than
// the futures the original uses, which is the idiomatic Go analog of an
// AsyncVar.
//
// The mutex-guarded struct with Get/Set accessors and a point-in-time
// snapshot method is grounded on the teacher's StreamContext
// (storage-node/internal/service/streaming_service.go).
package handle

import (
	"sync"

	"github.com/devrev/pairdb/txlog/internal/locality"
)

// Interface is the minimal remote identity of a log server. The RPC client
// surface that would actually talk to it is out of scope for this
// subsystem (spec §1); any real transport plugs in here by address.
type Interface struct {
	ServerID string
	Address  string
}

// Handle is a shared, observable reference to one log server. Many cursors
// and the push accumulator may hold the same Handle; all see the same
// present/absent transitions.
type Handle struct {
	mu       sync.RWMutex
	present  bool
	iface    Interface
	loc      locality.Data
	changeCh chan struct{}
}

// New creates a handle in the absent state with the given (static) locality
// data. Locality data is known even while absent, since it is assigned by
// the recruiter before the server interface is confirmed.
func New(loc locality.Data) *Handle {
	return &Handle{
		loc:      loc.Clone(),
		changeCh: make(chan struct{}),
	}
}

// Get returns the current interface and whether it is present.
func (h *Handle) Get() (Interface, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.iface, h.present
}

// Locality returns the handle's locality data, defined whether or not the
// server is currently present.
func (h *Handle) Locality() locality.Data {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loc
}

// Set marks the handle present with the given interface, notifying anyone
// waiting on OnChange. A no-op if the interface is unchanged.
func (h *Handle) Set(iface Interface) {
	h.mu.Lock()
	if h.present && h.iface == iface {
		h.mu.Unlock()
		return
	}
	h.present = true
	h.iface = iface
	h.notifyLocked()
	h.mu.Unlock()
}

// Clear marks the handle absent, notifying anyone waiting on OnChange. A
// no-op if already absent.
func (h *Handle) Clear() {
	h.mu.Lock()
	if !h.present {
		h.mu.Unlock()
		return
	}
	h.present = false
	h.iface = Interface{}
	h.notifyLocked()
	h.mu.Unlock()
}

func (h *Handle) notifyLocked() {
	close(h.changeCh)
	h.changeCh = make(chan struct{})
}

// OnChange returns a channel that is closed the next time the handle's
// present/absent state or interface changes. Callers must re-call OnChange
// after each firing to keep observing.
func (h *Handle) OnChange() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.changeCh
}
