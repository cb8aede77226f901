package daemon

import (
	"sync"

	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

// Resource is one lockable object (the GL, a VG, or an LV) inside a
// lockspace's resource table. Shared-mode holders are coalesced into a
// single reference count rather than tracked individually, matching the
// original's sh_count bookkeeping.
type Resource struct {
	Name    string
	Type    wire.ResourceType
	mu      sync.Mutex
	mode    wire.LockMode
	shCount int
	// version is the Value Block's r_version: bumped by every update_vg
	// after a successful commit, so a holder comparing it against its
	// cached copy can detect it needs a re-read (spec §4.4/§4.5). It is
	// kept in this daemon only; no backend carries it to other hosts.
	version uint32
}

func newResource(name string, typ wire.ResourceType) *Resource {
	return &Resource{Name: name, Type: typ, mode: wire.ModeUnlock}
}

// TryAcquire attempts to move the resource to mode without blocking. It
// returns false if the request conflicts with the current holders (an
// exclusive request against any existing holder, or a shared request
// against an existing exclusive holder).
func (r *Resource) TryAcquire(mode wire.LockMode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch mode {
	case wire.ModeShared:
		if r.mode == wire.ModeExclusive {
			return false
		}
		r.mode = wire.ModeShared
		r.shCount++
		return true
	case wire.ModeExclusive:
		if r.mode != wire.ModeUnlock && r.mode != wire.ModeNull {
			return false
		}
		r.mode = wire.ModeExclusive
		return true
	case wire.ModeNull, wire.ModeUnlock:
		r.mode = mode
		return true
	default:
		return false
	}
}

// Release drops one holder. For shared mode this decrements shCount and
// only actually frees the resource once the count reaches zero, coalescing
// many shared holders into the single mode field.
func (r *Resource) Release(mode wire.LockMode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mode == wire.ModeShared {
		if r.shCount > 0 {
			r.shCount--
		}
		if r.shCount == 0 {
			r.mode = wire.ModeUnlock
		}
		return
	}
	r.mode = wire.ModeUnlock
}

// Mode returns the resource's current mode.
func (r *Resource) Mode() wire.LockMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Version returns the resource's Value Block version.
func (r *Resource) Version() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// BumpVersion advances the Value Block version, as update_vg does after a
// successful metadata commit.
func (r *Resource) BumpVersion() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	return r.version
}

// adopt restores a resource's mode and version from a saved adopt table
// entry (spec §6's LD_AF_ADOPT), bypassing TryAcquire's conflict checks
// since the lock was already held before the restart that lost track of it.
func (r *Resource) adopt(mode wire.LockMode, version uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	if mode == wire.ModeShared {
		r.shCount = 1
	}
	r.version = version
}

// ResourceTable indexes a lockspace's resources by name.
type ResourceTable struct {
	mu        sync.Mutex
	resources map[string]*Resource
}

func newResourceTable() *ResourceTable {
	return &ResourceTable{resources: make(map[string]*Resource)}
}

// Get returns the named resource, creating it on first use.
func (t *ResourceTable) Get(name string, typ wire.ResourceType) *Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.resources[name]
	if !ok {
		r = newResource(name, typ)
		t.resources[name] = r
	}
	return r
}
