// Package backend defines the pluggable lock-manager backend interface
// (spec §4.5, §9): lvmlockd itself only sequences requests through a
// lockspace's action queue; actually arbitrating a lock across hosts is
// delegated to one of DLM, sanlock, or IDM.
//
// Real kernel DLM and userspace sanlock/idm integration are out of scope
// for this core (spec §1's non-goals exclude talking to an actual cluster
// stack); what is implemented is the interface boundary and a fully
// functional in-memory backend, so the daemon and client packages have
// something real to run against in tests.
package backend

import "context"

// Backend is what the daemon calls to join and leave a VG's lockspace on
// the cluster lock manager. It has no per-lock calls: conflicts between
// lock requests are decided only by the daemon's own resource table.
type Backend interface {
	// Join registers this host as a member of vgName's lockspace.
	Join(ctx context.Context, vgName, vgUUID string) error
	// Leave removes this host from the lockspace.
	Leave(ctx context.Context, vgName string) error
	// Name reports the backend's lock_type string ("dlm", "sanlock", "idm").
	Name() string
}

// Resolve returns the Backend implementation for a lock_type string.
func Resolve(lockType string) (Backend, error) {
	switch lockType {
	case "dlm":
		return &DLMBackend{}, nil
	case "sanlock":
		return &SanlockBackend{}, nil
	case "idm":
		return &IDMBackend{}, nil
	case "", "none":
		return &MemoryBackend{name: "none"}, nil
	default:
		return nil, errUnknownLockType(lockType)
	}
}

type unknownLockTypeError string

func (e unknownLockTypeError) Error() string { return "backend: unknown lock_type " + string(e) }

func errUnknownLockType(lockType string) error { return unknownLockTypeError(lockType) }
