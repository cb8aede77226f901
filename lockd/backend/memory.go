package backend

import (
	"context"
	"sync"
)

// MemoryBackend is a single-host, in-memory stand-in for a real cluster
// lock manager: joining always succeeds and membership is tracked purely
// for bookkeeping. It is what lock_type "none" resolves to, and what tests
// use to exercise the daemon without a DLM/sanlock/idm dependency.
type MemoryBackend struct {
	name string
	mu   sync.Mutex
	vgs  map[string]bool
}

func (b *MemoryBackend) Name() string {
	if b.name == "" {
		return "none"
	}
	return b.name
}

func (b *MemoryBackend) Join(_ context.Context, vgName, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vgs == nil {
		b.vgs = make(map[string]bool)
	}
	b.vgs[vgName] = true
	return nil
}

func (b *MemoryBackend) Leave(_ context.Context, vgName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vgs, vgName)
	return nil
}
