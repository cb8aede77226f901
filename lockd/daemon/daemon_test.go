package daemon

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/sailfishos-mirror/lvm2-sub002/lockd/backend"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return New(logr.Discard(), NewUnregisteredMetrics(), func(string) (backend.Backend, error) {
		return &backend.MemoryBackend{}, nil
	})
}

func TestStartStopVG(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.StartVG("vg0", "uuid-0", "none", true); err != nil {
		t.Fatalf("StartVG: %v", err)
	}
	if err := d.StartVG("vg0", "uuid-0", "none", true); err != nil {
		t.Fatalf("StartVG idempotent call: %v", err)
	}
	if err := d.StopVG("vg0"); err != nil {
		t.Fatalf("StopVG: %v", err)
	}
	if err := d.StopVG("vg0"); err == nil {
		t.Fatal("expected error stopping an already-stopped lockspace")
	}
}

func TestDispatchLockExclusiveThenShared(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.StartVG("vg0", "uuid-0", "none", false); err != nil {
		t.Fatalf("StartVG: %v", err)
	}
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, wire.Request{Op: wire.OpLock, Resource: wire.ResourceVG, Mode: wire.ModeExclusive, VGName: "vg0"})
	if err != nil {
		t.Fatalf("Dispatch lock ex: %v", err)
	}
	if resp.Result != 0 {
		t.Fatalf("lock ex result = %d, want 0", resp.Result)
	}

	resp, err = d.Dispatch(ctx, wire.Request{Op: wire.OpLock, Resource: wire.ResourceVG, Mode: wire.ModeShared, VGName: "vg0"})
	if err != nil {
		t.Fatalf("Dispatch lock sh: %v", err)
	}
	if resp.Result == 0 {
		t.Fatal("expected shared lock request to conflict with held exclusive lock")
	}
}

func TestDispatchUnknownLockspace(t *testing.T) {
	d := newTestDaemon(t)
	if _, err := d.Dispatch(context.Background(), wire.Request{Op: wire.OpLock, VGName: "missing"}); err == nil {
		t.Fatal("expected error dispatching to an unstarted lockspace")
	}
}

func TestGLOwnershipFirstJoinerWins(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.StartVG("vgb", "uuid-b", "none", true); err != nil {
		t.Fatalf("StartVG vgb: %v", err)
	}
	if err := d.StartVG("vga", "uuid-a", "none", true); err != nil {
		t.Fatalf("StartVG vga: %v", err)
	}
	// vga sorts first alphabetically but joined second, so vgb, which
	// asked for the GL first, keeps it.
	if d.glOwner != "vgb" {
		t.Fatalf("gl owner = %q, want vgb", d.glOwner)
	}
}
