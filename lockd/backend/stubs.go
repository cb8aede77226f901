package backend

import "context"

// DLMBackend, SanlockBackend, and IDMBackend document the three real
// backends lvmlockd supports without implementing the kernel DLM socket
// protocol or the sanlock/idm library calls themselves (spec §1's explicit
// non-goal). Join/Leave return an error identifying the gap rather than
// silently behaving like MemoryBackend, so a caller that asks for "dlm"
// gets a clear signal instead of accidentally running single-host.
type DLMBackend struct{}

func (b *DLMBackend) Name() string { return "dlm" }

func (b *DLMBackend) Join(_ context.Context, vgName, _ string) error {
	return errNotImplemented{backend: "dlm", vgName: vgName}
}

func (b *DLMBackend) Leave(context.Context, string) error { return nil }

type SanlockBackend struct{}

func (b *SanlockBackend) Name() string { return "sanlock" }

func (b *SanlockBackend) Join(_ context.Context, vgName, _ string) error {
	return errNotImplemented{backend: "sanlock", vgName: vgName}
}

func (b *SanlockBackend) Leave(context.Context, string) error { return nil }

type IDMBackend struct{}

func (b *IDMBackend) Name() string { return "idm" }

func (b *IDMBackend) Join(_ context.Context, vgName, _ string) error {
	return errNotImplemented{backend: "idm", vgName: vgName}
}

func (b *IDMBackend) Leave(context.Context, string) error { return nil }

type errNotImplemented struct {
	backend string
	vgName  string
}

func (e errNotImplemented) Error() string {
	return "backend: " + e.backend + " integration is not available in this build (vg " + e.vgName + ")"
}
