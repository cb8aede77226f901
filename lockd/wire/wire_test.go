package wire

import (
	"bufio"
	"bytes"
	"context"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Op:       OpLock,
		Resource: ResourceLV,
		Mode:     ModeExclusive,
		Flags:    FlagWait | FlagPersistent,
		VGName:   "vg0",
		LVName:   "lv0",
		VGUUID:   "uuid-1234",
		LockArgs: "args",
		Extra:    map[string]string{"lock_type": "sanlock"},
	}
	buf := bytes.NewBuffer(Encode(req))
	got, err := ReadRequest(context.Background(), bufio.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Op != req.Op || got.Resource != req.Resource || got.Mode != req.Mode || got.Flags != req.Flags {
		t.Fatalf("scalar fields mismatch: got %+v", got)
	}
	if got.VGName != req.VGName || got.LVName != req.LVName || got.VGUUID != req.VGUUID || got.LockArgs != req.LockArgs {
		t.Fatalf("string fields mismatch: got %+v", got)
	}
	if got.Extra["lock_type"] != "sanlock" {
		t.Fatalf("extra fields not round-tripped: got %+v", got.Extra)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{Result: -11, Extra: map[string]string{"mode": "sh"}}
	buf := bytes.NewBuffer(EncodeResponse(resp))
	got, err := ReadResponse(context.Background(), bufio.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.Result != resp.Result {
		t.Fatalf("Result = %d, want %d", got.Result, resp.Result)
	}
	if got.Extra["mode"] != "sh" {
		t.Fatalf("extra fields not round-tripped: got %+v", got.Extra)
	}
}

func TestLockModeOrdering(t *testing.T) {
	if !ModeExclusive.AtLeast(ModeShared) {
		t.Fatal("EX should be at least as strong as SH")
	}
	if ModeShared.AtLeast(ModeExclusive) {
		t.Fatal("SH should not be at least as strong as EX")
	}
	if ModeShared.String() != "sh" || ModeExclusive.String() != "ex" {
		t.Fatalf("unexpected String() output: %q %q", ModeShared.String(), ModeExclusive.String())
	}
}

func TestActionFlagsHas(t *testing.T) {
	f := FlagWait | FlagAdopt
	if !f.Has(FlagWait) || !f.Has(FlagAdopt) {
		t.Fatal("Has should report set bits")
	}
	if f.Has(FlagForce) {
		t.Fatal("Has should not report unset bits")
	}
}
