package blockdev

import (
	"context"
	"os"
	"testing"
)

func TestFileReadWriteRange(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "blockdev")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := tmp.Name()
	if err := tmp.Truncate(4096); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	tmp.Close()

	dev, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	ctx := context.Background()
	payload := []byte("hello metadata area")
	if err := dev.WriteRange(ctx, 512, payload); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	got, err := dev.ReadRange(ctx, 512, uint64(len(payload)))
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("ReadRange = %q, want %q", got, payload)
	}

	var buf [8]byte
	n, err := dev.ReadAt(buf[:], 512)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf[:n]) != "hello me" {
		t.Fatalf("ReadAt = %q", buf[:n])
	}
}

func TestOpenLocksExclusively(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "blockdev")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := tmp.Name()
	tmp.Close()

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open (first): %v", err)
	}
	defer first.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected second Open to fail while the first holds the lock")
	}
}
