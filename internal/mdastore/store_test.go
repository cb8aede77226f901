package mdastore

import (
	"context"
	"sync"
	"testing"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

// memDevice is an in-memory Device for exercising the store without a real
// block device.
type memDevice struct {
	mu   sync.Mutex
	data []byte
}

func newMemDevice(size int) *memDevice {
	return &memDevice{data: make([]byte, size)}
}

func (d *memDevice) ReadRange(_ context.Context, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := offset + size
	if end > uint64(len(d.data)) {
		end = uint64(len(d.data))
	}
	out := make([]byte, end-offset)
	copy(out, d.data[offset:end])
	return out, nil
}

func (d *memDevice) WriteRange(_ context.Context, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := offset + uint64(len(data))
	if end > uint64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	copy(d.data[offset:], data)
	return nil
}

func sampleVG() *vgtypes.VG {
	pv := &vgtypes.PV{
		UUID:      uuidfmt.New(),
		DeviceID:  "/dev/sdb1",
		PECount:   100,
		PESize:    4 * 1024 * 1024,
		Allocated: make([]bool, 100),
		Status:    vgtypes.PVAllocatable,
	}
	lv := &vgtypes.LV{
		UUID:   uuidfmt.New(),
		Name:   "root",
		Status: vgtypes.LVVisible,
		Segments: []*vgtypes.Segment{
			{
				StartExtent: 0,
				ExtentLen:   10,
				Variant: &vgtypes.AreaSegment{
					Kind:  "linear",
					Areas: []vgtypes.Area{{Type: vgtypes.AreaPV, PVUUID: pv.UUID, PEStart: 0}},
				},
			},
		},
	}
	for pe := uint64(0); pe < 10; pe++ {
		pv.Allocated[pe] = true
	}
	return &vgtypes.VG{
		UUID:       uuidfmt.New(),
		Name:       "vg0",
		Seqno:      1,
		ExtentSize: pv.PESize,
		LockType:   vgtypes.LockTypeNone,
		Status:     vgtypes.VGWrite | vgtypes.VGResizeable,
		PVs:        []*vgtypes.PV{pv},
		LVs:        []*vgtypes.LV{lv},
	}
}

func TestConvertRoundTrip(t *testing.T) {
	vg := sampleVG()
	if err := vg.Validate(); err != nil {
		t.Fatalf("sample vg failed validation: %v", err)
	}

	block := VGToBlock(vg)
	got, err := BlockToVG(block)
	if err != nil {
		t.Fatalf("BlockToVG: %v", err)
	}
	if got.Name != vg.Name || got.Seqno != vg.Seqno || got.UUID != vg.UUID {
		t.Fatalf("round trip lost vg identity: got %+v", got)
	}
	if len(got.LVs) != 1 || got.LVs[0].Name != "root" {
		t.Fatalf("round trip lost lv: got %+v", got.LVs)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("round-tripped vg failed validation: %v", err)
	}
}

func TestTwoPhaseCommit(t *testing.T) {
	vg := sampleVG()
	devA := newMemDevice(8192)
	devB := newMemDevice(8192)
	areas := []AreaHandle{{Device: devA, Offset: 0}, {Device: devB, Offset: 0}}

	tx := Begin(vg, areas, 4096)
	ctx := context.Background()
	if err := tx.Precommit(ctx); err != nil {
		t.Fatalf("Precommit: %v", err)
	}
	committed, failed, err := tx.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if committed != 2 || failed != 0 {
		t.Fatalf("commit counts = %d/%d, want 2/0", committed, failed)
	}

	result, err := ReadVG(ctx, areas, 4096)
	if err != nil {
		t.Fatalf("ReadVG: %v", err)
	}
	if result.Partial {
		t.Fatal("expected a full, non-partial read")
	}
	if result.VG.Seqno != vg.Seqno {
		t.Fatalf("read back seqno %d, want %d", result.VG.Seqno, vg.Seqno)
	}
}

func TestReadVGToleratesOneBadArea(t *testing.T) {
	vg := sampleVG()
	devGood := newMemDevice(8192)
	devBad := newMemDevice(8192) // left empty: unparseable
	areas := []AreaHandle{{Device: devGood, Offset: 0}, {Device: devBad, Offset: 0}}

	tx := Begin(vg, []AreaHandle{areas[0]}, 4096)
	ctx := context.Background()
	if err := tx.Precommit(ctx); err != nil {
		t.Fatalf("Precommit: %v", err)
	}

	result, err := ReadVG(ctx, areas, 4096)
	if err != nil {
		t.Fatalf("ReadVG: %v", err)
	}
	if !result.Partial {
		t.Fatal("expected partial read with one unreadable area")
	}
	if result.VG.Seqno != vg.Seqno {
		t.Fatalf("got seqno %d, want %d", result.VG.Seqno, vg.Seqno)
	}
}
