package core

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/crcfletcher"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/mdastore"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vg"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/client"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

// memDevice is a minimal in-memory mdastore.Device, duplicated here rather
// than imported since internal/mdastore's is unexported to its _test.go file.
type memDevice struct {
	mu   sync.Mutex
	data []byte
}

func (d *memDevice) ReadRange(_ context.Context, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := offset + size
	if end > uint64(len(d.data)) {
		end = uint64(len(d.data))
	}
	if offset > end {
		return nil, nil
	}
	out := make([]byte, size)
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
	copy(d.data[offset:end], data)
	return nil
}

// fakeLocker counts lock/unlock calls without any real cluster backend, so
// tests can assert the orchestration layer actually goes through the
// locking sequence it claims to.
type fakeLocker struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLocker) LockGL(_ context.Context, mode wire.LockMode, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "gl:"+mode.String())
	return nil
}

func (f *fakeLocker) LockVG(_ context.Context, opts client.LockOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "vg:"+opts.VGName+":"+opts.Mode.String())
	return nil
}

func (f *fakeLocker) UpdateVG(_ context.Context, vgName string, version uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update:"+vgName)
	return nil
}

func areaPair() []mdastore.AreaHandle {
	return []mdastore.AreaHandle{
		{Device: &memDevice{}, Offset: 0},
		{Device: &memDevice{}, Offset: 0},
	}
}

func TestCreateVGAndLoadBack(t *testing.T) {
	ctx := context.Background()
	locker := &fakeLocker{}
	c := &Core{Locker: locker, AreaSize: 8192}
	areas := areaPair()

	vgRef, err := c.CreateVG(ctx, VGCreateOptions{
		CreateOptions: vg.CreateOptions{Name: "vg0", ExtentSize: 4 * 1024 * 1024},
		Areas:         areas,
	})
	if err != nil {
		t.Fatalf("CreateVG: %v", err)
	}
	if vgRef.Name != "vg0" {
		t.Fatalf("vg name = %q", vgRef.Name)
	}

	result, err := Load(ctx, areas, 8192)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.VG.Name != "vg0" || result.Partial {
		t.Fatalf("loaded vg = %+v", result)
	}

	foundGL, foundVGLock := false, false
	for _, call := range locker.calls {
		if call == "gl:ex" {
			foundGL = true
		}
		if call == "update:vg0" {
			foundVGLock = true
		}
	}
	if !foundGL || !foundVGLock {
		t.Fatalf("expected GL lock and update_vg call, got %v", locker.calls)
	}
}

func TestFullLifecycleThroughCore(t *testing.T) {
	ctx := context.Background()
	c := &Core{AreaSize: 8192} // no locker: single-host mode
	areas := areaPair()

	vgRef, err := c.CreateVG(ctx, VGCreateOptions{CreateOptions: vg.CreateOptions{Name: "vg0", ExtentSize: 4 << 20}})
	if err != nil {
		t.Fatalf("CreateVG: %v", err)
	}

	pv := &vgtypes.PV{UUID: uuidfmt.New(), PECount: 100}
	if err := c.ExtendVG(ctx, vgRef, pv, areas); err != nil {
		t.Fatalf("ExtendVG: %v", err)
	}

	lv, err := c.LVCreate(ctx, vgRef, vg.CreateLVOptions{Name: "lv0", Extents: 10, Policy: vgtypes.AllocAnywhere}, areas)
	if err != nil {
		t.Fatalf("LVCreate: %v", err)
	}

	if err := c.LVResize(ctx, vgRef, lv, 20, vgtypes.AllocAnywhere, areas); err != nil {
		t.Fatalf("LVResize (grow): %v", err)
	}
	if lv.SizeExtents() != 20 {
		t.Fatalf("SizeExtents after grow = %d", lv.SizeExtents())
	}

	if err := c.LVResize(ctx, vgRef, lv, 5, vgtypes.AllocAnywhere, areas); err != nil {
		t.Fatalf("LVResize (shrink): %v", err)
	}
	if lv.SizeExtents() != 5 {
		t.Fatalf("SizeExtents after shrink = %d", lv.SizeExtents())
	}

	if err := c.LVRename(ctx, vgRef, lv, "lv0renamed", areas); err != nil {
		t.Fatalf("LVRename: %v", err)
	}
	if vgRef.FindLV("lv0renamed") == nil {
		t.Fatal("renamed LV not found")
	}

	if err := c.LVConvert(ctx, vgRef, lv, "raid_raid1", areas); err != nil {
		t.Fatalf("LVConvert: %v", err)
	}
	if !lv.Status.Has(vgtypes.LVConverting) {
		t.Fatal("expected LVConverting flag set")
	}
	if err := c.LVConvertFinish(ctx, vgRef, lv, areas); err != nil {
		t.Fatalf("LVConvertFinish: %v", err)
	}
	if lv.Status.Has(vgtypes.LVConverting) {
		t.Fatal("expected LVConverting flag cleared")
	}

	if err := c.LVRemove(ctx, vgRef, lv.UUID, areas); err != nil {
		t.Fatalf("LVRemove: %v", err)
	}
	if vgRef.FindLVByUUID(lv.UUID) != nil {
		t.Fatal("expected lv removed")
	}

	if err := c.RemoveVG(ctx, vgRef); err != nil {
		t.Fatalf("RemoveVG: %v", err)
	}
}

// buildLabelSector renders a minimal LABELONE sector naming a single
// metadata area at (mdaOffset, mdaSize), duplicated here rather than
// imported since internal/label's is unexported to its _test.go file.
func buildLabelSector(sector int64, id uuidfmt.ID, deviceSize, mdaOffset, mdaSize uint64) []byte {
	const sectorSize = 512
	buf := make([]byte, sectorSize)
	copy(buf[0:8], []byte("LABELONE"))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(sector))
	binary.LittleEndian.PutUint32(buf[20:24], 32)
	copy(buf[24:32], []byte("LVM2 001"))

	copy(buf[32:64], id[:])
	binary.LittleEndian.PutUint64(buf[64:72], deviceSize)

	// data areas: none, terminated immediately.
	p := 72
	binary.LittleEndian.PutUint64(buf[p:p+8], 0)
	binary.LittleEndian.PutUint64(buf[p+8:p+16], 0)
	p += 16

	// metadata areas: one entry, then the terminator.
	binary.LittleEndian.PutUint64(buf[p:p+8], mdaOffset)
	binary.LittleEndian.PutUint64(buf[p+8:p+16], mdaSize)
	p += 16
	binary.LittleEndian.PutUint64(buf[p:p+8], 0)
	binary.LittleEndian.PutUint64(buf[p+8:p+16], 0)

	crc := crcfletcher.Sum(crcfletcher.InitialSeed, buf[20:])
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	return buf
}

func TestRescanFindsVGAcrossLabeledDevice(t *testing.T) {
	ctx := context.Background()
	c := &Core{AreaSize: 8192}

	vgRef, err := c.CreateVG(ctx, VGCreateOptions{CreateOptions: vg.CreateOptions{Name: "vgscan", ExtentSize: 4 << 20}})
	if err != nil {
		t.Fatalf("CreateVG: %v", err)
	}

	dev := &memDevice{}
	const mdaOffset = 4096
	if err := c.commit(ctx, vgRef, []mdastore.AreaHandle{{Device: dev, Offset: mdaOffset}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	pvID := uuidfmt.New()
	label := buildLabelSector(1, pvID, 2048, mdaOffset, 8192)
	if err := dev.WriteRange(ctx, 512, label); err != nil {
		t.Fatalf("writing label sector: %v", err)
	}

	results, err := Rescan(ctx, []ScanDevice{{DeviceID: "/dev/fake0", Device: dev}}, nil, 8192)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	found, ok := results[vgRef.UUID]
	if !ok {
		t.Fatalf("expected vg %s among rescan results, got %+v", vgRef.UUID, results)
	}
	if found.VG.Name != "vgscan" {
		t.Fatalf("rescanned vg name = %q, want vgscan", found.VG.Name)
	}

	filtered, err := Rescan(ctx, []ScanDevice{{DeviceID: "/dev/fake0", Device: dev}}, func(id string) bool { return id != "/dev/fake0" }, 8192)
	if err != nil {
		t.Fatalf("Rescan with filter: %v", err)
	}
	if len(filtered) != 0 {
		t.Fatalf("expected filter to exclude the only device, got %+v", filtered)
	}
}

func TestRemoveVGRefusesWithLVs(t *testing.T) {
	ctx := context.Background()
	c := &Core{AreaSize: 8192}
	vgRef, err := c.CreateVG(ctx, VGCreateOptions{CreateOptions: vg.CreateOptions{Name: "vg0", ExtentSize: 4 << 20}})
	if err != nil {
		t.Fatalf("CreateVG: %v", err)
	}
	pv := &vgtypes.PV{UUID: uuidfmt.New(), PECount: 100}
	areas := areaPair()
	if err := c.ExtendVG(ctx, vgRef, pv, areas); err != nil {
		t.Fatalf("ExtendVG: %v", err)
	}
	if _, err := c.LVCreate(ctx, vgRef, vg.CreateLVOptions{Name: "lv0", Extents: 10, Policy: vgtypes.AllocAnywhere}, areas); err != nil {
		t.Fatalf("LVCreate: %v", err)
	}
	if err := c.RemoveVG(ctx, vgRef); err == nil {
		t.Fatal("expected RemoveVG to refuse while LVs remain")
	}
}
