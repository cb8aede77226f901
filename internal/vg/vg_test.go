package vg

import (
	"testing"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

func testVG(t *testing.T, peCount uint64) *vgtypes.VG {
	t.Helper()
	vgRef, err := AllocVG(CreateOptions{Name: "vg0", ExtentSize: 4 << 20})
	if err != nil {
		t.Fatalf("AllocVG: %v", err)
	}
	pv := &vgtypes.PV{
		UUID:      uuidfmt.New(),
		DeviceID:  "/dev/sda1",
		PECount:   peCount,
		Allocated: make([]bool, peCount),
	}
	if err := AddPV(vgRef, pv); err != nil {
		t.Fatalf("AddPV: %v", err)
	}
	return vgRef
}

func TestCreateExtendReduceRemoveLV(t *testing.T) {
	vgRef := testVG(t, 100)

	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10, Policy: vgtypes.AllocNormal})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}
	if got := vgRef.FreeCount(); got != 90 {
		t.Fatalf("free count after create = %d, want 90", got)
	}
	if err := vgRef.Validate(); err != nil {
		t.Fatalf("validate after create: %v", err)
	}

	if err := ExtendLV(vgRef, lv, 5, vgtypes.AllocNormal); err != nil {
		t.Fatalf("ExtendLV: %v", err)
	}
	if got := lv.SizeExtents(); got != 15 {
		t.Fatalf("size after extend = %d, want 15", got)
	}
	if err := vgRef.Validate(); err != nil {
		t.Fatalf("validate after extend: %v", err)
	}

	if err := ReduceLV(vgRef, lv, 8); err != nil {
		t.Fatalf("ReduceLV: %v", err)
	}
	if got := lv.SizeExtents(); got != 8 {
		t.Fatalf("size after reduce = %d, want 8", got)
	}
	if got := vgRef.FreeCount(); got != 92 {
		t.Fatalf("free count after reduce = %d, want 92", got)
	}
	if err := vgRef.Validate(); err != nil {
		t.Fatalf("validate after reduce: %v", err)
	}

	if err := RemoveLV(vgRef, lv.UUID); err != nil {
		t.Fatalf("RemoveLV: %v", err)
	}
	if got := vgRef.FreeCount(); got != 100 {
		t.Fatalf("free count after remove = %d, want 100", got)
	}
	if vgRef.FindLV("data") != nil {
		t.Fatal("lv still present after remove")
	}
}

func TestCreateLVNameCollision(t *testing.T) {
	vgRef := testVG(t, 50)
	if _, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10}); err != nil {
		t.Fatalf("CreateLV: %v", err)
	}
	if _, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 5}); err == nil {
		t.Fatal("expected name collision error")
	}
}

func TestCreateLVInsufficientExtents(t *testing.T) {
	vgRef := testVG(t, 10)
	if _, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 20}); err == nil {
		t.Fatal("expected insufficient extents error")
	}
}

func TestRemovePVRefusesInUse(t *testing.T) {
	vgRef := testVG(t, 50)
	if _, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10}); err != nil {
		t.Fatalf("CreateLV: %v", err)
	}
	if err := RemovePV(vgRef, vgRef.PVs[0].UUID); err == nil {
		t.Fatal("expected pv-in-use error")
	}
}

func TestRemoveLVRefusesWithDependents(t *testing.T) {
	vgRef := testVG(t, 50)
	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "origin", Extents: 10})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}

	cow := &vgtypes.LV{
		UUID: uuidfmt.New(),
		Name: "origin_cow",
		Segments: []*vgtypes.Segment{{
			ExtentLen: 1,
			Variant:   &vgtypes.SnapshotSegment{OriginUUID: lv.UUID, CowUUID: uuidfmt.New()},
		}},
	}
	vgRef.LVs = append(vgRef.LVs, cow)

	if err := RemoveLV(vgRef, lv.UUID); err == nil {
		t.Fatal("expected in-use error removing an lv with a dependent snapshot")
	}
}

func TestConvertLVLinearToRaid1(t *testing.T) {
	vgRef := testVG(t, 50)
	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}

	if err := ConvertLV(vgRef, lv, "raid_raid1"); err != nil {
		t.Fatalf("ConvertLV: %v", err)
	}
	if !lv.Status.Has(vgtypes.LVConverting) {
		t.Fatal("expected LVConverting flag to be set")
	}
	if lv.Segments[0].Variant.SegType() != "raid_raid1" {
		t.Fatalf("got segment type %q, want raid_raid1", lv.Segments[0].Variant.SegType())
	}
	if len(vgRef.LVs) != 2 {
		t.Fatalf("expected a hidden sub-lv to be created, got %d lvs", len(vgRef.LVs))
	}

	FinishConvert(vgRef, lv)
	if lv.Status.Has(vgtypes.LVConverting) {
		t.Fatal("expected LVConverting flag to be cleared")
	}
}

func TestConvertLVRejectsUnknownTransition(t *testing.T) {
	vgRef := testVG(t, 50)
	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}
	if err := ConvertLV(vgRef, lv, "cache"); err == nil {
		t.Fatal("expected unsupported conversion error")
	}
}

func TestConvertLVStripedToRaid5AndBack(t *testing.T) {
	vgRef := testVG(t, 50)
	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10, Stripes: 2})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}

	if err := ConvertLV(vgRef, lv, "raid_raid5"); err != nil {
		t.Fatalf("ConvertLV to raid5: %v", err)
	}
	if lv.Segments[0].Variant.SegType() != "raid_raid5" {
		t.Fatalf("got segment type %q, want raid_raid5", lv.Segments[0].Variant.SegType())
	}
	FinishConvert(vgRef, lv)

	if err := ConvertLV(vgRef, lv, "striped"); err != nil {
		t.Fatalf("ConvertLV back to striped: %v", err)
	}
	if lv.Segments[0].Variant.SegType() != "striped" {
		t.Fatalf("got segment type %q, want striped", lv.Segments[0].Variant.SegType())
	}
}

func TestAttachAndDetachCachePool(t *testing.T) {
	vgRef := testVG(t, 50)
	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "data", Extents: 10})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}
	pool, err := CreateLV(vgRef, CreateLVOptions{Name: "data_cpool", Extents: 5})
	if err != nil {
		t.Fatalf("CreateLV pool: %v", err)
	}

	if err := AttachCachePool(vgRef, lv, pool); err != nil {
		t.Fatalf("AttachCachePool: %v", err)
	}
	cacheSeg, ok := lv.Segments[0].Variant.(*vgtypes.CacheSegment)
	if !ok {
		t.Fatalf("expected CacheSegment, got %T", lv.Segments[0].Variant)
	}
	if cacheSeg.PoolLVUUID != pool.UUID {
		t.Fatal("cache segment does not reference the attached pool")
	}
	if !lv.Status.Has(vgtypes.LVConverting) {
		t.Fatal("expected LVConverting flag to be set")
	}

	if err := DetachCachePool(vgRef, lv); err != nil {
		t.Fatalf("DetachCachePool: %v", err)
	}
	if _, ok := lv.Segments[0].Variant.(*vgtypes.AreaSegment); !ok {
		t.Fatalf("expected original AreaSegment restored, got %T", lv.Segments[0].Variant)
	}
	if lv.Status.Has(vgtypes.LVConverting) {
		t.Fatal("expected LVConverting flag to be cleared after detach")
	}
}

func TestAttachThinPool(t *testing.T) {
	vgRef := testVG(t, 50)
	lv, err := CreateLV(vgRef, CreateLVOptions{Name: "pool", Extents: 10})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}
	meta, err := CreateLV(vgRef, CreateLVOptions{Name: "pool_meta", Extents: 2})
	if err != nil {
		t.Fatalf("CreateLV meta: %v", err)
	}

	if err := AttachThinPool(vgRef, lv, meta); err != nil {
		t.Fatalf("AttachThinPool: %v", err)
	}
	thinPool, ok := lv.Segments[0].Variant.(*vgtypes.ThinPoolSegment)
	if !ok {
		t.Fatalf("expected ThinPoolSegment, got %T", lv.Segments[0].Variant)
	}
	if thinPool.MetadataLVUUID != meta.UUID {
		t.Fatal("thin-pool segment does not reference the attached metadata lv")
	}
	if meta.Status.Has(vgtypes.LVVisible) {
		t.Fatal("expected metadata lv to become hidden")
	}
	if meta.Name != "pool_tmeta" {
		t.Fatalf("metadata lv name = %q, want pool_tmeta", meta.Name)
	}
}

func TestCreateAndMergeSnapshot(t *testing.T) {
	vgRef := testVG(t, 50)
	origin, err := CreateLV(vgRef, CreateLVOptions{Name: "origin", Extents: 10})
	if err != nil {
		t.Fatalf("CreateLV: %v", err)
	}

	snap, err := CreateSnapshot(vgRef, origin, CreateSnapshotOptions{Name: "snap0", Extents: 4, ChunkSize: 8})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if !origin.Status.Has(vgtypes.LVOrigin) {
		t.Fatal("expected origin to be marked LVOrigin")
	}
	if err := vgRef.Validate(); err != nil {
		t.Fatalf("validate after snapshot create: %v", err)
	}

	if err := MergeSnapshot(vgRef, snap); err != nil {
		t.Fatalf("MergeSnapshot: %v", err)
	}
	if !origin.Status.Has(vgtypes.LVMerging) {
		t.Fatal("expected origin to be marked LVMerging")
	}

	if err := FinishMergeSnapshot(vgRef, snap); err != nil {
		t.Fatalf("FinishMergeSnapshot: %v", err)
	}
	if origin.Status.Has(vgtypes.LVMerging) {
		t.Fatal("expected origin's LVMerging flag to be cleared")
	}
	if origin.Status.Has(vgtypes.LVOrigin) {
		t.Fatal("expected origin's LVOrigin flag to be cleared once its only snapshot is gone")
	}
	if vgRef.FindLV("snap0") != nil {
		t.Fatal("snapshot lv still present after merge finished")
	}
}
