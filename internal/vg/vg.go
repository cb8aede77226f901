// Package vg implements the VG object model's mutators (spec §4.3):
// creating and growing the group itself, adding and removing PVs, and the
// LV lifecycle operations built on top of internal/alloc's placement
// decisions. Every exported function only mutates its vg argument; callers
// own persisting the result through internal/mdastore.
//
// Grounded on original_source/lib/metadata/lv_manip.c and vg.c's mutator
// shapes (vg_create, vg_extend, lv_create_empty, lv_extend, lv_reduce,
// lv_remove), reworked from goto-cleanup C into early-return Go.
package vg

import (
	"time"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/alloc"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

// CreateOptions configures AllocVG.
type CreateOptions struct {
	Name       string
	ExtentSize uint64
	SystemID   string
	LockType   vgtypes.LockType
}

// AllocVG creates a new, empty VG (spec §4.3's vg_create).
func AllocVG(opts CreateOptions) (*vgtypes.VG, error) {
	if opts.Name == "" {
		return nil, lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "vg name must not be empty")
	}
	if opts.ExtentSize == 0 {
		return nil, lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "vg extent size must be nonzero")
	}
	lockType := opts.LockType
	if lockType == "" {
		lockType = vgtypes.LockTypeNone
	}
	return &vgtypes.VG{
		UUID:       uuidfmt.New(),
		Name:       opts.Name,
		Seqno:      1,
		ExtentSize: opts.ExtentSize,
		SystemID:   opts.SystemID,
		LockType:   lockType,
		Status:     vgtypes.VGWrite | vgtypes.VGResizeable,
	}, nil
}

// AddPV extends vg with a new physical volume (spec §4.3's vg_extend).
func AddPV(vgRef *vgtypes.VG, pv *vgtypes.PV) error {
	if vgRef.FindPV(pv.UUID) != nil {
		return lvmerr.New(lvmerr.ErrNameCollision.Tag, lvmerr.KindValidation, "pv already belongs to this vg")
	}
	pv.Status |= vgtypes.PVAllocatable
	if pv.Allocated == nil {
		pv.Allocated = make([]bool, pv.PECount)
	}
	vgRef.PVs = append(vgRef.PVs, pv)
	vgRef.Seqno++
	return nil
}

// RemovePV removes an unused physical volume from vg (spec §4.3's
// vg_reduce). It refuses to remove a PV with any extents still allocated,
// matching the original's pv_in_use check.
func RemovePV(vgRef *vgtypes.VG, pvUUID vgtypes.UUID) error {
	pv := vgRef.FindPV(pvUUID)
	if pv == nil {
		return lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "pv not found in vg")
	}
	if pv.PEAllocCount() > 0 {
		return lvmerr.ErrPVInUse
	}
	for i, p := range vgRef.PVs {
		if p.UUID == pvUUID {
			vgRef.PVs = append(vgRef.PVs[:i], vgRef.PVs[i+1:]...)
			break
		}
	}
	vgRef.Seqno++
	return nil
}

// CreateLVOptions configures CreateLV.
type CreateLVOptions struct {
	Name        string
	Extents     uint64
	Policy      vgtypes.AllocPolicy
	Stripes     int
	StripeSize  uint64
	ReadAhead   uint32
	Tags        []string
}

// CreateLV allocates extents for a new linear or striped LV and appends it
// to vg (spec §4.3's lv_create, restricted to the area-mapped segment
// types; pool/thin/cache/raid creation is layered on top by their own
// constructors since they also need sub-LVs of their own).
func CreateLV(vgRef *vgtypes.VG, opts CreateLVOptions) (*vgtypes.LV, error) {
	if opts.Name == "" {
		return nil, lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "lv name must not be empty")
	}
	if vgRef.FindLV(opts.Name) != nil {
		return nil, lvmerr.ErrNameCollision
	}

	placements, err := alloc.Plan(vgRef, alloc.Request{
		Extents: opts.Extents,
		Policy:  opts.Policy,
		Stripes: opts.Stripes,
	})
	if err != nil {
		return nil, err
	}
	alloc.Apply(vgRef, placements)

	kind := "linear"
	if opts.Stripes > 1 {
		kind = "striped"
	}
	areas := make([]vgtypes.Area, len(placements))
	for i, p := range placements {
		areas[i] = vgtypes.Area{Type: vgtypes.AreaPV, PVUUID: p.PVUUID, PEStart: p.PEStart}
	}

	lv := &vgtypes.LV{
		UUID:             uuidfmt.New(),
		Name:             opts.Name,
		Status:           vgtypes.LVVisible,
		AllocPolicy:      opts.Policy,
		ReadAhead:        opts.ReadAhead,
		Tags:             opts.Tags,
		CreationTimeUnix: nowUnix(),
		Segments: []*vgtypes.Segment{{
			StartExtent: 0,
			ExtentLen:   opts.Extents,
			Variant:     &vgtypes.AreaSegment{Kind: kind, Areas: areas, StripeSize: opts.StripeSize},
		}},
	}
	vgRef.LVs = append(vgRef.LVs, lv)
	vgRef.Seqno++
	return lv, nil
}

// ExtendLV grows lv by appending a new segment covering additional extents
// (spec §4.3's lv_extend). It does not attempt to merge the new segment
// into the last one even when contiguous, matching the original's
// preference for a fresh lv_segment per extend call.
func ExtendLV(vgRef *vgtypes.VG, lv *vgtypes.LV, extraExtents uint64, policy vgtypes.AllocPolicy) error {
	if extraExtents == 0 {
		return lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "extend request for zero extents")
	}
	placements, err := alloc.Plan(vgRef, alloc.Request{Extents: extraExtents, Policy: policy})
	if err != nil {
		return err
	}
	alloc.Apply(vgRef, placements)

	areas := make([]vgtypes.Area, len(placements))
	for i, p := range placements {
		areas[i] = vgtypes.Area{Type: vgtypes.AreaPV, PVUUID: p.PVUUID, PEStart: p.PEStart}
	}
	lv.Segments = append(lv.Segments, &vgtypes.Segment{
		StartExtent: lv.SizeExtents(),
		ExtentLen:   extraExtents,
		Variant:     &vgtypes.AreaSegment{Kind: "linear", Areas: areas},
	})
	vgRef.Seqno++
	return nil
}

// ReduceLV shrinks lv to newExtentCount, dropping or truncating trailing
// segments and releasing their extents (spec §4.3's lv_reduce). It refuses
// to reduce a locked LV.
func ReduceLV(vgRef *vgtypes.VG, lv *vgtypes.LV, newExtentCount uint64) error {
	if lv.Status.Has(vgtypes.LVLocked) {
		return lvmerr.ErrInUse
	}
	current := lv.SizeExtents()
	if newExtentCount >= current {
		return lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "reduce target must be smaller than current size")
	}

	var kept []*vgtypes.Segment
	var released []alloc.Placement
	var seen uint64
	for _, seg := range lv.Segments {
		if seen >= newExtentCount {
			released = append(released, segmentPlacements(seg)...)
			continue
		}
		if seen+seg.ExtentLen <= newExtentCount {
			kept = append(kept, seg)
			seen += seg.ExtentLen
			continue
		}
		// partial truncation of the final retained segment
		keepLen := newExtentCount - seen
		dropLen := seg.ExtentLen - keepLen
		released = append(released, truncateSegmentAreas(seg, keepLen, dropLen)...)
		seg.ExtentLen = keepLen
		kept = append(kept, seg)
		seen = newExtentCount
	}

	alloc.Release(vgRef, released)
	lv.Segments = kept
	vgRef.Seqno++
	return nil
}

// RemoveLV deletes lv from vg entirely, releasing all of its extents (spec
// §4.3's lv_remove). It refuses to remove an LV with visible dependents
// (snapshots, thin devices, cache/raid/mirror images referencing it as a
// sub-LV) — callers must remove those first.
func RemoveLV(vgRef *vgtypes.VG, lvUUID vgtypes.UUID) error {
	lv := vgRef.FindLVByUUID(lvUUID)
	if lv == nil {
		return lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "lv not found in vg")
	}
	for _, other := range vgRef.LVs {
		if other.UUID == lvUUID {
			continue
		}
		if referencesLV(other, lvUUID) {
			return lvmerr.ErrInUse
		}
	}

	var released []alloc.Placement
	for _, seg := range lv.Segments {
		released = append(released, segmentPlacements(seg)...)
	}
	alloc.Release(vgRef, released)

	for i, l := range vgRef.LVs {
		if l.UUID == lvUUID {
			vgRef.LVs = append(vgRef.LVs[:i], vgRef.LVs[i+1:]...)
			break
		}
	}

	// Hidden sub-LVs lv referenced (conversion layers, cow stores) go with
	// it, extents included; one that another LV still references is kept,
	// since the recursive RemoveLV refuses it before changing anything.
	for _, seg := range lv.Segments {
		for _, id := range subLVReferences(seg.Variant) {
			if sub := vgRef.FindLVByUUID(id); sub != nil && !sub.Status.Has(vgtypes.LVVisible) {
				_ = RemoveLV(vgRef, id)
			}
		}
	}
	vgRef.Seqno++
	return nil
}

// RenameLV renames lv within vg, refusing collisions (spec §4.3's
// lv_rename).
func RenameLV(vgRef *vgtypes.VG, lv *vgtypes.LV, newName string) error {
	if newName == "" {
		return lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "new lv name must not be empty")
	}
	if existing := vgRef.FindLV(newName); existing != nil && existing.UUID != lv.UUID {
		return lvmerr.ErrNameCollision
	}
	lv.Name = newName
	vgRef.Seqno++
	return nil
}

// CreateSnapshotOptions configures CreateSnapshot.
type CreateSnapshotOptions struct {
	Name      string
	Extents   uint64 // cow store size, in extents
	ChunkSize uint64
	Policy    vgtypes.AllocPolicy
}

// CreateSnapshot allocates a hidden cow-store LV and a new snapshot LV
// layered over origin (spec §4.3's lv_create_snapshot, spec §8 scenario 3).
// origin is marked LVOrigin; the snapshot LV itself carries the
// SnapshotSegment referencing both origin and its cow store.
func CreateSnapshot(vgRef *vgtypes.VG, origin *vgtypes.LV, opts CreateSnapshotOptions) (*vgtypes.LV, error) {
	if opts.Name == "" {
		return nil, lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "snapshot name must not be empty")
	}
	if vgRef.FindLV(opts.Name) != nil {
		return nil, lvmerr.ErrNameCollision
	}
	if origin.Status.Has(vgtypes.LVLocked) {
		return nil, lvmerr.ErrInUse
	}

	cow, err := CreateLV(vgRef, CreateLVOptions{
		Name:    opts.Name + "_cow",
		Extents: opts.Extents,
		Policy:  opts.Policy,
	})
	if err != nil {
		return nil, err
	}
	cow.Status &^= vgtypes.LVVisible

	snap := &vgtypes.LV{
		UUID:             uuidfmt.New(),
		Name:             opts.Name,
		Status:           vgtypes.LVVisible,
		CreationTimeUnix: nowUnix(),
		Segments: []*vgtypes.Segment{{
			StartExtent: 0,
			ExtentLen:   origin.SizeExtents(),
			Variant: &vgtypes.SnapshotSegment{
				OriginUUID: origin.UUID,
				CowUUID:    cow.UUID,
				ChunkSize:  opts.ChunkSize,
			},
		}},
	}
	vgRef.LVs = append(vgRef.LVs, snap)
	origin.Status |= vgtypes.LVOrigin
	origin.OriginCount++
	vgRef.Seqno++
	return snap, nil
}

// MergeSnapshot begins merging snap back into its origin (spec §4.3's
// lv_merge, spec §8 scenario 3's second half). Both snap and its origin are
// marked LVMerging until the caller confirms the merge completed and calls
// FinishMergeSnapshot.
func MergeSnapshot(vgRef *vgtypes.VG, snap *vgtypes.LV) error {
	seg, err := snapshotSegmentOf(snap)
	if err != nil {
		return err
	}
	if seg.Merging {
		return lvmerr.ErrInUse
	}
	origin := vgRef.FindLVByUUID(seg.OriginUUID)
	if origin == nil {
		return lvmerr.ErrNotFound
	}
	seg.Merging = true
	snap.Status |= vgtypes.LVMerging
	origin.Status |= vgtypes.LVMerging
	vgRef.Seqno++
	return nil
}

// FinishMergeSnapshot completes a merge MergeSnapshot began: snap and its
// cow store are removed from vg and origin's LVMerging flag is cleared,
// the same "merge finished, drop the temporary layer" cleanup FinishConvert
// performs for plain conversions, once the actual data merge has copied
// every changed chunk back onto origin.
func FinishMergeSnapshot(vgRef *vgtypes.VG, snap *vgtypes.LV) error {
	seg, err := snapshotSegmentOf(snap)
	if err != nil {
		return err
	}
	origin := vgRef.FindLVByUUID(seg.OriginUUID)
	if origin == nil {
		return lvmerr.ErrNotFound
	}

	for _, uuid := range []vgtypes.UUID{snap.UUID, seg.CowUUID} {
		for i, l := range vgRef.LVs {
			if l.UUID == uuid {
				vgRef.LVs = append(vgRef.LVs[:i], vgRef.LVs[i+1:]...)
				break
			}
		}
	}

	origin.Status &^= vgtypes.LVMerging
	if origin.OriginCount > 0 {
		origin.OriginCount--
	}
	if origin.OriginCount == 0 {
		origin.Status &^= vgtypes.LVOrigin
	}
	vgRef.Seqno++
	return nil
}

func snapshotSegmentOf(lv *vgtypes.LV) (*vgtypes.SnapshotSegment, error) {
	if len(lv.Segments) != 1 {
		return nil, lvmerr.New(lvmerr.ErrUnsupportedConversion.Tag, lvmerr.KindValidation, "merge requires a single-segment snapshot lv")
	}
	seg, ok := lv.Segments[0].Variant.(*vgtypes.SnapshotSegment)
	if !ok {
		return nil, lvmerr.New(lvmerr.ErrUnsupportedConversion.Tag, lvmerr.KindValidation, "lv is not a snapshot")
	}
	return seg, nil
}

// ForEachSubLV calls fn for every LV directly referenced by lv's segments
// (via an AreaLV area, or a pool/cache/raid/thin UUID field), matching the
// recursive sub-LV walk the original performs before activation or removal.
func ForEachSubLV(vgRef *vgtypes.VG, lv *vgtypes.LV, fn func(*vgtypes.LV) error) error {
	for _, seg := range lv.Segments {
		for _, id := range subLVReferences(seg.Variant) {
			sub := vgRef.FindLVByUUID(id)
			if sub == nil {
				continue
			}
			if err := fn(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func referencesLV(lv *vgtypes.LV, target vgtypes.UUID) bool {
	for _, seg := range lv.Segments {
		for _, id := range subLVReferences(seg.Variant) {
			if id == target {
				return true
			}
		}
	}
	return false
}

func subLVReferences(v vgtypes.SegmentVariant) []vgtypes.UUID {
	var ids []vgtypes.UUID
	addArea := func(areas []vgtypes.Area) {
		for _, a := range areas {
			if a.Type == vgtypes.AreaLV {
				ids = append(ids, a.LVUUID)
			}
		}
	}
	switch s := v.(type) {
	case *vgtypes.AreaSegment:
		addArea(s.Areas)
	case *vgtypes.MirrorSegment:
		addArea(s.Areas)
		if s.LogLVUUID != nil {
			ids = append(ids, *s.LogLVUUID)
		}
	case *vgtypes.RaidSegment:
		addArea(s.Areas)
		addArea(s.MetaAreas)
	case *vgtypes.SnapshotSegment:
		ids = append(ids, s.OriginUUID, s.CowUUID)
	case *vgtypes.ThinPoolSegment:
		ids = append(ids, s.DataLVUUID, s.MetadataLVUUID)
	case *vgtypes.ThinSegment:
		ids = append(ids, s.PoolLVUUID)
	case *vgtypes.CachePoolSegment:
		ids = append(ids, s.DataLVUUID, s.MetadataLVUUID)
	case *vgtypes.CacheSegment:
		ids = append(ids, s.PoolLVUUID, s.OriginLVUUID)
	case *vgtypes.WriteCacheSegment:
		ids = append(ids, s.OriginUUID, s.FastUUID)
	case *vgtypes.IntegritySegment:
		ids = append(ids, s.OriginUUID, s.MetadataUUID)
	case *vgtypes.VDOPoolSegment:
		ids = append(ids, s.DataLVUUID)
	case *vgtypes.VDOSegment:
		ids = append(ids, s.PoolLVUUID)
	}
	return ids
}

func segmentPlacements(seg *vgtypes.Segment) []alloc.Placement {
	var out []alloc.Placement
	areaSeg, ok := seg.Variant.(*vgtypes.AreaSegment)
	if !ok {
		return nil
	}
	for _, a := range areaSeg.Areas {
		if a.Type == vgtypes.AreaPV {
			out = append(out, alloc.Placement{PVUUID: a.PVUUID, PEStart: a.PEStart, Len: seg.ExtentLen})
		}
	}
	return out
}

func truncateSegmentAreas(seg *vgtypes.Segment, keepLen, dropLen uint64) []alloc.Placement {
	areaSeg, ok := seg.Variant.(*vgtypes.AreaSegment)
	if !ok {
		return nil
	}
	var released []alloc.Placement
	for _, a := range areaSeg.Areas {
		if a.Type == vgtypes.AreaPV {
			released = append(released, alloc.Placement{PVUUID: a.PVUUID, PEStart: a.PEStart + keepLen, Len: dropLen})
		}
	}
	return released
}

func nowUnix() int64 {
	return time.Now().Unix()
}
