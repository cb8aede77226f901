// Package alloc implements spec §4.3's extent allocator: given a VG, a
// requested extent count, and an AllocPolicy, it picks which PVs and which
// extent ranges on them will back a new segment.
//
// Grounded on the teacher's command-layer allocation hints (topolvm picks
// whole devices, never sub-device extents, so there is no direct teacher
// analogue for PE-level placement) and on original_source/lib/metadata/lv_manip.c's
// policy ordering; written in the teacher's small-package, pure-function
// style rather than as a method deep inside the VG object.
package alloc

import (
	"sort"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

// Request describes extents to allocate for one new segment.
type Request struct {
	Extents    uint64
	Policy     vgtypes.AllocPolicy
	Stripes    int      // 0 or 1 for non-striped segments
	ExcludePVs []vgtypes.UUID
}

// Placement is one contiguous run of extents claimed on a single PV.
type Placement struct {
	PVUUID  vgtypes.UUID
	PEStart uint64
	Len     uint64
}

// Plan picks extent ranges on vg's PVs satisfying req, without mutating vg.
// Call Apply to commit the result to the PV allocation bitmaps.
func Plan(vg *vgtypes.VG, req Request) ([]Placement, error) {
	if req.Extents == 0 {
		return nil, lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "allocation request for zero extents")
	}
	excluded := make(map[vgtypes.UUID]bool, len(req.ExcludePVs))
	for _, id := range req.ExcludePVs {
		excluded[id] = true
	}

	candidates := make([]*vgtypes.PV, 0, len(vg.PVs))
	for _, pv := range vg.PVs {
		if excluded[pv.UUID] || !pv.Status.Has(vgtypes.PVAllocatable) || pv.Status.Has(vgtypes.PVMissing) {
			continue
		}
		if pv.FreeCount() > 0 {
			candidates = append(candidates, pv)
		}
	}

	stripes := req.Stripes
	if stripes < 1 {
		stripes = 1
	}

	switch req.Policy {
	case vgtypes.AllocContiguous:
		return planContiguous(candidates, req.Extents, stripes)
	case vgtypes.AllocCling, vgtypes.AllocNormal, vgtypes.AllocInherit, "":
		return planNormal(candidates, req.Extents, stripes)
	case vgtypes.AllocAnywhere:
		return planAnywhere(candidates, req.Extents, stripes)
	default:
		return nil, lvmerr.New(lvmerr.ErrUnsupportedConversion.Tag, lvmerr.KindValidation, "unknown allocation policy "+string(req.Policy))
	}
}

// Apply marks every placement's extents as used on their PVs.
func Apply(vg *vgtypes.VG, placements []Placement) {
	for _, p := range placements {
		pv := vg.FindPV(p.PVUUID)
		if pv == nil {
			continue
		}
		for pe := p.PEStart; pe < p.PEStart+p.Len; pe++ {
			pv.Allocated[pe] = true
		}
	}
}

// Release marks every placement's extents as free again (lv_reduce/lv_remove).
func Release(vg *vgtypes.VG, placements []Placement) {
	for _, p := range placements {
		pv := vg.FindPV(p.PVUUID)
		if pv == nil {
			continue
		}
		for pe := p.PEStart; pe < p.PEStart+p.Len; pe++ {
			pv.Allocated[pe] = false
		}
	}
}

// planContiguous requires the whole request to land in a single free run
// per stripe, each on a distinct PV, refusing to fragment it.
func planContiguous(candidates []*vgtypes.PV, extents uint64, stripes int) ([]Placement, error) {
	if stripes == 1 {
		for _, pv := range candidates {
			if run, ok := longestFreeRun(pv, extents); ok {
				return []Placement{{PVUUID: pv.UUID, PEStart: run, Len: extents}}, nil
			}
		}
		return nil, lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "no single pv has a contiguous run long enough")
	}
	return planStriped(candidates, extents, stripes, true)
}

// planNormal spreads extents across the fewest PVs needed, preferring the
// PV with the most free extents first, approximating lvm2's
// "normal" policy without its full parallel-PV scoring.
func planNormal(candidates []*vgtypes.PV, extents uint64, stripes int) ([]Placement, error) {
	if stripes > 1 {
		if placements, err := planStriped(candidates, extents, stripes, false); err == nil {
			return placements, nil
		}
	}

	sorted := append([]*vgtypes.PV(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FreeCount() > sorted[j].FreeCount() })

	var placements []Placement
	remaining := extents
	for _, pv := range sorted {
		if remaining == 0 {
			break
		}
		take := pv.FreeCount()
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		start, ok := firstFreeRun(pv, take)
		if !ok {
			continue
		}
		placements = append(placements, Placement{PVUUID: pv.UUID, PEStart: start, Len: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "not enough free extents in volume group")
	}
	return placements, nil
}

// planAnywhere places extents exactly as planNormal does; it applies no
// separate fragmentation-tolerant placement of its own.
func planAnywhere(candidates []*vgtypes.PV, extents uint64, stripes int) ([]Placement, error) {
	return planNormal(candidates, extents, stripes)
}

// planStriped requires `stripes` distinct PVs each contributing an equal
// share (contiguous if requireContiguous is set).
func planStriped(candidates []*vgtypes.PV, extents uint64, stripes int, requireContiguous bool) ([]Placement, error) {
	if len(candidates) < stripes {
		return nil, lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "not enough distinct physical volumes for requested stripe count")
	}
	per := extents / uint64(stripes)
	if per*uint64(stripes) != extents {
		return nil, lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "extent count does not divide evenly across stripes")
	}

	sorted := append([]*vgtypes.PV(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FreeCount() > sorted[j].FreeCount() })

	placements := make([]Placement, 0, stripes)
	for i := 0; i < stripes; i++ {
		pv := sorted[i]
		var start uint64
		var ok bool
		if requireContiguous {
			start, ok = longestFreeRun(pv, per)
		} else {
			start, ok = firstFreeRun(pv, per)
		}
		if !ok {
			return nil, lvmerr.New(lvmerr.ErrInsufficientExtents.Tag, lvmerr.KindValidation, "stripe member lacks a sufficient free run")
		}
		placements = append(placements, Placement{PVUUID: pv.UUID, PEStart: start, Len: per})
	}
	return placements, nil
}

// firstFreeRun returns the start of the first free run of at least need
// extents on pv.
func firstFreeRun(pv *vgtypes.PV, need uint64) (uint64, bool) {
	var runStart uint64
	var runLen uint64
	for pe, used := range pv.Allocated {
		if used {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = uint64(pe)
		}
		runLen++
		if runLen >= need {
			return runStart, true
		}
	}
	return 0, false
}

// longestFreeRun returns the start of the longest free run on pv if it is
// at least need extents, else false.
func longestFreeRun(pv *vgtypes.PV, need uint64) (uint64, bool) {
	var bestStart, bestLen uint64
	var runStart, runLen uint64
	for pe, used := range pv.Allocated {
		if used {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = uint64(pe)
		}
		runLen++
		if runLen > bestLen {
			bestLen = runLen
			bestStart = runStart
		}
	}
	if bestLen >= need {
		return bestStart, true
	}
	return 0, false
}
