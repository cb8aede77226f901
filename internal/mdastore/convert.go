// Package mdastore is the text metadata store (spec §4.2): converting the
// in-memory vgtypes.VG graph to and from the nested key/value language in
// internal/mdatext, and driving the two-phase precommit/commit protocol
// across a VG's metadata areas (spec §4.2's crash-safety invariants).
//
// Grounded on original_source/lib/metadata/read.c and lib/format_text's
// text-format conversion routines (export_vg, import_vg and friends);
// internal/mdatext supplies the lexer/parser this package used to have to
// hand-roll.
package mdastore

import (
	"fmt"
	"strings"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/mdatext"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

// VGToBlock renders vg as a metadata-text block named after the VG,
// matching the on-disk layout's top-level "<vgname> { ... }".
func VGToBlock(vg *vgtypes.VG) *mdatext.Block {
	b := &mdatext.Block{Name: vg.Name}
	b.Set("id", vg.UUID.String())
	b.Set("seqno", int64(vg.Seqno))
	b.Set("format", "lvm2")
	b.Set("status", statusStrings(vg.Status))
	if vg.LockType != "" && vg.LockType != vgtypes.LockTypeNone {
		b.Set("lock_type", string(vg.LockType))
	}
	if vg.SystemID != "" {
		b.Set("system_id", vg.SystemID)
	}
	b.Set("extent_size", int64(vg.ExtentSize))
	if vg.MDACopies > 0 {
		b.Set("mda_copies", int64(vg.MDACopies))
	}

	pvsBlock := b.AddBlock("physical_volumes")
	for _, pv := range vg.PVs {
		pvToBlock(pvsBlock.AddBlock("pv"+pv.UUID.String()[:8]), pv)
	}

	lvsBlock := b.AddBlock("logical_volumes")
	for _, lv := range vg.LVs {
		lvToBlock(lvsBlock.AddBlock(lv.Name), lv)
	}

	if len(vg.HistoricalLVs) > 0 {
		histBlock := b.AddBlock("historical_logical_volumes")
		for _, h := range vg.HistoricalLVs {
			hb := histBlock.AddBlock(h.Name)
			hb.Set("id", h.UUID.String())
			hb.Set("removal_time", h.RemovalTime)
		}
	}

	return b
}

func pvToBlock(b *mdatext.Block, pv *vgtypes.PV) {
	b.Set("id", pv.UUID.String())
	b.Set("device", pv.DeviceID)
	b.Set("status", pvStatusStrings(pv.Status))
	b.Set("pe_start", int64(pv.FirstPE))
	b.Set("pe_size", int64(pv.PESize))
	b.Set("pe_count", int64(pv.PECount))
}

func lvToBlock(b *mdatext.Block, lv *vgtypes.LV) {
	b.Set("id", lv.UUID.String())
	b.Set("status", lvStatusStrings(lv.Status))
	b.Set("allocation_policy", string(lv.AllocPolicy))
	if lv.ReadAhead != 0 {
		b.Set("read_ahead", int64(lv.ReadAhead))
	}
	if lv.CreationHost != "" {
		b.Set("creation_host", lv.CreationHost)
		b.Set("creation_time", lv.CreationTimeUnix)
	}
	if len(lv.Tags) > 0 {
		b.Set("tags", lv.Tags)
	}

	segBlock := b.AddBlock("segments")
	for i, seg := range lv.Segments {
		segmentToBlock(segBlock.AddBlock(fmt.Sprintf("segment%d", i+1)), seg)
	}
}

func segmentToBlock(b *mdatext.Block, seg *vgtypes.Segment) {
	b.Set("start_extent", int64(seg.StartExtent))
	b.Set("extent_count", int64(seg.ExtentLen))
	b.Set("type", seg.Variant.SegType())

	switch v := seg.Variant.(type) {
	case *vgtypes.AreaSegment:
		b.Set("stripe_size", int64(v.StripeSize))
		areasToBlock(b.AddBlock("areas"), v.Areas)
	case *vgtypes.MirrorSegment:
		b.Set("region_size", int64(v.RegionSize))
		b.Set("extents_moved", int64(v.ExtentsCopied))
		if v.LogLVUUID != nil {
			b.Set("mirror_log", v.LogLVUUID.String())
		}
		areasToBlock(b.AddBlock("areas"), v.Areas)
	case *vgtypes.RaidSegment:
		b.Set("raid_level", v.Level)
		b.Set("region_size", int64(v.RegionSize))
		b.Set("stripe_size", int64(v.StripeSize))
		b.Set("data_copies", int64(v.DataCopies))
		areasToBlock(b.AddBlock("areas"), v.Areas)
		areasToBlock(b.AddBlock("metadata_areas"), v.MetaAreas)
	case *vgtypes.SnapshotSegment:
		b.Set("origin", v.OriginUUID.String())
		b.Set("cow_store", v.CowUUID.String())
		b.Set("chunk_size", int64(v.ChunkSize))
		b.Set("merging", boolInt(v.Merging))
	case *vgtypes.ThinPoolSegment:
		b.Set("data", v.DataLVUUID.String())
		b.Set("metadata", v.MetadataLVUUID.String())
		b.Set("transaction_id", int64(v.TransactionID))
		b.Set("chunk_size", int64(v.ChunkSize))
		b.Set("discards", v.Discards)
		b.Set("zero_new_blocks", boolInt(v.ZeroNewBlocks))
	case *vgtypes.ThinSegment:
		b.Set("thin_pool", v.PoolLVUUID.String())
		b.Set("device_id", int64(v.DeviceID))
		if v.OriginUUID != nil {
			b.Set("origin", v.OriginUUID.String())
		}
		if v.ExternalOriginUUID != nil {
			b.Set("external_origin", v.ExternalOriginUUID.String())
		}
	case *vgtypes.CachePoolSegment:
		b.Set("data", v.DataLVUUID.String())
		b.Set("metadata", v.MetadataLVUUID.String())
		b.Set("chunk_size", int64(v.ChunkSize))
		b.Set("cache_mode", v.CacheMode)
	case *vgtypes.CacheSegment:
		b.Set("cache_pool", v.PoolLVUUID.String())
		b.Set("origin", v.OriginLVUUID.String())
	case *vgtypes.WriteCacheSegment:
		b.Set("origin", v.OriginUUID.String())
		b.Set("writecache_fast", v.FastUUID.String())
		b.Set("block_size", int64(v.BlockSize))
	case *vgtypes.IntegritySegment:
		b.Set("origin", v.OriginUUID.String())
		b.Set("integrity_meta", v.MetadataUUID.String())
		b.Set("hash", v.HashAlgorithm)
	case *vgtypes.VDOPoolSegment:
		b.Set("data", v.DataLVUUID.String())
		b.Set("virtual_size", int64(v.VirtualSize))
	case *vgtypes.VDOSegment:
		b.Set("vdo_pool", v.PoolLVUUID.String())
	}
}

func areasToBlock(b *mdatext.Block, areas []vgtypes.Area) {
	for i, a := range areas {
		switch a.Type {
		case vgtypes.AreaPV:
			b.Set(fmt.Sprintf("area%d_pv", i), a.PVUUID.String())
			b.Set(fmt.Sprintf("area%d_start", i), int64(a.PEStart))
		case vgtypes.AreaLV:
			b.Set(fmt.Sprintf("area%d_lv", i), a.LVUUID.String())
		}
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func statusStrings(s vgtypes.VGStatus) []string {
	var out []string
	if s.Has(vgtypes.VGWrite) {
		out = append(out, "READ", "WRITE")
	} else {
		out = append(out, "READ")
	}
	if s.Has(vgtypes.VGResizeable) {
		out = append(out, "RESIZEABLE")
	}
	if s.Has(vgtypes.VGExported) {
		out = append(out, "EXPORTED")
	}
	if s.Has(vgtypes.VGClustered) {
		out = append(out, "CLUSTERED")
	}
	if s.Has(vgtypes.VGShared) {
		out = append(out, "SHARED")
	}
	if s.Has(vgtypes.VGPartial) {
		out = append(out, "PARTIAL")
	}
	return out
}

func pvStatusStrings(s vgtypes.PVStatus) []string {
	var out []string
	if s.Has(vgtypes.PVAllocatable) {
		out = append(out, "ALLOCATABLE")
	}
	if s.Has(vgtypes.PVMissing) {
		out = append(out, "MISSING")
	}
	return out
}

func lvStatusStrings(s vgtypes.LVStatus) []string {
	var out []string
	out = append(out, "READ", "WRITE")
	if s.Has(vgtypes.LVVisible) {
		out = append(out, "VISIBLE")
	}
	return out
}

// BlockToVG reverses VGToBlock, reconstructing the vgtypes.VG graph from a
// parsed metadata-text block. Allocation bitmaps are rebuilt from segment
// area references rather than stored directly, matching how the original
// format derives pe use counts from segments on import.
func BlockToVG(b *mdatext.Block) (*vgtypes.VG, error) {
	vg := &vgtypes.VG{Name: b.Name}

	id := b.GetString("id")
	if id == "" {
		return nil, fmt.Errorf("mdastore: vg %s missing id", b.Name)
	}
	uid, err := uuidfmt.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("mdastore: vg id: %w", err)
	}
	vg.UUID = uid
	vg.Seqno = uint64(b.GetInt("seqno"))
	vg.ExtentSize = uint64(b.GetInt("extent_size"))
	if lockType := b.GetString("lock_type"); lockType != "" {
		vg.LockType = vgtypes.LockType(lockType)
	} else {
		vg.LockType = vgtypes.LockTypeNone
	}
	vg.SystemID = b.GetString("system_id")
	vg.Status = parseVGStatus(b.GetStrings("status"))
	vg.MDACopies = int(b.GetInt("mda_copies"))

	if pvsBlock := b.GetBlock("physical_volumes"); pvsBlock != nil {
		for _, sub := range pvsBlock.Blocks() {
			pv, err := blockToPV(sub)
			if err != nil {
				return nil, err
			}
			vg.PVs = append(vg.PVs, pv)
		}
	}

	if lvsBlock := b.GetBlock("logical_volumes"); lvsBlock != nil {
		for _, sub := range lvsBlock.Blocks() {
			lv, err := blockToLV(sub)
			if err != nil {
				return nil, err
			}
			vg.LVs = append(vg.LVs, lv)
		}
	}

	if histBlock := b.GetBlock("historical_logical_volumes"); histBlock != nil {
		for _, sub := range histBlock.Blocks() {
			hid := sub.GetString("id")
			huid, err := uuidfmt.Parse(hid)
			if err != nil {
				return nil, err
			}
			vg.HistoricalLVs = append(vg.HistoricalLVs, &vgtypes.HistoricalLV{
				UUID:        huid,
				Name:        sub.Name,
				RemovalTime: sub.GetInt("removal_time"),
			})
		}
	}

	rebuildAllocationBitmaps(vg)
	return vg, nil
}

func blockToPV(b *mdatext.Block) (*vgtypes.PV, error) {
	id := b.GetString("id")
	if id == "" {
		return nil, fmt.Errorf("mdastore: pv %s missing id", b.Name)
	}
	uid, err := uuidfmt.Parse(id)
	if err != nil {
		return nil, err
	}
	pv := &vgtypes.PV{
		UUID:     uid,
		DeviceID: b.GetString("device"),
		FirstPE:  uint64(b.GetInt("pe_start")),
		PESize:   uint64(b.GetInt("pe_size")),
		PECount:  uint64(b.GetInt("pe_count")),
		Status:   parsePVStatus(b.GetStrings("status")),
	}
	pv.Allocated = make([]bool, pv.PECount)
	return pv, nil
}

func blockToLV(b *mdatext.Block) (*vgtypes.LV, error) {
	id := b.GetString("id")
	if id == "" {
		return nil, fmt.Errorf("mdastore: lv %s missing id", b.Name)
	}
	uid, err := uuidfmt.Parse(id)
	if err != nil {
		return nil, err
	}
	lv := &vgtypes.LV{
		UUID:             uid,
		Name:             b.Name,
		Status:           parseLVStatus(b.GetStrings("status")),
		AllocPolicy:      vgtypes.AllocPolicy(b.GetString("allocation_policy")),
		ReadAhead:        uint32(b.GetInt("read_ahead")),
		CreationHost:     b.GetString("creation_host"),
		CreationTimeUnix: b.GetInt("creation_time"),
		Tags:             b.GetStrings("tags"),
	}

	segsBlock := b.GetBlock("segments")
	if segsBlock == nil {
		return nil, fmt.Errorf("mdastore: lv %s missing segments", b.Name)
	}
	for _, segB := range segsBlock.Blocks() {
		seg, err := blockToSegment(segB)
		if err != nil {
			return nil, fmt.Errorf("mdastore: lv %s: %w", b.Name, err)
		}
		lv.Segments = append(lv.Segments, seg)
	}
	return lv, nil
}

func blockToSegment(b *mdatext.Block) (*vgtypes.Segment, error) {
	typ := b.GetString("type")
	if typ == "" {
		return nil, fmt.Errorf("segment %s missing type", b.Name)
	}
	seg := &vgtypes.Segment{
		StartExtent: uint64(b.GetInt("start_extent")),
		ExtentLen:   uint64(b.GetInt("extent_count")),
	}

	switch {
	case typ == "linear" || typ == "striped":
		areasBlock := b.GetBlock("areas")
		if areasBlock == nil {
			return nil, fmt.Errorf("segment %s missing areas", b.Name)
		}
		seg.Variant = &vgtypes.AreaSegment{Kind: typ, Areas: blockToAreas(areasBlock), StripeSize: uint64(b.GetInt("stripe_size"))}
	case typ == "mirror":
		areasBlock := b.GetBlock("areas")
		if areasBlock == nil {
			return nil, fmt.Errorf("segment %s missing areas", b.Name)
		}
		m := &vgtypes.MirrorSegment{
			Areas:         blockToAreas(areasBlock),
			RegionSize:    uint64(b.GetInt("region_size")),
			ExtentsCopied: uint64(b.GetInt("extents_moved")),
		}
		if logID := b.GetString("mirror_log"); logID != "" {
			logUUID, err := uuidfmt.Parse(logID)
			if err != nil {
				return nil, err
			}
			m.LogLVUUID = &logUUID
		}
		seg.Variant = m
	case strings.HasPrefix(typ, "raid"):
		areasBlock := b.GetBlock("areas")
		if areasBlock == nil {
			return nil, fmt.Errorf("segment %s missing areas", b.Name)
		}
		r := &vgtypes.RaidSegment{
			Level:      b.GetString("raid_level"),
			Areas:      blockToAreas(areasBlock),
			RegionSize: uint64(b.GetInt("region_size")),
			StripeSize: uint64(b.GetInt("stripe_size")),
			DataCopies: uint32(b.GetInt("data_copies")),
		}
		if metaBlock := b.GetBlock("metadata_areas"); metaBlock != nil {
			r.MetaAreas = blockToAreas(metaBlock)
		}
		seg.Variant = r
	case typ == "snapshot":
		origin, err := requireUUID(b, "origin")
		if err != nil {
			return nil, err
		}
		cow, err := requireUUID(b, "cow_store")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.SnapshotSegment{
			OriginUUID: origin,
			CowUUID:    cow,
			ChunkSize:  uint64(b.GetInt("chunk_size")),
			Merging:    b.GetInt("merging") != 0,
		}
	case typ == "thin-pool":
		data, err := requireUUID(b, "data")
		if err != nil {
			return nil, err
		}
		meta, err := requireUUID(b, "metadata")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.ThinPoolSegment{
			DataLVUUID:     data,
			MetadataLVUUID: meta,
			TransactionID:  uint64(b.GetInt("transaction_id")),
			ChunkSize:      uint64(b.GetInt("chunk_size")),
			Discards:       b.GetString("discards"),
			ZeroNewBlocks:  b.GetInt("zero_new_blocks") != 0,
		}
	case typ == "thin":
		pool, err := requireUUID(b, "thin_pool")
		if err != nil {
			return nil, err
		}
		t := &vgtypes.ThinSegment{PoolLVUUID: pool, DeviceID: uint32(b.GetInt("device_id"))}
		if originID := b.GetString("origin"); originID != "" {
			origin, err := uuidfmt.Parse(originID)
			if err != nil {
				return nil, err
			}
			t.OriginUUID = &origin
		}
		if extID := b.GetString("external_origin"); extID != "" {
			ext, err := uuidfmt.Parse(extID)
			if err != nil {
				return nil, err
			}
			t.ExternalOriginUUID = &ext
		}
		seg.Variant = t
	case typ == "cache-pool":
		data, err := requireUUID(b, "data")
		if err != nil {
			return nil, err
		}
		meta, err := requireUUID(b, "metadata")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.CachePoolSegment{
			DataLVUUID:     data,
			MetadataLVUUID: meta,
			ChunkSize:      uint64(b.GetInt("chunk_size")),
			CacheMode:      b.GetString("cache_mode"),
		}
	case typ == "cache":
		pool, err := requireUUID(b, "cache_pool")
		if err != nil {
			return nil, err
		}
		origin, err := requireUUID(b, "origin")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.CacheSegment{PoolLVUUID: pool, OriginLVUUID: origin}
	case typ == "writecache":
		origin, err := requireUUID(b, "origin")
		if err != nil {
			return nil, err
		}
		fast, err := requireUUID(b, "writecache_fast")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.WriteCacheSegment{OriginUUID: origin, FastUUID: fast, BlockSize: uint64(b.GetInt("block_size"))}
	case typ == "integrity":
		origin, err := requireUUID(b, "origin")
		if err != nil {
			return nil, err
		}
		meta, err := requireUUID(b, "integrity_meta")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.IntegritySegment{OriginUUID: origin, MetadataUUID: meta, HashAlgorithm: b.GetString("hash")}
	case typ == "vdo-pool":
		data, err := requireUUID(b, "data")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.VDOPoolSegment{DataLVUUID: data, VirtualSize: uint64(b.GetInt("virtual_size"))}
	case typ == "vdo":
		pool, err := requireUUID(b, "vdo_pool")
		if err != nil {
			return nil, err
		}
		seg.Variant = &vgtypes.VDOSegment{PoolLVUUID: pool}
	default:
		return nil, fmt.Errorf("unknown segment type %q", typ)
	}

	return seg, nil
}

func requireUUID(b *mdatext.Block, key string) (uuidfmt.ID, error) {
	s := b.GetString(key)
	if s == "" {
		return uuidfmt.ID{}, fmt.Errorf("missing %s", key)
	}
	return uuidfmt.Parse(s)
}

func blockToAreas(b *mdatext.Block) []vgtypes.Area {
	var areas []vgtypes.Area
	for i := 0; ; i++ {
		pvID := b.GetString(fmt.Sprintf("area%d_pv", i))
		if pvID != "" {
			id, err := uuidfmt.Parse(pvID)
			if err != nil {
				break
			}
			areas = append(areas, vgtypes.Area{Type: vgtypes.AreaPV, PVUUID: id, PEStart: uint64(b.GetInt(fmt.Sprintf("area%d_start", i)))})
			continue
		}
		lvID := b.GetString(fmt.Sprintf("area%d_lv", i))
		if lvID != "" {
			id, err := uuidfmt.Parse(lvID)
			if err != nil {
				break
			}
			areas = append(areas, vgtypes.Area{Type: vgtypes.AreaLV, LVUUID: id})
			continue
		}
		break
	}
	return areas
}

func rebuildAllocationBitmaps(vg *vgtypes.VG) {
	for _, lv := range vg.LVs {
		for _, seg := range lv.Segments {
			for _, a := range segmentAreasForRebuild(seg.Variant) {
				if a.Type != vgtypes.AreaPV {
					continue
				}
				pv := vg.FindPV(a.PVUUID)
				if pv == nil {
					continue
				}
				for pe := a.PEStart; pe < a.PEStart+seg.ExtentLen && pe < uint64(len(pv.Allocated)); pe++ {
					pv.Allocated[pe] = true
				}
			}
		}
	}
}

func segmentAreasForRebuild(v vgtypes.SegmentVariant) []vgtypes.Area {
	switch s := v.(type) {
	case *vgtypes.AreaSegment:
		return s.Areas
	case *vgtypes.MirrorSegment:
		return s.Areas
	case *vgtypes.RaidSegment:
		areas := make([]vgtypes.Area, 0, len(s.Areas)+len(s.MetaAreas))
		areas = append(areas, s.Areas...)
		areas = append(areas, s.MetaAreas...)
		return areas
	default:
		return nil
	}
}

func parseVGStatus(strs []string) vgtypes.VGStatus {
	var s vgtypes.VGStatus
	for _, str := range strs {
		switch str {
		case "WRITE":
			s |= vgtypes.VGWrite
		case "RESIZEABLE":
			s |= vgtypes.VGResizeable
		case "EXPORTED":
			s |= vgtypes.VGExported
		case "CLUSTERED":
			s |= vgtypes.VGClustered
		case "SHARED":
			s |= vgtypes.VGShared
		case "PARTIAL":
			s |= vgtypes.VGPartial
		}
	}
	return s
}

func parsePVStatus(strs []string) vgtypes.PVStatus {
	var s vgtypes.PVStatus
	for _, str := range strs {
		switch str {
		case "ALLOCATABLE":
			s |= vgtypes.PVAllocatable
		case "MISSING":
			s |= vgtypes.PVMissing
		}
	}
	return s
}

func parseLVStatus(strs []string) vgtypes.LVStatus {
	var s vgtypes.LVStatus
	for _, str := range strs {
		if str == "VISIBLE" {
			s |= vgtypes.LVVisible
		}
	}
	return s
}
