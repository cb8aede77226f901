package vgtypes

import "fmt"

// Validate checks the structural invariants spec §3/§8 require of a VG
// object graph: every PV and sub-LV reference in a segment's area list
// resolves (the UUID fields of snapshot, thin, cache and other
// LV-referencing segments are not checked), extent ranges tile without gaps
// or overlaps, and the allocation bitmap agrees with what the LVs actually
// consume. It does not take any lock; callers serialize access themselves
// (spec §4.4).
func (vg *VG) Validate() error {
	pvByUUID := make(map[UUID]*PV, len(vg.PVs))
	for _, pv := range vg.PVs {
		if _, dup := pvByUUID[pv.UUID]; dup {
			return fmt.Errorf("vgtypes: duplicate PV uuid %s in vg %s", pv.UUID, vg.Name)
		}
		pvByUUID[pv.UUID] = pv
		if uint64(len(pv.Allocated)) != pv.PECount {
			return fmt.Errorf("vgtypes: pv %s allocation bitmap length %d != pe_count %d", pv.UUID, len(pv.Allocated), pv.PECount)
		}
	}

	lvByUUID := make(map[UUID]*LV, len(vg.LVs))
	for _, lv := range vg.LVs {
		if _, dup := lvByUUID[lv.UUID]; dup {
			return fmt.Errorf("vgtypes: duplicate LV uuid %s in vg %s", lv.UUID, vg.Name)
		}
		lvByUUID[lv.UUID] = lv
	}

	// want mirrors the allocation bitmap we expect to reconstruct purely
	// from segment area references; it must equal the PV's recorded one.
	want := make(map[UUID][]bool, len(vg.PVs))
	for _, pv := range vg.PVs {
		want[pv.UUID] = make([]bool, pv.PECount)
	}

	for _, lv := range vg.LVs {
		var nextExtent uint64
		for i, seg := range lv.Segments {
			if seg.StartExtent != nextExtent {
				return fmt.Errorf("vgtypes: lv %s segment %d starts at %d, want %d (segments must tile without gaps)", lv.Name, i, seg.StartExtent, nextExtent)
			}
			if seg.ExtentLen == 0 {
				return fmt.Errorf("vgtypes: lv %s segment %d has zero length", lv.Name, i)
			}
			nextExtent += seg.ExtentLen

			for _, area := range segmentAreas(seg.Variant) {
				switch area.Type {
				case AreaPV:
					pv, ok := pvByUUID[area.PVUUID]
					if !ok {
						return fmt.Errorf("vgtypes: lv %s segment %d references unknown pv %s", lv.Name, i, area.PVUUID)
					}
					bitmap := want[pv.UUID]
					if area.PEStart+seg.ExtentLen > uint64(len(bitmap)) {
						return fmt.Errorf("vgtypes: lv %s segment %d overruns pv %s (start %d len %d count %d)", lv.Name, i, pv.UUID, area.PEStart, seg.ExtentLen, len(bitmap))
					}
					for pe := area.PEStart; pe < area.PEStart+seg.ExtentLen; pe++ {
						if bitmap[pe] {
							return fmt.Errorf("vgtypes: pv %s extent %d claimed by more than one segment", pv.UUID, pe)
						}
						bitmap[pe] = true
					}
				case AreaLV:
					if _, ok := lvByUUID[area.LVUUID]; !ok {
						return fmt.Errorf("vgtypes: lv %s segment %d references unknown sub-lv %s", lv.Name, i, area.LVUUID)
					}
				case AreaUnassigned:
					return fmt.Errorf("vgtypes: lv %s segment %d has an unassigned area", lv.Name, i)
				}
			}
		}
	}

	for _, pv := range vg.PVs {
		for pe, used := range want[pv.UUID] {
			if used != pv.Allocated[pe] {
				return fmt.Errorf("vgtypes: pv %s extent %d allocation bitmap disagrees with segment areas (bitmap=%v, derived=%v)", pv.UUID, pe, pv.Allocated[pe], used)
			}
		}
	}

	for _, lv := range vg.LVs {
		if lv.Status.Has(LVLocked) && lv.Status.Has(LVConverting) {
			// a locked LV may not simultaneously be mid-conversion: the lock
			// exists specifically to keep conversions serialized (spec §4.3).
			return fmt.Errorf("vgtypes: lv %s is both locked and converting", lv.Name)
		}
		for _, seg := range lv.Segments {
			pool, ok := seg.Variant.(*ThinPoolSegment)
			if !ok {
				continue
			}
			if err := validateThinMessages(lv.Name, pool.Messages); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateThinMessages checks that a thin-pool's queued messages form a
// valid ordered transaction (spec §3): no create-thin/create-snap may
// repeat a device id already created earlier in the queue, and no
// delete/create-snap may reference a device id that was never created
// (or was already deleted) earlier in the queue.
func validateThinMessages(lvName string, messages []ThinMessage) error {
	live := make(map[uint32]bool)
	for i, msg := range messages {
		switch msg.Kind {
		case ThinMessageCreateThin:
			if live[msg.DeviceID] {
				return fmt.Errorf("vgtypes: lv %s thin message %d creates device %d a second time", lvName, i, msg.DeviceID)
			}
			live[msg.DeviceID] = true
		case ThinMessageCreateSnap:
			if live[msg.DeviceID] {
				return fmt.Errorf("vgtypes: lv %s thin message %d creates device %d a second time", lvName, i, msg.DeviceID)
			}
			if !live[msg.OriginDeviceID] {
				return fmt.Errorf("vgtypes: lv %s thin message %d snapshots undeclared origin device %d", lvName, i, msg.OriginDeviceID)
			}
			live[msg.DeviceID] = true
		case ThinMessageDelete:
			if !live[msg.DeviceID] {
				return fmt.Errorf("vgtypes: lv %s thin message %d deletes undeclared device %d", lvName, i, msg.DeviceID)
			}
			delete(live, msg.DeviceID)
		default:
			return fmt.Errorf("vgtypes: lv %s thin message %d has unknown kind %q", lvName, i, msg.Kind)
		}
	}
	return nil
}

// segmentAreas extracts the Area list from any SegmentVariant that carries
// one, via an exhaustive type switch (spec §9's "tagged sum over segment
// variants; dispatch via exhaustive match").
func segmentAreas(v SegmentVariant) []Area {
	switch s := v.(type) {
	case *AreaSegment:
		return s.Areas
	case *MirrorSegment:
		return s.Areas
	case *RaidSegment:
		areas := make([]Area, 0, len(s.Areas)+len(s.MetaAreas))
		areas = append(areas, s.Areas...)
		areas = append(areas, s.MetaAreas...)
		return areas
	default:
		// snapshot/thin/cache/writecache/integrity/vdo segments reference
		// other LVs by UUID field, not by Area list; they carry no PV-level
		// extent claims of their own beyond what their target sub-LV already
		// accounts for.
		return nil
	}
}
