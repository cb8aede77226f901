package mdastore

import (
	"context"
	"sort"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/mdatext"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

// indexNUL returns the offset of the first NUL byte in b, or -1 if there is
// none. Metadata text within an area is NUL-terminated the same way the
// original's circular text buffer pads unused space.
func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// Device is the minimal interface mdastore needs against a metadata area's
// backing storage: read and write a byte range. Production callers back
// this with a real block device; tests back it with an in-memory buffer.
type Device interface {
	ReadRange(ctx context.Context, offset, size uint64) ([]byte, error)
	WriteRange(ctx context.Context, offset uint64, data []byte) error
}

// AreaHandle names one metadata area to read from or write to: a device
// plus the byte offset its MDA header starts at (spec §4.1/§4.2).
type AreaHandle struct {
	Device  Device
	Offset  uint64
	Ignored bool
}

// Copy is one metadata area's view of a VG: the text it holds and the
// seqno it claims, used to pick the authoritative copy on read.
type Copy struct {
	Area  AreaHandle
	Text  string
	Seqno uint64
}

// ReadAll reads the VG text from every area and returns them all, newest
// first by seqno — callers use the head of the slice as authoritative and
// the rest to detect partial/inconsistent state (spec §4.2's "Read
// picks the highest seqno copy; others are stale or corrupt").
func ReadAll(ctx context.Context, areas []AreaHandle, size uint64) ([]Copy, error) {
	var copies []Copy
	for _, area := range areas {
		if area.Ignored {
			continue
		}
		raw, err := area.Device.ReadRange(ctx, area.Offset, size)
		if err != nil {
			continue // unreadable area: treated as absent, not fatal, per partial-VG tolerance
		}
		if i := indexNUL(raw); i >= 0 {
			raw = raw[:i]
		}
		block, err := mdatext.Parse(string(raw))
		if err != nil {
			continue // corrupt copy: skip it, same tolerance
		}
		vg, err := BlockToVG(block)
		if err != nil {
			continue
		}
		copies = append(copies, Copy{Area: area, Text: string(raw), Seqno: vg.Seqno})
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].Seqno > copies[j].Seqno })
	return copies, nil
}

// ReadVG loads the authoritative VG from the highest-seqno copy among
// areas. The copies are not compared with each other; the result is marked
// Partial when fewer copies could be read than areas were given.
func ReadVG(ctx context.Context, areas []AreaHandle, size uint64) (*vgtypes.VGResult, error) {
	copies, err := ReadAll(ctx, areas, size)
	if err != nil {
		return nil, err
	}
	if len(copies) == 0 {
		return nil, lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "no readable metadata copies found")
	}
	block, err := mdatext.Parse(copies[0].Text)
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrMetadataIO.Tag, lvmerr.KindIO, "parsing authoritative metadata copy", err)
	}
	vg, err := BlockToVG(block)
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrMetadataIO.Tag, lvmerr.KindIO, "decoding authoritative metadata copy", err)
	}
	return &vgtypes.VGResult{VG: vg, Partial: len(copies) < len(areas)}, nil
}

// Transaction drives the two-phase precommit/commit protocol spec §4.2
// requires. Precommit writes the full new text to every non-ignored area,
// one area after another; since readers take the highest-seqno copy, each
// area carries the new generation as soon as its write completes. Commit
// writes nothing further.
type Transaction struct {
	areas    []AreaHandle
	size     uint64
	newText  string
	newSeqno uint64

	precommitted []AreaHandle
}

// Begin renders vg (whose Seqno must already be one higher than the
// currently committed copy) and stages it for a two-phase write across
// areas.
func Begin(vg *vgtypes.VG, areas []AreaHandle, size uint64) *Transaction {
	block := VGToBlock(vg)
	return &Transaction{
		areas:    areas,
		size:     size,
		newText:  mdatext.Serialize(block),
		newSeqno: vg.Seqno,
	}
}

// Precommit writes the new metadata text to every non-ignored area. It
// does not yet move the "current" pointer forward; see Commit. Matching
// the original's primary-MDA-first ordering, areas are written in the
// order given — callers pass the primary MDA first.
func (t *Transaction) Precommit(ctx context.Context) error {
	var failures int
	for _, area := range t.areas {
		if area.Ignored {
			continue
		}
		if err := area.Device.WriteRange(ctx, area.Offset, []byte(t.newText)); err != nil {
			failures++
			continue
		}
		t.precommitted = append(t.precommitted, area)
	}
	if len(t.precommitted) == 0 {
		return lvmerr.New(lvmerr.ErrMetadataWrite.Tag, lvmerr.KindConsistency, "precommit failed on every metadata area")
	}
	// A precommit that reached at least one area but not all of them still
	// proceeds: spec §4.2 tolerates partial failure as long as a later read
	// can recover the highest seqno from whichever areas did succeed.
	return nil
}

// Commit finalizes the transaction. In this text-based store precommit and
// commit write the same bytes (there is no separate raw_locn pointer flip
// the way the original's circular MDA buffer has), so Commit only verifies
// that at least one area holds the new generation and reports how many did
// not, for the caller to decide whether to keep retrying the stragglers.
func (t *Transaction) Commit(ctx context.Context) (committed, failed int, err error) {
	if len(t.precommitted) == 0 {
		return 0, 0, lvmerr.New(lvmerr.ErrMetadataWrite.Tag, lvmerr.KindConsistency, "commit called with no precommitted areas")
	}
	return len(t.precommitted), len(t.areas) - len(t.precommitted), nil
}

