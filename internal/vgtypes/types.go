// Package vgtypes is the in-memory graph of PV/VG/LV/segment state (spec
// §3): owned, ordered sequences with UUID-keyed cross-references instead of
// the original's intrusive pointer lists (spec §9, "Intrusive linked lists
// everywhere" / "Cyclic references").
package vgtypes

import "github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"

// UUID is re-exported so callers of this package never need to import
// uuidfmt directly.
type UUID = uuidfmt.ID

// PVStatus are the PV header flags from spec §3.
type PVStatus uint32

const (
	PVMissing PVStatus = 1 << iota
	PVUsed
	PVAllocatable
)

func (s PVStatus) Has(f PVStatus) bool { return s&f != 0 }

// MDA is a metadata area descriptor as seen by the object model: enough to
// know it exists, where it lives, and whether it is trusted on read. The
// byte-level header format lives in internal/label and internal/mdastore.
type MDA struct {
	Offset  uint64
	Size    uint64
	Ignored bool
}

// PV is a physical volume (spec §3).
type PV struct {
	UUID           UUID
	DeviceID       string
	FirstPE        uint64
	PESize         uint64
	PECount        uint64
	Allocated      []bool // per-PE allocation bitmap, len == PECount
	MDAs           []MDA
	Status         PVStatus
}

// PEAllocCount returns the number of extents currently allocated on pv.
func (pv *PV) PEAllocCount() uint64 {
	var n uint64
	for _, used := range pv.Allocated {
		if used {
			n++
		}
	}
	return n
}

// FreeCount returns the number of unallocated extents on pv.
func (pv *PV) FreeCount() uint64 {
	return pv.PECount - pv.PEAllocCount()
}

// VGStatus are the VG status flags from spec §3.
type VGStatus uint32

const (
	VGWrite VGStatus = 1 << iota
	VGResizeable
	VGExported
	VGClustered
	VGShared
	VGPartial
)

func (s VGStatus) Has(f VGStatus) bool { return s&f != 0 }

// LockType enumerates spec §3's `lock-type`.
type LockType string

const (
	LockTypeNone    LockType = "none"
	LockTypeSanlock LockType = "sanlock"
	LockTypeDLM     LockType = "dlm"
	LockTypeIDM     LockType = "idm"
	LockTypeCLVM    LockType = "clvm"
)

// VG is a Volume Group (spec §3).
type VG struct {
	UUID       UUID
	Name       string
	Seqno      uint64
	ExtentSize uint64 // bytes per extent
	LockType   LockType
	SystemID   string
	Status     VGStatus

	PVs           []*PV
	LVs           []*LV
	HistoricalLVs []*HistoricalLV

	Profile            string
	PoolMetadataSpare  *UUID
	SanlockLV          *UUID

	MDACopies int // vg->mda_copies: target number of active (non-ignored) MDAs
}

// FindPV returns the PV with the given UUID, or nil.
func (vg *VG) FindPV(id UUID) *PV {
	for _, pv := range vg.PVs {
		if pv.UUID == id {
			return pv
		}
	}
	return nil
}

// FindLV returns the LV with the given name, or nil.
func (vg *VG) FindLV(name string) *LV {
	for _, lv := range vg.LVs {
		if lv.Name == name {
			return lv
		}
	}
	return nil
}

// FindLVByUUID returns the LV with the given UUID, or nil.
func (vg *VG) FindLVByUUID(id UUID) *LV {
	for _, lv := range vg.LVs {
		if lv.UUID == id {
			return lv
		}
	}
	return nil
}

// ExtentCount is the VG's total capacity in extents, summed over its PVs.
func (vg *VG) ExtentCount() uint64 {
	var n uint64
	for _, pv := range vg.PVs {
		n += pv.PECount
	}
	return n
}

// FreeCount is the VG's unallocated extent count.
func (vg *VG) FreeCount() uint64 {
	var n uint64
	for _, pv := range vg.PVs {
		n += pv.FreeCount()
	}
	return n
}

// VGResult wraps a VG read back from the metadata store together with
// whether the read was partial (spec §4.1's PARTIAL mode: one or more
// metadata areas were unreadable, but at least one copy was read).
type VGResult struct {
	VG      *VG
	Partial bool
}

// HistoricalLV is a tombstone for a removed thin LV still referenced by an
// extant snapshot graph (spec §3's "Lifecycle").
type HistoricalLV struct {
	UUID        UUID
	Name        string
	RemovalTime int64
	// ReferencedBy lists the LVs whose snapshot chains still refer to this
	// tombstone. Nothing removes the tombstone when the list becomes empty.
	ReferencedBy []UUID
}

// LVStatus flags (spec §3: visible, merging, converting, locked,
// not-synced, ...).
type LVStatus uint32

const (
	LVVisible LVStatus = 1 << iota
	LVMerging
	LVConverting
	LVLocked
	LVNotSynced
	LVOrigin // has at least one snapshot
)

func (s LVStatus) Has(f LVStatus) bool { return s&f != 0 }

// AllocPolicy enumerates spec §4.3's allocation policies.
type AllocPolicy string

const (
	AllocContiguous AllocPolicy = "contiguous"
	AllocCling      AllocPolicy = "cling"
	AllocNormal     AllocPolicy = "normal"
	AllocAnywhere   AllocPolicy = "anywhere"
	AllocInherit    AllocPolicy = "inherit"
)

// LV is a Logical Volume (spec §3).
type LV struct {
	UUID           UUID
	Name           string
	Status         LVStatus
	AllocPolicy    AllocPolicy
	ReadAhead      uint32
	Major, Minor   uint32
	CreationHost   string
	CreationTimeUnix int64
	OriginCount    uint32
	ExternalCount  uint32
	Segments       []*Segment
	Tags           []string
	LockArgs       []byte
	Profile        string
}

// SizeExtents is the LV's length in logical extents, the sum of its
// segments' extent ranges.
func (lv *LV) SizeExtents() uint64 {
	var n uint64
	for _, seg := range lv.Segments {
		n += seg.ExtentLen
	}
	return n
}

// AreaType distinguishes a segment area that maps onto a PV directly from
// one that maps onto a hidden sub-LV (spec §9: "Temporary conversion
// layers" and pool/raid/cache sub-LV references).
type AreaType int

const (
	AreaUnassigned AreaType = iota
	AreaPV
	AreaLV
)

// Area is one area descriptor within a linear/striped/mirror/raid segment.
type Area struct {
	Type    AreaType
	PVUUID  UUID   // valid when Type == AreaPV
	PEStart uint64 // valid when Type == AreaPV
	LVUUID  UUID   // valid when Type == AreaLV
}

// Segment is one extent range of an LV, mapped to a concrete layout (spec
// §3's "LV Segment"). Variant holds the type-specific fields; dispatch is an
// exhaustive type switch over SegmentVariant rather than a vtable (spec §9,
// "Segment polymorphism").
type Segment struct {
	StartExtent uint64
	ExtentLen   uint64
	Variant     SegmentVariant
}

// SegmentVariant is the tagged-sum marker interface every segment payload
// implements.
type SegmentVariant interface {
	SegType() string
}

type AreaSegment struct {
	Kind       string // "linear" or "striped"
	Areas      []Area
	StripeSize uint64 // 0 if not striped
}

func (s *AreaSegment) SegType() string { return s.Kind }

type MirrorSegment struct {
	Areas         []Area
	RegionSize    uint64
	LogLVUUID     *UUID
	ExtentsCopied uint64
}

func (s *MirrorSegment) SegType() string { return "mirror" }

type RaidSegment struct {
	Level           string // "raid0", "raid1", "raid4", "raid5", "raid6", "raid10"
	Areas           []Area
	MetaAreas       []Area
	RegionSize      uint64
	StripeSize      uint64
	DataCopies      uint32
	WriteBehind     uint32
	MinRecoveryRate uint32
	MaxRecoveryRate uint32
	ReshapeLength   uint64
	DataOffset      uint64
}

func (s *RaidSegment) SegType() string { return "raid_" + s.Level }

type SnapshotSegment struct {
	OriginUUID UUID
	CowUUID    UUID
	ChunkSize  uint64
	Merging    bool
}

func (s *SnapshotSegment) SegType() string { return "snapshot" }

// ThinMessageKind enumerates queued thin-pool transaction messages (spec
// §3's thin-pool message list).
type ThinMessageKind string

const (
	ThinMessageCreateThin ThinMessageKind = "create-thin"
	ThinMessageCreateSnap ThinMessageKind = "create-snap"
	ThinMessageDelete     ThinMessageKind = "delete"
)

type ThinMessage struct {
	Kind           ThinMessageKind
	DeviceID       uint32
	OriginDeviceID uint32 // valid for create-snap
	Applied        bool   // queued -> applied -> confirmed state machine (spec §4.3)
	Confirmed      bool
}

type ThinPoolSegment struct {
	DataLVUUID      UUID
	MetadataLVUUID  UUID
	TransactionID    uint64
	ChunkSize        uint64
	Discards         string // "ignore", "nopassdown", "passdown"
	ZeroNewBlocks    bool
	Messages         []ThinMessage
}

func (s *ThinPoolSegment) SegType() string { return "thin-pool" }

type ThinSegment struct {
	PoolLVUUID         UUID
	DeviceID           uint32
	OriginUUID         *UUID
	MergeUUID          *UUID
	ExternalOriginUUID *UUID
}

func (s *ThinSegment) SegType() string { return "thin" }

type CachePoolSegment struct {
	DataLVUUID     UUID
	MetadataLVUUID UUID
	ChunkSize      uint64
	CacheMode      string // "writeback", "writethrough", "passthrough"
	PolicyName     string
	PolicySettings map[string]string
}

func (s *CachePoolSegment) SegType() string { return "cache-pool" }

type CacheSegment struct {
	PoolLVUUID           UUID
	OriginLVUUID         UUID
	MetadataExtentStart  uint64
	MetadataExtentLen    uint64
	DataExtentStart      uint64
	DataExtentLen        uint64
}

func (s *CacheSegment) SegType() string { return "cache" }

type WriteCacheSegment struct {
	OriginUUID UUID
	FastUUID   UUID
	BlockSize  uint64
	Settings   map[string]string
}

func (s *WriteCacheSegment) SegType() string { return "writecache" }

type IntegritySegment struct {
	OriginUUID    UUID
	MetadataUUID  UUID
	DataSectors   uint64
	Recalculate   bool
	TagSize       uint32
	HashAlgorithm string
}

func (s *IntegritySegment) SegType() string { return "integrity" }

type VDOPoolSegment struct {
	DataLVUUID  UUID
	VirtualSize uint64
	Settings    map[string]string
}

func (s *VDOPoolSegment) SegType() string { return "vdo-pool" }

type VDOSegment struct {
	PoolLVUUID UUID
}

func (s *VDOSegment) SegType() string { return "vdo" }
