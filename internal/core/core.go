// Package core sequences the §6 entry points (vg_create, vg_extend,
// vg_reduce, vg_remove, vg_rename, lv_create, lv_remove, lv_rename,
// lv_resize, lv_convert, scan) by composing internal/vg's object-model
// mutators, internal/mdastore's two-phase commit, internal/label's PV
// discovery, and lockd/client's cluster locking into one call per
// operation — the orchestration layer spec §2 describes as sitting above
// the metadata engine and the lock manager.
//
// Grounded on original_source/lib/metadata/metadata.c's top-level
// vg_create/vg_extend/... functions, each of which is itself exactly this
// shape: take the VG lock, load or build the working copy, mutate it,
// write it, release the lock. Locker is nil in single-host/no-cluster-lock
// mode (lock_type "none"), matching the original treating an unlocked VG
// as always uncontended.
package core

import (
	"context"
	"io"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/label"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/mdastore"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/mdatext"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vg"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/client"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

// Locker is the subset of lockd/client.Client core needs. *client.Client
// satisfies it; tests use a fake.
type Locker interface {
	LockGL(ctx context.Context, mode wire.LockMode, maxRetries int) error
	LockVG(ctx context.Context, opts client.LockOptions) error
	UpdateVG(ctx context.Context, vgName string, version uint32) error
}

// Core is the orchestration entry point. AreaSize is the fixed MDA text
// buffer size every AreaHandle in Areas shares.
type Core struct {
	Locker   Locker
	AreaSize uint64
}

// lockVG acquires the named VG's lock at mode, returning a release func
// that unlocks it (a no-op if Locker is nil). Mirrors every vg_* operation
// in the original taking the VG lock EX for the duration of the mutation.
func (c *Core) lockVG(ctx context.Context, vgName string, mode wire.LockMode) (func(), error) {
	if c.Locker == nil {
		return func() {}, nil
	}
	if err := c.Locker.LockVG(ctx, client.LockOptions{VGName: vgName, Mode: mode}); err != nil {
		return nil, err
	}
	return func() {
		_ = c.Locker.LockVG(ctx, client.LockOptions{VGName: vgName, Mode: wire.ModeUnlock})
	}, nil
}

func (c *Core) lockGL(ctx context.Context, mode wire.LockMode) (func(), error) {
	if c.Locker == nil {
		return func() {}, nil
	}
	if err := c.Locker.LockGL(ctx, mode, 0); err != nil {
		return nil, err
	}
	return func() { _ = c.Locker.LockGL(ctx, wire.ModeUnlock, 0) }, nil
}

// commit persists vgRef across areas with a two-phase precommit/commit and,
// if a Locker is attached, propagates the new seqno as the VG lock's Value
// Block version (spec §4.4's update_vg, issued right after a successful
// commit so other hosts' cached r_version goes stale).
func (c *Core) commit(ctx context.Context, vgRef *vgtypes.VG, areas []mdastore.AreaHandle) error {
	tx := mdastore.Begin(vgRef, areas, c.AreaSize)
	if err := tx.Precommit(ctx); err != nil {
		return err
	}
	if _, failed, err := tx.Commit(ctx); err != nil {
		return err
	} else if failed > 0 {
		vgRef.Status |= vgtypes.VGPartial
	}
	if c.Locker != nil {
		if err := c.Locker.UpdateVG(ctx, vgRef.Name, uint32(vgRef.Seqno)); err != nil {
			return lvmerr.Wrap(lvmerr.ErrLockd.Tag, lvmerr.KindBackend, "propagating new seqno to lock manager", err)
		}
	}
	return nil
}

// Load reads the authoritative VG from areas without taking any lock,
// matching spec §6's read-only scan entry point.
func Load(ctx context.Context, areas []mdastore.AreaHandle, size uint64) (*vgtypes.VGResult, error) {
	return mdastore.ReadVG(ctx, areas, size)
}

// ScanDevice names one block device scan(filter) enumerates: its device-id
// and the mdastore.Device used to read both its label sectors and whatever
// metadata areas its label points at, so the caller only has to open each
// physical device once.
type ScanDevice struct {
	DeviceID string
	Device   mdastore.Device
}

// deviceReaderAt adapts an mdastore.Device to io.ReaderAt so label.Scan can
// read the same device handle core already has open for mdastore, instead
// of requiring a second, differently-shaped open of the same block device.
type deviceReaderAt struct {
	ctx    context.Context
	device mdastore.Device
}

func (d deviceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := d.device.ReadRange(d.ctx, uint64(off), uint64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Rescan implements spec §4.1's scan(filter) / rescan(vg_name|vg_id):
// every device's label is read, the MDAs its label names are read back as
// candidate metadata areas, and the areas are grouped by the VG UUID their
// text actually decodes to. One VGResult per distinct VG found across the
// device set is returned, keyed by VG UUID; a caller implementing
// rescan(vg_name|vg_id) just looks up (or filters by) the name/UUID it
// wants from this table. filter, if non-nil, is evaluated per device-id
// before any read (scan's --devices exclusion argument). Unreadable or
// unparsable areas are skipped rather than failing the whole rescan,
// matching label.ScanDevices and mdastore.ReadAll's existing partial-read
// tolerance.
func Rescan(ctx context.Context, devices []ScanDevice, filter func(deviceID string) bool, areaSize uint64) (map[vgtypes.UUID]*vgtypes.VGResult, error) {
	byID := make(map[string]mdastore.Device, len(devices))
	handles := make([]label.DeviceHandle, 0, len(devices))
	for _, d := range devices {
		byID[d.DeviceID] = d.Device
		handles = append(handles, label.DeviceHandle{
			DeviceID: d.DeviceID,
			Reader:   deviceReaderAt{ctx: ctx, device: d.Device},
		})
	}

	found, err := label.ScanDevices(ctx, handles, filter)
	if err != nil {
		return nil, err
	}

	areasByVG := make(map[vgtypes.UUID][]mdastore.AreaHandle)
	for _, result := range found {
		dev := byID[result.DeviceID]
		for _, mda := range result.Label.MDAs {
			area := mdastore.AreaHandle{Device: dev, Offset: mda.Offset, Ignored: mda.Ignored}
			copies, err := mdastore.ReadAll(ctx, []mdastore.AreaHandle{area}, areaSize)
			if err != nil || len(copies) == 0 {
				continue // unreadable area, or not an LVM2 metadata area: skip it
			}
			block, err := mdatext.Parse(copies[0].Text)
			if err != nil {
				continue
			}
			vgFromArea, err := mdastore.BlockToVG(block)
			if err != nil {
				continue
			}
			areasByVG[vgFromArea.UUID] = append(areasByVG[vgFromArea.UUID], area)
		}
	}

	results := make(map[vgtypes.UUID]*vgtypes.VGResult, len(areasByVG))
	for vgUUID, areas := range areasByVG {
		res, err := mdastore.ReadVG(ctx, areas, areaSize)
		if err != nil {
			continue
		}
		results[vgUUID] = res
	}
	return results, nil
}

// VGCreateOptions configures CreateVG.
type VGCreateOptions struct {
	vg.CreateOptions
	Areas []mdastore.AreaHandle
}

// CreateVG implements vg_create: claim the GL (new VG names must be unique
// cluster-wide), build the empty VG, and commit it to its (as yet PV-less)
// metadata areas. A fresh VG normally gets its areas once AddPV has placed
// at least one PV; callers that already know the backing devices pass them
// here so the first commit is durable immediately.
func (c *Core) CreateVG(ctx context.Context, opts VGCreateOptions) (*vgtypes.VG, error) {
	unlockGL, err := c.lockGL(ctx, wire.ModeExclusive)
	if err != nil {
		return nil, err
	}
	defer unlockGL()

	vgRef, err := vg.AllocVG(opts.CreateOptions)
	if err != nil {
		return nil, err
	}
	if len(opts.Areas) > 0 {
		if err := c.commit(ctx, vgRef, opts.Areas); err != nil {
			return nil, err
		}
	}
	return vgRef, nil
}

// RemoveVG implements vg_remove: it refuses a VG that still has LVs, then
// takes the VG lock EX so no other host can be mid-operation. No metadata
// area is written: removal is signaled by the caller discarding the VG and
// (outside this core's scope) wiping the label, per spec §1's
// device-mapper/label-wipe non-goal boundary.
func (c *Core) RemoveVG(ctx context.Context, vgRef *vgtypes.VG) error {
	if len(vgRef.LVs) > 0 {
		return lvmerr.New(lvmerr.ErrInUse.Tag, lvmerr.KindValidation, "volume group still has logical volumes")
	}
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()
	return nil
}

// RenameVG implements vg_rename under the GL (cluster-wide name uniqueness)
// and the VG's own lock.
func (c *Core) RenameVG(ctx context.Context, vgRef *vgtypes.VG, newName string, areas []mdastore.AreaHandle) error {
	unlockGL, err := c.lockGL(ctx, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlockGL()
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	if newName == "" {
		return lvmerr.New(lvmerr.ErrNameCollision.Tag, lvmerr.KindValidation, "vg name must not be empty")
	}
	vgRef.Name = newName
	vgRef.Seqno++
	return c.commit(ctx, vgRef, areas)
}

// ExtendVG implements vg_extend: add a PV under the VG's own exclusive
// lock, then commit.
func (c *Core) ExtendVG(ctx context.Context, vgRef *vgtypes.VG, pv *vgtypes.PV, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	if err := vg.AddPV(vgRef, pv); err != nil {
		return err
	}
	return c.commit(ctx, vgRef, areas)
}

// ReduceVG implements vg_reduce: remove a PV under the VG's own exclusive
// lock, then commit.
func (c *Core) ReduceVG(ctx context.Context, vgRef *vgtypes.VG, pvUUID vgtypes.UUID, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	if err := vg.RemovePV(vgRef, pvUUID); err != nil {
		return err
	}
	return c.commit(ctx, vgRef, areas)
}

// LVCreate implements lv_create.
func (c *Core) LVCreate(ctx context.Context, vgRef *vgtypes.VG, opts vg.CreateLVOptions, areas []mdastore.AreaHandle) (*vgtypes.LV, error) {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lv, err := vg.CreateLV(vgRef, opts)
	if err != nil {
		return nil, err
	}
	if err := c.commit(ctx, vgRef, areas); err != nil {
		return nil, err
	}
	return lv, nil
}

// LVRemove implements lv_remove.
func (c *Core) LVRemove(ctx context.Context, vgRef *vgtypes.VG, lvUUID vgtypes.UUID, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	if err := vg.RemoveLV(vgRef, lvUUID); err != nil {
		return err
	}
	return c.commit(ctx, vgRef, areas)
}

// LVRename implements lv_rename.
func (c *Core) LVRename(ctx context.Context, vgRef *vgtypes.VG, lv *vgtypes.LV, newName string, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	if err := vg.RenameLV(vgRef, lv, newName); err != nil {
		return err
	}
	return c.commit(ctx, vgRef, areas)
}

// LVResize implements lv_resize: newExtentCount above the current size
// extends (honoring policy), below it reduces.
func (c *Core) LVResize(ctx context.Context, vgRef *vgtypes.VG, lv *vgtypes.LV, newExtentCount uint64, policy vgtypes.AllocPolicy, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	current := lv.SizeExtents()
	switch {
	case newExtentCount > current:
		if err := vg.ExtendLV(vgRef, lv, newExtentCount-current, policy); err != nil {
			return err
		}
	case newExtentCount < current:
		if err := vg.ReduceLV(vgRef, lv, newExtentCount); err != nil {
			return err
		}
	default:
		return nil
	}
	return c.commit(ctx, vgRef, areas)
}

// LVConvert implements lv_convert's layer-insertion transitions (spec §4.3,
// SUPPLEMENTED FEATURES): target is one of the permitted segment type
// strings in internal/vg/convert.go's transition table.
func (c *Core) LVConvert(ctx context.Context, vgRef *vgtypes.VG, lv *vgtypes.LV, target string, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	if err := vg.ConvertLV(vgRef, lv, target); err != nil {
		return err
	}
	return c.commit(ctx, vgRef, areas)
}

// LVConvertFinish marks a pending conversion complete once activation has
// confirmed the new top-level segment is in place (the original's
// lv_convert second phase, run after the device-mapper reload this core
// treats as opaque per spec §1).
func (c *Core) LVConvertFinish(ctx context.Context, vgRef *vgtypes.VG, lv *vgtypes.LV, areas []mdastore.AreaHandle) error {
	unlock, err := c.lockVG(ctx, vgRef.Name, wire.ModeExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	vg.FinishConvert(vgRef, lv)
	return c.commit(ctx, vgRef, areas)
}
