// Package label implements PV label discovery (spec §4.1): scanning the
// first few sectors of a block device for the LABELONE header, validating
// its CRC, and locating the metadata area headers it points at.
//
// Grounded on original_source/lib/label/label.c's sector search loop
// (LABEL_SCAN_SECTORS, LABEL_ID, INITIAL_CRC) and on the on-disk format
// documented throughout original_source/lib/format_text.
package label

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/crcfletcher"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/logging"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
)

const (
	sectorSize       = 512
	labelScanSectors = 4
	labelID          = "LABELONE"
	labelType        = "LVM2 001"
	mdaHeaderMagic   = " LVM2 x[5A%r0N*>"
	mdaHeaderSize    = 512
)

// Label is a successfully located and CRC-validated PV label.
type Label struct {
	Sector   int64 // which of the first labelScanSectors it was found in
	PVUUID   uuidfmt.ID
	DeviceSize uint64 // sectors
	DataOffset uint64 // byte offset of the first PV data area
	DataSize   uint64
	MDAs       []MDALocation
}

// MDALocation points at one raw_locn-style metadata area on the device.
type MDALocation struct {
	Offset uint64
	Size   uint64
	Ignored bool
}

// rawLabelHeader mirrors struct label_header from the original format:
// an 8-byte id, the sector it was read from, a CRC over everything after
// it, an offset to the type-specific payload, and an 8-byte type string.
type rawLabelHeader struct {
	ID          [8]byte
	SectorXL    uint64
	CRC         uint32
	OffsetXL    uint32
	Type        [8]byte
}

const rawLabelHeaderSize = 8 + 8 + 4 + 4 + 8

// Scan reads up to labelScanSectors sectors from r (which must support
// ReadAt; callers pass the raw block device) and returns the first valid
// label found, or ErrNotFound.
func Scan(ctx context.Context, r io.ReaderAt) (*Label, error) {
	log := logging.FromContext(ctx)
	buf := make([]byte, sectorSize)
	for sector := int64(0); sector < labelScanSectors; sector++ {
		n, err := r.ReadAt(buf, sector*sectorSize)
		if err != nil && err != io.EOF {
			return nil, lvmerr.Wrap(lvmerr.ErrMetadataIO.Tag, lvmerr.KindIO, "reading label sector", err)
		}
		if n < rawLabelHeaderSize {
			continue
		}
		if !bytes.Equal(buf[:8], []byte(labelID)) {
			continue
		}

		var hdr rawLabelHeader
		copy(hdr.ID[:], buf[0:8])
		hdr.SectorXL = binary.LittleEndian.Uint64(buf[8:16])
		hdr.CRC = binary.LittleEndian.Uint32(buf[16:20])
		hdr.OffsetXL = binary.LittleEndian.Uint32(buf[20:24])
		copy(hdr.Type[:], buf[24:32])

		if !bytes.Equal(bytes.TrimRight(hdr.Type[:], "\x00"), []byte(labelType)) {
			log.V(1).Info("label sector has unrecognized type, skipping", "sector", sector, "type", string(hdr.Type[:]))
			continue
		}

		// CRC covers everything from offset_xl to the end of the sector.
		got := crcfletcher.Sum(crcfletcher.InitialSeed, buf[20:])
		if got != hdr.CRC {
			log.V(1).Info("label sector failed crc check, skipping", "sector", sector)
			continue
		}
		if hdr.SectorXL != uint64(sector) {
			return nil, lvmerr.New(lvmerr.ErrInconsistent.Tag, lvmerr.KindIO, fmt.Sprintf("label claims sector %d but was read from sector %d", hdr.SectorXL, sector))
		}

		return parsePVHeader(buf, int(hdr.OffsetXL), sector)
	}
	return nil, lvmerr.New(lvmerr.ErrNotFound.Tag, lvmerr.KindValidation, "no LVM2 label found in first sectors of device")
}

// parsePVHeader decodes the pv_header that follows the label_header: a PV
// UUID, the device size, and a list of disk_locn pairs — first the data
// areas, terminated by a zero entry, then the metadata areas, likewise
// terminated.
func parsePVHeader(buf []byte, offset int, sector int64) (*Label, error) {
	if offset+32+8 > len(buf) {
		return nil, lvmerr.New(lvmerr.ErrInconsistent.Tag, lvmerr.KindIO, "pv_header offset runs past label sector")
	}
	uuidRaw := buf[offset : offset+32]
	id, err := uuidfmt.Parse(string(uuidRaw))
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrInconsistent.Tag, lvmerr.KindIO, "pv_header uuid", err)
	}
	deviceSize := binary.LittleEndian.Uint64(buf[offset+32 : offset+40])

	lbl := &Label{Sector: sector, PVUUID: id, DeviceSize: deviceSize}

	p := offset + 40
	// data areas: disk_locn{offset,size} pairs, terminated by offset==0.
	for {
		if p+16 > len(buf) {
			break
		}
		off := binary.LittleEndian.Uint64(buf[p : p+8])
		size := binary.LittleEndian.Uint64(buf[p+8 : p+16])
		p += 16
		if off == 0 {
			break
		}
		if lbl.DataOffset == 0 {
			lbl.DataOffset = off
			lbl.DataSize = size
		}
	}
	// metadata areas: disk_locn{offset,size} pairs, terminated by offset==0;
	// size's top bit, if any, would mark it ignored — this core tracks
	// ignored state at the MDA header instead, matching read_metadata_area.
	for {
		if p+16 > len(buf) {
			break
		}
		off := binary.LittleEndian.Uint64(buf[p : p+8])
		size := binary.LittleEndian.Uint64(buf[p+8 : p+16])
		p += 16
		if off == 0 {
			break
		}
		lbl.MDAs = append(lbl.MDAs, MDALocation{Offset: off, Size: size})
	}

	return lbl, nil
}

// DeviceHandle names one block device to scan: its device-id (spec §4.1's
// device-id-keyed scan table) and a reader for its label sectors.
type DeviceHandle struct {
	DeviceID string
	Reader   io.ReaderAt
}

// ScanResult is one successfully labeled device's entry in the scan(filter)
// table: the device-id it was found on, paired with the PV label read
// from it.
type ScanResult struct {
	DeviceID string
	Label    *Label
}

// ScanDevices implements spec §4.1's scan(filter): every device is read in
// turn through Scan, and any with no LVM2 label are skipped rather than
// failing the whole scan, matching the original's tolerance for
// unrelated/foreign block devices showing up in a full device scan. filter,
// if non-nil, is evaluated against a device's id before it is read at all,
// letting callers exclude devices they already know to skip (spec §4.1's
// --devices argument) without paying for the read.
func ScanDevices(ctx context.Context, devices []DeviceHandle, filter func(deviceID string) bool) ([]ScanResult, error) {
	var results []ScanResult
	for _, d := range devices {
		if filter != nil && !filter(d.DeviceID) {
			continue
		}
		lbl, err := Scan(ctx, d.Reader)
		if err != nil {
			if errors.Is(err, lvmerr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, ScanResult{DeviceID: d.DeviceID, Label: lbl})
	}
	return results, nil
}

// MDAHeader is the fixed-size header at the start of every metadata area,
// naming the raw_locn entries that follow it (spec §4.1/§4.2).
type MDAHeader struct {
	CRC         uint32
	Version     uint32
	Start       uint64
	Size        uint64
	RawLocns    []RawLocn
}

// RawLocn is one committed-or-precommitted metadata text location within
// an MDA's circular buffer.
type RawLocn struct {
	Offset        uint64
	Size          uint64
	CRC           uint32
	FlagsIgnored  bool
}

// ReadMDAHeader reads and CRC-validates the header at the start of a
// metadata area. data must be at least mdaHeaderSize bytes.
func ReadMDAHeader(data []byte) (*MDAHeader, error) {
	if len(data) < mdaHeaderSize {
		return nil, lvmerr.New(lvmerr.ErrMetadataIO.Tag, lvmerr.KindIO, "mda header buffer too short")
	}
	if !bytes.Equal(bytes.TrimRight(data[4:20], "\x00"), []byte(mdaHeaderMagic)) {
		return nil, lvmerr.New(lvmerr.ErrInconsistent.Tag, lvmerr.KindIO, "mda header magic mismatch")
	}
	crc := binary.LittleEndian.Uint32(data[0:4])
	got := crcfletcher.Sum(crcfletcher.InitialSeed, data[4:mdaHeaderSize])
	if got != crc {
		return nil, lvmerr.New(lvmerr.ErrInconsistent.Tag, lvmerr.KindIO, "mda header failed crc check")
	}

	h := &MDAHeader{
		CRC:     crc,
		Version: binary.LittleEndian.Uint32(data[20:24]),
		Start:   binary.LittleEndian.Uint64(data[24:32]),
		Size:    binary.LittleEndian.Uint64(data[32:40]),
	}

	p := 40
	for p+24 <= mdaHeaderSize {
		off := binary.LittleEndian.Uint64(data[p : p+8])
		size := binary.LittleEndian.Uint64(data[p+8 : p+16])
		locCRC := binary.LittleEndian.Uint32(data[p+16 : p+20])
		flags := binary.LittleEndian.Uint32(data[p+20 : p+24])
		p += 24
		if off == 0 {
			break
		}
		h.RawLocns = append(h.RawLocns, RawLocn{Offset: off, Size: size, CRC: locCRC, FlagsIgnored: flags&1 != 0})
	}
	return h, nil
}
