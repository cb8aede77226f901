package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/blockdev"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/core"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

// printVG renders the summary line addScanCommand's two modes (load a known
// area set, or rescan a device list for whatever VGs turn up) share.
func printVG(vgRef *vgtypes.VG, partial bool) {
	fmt.Printf("VG %s (uuid %s) seqno %d partial=%v\n", vgRef.Name, vgRef.UUID, vgRef.Seqno, partial)
	for _, pv := range vgRef.PVs {
		fmt.Printf("  PV %s  %d extents\n", pv.UUID, pv.PECount)
	}
	for _, lv := range vgRef.LVs {
		fmt.Printf("  LV %s (%s)  %d extents\n", lv.Name, lv.UUID, lv.SizeExtents())
	}
}

func addScanCommand(root *cobra.Command) {
	var areaPaths []string
	var devicePaths []string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read back the authoritative VG metadata without taking any lock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(devicePaths) > 0 {
				return runDeviceScan(devicePaths)
			}

			ctx := rootContext()
			areas, closeAreas, err := openAreas(areaPaths)
			if err != nil {
				return err
			}
			defer closeAreas()

			result, err := core.Load(ctx, areas, config.areaSize)
			if err != nil {
				return err
			}
			printVG(result.VG, result.Partial)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringSliceVar(&devicePaths, "device", nil, "block device to scan for a PV label (repeatable; implements scan(filter))")
	root.AddCommand(cmd)
}

// runDeviceScan implements scan(filter) against real block devices: every
// path is opened, its label (if any) located, and the VGs the labeled
// devices' metadata areas resolve to are printed — unlike --area, the
// caller names devices, not pre-known metadata area offsets.
func runDeviceScan(paths []string) error {
	ctx := rootContext()
	devices, closeDevices, err := openScanDevices(paths)
	if err != nil {
		return err
	}
	defer closeDevices()

	results, err := core.Rescan(ctx, devices, nil, config.areaSize)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no LVM2 volume groups found")
		return nil
	}
	for _, result := range results {
		printVG(result.VG, result.Partial)
	}
	return nil
}

// openScanDevices opens one block device per path and wraps each as a
// core.ScanDevice keyed by its path, the scan(filter) device-id.
func openScanDevices(paths []string) ([]core.ScanDevice, func(), error) {
	var devices []core.ScanDevice
	var files []*blockdev.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, p := range paths {
		f, err := blockdev.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("opening device %s: %w", p, err)
		}
		files = append(files, f)
		devices = append(devices, core.ScanDevice{DeviceID: p, Device: f})
	}
	return devices, closeAll, nil
}
