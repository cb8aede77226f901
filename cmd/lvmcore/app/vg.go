package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/core"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vg"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

func addVGCommands(root *cobra.Command) {
	root.AddCommand(newVGCreateCmd(), newVGRemoveCmd(), newVGRenameCmd(), newVGExtendCmd(), newVGReduceCmd())
}

func newVGCreateCmd() *cobra.Command {
	var areaPaths []string
	var name string
	var extentSize uint64
	var systemID string

	cmd := &cobra.Command{
		Use:   "vg-create",
		Short: "Create a new, empty volume group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := rootContext()
			c, closeCore, err := newCore(ctx)
			if err != nil {
				return err
			}
			defer closeCore()

			areas, closeAreas, err := openAreas(areaPaths)
			if err != nil {
				return err
			}
			defer closeAreas()

			vgRef, err := c.CreateVG(ctx, core.VGCreateOptions{
				CreateOptions: vg.CreateOptions{Name: name, ExtentSize: extentSize, SystemID: systemID},
				Areas:         areas,
			})
			if err != nil {
				return err
			}
			fmt.Printf("vg_create: created %s (uuid %s)\n", vgRef.Name, vgRef.UUID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&name, "name", "", "volume group name")
	cmd.Flags().Uint64Var(&extentSize, "extent-size", 4*1024*1024, "extent size in bytes")
	cmd.Flags().StringVar(&systemID, "system-id", "", "system_id to stamp on the new VG")
	return cmd
}

func newVGRemoveCmd() *cobra.Command {
	var areaPaths []string
	cmd := &cobra.Command{
		Use:   "vg-remove",
		Short: "Remove an empty volume group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := rootContext()
			c, closeCore, err := newCore(ctx)
			if err != nil {
				return err
			}
			defer closeCore()

			areas, closeAreas, err := openAreas(areaPaths)
			if err != nil {
				return err
			}
			defer closeAreas()

			result, err := core.Load(ctx, areas, config.areaSize)
			if err != nil {
				return err
			}
			if err := c.RemoveVG(ctx, result.VG); err != nil {
				return err
			}
			fmt.Printf("vg_remove: removed %s\n", result.VG.Name)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	return cmd
}

func newVGRenameCmd() *cobra.Command {
	var areaPaths []string
	var newName string
	cmd := &cobra.Command{
		Use:   "vg-rename",
		Short: "Rename a volume group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := rootContext()
			c, closeCore, err := newCore(ctx)
			if err != nil {
				return err
			}
			defer closeCore()

			areas, closeAreas, err := openAreas(areaPaths)
			if err != nil {
				return err
			}
			defer closeAreas()

			result, err := core.Load(ctx, areas, config.areaSize)
			if err != nil {
				return err
			}
			oldName := result.VG.Name
			if err := c.RenameVG(ctx, result.VG, newName, areas); err != nil {
				return err
			}
			fmt.Printf("vg_rename: %s -> %s\n", oldName, newName)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&newName, "new-name", "", "new volume group name")
	return cmd
}

func newVGExtendCmd() *cobra.Command {
	var areaPaths []string
	var pvExtents uint64
	cmd := &cobra.Command{
		Use:   "vg-extend",
		Short: "Add a new physical volume to a volume group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := rootContext()
			c, closeCore, err := newCore(ctx)
			if err != nil {
				return err
			}
			defer closeCore()

			areas, closeAreas, err := openAreas(areaPaths)
			if err != nil {
				return err
			}
			defer closeAreas()

			result, err := core.Load(ctx, areas, config.areaSize)
			if err != nil {
				return err
			}
			pv := &vgtypes.PV{UUID: uuidfmt.New(), PECount: pvExtents}
			if err := c.ExtendVG(ctx, result.VG, pv, areas); err != nil {
				return err
			}
			fmt.Printf("vg_extend: added pv %s (%d extents) to %s\n", pv.UUID, pvExtents, result.VG.Name)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().Uint64Var(&pvExtents, "pv-extents", 0, "extent count the new physical volume provides")
	return cmd
}

func newVGReduceCmd() *cobra.Command {
	var areaPaths []string
	var pvUUID string
	cmd := &cobra.Command{
		Use:   "vg-reduce",
		Short: "Remove an unused physical volume from a volume group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := rootContext()
			c, closeCore, err := newCore(ctx)
			if err != nil {
				return err
			}
			defer closeCore()

			areas, closeAreas, err := openAreas(areaPaths)
			if err != nil {
				return err
			}
			defer closeAreas()

			result, err := core.Load(ctx, areas, config.areaSize)
			if err != nil {
				return err
			}
			id, err := uuidfmt.Parse(pvUUID)
			if err != nil {
				return err
			}
			if err := c.ReduceVG(ctx, result.VG, id, areas); err != nil {
				return err
			}
			fmt.Printf("vg_reduce: removed pv %s from %s\n", id, result.VG.Name)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&pvUUID, "pv-uuid", "", "physical volume UUID to remove")
	return cmd
}
