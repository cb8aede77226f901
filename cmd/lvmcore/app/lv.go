package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/core"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vg"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/vgtypes"
)

func addLVCommands(root *cobra.Command) {
	root.AddCommand(newLVCreateCmd(), newLVRemoveCmd(), newLVRenameCmd(), newLVResizeCmd(), newLVConvertCmd(), newLVConvertFinishCmd())
}

func findLV(vgRef *vgtypes.VG, lvUUID string) (*vgtypes.LV, error) {
	id, err := uuidfmt.Parse(lvUUID)
	if err != nil {
		return nil, err
	}
	lv := vgRef.FindLVByUUID(id)
	if lv == nil {
		return nil, lvmerr.ErrNotFound
	}
	return lv, nil
}

func newLVCreateCmd() *cobra.Command {
	var areaPaths []string
	var name string
	var extents uint64
	var policy string
	var stripes int
	var stripeSize uint64

	cmd := &cobra.Command{
		Use:   "lv-create",
		Short: "Create a new linear or striped logical volume",
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
			lv, err := c.LVCreate(ctx, result.VG, vg.CreateLVOptions{
				Name:       name,
				Extents:    extents,
				Policy:     vgtypes.AllocPolicy(policy),
				Stripes:    stripes,
				StripeSize: stripeSize,
			}, areas)
			if err != nil {
				return err
			}
			fmt.Printf("lv_create: created %s (uuid %s, %d extents)\n", lv.Name, lv.UUID, extents)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&name, "name", "", "logical volume name")
	cmd.Flags().Uint64Var(&extents, "extents", 0, "extent count to allocate")
	cmd.Flags().StringVar(&policy, "policy", string(vgtypes.AllocNormal), "allocation policy: contiguous, cling, normal, anywhere, inherit")
	cmd.Flags().IntVar(&stripes, "stripes", 1, "stripe count")
	cmd.Flags().Uint64Var(&stripeSize, "stripe-size", 0, "stripe size in bytes")
	return cmd
}

func newLVRemoveCmd() *cobra.Command {
	var areaPaths []string
	var lvUUID string
	cmd := &cobra.Command{
		Use:   "lv-remove",
		Short: "Remove a logical volume",
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
			id, err := uuidfmt.Parse(lvUUID)
			if err != nil {
				return err
			}
			if err := c.LVRemove(ctx, result.VG, id, areas); err != nil {
				return err
			}
			fmt.Printf("lv_remove: removed %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&lvUUID, "lv-uuid", "", "logical volume UUID to remove")
	return cmd
}

func newLVRenameCmd() *cobra.Command {
	var areaPaths []string
	var lvUUID, newName string
	cmd := &cobra.Command{
		Use:   "lv-rename",
		Short: "Rename a logical volume",
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
			lv, err := findLV(result.VG, lvUUID)
			if err != nil {
				return err
			}
			oldName := lv.Name
			if err := c.LVRename(ctx, result.VG, lv, newName, areas); err != nil {
				return err
			}
			fmt.Printf("lv_rename: %s -> %s\n", oldName, newName)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&lvUUID, "lv-uuid", "", "logical volume UUID to rename")
	cmd.Flags().StringVar(&newName, "new-name", "", "new logical volume name")
	return cmd
}

func newLVResizeCmd() *cobra.Command {
	var areaPaths []string
	var lvUUID, policy string
	var extents uint64
	cmd := &cobra.Command{
		Use:   "lv-resize",
		Short: "Grow or shrink a logical volume to an exact extent count",
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
			lv, err := findLV(result.VG, lvUUID)
			if err != nil {
				return err
			}
			if err := c.LVResize(ctx, result.VG, lv, extents, vgtypes.AllocPolicy(policy), areas); err != nil {
				return err
			}
			fmt.Printf("lv_resize: %s now %d extents\n", lv.Name, extents)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&lvUUID, "lv-uuid", "", "logical volume UUID to resize")
	cmd.Flags().Uint64Var(&extents, "extents", 0, "target extent count")
	cmd.Flags().StringVar(&policy, "policy", string(vgtypes.AllocNormal), "allocation policy for growth")
	return cmd
}

func newLVConvertCmd() *cobra.Command {
	var areaPaths []string
	var lvUUID, target string
	cmd := &cobra.Command{
		Use:   "lv-convert",
		Short: "Begin converting a logical volume to a new segment type",
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
			lv, err := findLV(result.VG, lvUUID)
			if err != nil {
				return err
			}
			if err := c.LVConvert(ctx, result.VG, lv, target, areas); err != nil {
				return err
			}
			fmt.Printf("lv_convert: %s converting to %s\n", lv.Name, target)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&lvUUID, "lv-uuid", "", "logical volume UUID to convert")
	cmd.Flags().StringVar(&target, "target", "", "target segment type")
	return cmd
}

func newLVConvertFinishCmd() *cobra.Command {
	var areaPaths []string
	var lvUUID string
	cmd := &cobra.Command{
		Use:   "lv-convert-finish",
		Short: "Confirm a pending lv_convert and clear the LV's converting flag",
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
			lv, err := findLV(result.VG, lvUUID)
			if err != nil {
				return err
			}
			if err := c.LVConvertFinish(ctx, result.VG, lv, areas); err != nil {
				return err
			}
			fmt.Printf("lv_convert: %s conversion finished\n", lv.Name)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&areaPaths, "area", nil, "metadata area file path (repeatable)")
	cmd.Flags().StringVar(&lvUUID, "lv-uuid", "", "logical volume UUID to finish converting")
	return cmd
}
