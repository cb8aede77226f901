package vgtypes

import (
	"testing"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/uuidfmt"
)

func poolVG(messages []ThinMessage) *VG {
	poolLV := &LV{
		UUID: uuidfmt.New(),
		Name: "pool",
		Segments: []*Segment{{
			ExtentLen: 10,
			Variant:   &ThinPoolSegment{Messages: messages},
		}},
	}
	return &VG{Name: "vg0", LVs: []*LV{poolLV}}
}

func TestValidateAcceptsWellOrderedThinMessages(t *testing.T) {
	vg := poolVG([]ThinMessage{
		{Kind: ThinMessageCreateThin, DeviceID: 1},
		{Kind: ThinMessageCreateThin, DeviceID: 2},
		{Kind: ThinMessageCreateSnap, DeviceID: 3, OriginDeviceID: 1},
		{Kind: ThinMessageDelete, DeviceID: 2},
	})
	if err := vg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsDeleteOfUndeclaredDevice(t *testing.T) {
	vg := poolVG([]ThinMessage{
		{Kind: ThinMessageCreateThin, DeviceID: 1},
		{Kind: ThinMessageDelete, DeviceID: 99},
	})
	if err := vg.Validate(); err == nil {
		t.Fatal("expected error deleting an undeclared device id")
	}
}

func TestValidateRejectsDuplicateCreate(t *testing.T) {
	vg := poolVG([]ThinMessage{
		{Kind: ThinMessageCreateThin, DeviceID: 1},
		{Kind: ThinMessageCreateThin, DeviceID: 1},
	})
	if err := vg.Validate(); err == nil {
		t.Fatal("expected error creating the same device id twice")
	}
}

func TestValidateRejectsSnapOfUndeclaredOrigin(t *testing.T) {
	vg := poolVG([]ThinMessage{
		{Kind: ThinMessageCreateSnap, DeviceID: 1, OriginDeviceID: 5},
	})
	if err := vg.Validate(); err == nil {
		t.Fatal("expected error snapshotting an undeclared origin device")
	}
}

func TestValidateAllowsRecreatingDeletedDeviceID(t *testing.T) {
	vg := poolVG([]ThinMessage{
		{Kind: ThinMessageCreateThin, DeviceID: 1},
		{Kind: ThinMessageDelete, DeviceID: 1},
		{Kind: ThinMessageCreateThin, DeviceID: 1},
	})
	if err := vg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
