package lvattr

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Attr
	}{
		{
			"raid without initial sync",
			"Rwi-a-r---",
			Attr{
				VolumeType:       VolumeTypeRAIDNoInitialSync,
				Permissions:      PermissionsWriteable,
				AllocationPolicy: AllocationPolicyInherited,
				Minor:            MinorFalse,
				State:            StateActive,
				Open:             OpenFalse,
				OpenTarget:       OpenTargetRaid,
				Zero:             ZeroFalse,
				VolumeHealth:     VolumeHealthMissing,
			},
		},
		{
			"thin pool with zeroing",
			"twi-a-tz--",
			Attr{
				VolumeType:       VolumeTypeThinPool,
				Permissions:      PermissionsWriteable,
				AllocationPolicy: AllocationPolicyInherited,
				Minor:            MinorFalse,
				State:            StateActive,
				Open:             OpenFalse,
				OpenTarget:       OpenTargetThin,
				Zero:             ZeroTrue,
				VolumeHealth:     VolumeHealthMissing,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if got.String() != tt.raw[:9] {
				t.Errorf("String() = %q, want %q", got.String(), tt.raw[:9])
			}
		})
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	if _, err := Parse("short"); err == nil {
		t.Fatal("expected error for short attribute string")
	}
}

func TestVerifyHealth(t *testing.T) {
	a, err := Parse("twi-a-tzD-")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.VerifyHealth(); err == nil {
		t.Fatal("expected error for out-of-data-space thin pool")
	}
}

func TestIsNotSynced(t *testing.T) {
	a, err := Parse("Rwi-a-r---")
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsNotSynced() {
		t.Fatal("expected IsNotSynced() to be true")
	}
}
