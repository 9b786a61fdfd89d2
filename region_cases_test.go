package swupdate

import (
	"math"
	"strings"
	"testing"
)

func TestRegionValidate(t *testing.T) {
	cases := []struct {
		name    string
		region  Region
		wantErr string
	}{
		{name: "valid", region: Region{Path: "/dev/bank_a", Offset: 4096, Size: 16}},
		{name: "valid_zero_offset", region: Region{Path: "/dev/bank_a", Offset: 0, Size: 1}},
		{name: "no_path", region: Region{Size: 16}, wantErr: "no destination path"},
		{name: "zero_size", region: Region{Path: "/dev/bank_a"}, wantErr: "size must be > 0"},
		{name: "overflow", region: Region{Path: "/dev/bank_a", Offset: math.MaxUint64 - 8, Size: 16}, wantErr: "overflows"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.region.Validate()
			if c.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid region, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("expected error containing %q, got %v", c.wantErr, err)
			}
		})
	}
}

func TestRegionEndAndString(t *testing.T) {
	r := Region{Path: "/tmp/out.bin", Offset: 4096, Size: 16}
	if r.End() != 4112 {
		t.Errorf("End: got %d want 4112", r.End())
	}
	if got := r.String(); got != "/tmp/out.bin[4096:4112]" {
		t.Errorf("String: got %q", got)
	}
}
