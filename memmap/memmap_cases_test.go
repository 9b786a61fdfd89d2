package memmap

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fwbank/swupdate"
)

const sampleCfg = `{
  "logical_blocks": [
    {
      "name": "bootloader",
      "id": "01",
      "destination": {
        "bank_a": { "path": "/tmp/bank_a.bin", "offset": 0, "size": 16 },
        "bank_b": { "path": "/tmp/bank_b.bin", "offset": 0, "size": 16 }
      }
    },
    {
      "name": "application",
      "id": "02",
      "destination": {
        "bank_a": { "path": "/tmp/bank_a.bin", "offset": 4096, "size": 32 },
        "bank_b": { "path": "/tmp/bank_b.bin", "offset": 4096, "size": 32 }
      }
    }
  ]
}`

func writeCfg(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lb_cfg.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	return path
}

func TestLoadProjectsTargetBank(t *testing.T) {
	ctx := context.Background()
	path := writeCfg(t, sampleCfg)

	cases := []struct {
		bank       string
		wantOffset uint64
	}{
		{bank: BankA, wantOffset: 4096},
		{bank: BankB, wantOffset: 4096},
	}
	for _, c := range cases {
		t.Run(c.bank, func(t *testing.T) {
			m, err := Load(ctx, path, c.bank)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if m.Bank() != c.bank {
				t.Errorf("bank: got %s", m.Bank())
			}
			if m.Len() != 2 {
				t.Errorf("len: got %d want 2", m.Len())
			}
			r, err := m.Region("02")
			if err != nil {
				t.Fatalf("region 02: %v", err)
			}
			if r.Offset != c.wantOffset || r.Size != 32 {
				t.Errorf("region 02: got %+v", r)
			}
			wantPath := "/tmp/bank_a.bin"
			if c.bank == BankB {
				wantPath = "/tmp/bank_b.bin"
			}
			if r.Path != wantPath {
				t.Errorf("region 02 path: got %s want %s", r.Path, wantPath)
			}
		})
	}
}

func TestRegionMissingIDYieldsMissingLogicalBlock(t *testing.T) {
	m, err := Load(context.Background(), writeCfg(t, sampleCfg), BankA)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = m.Region("ff")
	var ue swupdate.Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected swupdate.Error, got %v", err)
	}
	if ue.Code != swupdate.MissingLogicalBlock || ue.LogicalBlockID != "ff" {
		t.Errorf("unexpected error: %+v", ue)
	}
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		cfg     string
		bank    string
		wantErr string
	}{
		{
			name:    "unknown_bank",
			cfg:     sampleCfg,
			bank:    "bank_c",
			wantErr: "not a supported bank",
		},
		{
			name:    "malformed_json",
			cfg:     "{not json",
			bank:    BankA,
			wantErr: "parsing memory map",
		},
		{
			name: "duplicate_id",
			cfg: `{"logical_blocks": [
				{"name": "x", "id": "01", "destination": {
					"bank_a": {"path": "/tmp/a", "offset": 0, "size": 1},
					"bank_b": {"path": "/tmp/b", "offset": 0, "size": 1}}},
				{"name": "y", "id": "01", "destination": {
					"bank_a": {"path": "/tmp/a", "offset": 8, "size": 1},
					"bank_b": {"path": "/tmp/b", "offset": 8, "size": 1}}}
			]}`,
			bank:    BankA,
			wantErr: "duplicate logical block id 01",
		},
		{
			name: "missing_bank_b_region",
			cfg: `{"logical_blocks": [
				{"name": "x", "id": "01", "destination": {
					"bank_a": {"path": "/tmp/a", "offset": 0, "size": 1}}}
			]}`,
			bank:    BankA,
			wantErr: "bank_b",
		},
		{
			name: "zero_size_region",
			cfg: `{"logical_blocks": [
				{"name": "x", "id": "01", "destination": {
					"bank_a": {"path": "/tmp/a", "offset": 0, "size": 0},
					"bank_b": {"path": "/tmp/b", "offset": 0, "size": 1}}}
			]}`,
			bank:    BankA,
			wantErr: "size must be > 0",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(ctx, writeCfg(t, c.cfg), c.bank)
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("expected error containing %q, got %v", c.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"), BankA)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	// Parse -> serialize -> parse must be stable.
	var cfg Config
	if err := json.Unmarshal([]byte(sampleCfg), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ba, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var cfg2 Config
	if err := json.Unmarshal(ba, &cfg2); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if !reflect.DeepEqual(cfg, cfg2) {
		t.Errorf("round trip drifted:\n%+v\nvs\n%+v", cfg, cfg2)
	}
}
