// Package memmap loads the bank configuration document and projects the
// targeted bank into an immutable id to region lookup used by the updater.
package memmap

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/fwbank/swupdate"
	"github.com/fwbank/swupdate/encoding"
	"github.com/fwbank/swupdate/fs"
)

// The two interchangeable firmware banks. Every configuration entry must
// define a destination region for both.
const (
	BankA = "bank_a"
	BankB = "bank_b"
)

// Banks holds a logical block's destination region in each bank.
type Banks struct {
	BankA swupdate.Region `json:"bank_a"`
	BankB swupdate.Region `json:"bank_b"`
}

// BlockEntry is one configuration entry naming a logical block and its
// per-bank destinations.
type BlockEntry struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Destination Banks  `json:"destination"`
}

// Config is the on-disk shape of the bank configuration document.
type Config struct {
	LogicalBlocks []BlockEntry `json:"logical_blocks"`
}

// Map is the targeted bank's projection of the configuration: logical block
// id to destination region. Immutable after Load.
type Map struct {
	bank    string
	regions map[string]swupdate.Region
}

// Load reads and parses the configuration at path and projects the given
// bank. File-not-found, malformed JSON, an unrecognized bank name and
// duplicate block ids are all fatal.
func Load(ctx context.Context, path string, bank string) (*Map, error) {
	ba, err := fs.NewFileIO().ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading memory map %s failed: %w", path, err)
	}
	var cfg Config
	if err := encoding.DefaultMarshaler.Unmarshal(ba, &cfg); err != nil {
		return nil, fmt.Errorf("parsing memory map %s failed: %w", path, err)
	}
	return NewMap(cfg, bank)
}

// NewMap projects the chosen bank out of an already parsed configuration.
func NewMap(cfg Config, bank string) (*Map, error) {
	if bank != BankA && bank != BankB {
		return nil, fmt.Errorf("%s is not a supported bank", bank)
	}
	regions := make(map[string]swupdate.Region, len(cfg.LogicalBlocks))
	for _, lb := range cfg.LogicalBlocks {
		if _, ok := regions[lb.ID]; ok {
			return nil, fmt.Errorf("duplicate logical block id %s in memory map", lb.ID)
		}
		// Both banks must carry a valid region even though only one is targeted.
		if err := lb.Destination.BankA.Validate(); err != nil {
			return nil, fmt.Errorf("logical block %s bank_a: %w", lb.ID, err)
		}
		if err := lb.Destination.BankB.Validate(); err != nil {
			return nil, fmt.Errorf("logical block %s bank_b: %w", lb.ID, err)
		}
		r := lb.Destination.BankA
		if bank == BankB {
			r = lb.Destination.BankB
		}
		regions[lb.ID] = r
		log.Debug(fmt.Sprintf("memory map: logical block %s -> %s", lb.ID, r))
	}
	return &Map{bank: bank, regions: regions}, nil
}

// Region returns the destination region of the given logical block id on the
// targeted bank. Absent ids yield a MissingLogicalBlock error.
func (m *Map) Region(id string) (swupdate.Region, error) {
	r, ok := m.regions[id]
	if !ok {
		return swupdate.Region{}, swupdate.Error{
			Code:           swupdate.MissingLogicalBlock,
			LogicalBlockID: id,
			Err:            fmt.Errorf("no region on %s", m.bank),
		}
	}
	return r, nil
}

// Bank returns the bank this map projects.
func (m *Map) Bank() string {
	return m.bank
}

// Len returns the count of mapped logical blocks.
func (m *Map) Len() int {
	return len(m.regions)
}
