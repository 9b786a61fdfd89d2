// Package update drives a software update: it joins the archive manifest
// with the memory map and, per logical block, streams the payload into the
// destination region and verifies the written bytes against the manifest
// signature. Three interchangeable execution strategies are provided; all
// produce identical destination state for a successful update.
package update

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/google/uuid"

	"github.com/fwbank/swupdate"
	"github.com/fwbank/swupdate/archive"
	"github.com/fwbank/swupdate/fs"
	"github.com/fwbank/swupdate/memmap"
	"github.com/fwbank/swupdate/verify"
)

// Strategy selects how blocks are scheduled. It is a call-site choice and
// never part of the archive or map format.
type Strategy int

const (
	// Sequential processes blocks one at a time in manifest order.
	Sequential Strategy = iota
	// Parallel runs each block's write-then-verify as an independent worker.
	Parallel
	// Async interleaves blocks on a single goroutine, suspending at chunk
	// I/O boundaries.
	Async
)

// String returns the strategy's name for logs.
func (s Strategy) String() string {
	switch s {
	case Parallel:
		return "parallel"
	case Async:
		return "async"
	}
	return "sequential"
}

// Options parameterizes a run. Zero value: sequential strategy, bank_a,
// buffered I/O.
type Options struct {
	// PublicKeyPath locates the PEM encoded RSA public key covering every
	// block of the update.
	PublicKeyPath string
	// TargetBank names the bank to write (memmap.BankA or memmap.BankB).
	// Empty selects bank_a. Bank policy itself is the caller's business.
	TargetBank string
	// Strategy selects the execution strategy.
	Strategy Strategy
	// MaxWorkers caps in-flight blocks for the Parallel strategy. Zero or
	// negative selects the CPU count.
	MaxWorkers int
	// DirectIO opens sector-aligned destination regions O_DIRECT. It applies
	// to the Sequential and Parallel strategies; Async always writes through
	// buffered I/O.
	DirectIO bool
}

// Run applies the update described by the archive at archivePath to the
// destinations mapped at memoryMapPath. The first failing block aborts the
// update; partial writes are not rolled back, the caller owns rollback via
// bank switching.
func Run(ctx context.Context, memoryMapPath, archivePath string, opts Options) error {
	runID := uuid.New()
	bank := opts.TargetBank
	if bank == "" {
		bank = memmap.BankA
	}
	log.Info(fmt.Sprintf("update %s starting: archive %s, map %s, bank %s, strategy %s", runID, archivePath, memoryMapPath, bank, opts.Strategy))

	// The key is loaded once and shared read-only by every block's verifier.
	key, err := verify.LoadPublicKey(ctx, opts.PublicKeyPath)
	if err != nil {
		return err
	}
	m, err := memmap.Load(ctx, memoryMapPath, bank)
	if err != nil {
		return err
	}
	ar, err := archive.Open(ctx, archivePath)
	if err != nil {
		return err
	}
	defer ar.Close()

	w := fs.NewBlockWriter(opts.DirectIO)
	v := verify.NewVerifier(key)

	switch opts.Strategy {
	case Parallel:
		err = runParallel(ctx, ar, m, w, v, opts.MaxWorkers)
	case Async:
		err = runAsync(ctx, ar, m, v)
	default:
		err = runSequential(ctx, ar, m, w, v)
	}
	if err != nil {
		log.Error(fmt.Sprintf("update %s failed: %v", runID, err))
		return err
	}
	log.Info(fmt.Sprintf("update %s complete: %d logical blocks applied", runID, len(ar.LogicalBlocks())))
	return nil
}

// applyBlock runs one block through its state machine: resolve the region,
// stream the payload in, then verify the destination. Write strictly
// happens-before verify.
func applyBlock(ctx context.Context, ar *archive.Archive, m *memmap.Map, w *fs.BlockWriter, v *verify.Verifier, info archive.LogicalBlockInfo) error {
	region, err := m.Region(info.ID)
	if err != nil {
		return err
	}
	src, err := ar.OpenReader(info)
	if err != nil {
		return err
	}
	_, werr := w.WriteBlock(ctx, src, region, info.ID)
	if cerr := src.Close(); cerr != nil && werr == nil {
		werr = swupdate.Error{Code: swupdate.LogicalBlockRead, LogicalBlockID: info.ID, Err: cerr}
	}
	if werr != nil {
		return werr
	}
	return v.Block(ctx, region, info)
}
