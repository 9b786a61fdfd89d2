package update

import (
	"context"

	"github.com/fwbank/swupdate/archive"
	"github.com/fwbank/swupdate/fs"
	"github.com/fwbank/swupdate/memmap"
	"github.com/fwbank/swupdate/verify"
)

// runSequential applies blocks one at a time in manifest order, sharing the
// already opened archive handle. The first error stops the walk.
func runSequential(ctx context.Context, ar *archive.Archive, m *memmap.Map, w *fs.BlockWriter, v *verify.Verifier) error {
	for _, info := range ar.LogicalBlocks() {
		if err := applyBlock(ctx, ar, m, w, v, info); err != nil {
			return err
		}
	}
	return nil
}
