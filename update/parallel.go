package update

import (
	"context"
	"runtime"

	"github.com/fwbank/swupdate"
	"github.com/fwbank/swupdate/archive"
	"github.com/fwbank/swupdate/fs"
	"github.com/fwbank/swupdate/memmap"
	"github.com/fwbank/swupdate/verify"
)

// runParallel runs each block's write-then-verify as an independent worker
// bounded by the task runner. Workers never share an archive handle: each
// opens its own against the archive path, because a single zip reader does
// not support concurrent entry reads. The first error cancels the runner
// context; blocks not yet scheduled are skipped and in-flight blocks observe
// the cancellation at their next chunk boundary.
func runParallel(ctx context.Context, ar *archive.Archive, m *memmap.Map, w *fs.BlockWriter, v *verify.Verifier, maxWorkers int) error {
	blocks := ar.LogicalBlocks()
	if len(blocks) == 0 {
		return nil
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	tr := swupdate.NewTaskRunner(ctx, maxWorkers)
	for _, info := range blocks {
		info := info
		if tr.GetContext().Err() != nil {
			break
		}
		tr.Go(func() error {
			wctx := tr.GetContext()
			wa, err := archive.Open(wctx, ar.Path())
			if err != nil {
				return err
			}
			defer wa.Close()
			return applyBlock(wctx, wa, m, w, v, info)
		})
	}
	return tr.Wait()
}
