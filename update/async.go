package update

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/fwbank/swupdate"
	"github.com/fwbank/swupdate/archive"
	"github.com/fwbank/swupdate/fs"
	"github.com/fwbank/swupdate/memmap"
	"github.com/fwbank/swupdate/verify"
)

// Per-block phases of the cooperative scheduler.
const (
	phaseQueued = iota
	phaseWriting
	phaseVerifying
	phaseDone
)

// blockTask is one logical block's resumable state. Each step performs at
// most one chunk of I/O so interleaved blocks share the single goroutine
// fairly. The write phase completes, including the flush, before the verify
// phase opens its read-back handle.
type blockTask struct {
	info  archive.LogicalBlockInfo
	phase int
	buf   []byte

	region  swupdate.Region
	src     io.ReadCloser
	dst     *os.File
	written uint64

	vfile     *os.File
	hasher    hash.Hash
	remaining uint64
}

// runAsync drives all blocks on a single goroutine, round-robin, one chunk
// per turn. Interleaved tasks may share the archive handle because only one
// of them performs I/O at any moment. The first error wins; the remaining
// tasks are released without completing.
func runAsync(ctx context.Context, ar *archive.Archive, m *memmap.Map, v *verify.Verifier) error {
	blocks := ar.LogicalBlocks()
	tasks := make([]*blockTask, 0, len(blocks))
	for _, info := range blocks {
		tasks = append(tasks, &blockTask{info: info, buf: make([]byte, fs.BlockSize)})
	}
	defer func() {
		for _, t := range tasks {
			t.release()
		}
	}()

	active := tasks
	for len(active) > 0 {
		next := active[:0]
		for _, t := range active {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.step(ar, m, v); err != nil {
				return err
			}
			if t.phase != phaseDone {
				next = append(next, t)
			}
		}
		active = next
	}
	return nil
}

// step advances the task by one phase transition or one chunk of I/O.
func (t *blockTask) step(ar *archive.Archive, m *memmap.Map, v *verify.Verifier) error {
	switch t.phase {
	case phaseQueued:
		return t.start(ar, m)
	case phaseWriting:
		return t.writeChunk()
	case phaseVerifying:
		return t.verifyChunk(v)
	}
	return nil
}

// start resolves the block's region and opens source and destination.
func (t *blockTask) start(ar *archive.Archive, m *memmap.Map) error {
	region, err := m.Region(t.info.ID)
	if err != nil {
		return err
	}
	if err := region.Validate(); err != nil {
		return t.fail(swupdate.LogicalBlockWrite, err)
	}
	src, err := ar.OpenReader(t.info)
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(region.Path, os.O_WRONLY, 0)
	if err != nil {
		src.Close()
		return t.fail(swupdate.LogicalBlockWrite, err)
	}
	if _, err := dst.Seek(int64(region.Offset), io.SeekStart); err != nil {
		src.Close()
		dst.Close()
		return t.fail(swupdate.LogicalBlockWrite, err)
	}
	t.region = region
	t.src = src
	t.dst = dst
	t.phase = phaseWriting
	return nil
}

// writeChunk copies one chunk from the archive entry to the destination.
func (t *blockTask) writeChunk() error {
	n, rerr := t.src.Read(t.buf)
	if n > 0 {
		if uint64(n) > t.region.Size-t.written {
			return t.fail(swupdate.LogicalBlockSize, fmt.Errorf("archive entry delivered more than the declared %d bytes", t.region.Size))
		}
		wn, werr := t.dst.Write(t.buf[:n])
		if werr != nil {
			return t.fail(swupdate.LogicalBlockWrite, werr)
		}
		if wn != n {
			return t.fail(swupdate.LogicalBlockWrite, fmt.Errorf("read %d bytes but wrote %d", n, wn))
		}
		t.written += uint64(wn)
	}
	if rerr == io.EOF {
		return t.finishWrite()
	}
	if rerr != nil {
		return t.fail(swupdate.LogicalBlockRead, rerr)
	}
	return nil
}

// finishWrite reconciles the written total, flushes, releases the write
// handles and opens the verification read-back.
func (t *blockTask) finishWrite() error {
	if t.written != t.region.Size {
		return t.fail(swupdate.LogicalBlockSize, fmt.Errorf("wrote %d bytes, region declares %d", t.written, t.region.Size))
	}
	if err := t.dst.Sync(); err != nil {
		return t.fail(swupdate.LogicalBlockWrite, err)
	}
	t.src.Close()
	t.src = nil
	if err := t.dst.Close(); err != nil {
		t.dst = nil
		return t.fail(swupdate.LogicalBlockWrite, err)
	}
	t.dst = nil

	vf, err := os.Open(t.region.Path)
	if err != nil {
		return t.fail(swupdate.LogicalBlockRead, err)
	}
	if _, err := vf.Seek(int64(t.region.Offset), io.SeekStart); err != nil {
		vf.Close()
		return t.fail(swupdate.LogicalBlockRead, err)
	}
	t.vfile = vf
	t.hasher = sha256.New()
	t.remaining = t.region.Size
	t.phase = phaseVerifying
	return nil
}

// verifyChunk reads back and digests one chunk; the last chunk closes out
// the signature check.
func (t *blockTask) verifyChunk(v *verify.Verifier) error {
	chunk := uint64(len(t.buf))
	if t.remaining < chunk {
		chunk = t.remaining
	}
	n, err := io.ReadFull(t.vfile, t.buf[:chunk])
	if err != nil {
		return t.fail(swupdate.LogicalBlockRead, fmt.Errorf("destination delivered %d of %d remaining bytes: %w", n, t.remaining, err))
	}
	t.hasher.Write(t.buf[:n])
	t.remaining -= uint64(n)
	if t.remaining > 0 {
		return nil
	}
	t.vfile.Close()
	t.vfile = nil
	if err := v.CheckDigest(t.info.ID, t.info.Signature, t.hasher.Sum(nil)); err != nil {
		return err
	}
	t.phase = phaseDone
	return nil
}

// release closes whatever handles the task still holds.
func (t *blockTask) release() {
	if t.src != nil {
		t.src.Close()
		t.src = nil
	}
	if t.dst != nil {
		t.dst.Close()
		t.dst = nil
	}
	if t.vfile != nil {
		t.vfile.Close()
		t.vfile = nil
	}
}

func (t *blockTask) fail(code swupdate.ErrorCode, err error) error {
	return swupdate.Error{Code: code, LogicalBlockID: t.info.ID, Err: err}
}
