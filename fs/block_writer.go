package fs

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"os"

	"github.com/fwbank/swupdate"
)

// BlockWriter streams a logical block's bytes from its archive entry into a
// destination region: open without truncation, seek to the region offset,
// copy in sector-sized chunks, reconcile the total against the declared
// region size, then flush so the verifier reads what actually landed.
//
// Bytes outside [offset, offset+size) are never modified and the file is
// never shortened. A region already holding the payload is simply rewritten,
// so re-running a successful update is byte-identical.
type BlockWriter struct {
	directIO bool
}

// NewBlockWriter returns a block writer. With directIO set, destinations
// whose region offset and size are sector-aligned are opened O_DIRECT;
// unaligned regions transparently use buffered I/O.
func NewBlockWriter(directIO bool) *BlockWriter {
	return &BlockWriter{directIO: directIO}
}

// WriteBlock copies src into the region and returns the byte count written.
// The count always equals region.Size on success; any shortfall or excess
// delivered by the source fails the block with LogicalBlockSize.
func (w *BlockWriter) WriteBlock(ctx context.Context, src io.Reader, region swupdate.Region, id string) (uint64, error) {
	if err := region.Validate(); err != nil {
		return 0, errWrite(id, err)
	}
	if w.directIO && isAligned(region.Offset, region.Size) {
		return w.writeDirect(ctx, src, region, id)
	}
	return w.writeBuffered(ctx, src, region, id)
}

func (w *BlockWriter) writeBuffered(ctx context.Context, src io.Reader, region swupdate.Region, id string) (uint64, error) {
	// No O_CREATE: bank destinations exist ahead of the update; a missing
	// one is an environment fault, not something to paper over.
	f, err := os.OpenFile(region.Path, os.O_WRONLY, 0)
	if err != nil {
		return 0, errWrite(id, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(region.Offset), io.SeekStart); err != nil {
		return 0, errWrite(id, err)
	}

	buf := alignedBlock(BlockSize)
	var total uint64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if uint64(n) > region.Size-total {
				return total, errSize(id, fmt.Errorf("archive entry delivered more than the declared %d bytes", region.Size))
			}
			wn, werr := f.Write(buf[:n])
			if werr != nil {
				return total + uint64(wn), errWrite(id, werr)
			}
			if wn != n {
				return total + uint64(wn), errWrite(id, fmt.Errorf("read %d bytes but wrote %d", n, wn))
			}
			total += uint64(wn)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, errRead(id, rerr)
		}
	}

	if total != region.Size {
		return total, errSize(id, fmt.Errorf("wrote %d bytes, region declares %d", total, region.Size))
	}
	// Flush before the verification read-back so it observes device state,
	// not dirty cache of a failed write.
	if err := f.Sync(); err != nil {
		return total, errWrite(id, err)
	}
	log.Debug(fmt.Sprintf("wrote logical block %s to %s", id, region))
	return total, nil
}

// writeDirect copies via O_DIRECT. Only sector-aligned regions reach here,
// so every chunk on the happy path is a full sector.
func (w *BlockWriter) writeDirect(ctx context.Context, src io.Reader, region swupdate.Region, id string) (uint64, error) {
	dio, err := newDirectIO(region.Path, os.O_WRONLY, 0)
	if err != nil {
		return 0, errWrite(id, err)
	}
	defer dio.close()

	buf := alignedBlock(BlockSize)
	var total uint64
	offset := int64(region.Offset)
	for total < region.Size {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := io.ReadFull(src, buf)
		if n == len(buf) {
			wn, werr := dio.writeAt(buf, offset)
			if werr != nil {
				return total, errWrite(id, werr)
			}
			if wn != n {
				return total + uint64(wn), errWrite(id, fmt.Errorf("read %d bytes but wrote %d", n, wn))
			}
			total += uint64(wn)
			offset += int64(wn)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			// A partial tail sector cannot be written O_DIRECT; the size
			// reconciliation below fails the block either way.
			break
		}
		if rerr != nil {
			return total, errRead(id, rerr)
		}
	}
	if total == region.Size {
		// The source must end exactly at the region size.
		var probe [1]byte
		if n, _ := src.Read(probe[:]); n > 0 {
			return total, errSize(id, fmt.Errorf("archive entry delivered more than the declared %d bytes", region.Size))
		}
	}
	if total != region.Size {
		return total, errSize(id, fmt.Errorf("wrote %d bytes, region declares %d", total, region.Size))
	}
	if err := dio.sync(); err != nil {
		return total, errWrite(id, err)
	}
	log.Debug(fmt.Sprintf("wrote logical block %s to %s via direct IO", id, region))
	return total, nil
}

func errRead(id string, err error) error {
	return swupdate.Error{Code: swupdate.LogicalBlockRead, LogicalBlockID: id, Err: err}
}

func errWrite(id string, err error) error {
	return swupdate.Error{Code: swupdate.LogicalBlockWrite, LogicalBlockID: id, Err: err}
}

func errSize(id string, err error) error {
	return swupdate.Error{Code: swupdate.LogicalBlockSize, LogicalBlockID: id, Err: err}
}
