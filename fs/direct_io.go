package fs

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// BlockSize is the filesystem sector alignment required for direct I/O and
// the chunk size used by the block writer and verifier.
const BlockSize = directio.BlockSize

// directIO wraps a destination file opened with O_DIRECT. It only accepts
// sector-aligned offsets and buffer lengths; the block writer falls back to
// buffered I/O for regions that are not aligned.
type directIO struct {
	file     *os.File
	filename string
}

// newDirectIO opens the file with a given filename for direct I/O.
func newDirectIO(filename string, flag int, permission os.FileMode) (*directIO, error) {
	f, err := directio.OpenFile(filename, flag, permission)
	if err != nil {
		return nil, err
	}
	return &directIO{
		file:     f,
		filename: filename,
	}, nil
}

// alignedBlock returns a buffer aligned to the file sector size, usable for
// reading or writing file data directly.
func alignedBlock(size int) []byte {
	return directio.AlignedBlock(size)
}

// isAligned reports whether a region can be written with direct I/O: both
// its offset and size must be multiples of the sector size.
func isAligned(offset, size uint64) bool {
	return offset%BlockSize == 0 && size%BlockSize == 0
}

// writeAt writes an aligned block at a specific offset using direct I/O.
func (dio *directIO) writeAt(block []byte, offset int64) (int, error) {
	if dio.file == nil {
		return 0, fmt.Errorf("can't write, there is no opened file")
	}
	return dio.file.WriteAt(block, offset)
}

// sync flushes written data to the underlying device.
func (dio *directIO) sync() error {
	if dio.file == nil {
		return fmt.Errorf("can't sync, there is no opened file")
	}
	return dio.file.Sync()
}

func (dio *directIO) close() error {
	if dio.file == nil {
		return nil
	}
	err := dio.file.Close()
	dio.file = nil
	dio.filename = ""
	return err
}
