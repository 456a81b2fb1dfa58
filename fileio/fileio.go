// Package fileio implements file data I/O: reading and writing arbitrary
// byte ranges of a regular file's content through the block mapper,
// zero-filling sparse regions and growing the inode's size and block
// charge as writes extend it.
//
// Grounded on the reference implementation's vrs_read/vrs_write
// (block-at-a-time copy loop against a fixed BLOCK_SIZE, clamped to the
// file's current size on read) and dargueta/disko's
// drivers/common/blockdevice.go for the "read one block, memcpy the
// relevant slice" pattern.
package fileio

import (
	"github.com/vrsfs/vrsfs/blockdev"
	"github.com/vrsfs/vrsfs/blockmap"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/inode"
)

// IO reads and writes byte ranges of one inode's data at a time.
type IO struct {
	device   *blockdev.Device
	geometry geom.Geometry
	mapper   *blockmap.Mapper
}

// New builds an IO helper bound to device and mapper.
func New(device *blockdev.Device, mapper *blockmap.Mapper) *IO {
	return &IO{device: device, geometry: device.Geometry, mapper: mapper}
}

// Read copies min(len(dst), rec.Size-offset) bytes starting at offset into
// dst and returns the number of bytes actually read. Reads past end of
// file return 0, nil, matching clamp-to-size behavior.
func (io_ *IO) Read(rec *inode.Record, offset uint64, dst []byte) (int, error) {
	if offset >= rec.Size {
		return 0, nil
	}
	remaining := rec.Size - offset
	if uint64(len(dst)) > remaining {
		dst = dst[:remaining]
	}

	blockSize := uint64(io_.geometry.BlockSize)
	total := 0
	buf := make([]byte, blockSize)

	for total < len(dst) {
		pos := offset + uint64(total)
		lbi := pos / blockSize
		inBlock := pos % blockSize

		n := blockSize - inBlock
		if remain := uint64(len(dst) - total); n > remain {
			n = remain
		}

		block, ok, err := io_.mapper.Resolve(rec, lbi, false)
		if err != nil {
			return total, err
		}
		if !ok {
			// Sparse hole: zero-fill without touching disk.
			for i := uint64(0); i < n; i++ {
				dst[uint64(total)+i] = 0
			}
			total += int(n)
			continue
		}

		if err := io_.device.ReadBlock(block, buf); err != nil {
			return total, err
		}
		copy(dst[total:uint64(total)+n], buf[inBlock:inBlock+n])
		total += int(n)
	}

	return total, nil
}

// Write copies src into rec's data starting at offset, allocating blocks
// as needed and growing rec.Size if the write extends past the current
// end of file. It does not persist rec itself; the caller must do so via
// the inode Store once the write (and any accompanying metadata update)
// completes.
func (io_ *IO) Write(rec *inode.Record, offset uint64, src []byte) (int, error) {
	blockSize := uint64(io_.geometry.BlockSize)
	total := 0
	buf := make([]byte, blockSize)

	for total < len(src) {
		pos := offset + uint64(total)
		lbi := pos / blockSize
		inBlock := pos % blockSize

		n := blockSize - inBlock
		if remain := uint64(len(src) - total); n > remain {
			n = remain
		}

		block, ok, err := io_.mapper.Resolve(rec, lbi, true)
		if err != nil {
			return total, err
		}
		if !ok {
			return total, err
		}

		if inBlock != 0 || n != blockSize {
			if err := io_.device.ReadBlock(block, buf); err != nil {
				return total, err
			}
		}
		copy(buf[inBlock:inBlock+n], src[total:uint64(total)+n])
		if err := io_.device.WriteBlock(block, buf); err != nil {
			return total, err
		}

		total += int(n)
	}

	newSize := offset + uint64(total)
	if newSize > rec.Size {
		rec.Size = newSize
	}
	return total, nil
}

// Truncate releases every block beyond the new size and updates rec.Size.
// Shrinking to 0 is equivalent to ReleaseTree.
func (io_ *IO) Truncate(rec *inode.Record, newSize uint64) error {
	if newSize == 0 {
		_, err := io_.mapper.ReleaseTree(rec)
		return err
	}
	if newSize >= rec.Size {
		rec.Size = newSize
		return nil
	}

	blockSize := uint64(io_.geometry.BlockSize)
	firstFreedLBI := (newSize + blockSize - 1) / blockSize
	lastLBI := (rec.Size + blockSize - 1) / blockSize

	for lbi := firstFreedLBI; lbi < lastLBI; lbi++ {
		block, ok, err := io_.mapper.Resolve(rec, lbi, false)
		if err != nil {
			return err
		}
		if ok {
			if err := io_.mapper.ReleaseSingleBlock(rec, lbi, block); err != nil {
				return err
			}
		}
	}

	rec.Size = newSize
	return nil
}
