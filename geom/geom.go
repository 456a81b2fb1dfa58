// Package geom defines the on-disk geometry of a vrsfs image: block size,
// the number of direct block slots per inode, the inode table size, and
// every block offset derived from them.
//
// Reference values follow the reference implementation's VRS_* constants
// (VRS_NDIR_BLOCKS, VRS_NINODES, VRS_INODE_SIZE, ...), generalized into a
// struct instead of preprocessor defines so that cmd/mkvrsfs can format
// images of different sizes from a preset catalog (see the presets
// package).
package geom

import "fmt"

// BlockID identifies a physical block, relative to block 0 of the image.
type BlockID uint32

// InodeID identifies an inode record.
type InodeID uint32

// Geometry is the full set of parameters needed to compute every block
// offset in a vrsfs image. All fields must be set before use; DefaultGeometry
// returns the spec's reference layout.
type Geometry struct {
	// BlockSize is the size of one block, in bytes.
	BlockSize uint32
	// NDirect is the number of direct block pointers carried in each inode.
	NDirect uint32
	// NInodes is the maximum number of inodes the image can hold.
	NInodes uint32
	// InodeSize is the fixed, on-disk byte size of one inode record.
	InodeSize uint32
	// MaxNameLen is the maximum length of a directory entry's name, in bytes.
	MaxNameLen uint32
	// DentrySize is the fixed, on-disk byte size of one directory entry.
	DentrySize uint32
}

// DefaultGeometry returns the reference layout from the on-disk layout:
// 512-byte blocks, 12 direct pointers, 256 inodes, 128-byte inode records,
// 32-byte names, 64-byte directory entries.
func DefaultGeometry() Geometry {
	return Geometry{
		BlockSize:  512,
		NDirect:    12,
		NInodes:    256,
		InodeSize:  128,
		MaxNameLen: 32,
		DentrySize: 64,
	}
}

// Validate checks that the geometry describes a usable layout.
func (g Geometry) Validate() error {
	if g.BlockSize == 0 || g.BlockSize%4 != 0 {
		return fmt.Errorf("block size must be a positive multiple of 4, got %d", g.BlockSize)
	}
	if g.NDirect == 0 {
		return fmt.Errorf("must have at least one direct block slot")
	}
	if g.NInodes == 0 {
		return fmt.Errorf("must have at least one inode")
	}
	if g.InodeSize == 0 || g.BlockSize%g.InodeSize != 0 {
		return fmt.Errorf("inode size must evenly divide the block size")
	}
	if g.DentrySize == 0 || g.BlockSize%g.DentrySize != 0 {
		return fmt.Errorf("dentry size must evenly divide the block size")
	}
	if g.MaxNameLen == 0 || g.MaxNameLen+4 > g.DentrySize {
		return fmt.Errorf("name length must fit in a dentry alongside its 4-byte inode id")
	}
	// 36-byte header (id, kind, nlink, size, blocks, atime, ctime, mtime)
	// plus one 4-byte pointer per direct slot and the 3 indirect slots;
	// kept in sync with inode.recordHeaderSize/wireSize by hand since the
	// inode package already imports geom and can't be imported back.
	const inodeHeaderSize = 36
	recordSize := inodeHeaderSize + 4*(g.NDirect+3)
	if recordSize > g.InodeSize {
		return fmt.Errorf("inode size %d is too small to hold a record with %d direct slots (needs at least %d bytes)", g.InodeSize, g.NDirect, recordSize)
	}
	return nil
}

// EntriesPerIndirectBlock is E in the on-disk layout: the number of 32-bit
// block ids that fit in one indirect block.
func (g Geometry) EntriesPerIndirectBlock() uint64 {
	return uint64(g.BlockSize) / 4
}

// MaxDataBlocks is N_DATA_BLOCKS = N_INODES * E^2, sized to cover at least
// double-indirect reach per inode.
func (g Geometry) MaxDataBlocks() uint64 {
	e := g.EntriesPerIndirectBlock()
	return uint64(g.NInodes) * e * e
}

// InvalidBlock is the sentinel meaning "no block assigned".
func (g Geometry) InvalidBlock() BlockID {
	return BlockID(g.MaxDataBlocks())
}

// InvalidInode is the sentinel meaning "no inode" / tombstone.
func (g Geometry) InvalidInode() InodeID {
	return InodeID(g.NInodes)
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// InodeBitmapBlocks is the number of blocks needed to store one bit per
// inode.
func (g Geometry) InodeBitmapBlocks() uint64 {
	return ceilDiv(ceilDiv(uint64(g.NInodes), 8), uint64(g.BlockSize))
}

// DataBitmapBlocks is the number of blocks needed to store one bit per data
// block, i.e. ceil(N_DATA_BLOCKS / (BLOCK_SIZE * 8))
func (g Geometry) DataBitmapBlocks() uint64 {
	return ceilDiv(ceilDiv(g.MaxDataBlocks(), 8), uint64(g.BlockSize))
}

// InodesPerBlock is the number of fixed-size inode records that fit in one
// block.
func (g Geometry) InodesPerBlock() uint32 {
	return g.BlockSize / g.InodeSize
}

// InodeTableBlocks is the number of blocks occupied by the inode table.
func (g Geometry) InodeTableBlocks() uint64 {
	return ceilDiv(uint64(g.NInodes), uint64(g.InodesPerBlock()))
}

// DentriesPerBlock is the number of fixed-size directory entries that fit in
// one block.
func (g Geometry) DentriesPerBlock() uint32 {
	return g.BlockSize / g.DentrySize
}

// Block layout,:
//
//	0                     Superblock
//	1                     Inode bitmap
//	2                     Data bitmap
//	after bitmaps         Inode table
//	after inodes          Data region

// SuperblockStart is always block 0.
func (g Geometry) SuperblockStart() BlockID { return 0 }

// InodeBitmapStart is always block 1.
func (g Geometry) InodeBitmapStart() BlockID { return 1 }

// DataBitmapStart follows the inode bitmap.
func (g Geometry) DataBitmapStart() BlockID {
	return g.InodeBitmapStart() + BlockID(g.InodeBitmapBlocks())
}

// InodeTableStart follows the data bitmap.
func (g Geometry) InodeTableStart() BlockID {
	return g.DataBitmapStart() + BlockID(g.DataBitmapBlocks())
}

// DataRegionStart follows the inode table.
func (g Geometry) DataRegionStart() BlockID {
	return g.InodeTableStart() + BlockID(g.InodeTableBlocks())
}

// TotalBlocks is the total size of the image, in blocks.
func (g Geometry) TotalBlocks() uint64 {
	return uint64(g.DataRegionStart()) + g.MaxDataBlocks()
}

// TotalBytes is the total size of the image, in bytes.
func (g Geometry) TotalBytes() int64 {
	return int64(g.TotalBlocks()) * int64(g.BlockSize)
}

// InodeBlockAndOffset returns the block holding inode `id` and its byte
// offset within that block,
func (g Geometry) InodeBlockAndOffset(id InodeID) (BlockID, uint32) {
	perBlock := g.InodesPerBlock()
	block := g.InodeTableStart() + BlockID(uint32(id)/perBlock)
	offset := (uint32(id) % perBlock) * g.InodeSize
	return block, offset
}
