// Package blockdev implements block-addressed, positional reads and
// writes against a single backing stream.
//
// Grounded on dargueta/disko's drivers/common/blockdevice.go (BlockDevice,
// BlockIDToFileOffset, CheckIOBounds), generalized from its fixed 512-byte
// assumption to an arbitrary geom.Geometry.
package blockdev

import (
	"io"

	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/vrserrors"
)

// Device is a positional, block-addressed view over a backing stream.
type Device struct {
	Geometry geom.Geometry
	stream   io.ReadWriteSeeker
}

// New wraps a stream as a Device using the given geometry. The stream is
// not sized or formatted by this call; see the onimage package for that.
func New(stream io.ReadWriteSeeker, geometry geom.Geometry) *Device {
	return &Device{Geometry: geometry, stream: stream}
}

func (d *Device) offset(id geom.BlockID) int64 {
	return int64(id) * int64(d.Geometry.BlockSize)
}

// checkRange fails with vrserrors.ErrRange if blockID falls outside the
// image's capacity,
func (d *Device) checkRange(id geom.BlockID) error {
	if uint64(id) >= d.Geometry.TotalBlocks() {
		return vrserrors.ErrRange.WithMessage(
			"block id out of range",
		)
	}
	return nil
}

// ReadBlock reads exactly one block's worth of bytes into out, which must
// be at least BlockSize bytes long.
func (d *Device) ReadBlock(id geom.BlockID, out []byte) error {
	if err := d.checkRange(id); err != nil {
		return err
	}
	if uint32(len(out)) < d.Geometry.BlockSize {
		return vrserrors.ErrInvalid.WithMessage("output buffer smaller than block size")
	}

	if _, err := d.stream.Seek(d.offset(id), io.SeekStart); err != nil {
		return vrserrors.ErrIOFailed.Wrap(err)
	}
	if _, err := io.ReadFull(d.stream, out[:d.Geometry.BlockSize]); err != nil {
		return vrserrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// WriteBlock writes exactly BlockSize bytes from buf to block id. buf must
// be at least BlockSize bytes long; any excess is ignored.
func (d *Device) WriteBlock(id geom.BlockID, buf []byte) error {
	if err := d.checkRange(id); err != nil {
		return err
	}
	if uint32(len(buf)) < d.Geometry.BlockSize {
		return vrserrors.ErrInvalid.WithMessage("input buffer smaller than block size")
	}

	if _, err := d.stream.Seek(d.offset(id), io.SeekStart); err != nil {
		return vrserrors.ErrIOFailed.Wrap(err)
	}
	if _, err := d.stream.Write(buf[:d.Geometry.BlockSize]); err != nil {
		return vrserrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// WriteBlockPadded writes the first n bytes of buf to block id and zeroes
// the remainder of the block, so the on-disk result is deterministic.
func (d *Device) WriteBlockPadded(id geom.BlockID, buf []byte, n uint32) error {
	if n > d.Geometry.BlockSize {
		return vrserrors.ErrInvalid.WithMessage("padded write exceeds block size")
	}

	padded := make([]byte, d.Geometry.BlockSize)
	copy(padded, buf[:n])
	return d.WriteBlock(id, padded)
}
