// Package vrstest provides an in-memory backing store for tests, so that
// vrsfs can be mounted and exercised without touching the real filesystem.
//
// Grounded on dargueta/disko's testing/images.go (LoadDiskImage), which
// wraps a byte slice with github.com/xaionaro-go/bytesextra.NewReadWriteSeeker
// to get an io.ReadWriteSeeker over memory; adapted here to track how much
// of the buffer has actually been written, so that a fresh Volume reports
// size 0 (as a new backing file would) and grows as vrsfs.Init formats it
// and as data blocks are later written.
package vrstest

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/vrsfs/vrsfs/geom"
)

// Volume is an io.ReadWriteSeeker backed by a fixed-capacity in-memory
// buffer, whose Size() reflects the high-water mark of bytes written
// rather than the buffer's full capacity — mimicking a sparse real file
// that starts at length 0 and grows as blocks are written.
type Volume struct {
	stream  io.ReadWriteSeeker
	highWat int64
	pos     int64
}

// NewVolume allocates a Volume with enough backing capacity for geometry's
// full image, reporting size 0 until something is written to it.
func NewVolume(geometry geom.Geometry) *Volume {
	buf := make([]byte, geometry.TotalBytes())
	return &Volume{stream: bytesextra.NewReadWriteSeeker(buf)}
}

// Size implements the sizer interface vrsfs.Init uses to decide whether to
// format.
func (v *Volume) Size() (int64, error) {
	return v.highWat, nil
}

func (v *Volume) Read(p []byte) (int, error) {
	n, err := v.stream.Read(p)
	v.pos += int64(n)
	return n, err
}

func (v *Volume) Write(p []byte) (int, error) {
	n, err := v.stream.Write(p)
	if end := v.pos + int64(n); end > v.highWat {
		v.highWat = end
	}
	v.pos += int64(n)
	return n, err
}

func (v *Volume) Seek(offset int64, whence int) (int64, error) {
	pos, err := v.stream.Seek(offset, whence)
	if err == nil {
		v.pos = pos
	}
	return pos, err
}

// Reopen returns a fresh Volume-like handle over the same underlying
// stream, with Size() reporting the full high-water mark reached so far —
// simulating an unmount followed by a remount of the same backing file in
// round-trip persistence tests.
func (v *Volume) Reopen() *Volume {
	return &Volume{stream: v.stream, highWat: v.highWat}
}
