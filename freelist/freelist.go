// Package freelist implements free-space tracking: a FIFO queue of free
// inode/block ids rebuilt from the on-disk bitmaps on first use after
// mount, so that a released id is recycled only after every other free id
// has had a turn, never reissued on the very next allocation.
//
// Grounded on dargueta/disko's drivers/common/allocatormap.go (Allocator):
// same "bitmap of free/used bits, flip it, return the index" foundation,
// but split into its own package and layered with a container/list queue
// on top, because here the bitmap is block-backed rather than held purely
// in memory, and because inodes and data blocks are two independently-sized
// pools sharing identical allocation logic and both need FIFO discipline.
package freelist

import (
	"container/list"

	"github.com/vrsfs/vrsfs/onimage"
	"github.com/vrsfs/vrsfs/vrserrors"
)

// List allocates and releases ids from a single onimage.Bitmap-backed
// pool. The queue orders ids by the order they became free: Alloc always
// takes from the head, Release always appends to the tail, so a freed id
// only comes back around once every other currently-free id has been
// handed out first.
type List struct {
	bitmap  *onimage.Bitmap
	numBits uint64
	queue   *list.List
	inited  bool
}

// New builds a List over bitmap, which must already exist on disk
// (formatted by onimage.Format or a prior session). The queue itself is
// populated lazily, on the first Alloc or Release call, so New cannot
// fail. CountFree reads the bitmap directly and does not touch the queue.
func New(bitmap *onimage.Bitmap, numBits uint64) *List {
	return &List{bitmap: bitmap, numBits: numBits}
}

// ensureQueue rebuilds the FIFO queue from the on-disk bitmap the first
// time the list is touched, in ascending id order.
func (l *List) ensureQueue() error {
	if l.inited {
		return nil
	}
	l.queue = list.New()
	for i := uint64(0); i < l.numBits; i++ {
		free, err := l.bitmap.IsFree(i)
		if err != nil {
			return err
		}
		if free {
			l.queue.PushBack(i)
		}
	}
	l.inited = true
	return nil
}

// Alloc pops the id at the head of the queue, flips it to used on the
// bitmap, and returns it. Returns vrserrors.ErrNoSpace if the pool is
// exhausted.
func (l *List) Alloc() (uint64, error) {
	if err := l.ensureQueue(); err != nil {
		return 0, err
	}
	front := l.queue.Front()
	if front == nil {
		return 0, vrserrors.ErrNoSpace.WithMessage("no free ids remain in this pool")
	}
	id := front.Value.(uint64)
	l.queue.Remove(front)
	if err := l.bitmap.MarkUsed(id); err != nil {
		l.queue.PushFront(id)
		return 0, err
	}
	return id, nil
}

// Release returns id to the pool by appending it to the tail of the FIFO
// queue, so it is the last candidate handed out by a subsequent Alloc.
// Releasing an already-free id is treated as a caller bug and reported as
// vrserrors.ErrInvalid rather than silently accepted, since it usually
// indicates a double-free.
func (l *List) Release(id uint64) error {
	if err := l.ensureQueue(); err != nil {
		return err
	}
	free, err := l.bitmap.IsFree(id)
	if err != nil {
		return err
	}
	if free {
		return vrserrors.ErrInvalid.WithMessage("double release of an already-free id")
	}
	if err := l.bitmap.MarkFree(id); err != nil {
		return err
	}
	l.queue.PushBack(id)
	return nil
}

// CountFree reports how many ids in the pool are currently free, used by
// Statfs and Fsck.
func (l *List) CountFree() (uint64, error) {
	return l.bitmap.CountFree()
}
