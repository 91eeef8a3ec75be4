package testfs

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/jacobsa/syncutil"
)

// Bitmap is an in-memory freemap mirrored to a fixed region of the backing
// volume, one bit per inode or data block. Ported from
// original_source/super.c's testfs_get_*_freemap / testfs_put_*_freemap:
// every Alloc or Unmark writes only the single block containing the
// changed bit straight back to disk (write-through, no batching), so the
// on-disk freemap is never stale across a crash between operations. Mark
// changes only the in-memory bits.
type Bitmap struct {
	mu syncutil.InvariantMutex

	bits  *bitset.BitSet
	nbits uint32
	start uint32 // first block of this freemap's region on disk
	bd    *BlockDevice
	geom  Geometry
}

// NewBitmap allocates an empty (all-clear) bitmap of nbits bits backed by
// the on-disk region starting at block start.
func NewBitmap(bd *BlockDevice, geom Geometry, start uint32, nbits uint32) *Bitmap {
	bm := &Bitmap{
		bits:  bitset.New(uint(nbits)),
		nbits: nbits,
		start: start,
		bd:    bd,
		geom:  geom,
	}
	bm.mu = syncutil.NewInvariantMutex(bm.checkInvariants)
	return bm
}

// LoadBitmap reads an existing bitmap back from its on-disk region.
func LoadBitmap(bd *BlockDevice, geom Geometry, start uint32, nr uint32, nbits uint32) *Bitmap {
	bm := NewBitmap(bd, geom, start, nbits)
	raw := make([]byte, nr*geom.BlockSize)
	bd.ReadBlocks(raw, start, nr)
	for i := uint32(0); i < nbits; i++ {
		byteIdx, bitIdx := i/8, i%8
		if raw[byteIdx]&(1<<bitIdx) != 0 {
			bm.bits.Set(uint(i))
		}
	}
	return bm
}

func (bm *Bitmap) checkInvariants() {
	if bm.bits == nil {
		panic("testfs: bitmap invariant violated: nil bitset")
	}
}

// Alloc finds the lowest-numbered clear bit, sets it, persists the owning
// block, and returns its index. It returns ErrNoSpace if every bit is set,
// matching testfs_get_block_freemap's -ENOSPC path.
func (bm *Bitmap) Alloc() (uint32, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	idx, ok := bm.bits.NextClear(0)
	if !ok || idx >= uint(bm.nbits) {
		return 0, ErrNoSpace
	}
	bm.bits.Set(idx)
	bm.writeBit(uint32(idx))
	return uint32(idx), nil
}

// Mark sets bit i in memory only; nothing is written to disk. It is used by
// checkfs to rebuild a shadow freemap for comparison.
func (bm *Bitmap) Mark(i uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bits.Set(uint(i))
}

// Unmark clears bit i and persists the owning block.
func (bm *Bitmap) Unmark(i uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bits.Clear(uint(i))
	bm.writeBit(i)
}

// Test reports whether bit i is set.
func (bm *Bitmap) Test(i uint32) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bits.Test(uint(i))
}

// NrAllocated returns the number of set bits.
func (bm *Bitmap) NrAllocated() uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return uint32(bm.bits.Count())
}

// Equal compares two bitmaps bit for bit, as testfs_checkfs's
// bitmap_equal(sb->*_freemap, shadow) comparison does.
func (bm *Bitmap) Equal(other *Bitmap) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bits.Equal(other.bits)
}

// writeBit persists the single on-disk block containing bit i. Caller must
// hold bm.mu.
func (bm *Bitmap) writeBit(i uint32) {
	bitsPerBlock := bm.geom.BlockSize * 8
	blockOfs := i / bitsPerBlock

	buf := make([]byte, bm.geom.BlockSize)
	base := blockOfs * bitsPerBlock
	for b := uint32(0); b < bitsPerBlock && base+b < bm.nbits; b++ {
		if bm.bits.Test(uint(base + b)) {
			buf[b/8] |= 1 << (b % 8)
		}
	}
	bm.bd.WriteBlocks(buf, bm.start+blockOfs, 1)
}
