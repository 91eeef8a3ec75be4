package testfs

import (
	"encoding/binary"
	"sync/atomic"
)

// IType is an inode's type tag. Grounded on original_source/testfs.h's
// inode_type enum (I_FILE, I_DIR).
type IType uint16

const (
	ITypeFile IType = iota
	ITypeDir
)

// dinode is the fixed-size on-disk inode record. Grounded on
// original_source's (unretrieved) inode.h dinode layout as described by
// spec §3/§4.4: type, size, and NrDirectBlocks direct pointers plus one
// single-indirect and one double-indirect pointer.
type dinode struct {
	Type      IType
	NLink     uint16
	Size      uint64
	MTime     int64
	Direct    []uint32 // length geom.NrDirectBlocks
	Indirect  uint32
	DIndirect uint32
}

func (sb *Superblock) marshalDinode(d *dinode) []byte {
	buf := make([]byte, dinodeSize)
	o := 0
	binary.BigEndian.PutUint16(buf[o:], uint16(d.Type))
	o += 2
	binary.BigEndian.PutUint16(buf[o:], d.NLink)
	o += 2
	binary.BigEndian.PutUint64(buf[o:], d.Size)
	o += 8
	binary.BigEndian.PutUint64(buf[o:], uint64(d.MTime))
	o += 8
	for i := uint32(0); i < sb.geom.NrDirectBlocks; i++ {
		binary.BigEndian.PutUint32(buf[o:], d.Direct[i])
		o += 4
	}
	binary.BigEndian.PutUint32(buf[o:], d.Indirect)
	o += 4
	binary.BigEndian.PutUint32(buf[o:], d.DIndirect)
	return buf
}

func (sb *Superblock) unmarshalDinode(buf []byte) *dinode {
	d := &dinode{Direct: make([]uint32, sb.geom.NrDirectBlocks)}
	o := 0
	d.Type = IType(binary.BigEndian.Uint16(buf[o:]))
	o += 2
	d.NLink = binary.BigEndian.Uint16(buf[o:])
	o += 2
	d.Size = binary.BigEndian.Uint64(buf[o:])
	o += 8
	d.MTime = int64(binary.BigEndian.Uint64(buf[o:]))
	o += 8
	for i := range d.Direct {
		d.Direct[i] = binary.BigEndian.Uint32(buf[o:])
		o += 4
	}
	d.Indirect = binary.BigEndian.Uint32(buf[o:])
	o += 4
	d.DIndirect = binary.BigEndian.Uint32(buf[o:])
	return d
}

// Inode is the in-memory, refcounted handle for one on-disk inode. Grounded
// on squashfs's Inode type (refcnt first for atomic alignment) and on
// original_source's testfs_get_inode/testfs_put_inode/testfs_sync_inode
// cache discipline: GetInode increments the refcount and returns a cached
// instance if one is live; PutInode decrements it and evicts at zero.
type Inode struct {
	refcnt uint64

	sb *Superblock
	nr uint32
	d  dinode
}

func (sb *Superblock) newInode(nr uint32, typ IType) (*Inode, error) {
	d := dinode{Type: typ, NLink: 1, Direct: make([]uint32, sb.geom.NrDirectBlocks), MTime: sb.clock.Now().Unix()}
	in := &Inode{sb: sb, nr: nr, d: d, refcnt: 1}
	in.sync()
	sb.inodes.insert(in)
	return in, nil
}

// CreateInode allocates a new inode number and an in-memory inode of the
// given type. Grounded on original_source/inode.c's (unretrieved)
// testfs_create_inode, called from dir.c's testfs_create_file_or_dir.
func (sb *Superblock) CreateInode(typ IType) (*Inode, error) {
	nr, err := sb.AllocInodeNr()
	if err != nil {
		return nil, err
	}
	return sb.newInode(nr, typ)
}

// GetInode returns the in-memory inode for nr, reading it from the inode
// table on first reference and reusing the cached instance (with
// incremented refcount) on subsequent calls.
func (sb *Superblock) GetInode(nr uint32) (*Inode, error) {
	return sb.inodes.get(nr)
}

// PutInode decrements the inode's refcount, evicting it from the cache when
// it reaches zero. Grounded on testfs_put_inode.
func (sb *Superblock) PutInode(in *Inode) {
	if atomic.AddUint64(&in.refcnt, ^uint64(0)) == 0 {
		sb.inodes.evict(in.nr)
	}
}

// AddRef increments the inode's refcount without a corresponding read.
func (in *Inode) AddRef() {
	atomic.AddUint64(&in.refcnt, 1)
}

func (sb *Superblock) readDinode(nr uint32) *dinode {
	blockNr, off := sb.inodeTableBlock(nr)
	buf := make([]byte, sb.geom.BlockSize)
	sb.bd.ReadBlocks(buf, blockNr, 1)
	return sb.unmarshalDinode(buf[off : off+dinodeSize])
}

func (in *Inode) load() {
	in.d = *in.sb.readDinode(in.nr)
}

// sync writes the inode's current in-memory state back to its inode table
// slot. Grounded on testfs_sync_inode.
func (in *Inode) sync() {
	blockNr, off := in.sb.inodeTableBlock(in.nr)
	buf := make([]byte, in.sb.geom.BlockSize)
	in.sb.bd.ReadBlocks(buf, blockNr, 1)
	copy(buf[off:off+dinodeSize], in.sb.marshalDinode(&in.d))
	in.sb.bd.WriteBlocks(buf, blockNr, 1)
}

// SyncInode flushes in's current state to disk.
func (in *Inode) SyncInode() { in.sync() }

// Nr returns the inode number.
func (in *Inode) Nr() uint32 { return in.nr }

// Type returns the inode's type.
func (in *Inode) Type() IType { return in.d.Type }

// Size returns the inode's current byte size.
func (in *Inode) Size() uint64 { return in.d.Size }

// IsDir reports whether the inode is a directory.
func (in *Inode) IsDir() bool { return in.d.Type == ITypeDir }

// RemoveInode frees an inode's data blocks and its inode number. Grounded
// on (unretrieved) testfs_remove_inode, called from dir.c's cmd_rm and the
// create_file_or_dir failure path.
func (sb *Superblock) RemoveInode(in *Inode) {
	in.truncateBlocks(0)
	sb.FreeInodeNr(in.nr)
	sb.inodes.evict(in.nr)
}

// blockPointer resolves the logical block index idx (0-based) to an
// absolute on-disk block number, allocating intermediate indirect blocks
// and the target block itself as needed when alloc is true. Grounded on
// spec §4.4's direct/single-indirect/double-indirect addressing scheme.
func (in *Inode) blockPointer(idx uint32, alloc bool) (uint32, error) {
	geom := in.sb.geom
	nd := geom.NrDirectBlocks
	ppb := geom.PtrsPerBlock()

	if idx < nd {
		return in.resolveSlot(&in.d.Direct[idx], alloc)
	}
	idx -= nd

	if idx < ppb {
		return in.resolveIndirect(&in.d.Indirect, idx, alloc)
	}
	idx -= ppb

	if idx < ppb*ppb {
		diBlock, err := in.resolveSlot(&in.d.DIndirect, alloc)
		if err != nil || diBlock == 0 {
			return 0, err
		}
		outer := idx / ppb
		inner := idx % ppb
		ptrs := in.readPtrBlock(diBlock)
		changed := false
		target := ptrs[outer]
		if target == 0 && alloc {
			nb, err := in.sb.AllocBlock()
			if err != nil {
				return 0, err
			}
			ptrs[outer] = nb
			changed = true
			target = nb
		}
		if changed {
			in.writePtrBlock(diBlock, ptrs)
		}
		if target == 0 {
			return 0, nil
		}
		return in.resolveIndirectBlock(target, inner, alloc)
	}
	return 0, ErrTooBig
}

func (in *Inode) resolveSlot(slot *uint32, alloc bool) (uint32, error) {
	if *slot == 0 && alloc {
		nb, err := in.sb.AllocBlock()
		if err != nil {
			return 0, err
		}
		*slot = nb
	}
	return *slot, nil
}

func (in *Inode) resolveIndirect(indirectSlot *uint32, idx uint32, alloc bool) (uint32, error) {
	blockNr, err := in.resolveSlot(indirectSlot, alloc)
	if err != nil || blockNr == 0 {
		return 0, err
	}
	return in.resolveIndirectBlock(blockNr, idx, alloc)
}

func (in *Inode) resolveIndirectBlock(blockNr, idx uint32, alloc bool) (uint32, error) {
	ptrs := in.readPtrBlock(blockNr)
	target := ptrs[idx]
	if target == 0 && alloc {
		nb, err := in.sb.AllocBlock()
		if err != nil {
			return 0, err
		}
		ptrs[idx] = nb
		in.writePtrBlock(blockNr, ptrs)
		target = nb
	}
	return target, nil
}

func (in *Inode) readPtrBlock(blockNr uint32) []uint32 {
	geom := in.sb.geom
	buf := make([]byte, geom.BlockSize)
	in.sb.bd.ReadBlocks(buf, blockNr, 1)
	ptrs := make([]uint32, geom.PtrsPerBlock())
	for i := range ptrs {
		ptrs[i] = binary.BigEndian.Uint32(buf[i*4:])
	}
	return ptrs
}

func (in *Inode) writePtrBlock(blockNr uint32, ptrs []uint32) {
	geom := in.sb.geom
	buf := make([]byte, geom.BlockSize)
	for i, p := range ptrs {
		binary.BigEndian.PutUint32(buf[i*4:], p)
	}
	in.sb.bd.WriteBlocks(buf, blockNr, 1)
}

// ReadData reads len(buf) bytes starting at offset into buf, stopping early
// at EOF. Returns the number of bytes
// actually read, or ErrChecksum if a touched block's stored checksum no
// longer matches its contents. Grounded on (unretrieved) testfs_read_data,
// used directly by cmd_cat/cmd_catr/cmd_oread (file.c).
func (in *Inode) ReadData(offset uint64, buf []byte) (int, error) {
	size := uint64(len(buf))
	if offset >= in.d.Size {
		return 0, nil
	}
	if offset+size > in.d.Size {
		size = in.d.Size - offset
	}
	geom := in.sb.geom
	bs := uint64(geom.BlockSize)
	read := uint64(0)
	for read < size {
		blockIdx := uint32((offset + read) / bs)
		blockOff := (offset + read) % bs
		n := bs - blockOff
		if n > size-read {
			n = size - read
		}
		phys, err := in.blockPointer(blockIdx, false)
		if err != nil {
			return int(read), err
		}
		if phys == 0 {
			for i := uint64(0); i < n; i++ {
				buf[read+i] = 0
			}
		} else {
			blk := make([]byte, bs)
			in.sb.bd.ReadBlocks(blk, phys, 1)
			if !in.sb.csum.Verify(phys-in.sb.d.DataBlocksStart, blk) {
				return int(read), ErrChecksum
			}
			copy(buf[read:read+n], blk[blockOff:blockOff+n])
		}
		read += n
	}
	return int(read), nil
}

// WriteData writes data at offset, allocating blocks (and intermediate
// indirect blocks) as needed, and updates the checksum table entry for
// every touched block. Grounded on (unretrieved) testfs_write_data;
// callers are responsible for the surrounding TxStart/TxCommit bracket
// (file.c's cmd_write/cmd_owrite).
func (in *Inode) WriteData(offset uint64, data []byte) (int, error) {
	geom := in.sb.geom
	bs := uint64(geom.BlockSize)
	written := uint64(0)
	size := uint64(len(data))
	for written < size {
		blockIdx := uint32((offset + written) / bs)
		blockOff := (offset + written) % bs
		n := bs - blockOff
		if n > size-written {
			n = size - written
		}
		phys, err := in.blockPointer(blockIdx, true)
		if err != nil {
			return int(written), err
		}
		blk := make([]byte, bs)
		if blockOff != 0 || n != bs {
			in.sb.bd.ReadBlocks(blk, phys, 1)
		}
		copy(blk[blockOff:blockOff+n], data[written:written+n])
		in.sb.bd.WriteBlocks(blk, phys, 1)
		in.sb.csum.Update(phys-in.sb.d.DataBlocksStart, blk)
		written += n
	}
	if offset+written > in.d.Size {
		in.d.Size = offset + written
	}
	in.d.MTime = in.sb.clock.Now().Unix()
	return int(written), nil
}

// TruncateData sets the inode's size to newSize, freeing any data blocks
// that fall entirely beyond the new size. Grounded on (unretrieved)
// testfs_truncate_data; file.c always calls this after a successful write
// to fix the file's recorded size to the write's high-water mark.
func (in *Inode) TruncateData(newSize uint64) error {
	if newSize >= in.d.Size {
		in.d.Size = newSize
		return nil
	}
	return in.truncateBlocks(newSize)
}

func (in *Inode) truncateBlocks(newSize uint64) error {
	geom := in.sb.geom
	bs := uint64(geom.BlockSize)
	oldBlocks := (in.d.Size + bs - 1) / bs
	newBlocks := (newSize + bs - 1) / bs
	for i := newBlocks; i < oldBlocks; i++ {
		phys, err := in.blockPointer(uint32(i), false)
		if err != nil {
			return err
		}
		if phys != 0 {
			in.sb.FreeBlock(phys)
		}
	}
	in.d.Size = newSize
	return nil
}

// CheckInode walks every data block and pointer block (single- and
// double-indirect) claimed by in, marks each in bFreemap, and returns the
// rounded-up size consumed. Grounded on (unretrieved) testfs_check_inode,
// invoked from super.c's testfs_checkfs: the shadow freemap must reflect
// every block AllocBlock ever handed out for this inode, not just the
// blocks holding file data, or it never matches the real freemap for a
// file that grew past its direct pointers.
func (in *Inode) CheckInode(bFreemap *Bitmap) uint64 {
	geom := in.sb.geom
	bs := uint64(geom.BlockSize)
	nblocks := (in.d.Size + bs - 1) / bs
	for i := uint64(0); i < nblocks; i++ {
		phys, _ := in.blockPointer(uint32(i), false)
		if phys != 0 {
			bFreemap.Mark(phys - in.sb.d.DataBlocksStart)
		}
	}
	in.markPointerBlocks(bFreemap)
	return nblocks * bs
}

// markPointerBlocks marks the single-indirect block and the double-indirect
// block plus every outer pointer it holds, so the shadow freemap accounts
// for indirection overhead the same way AllocBlock accounted for it when
// blockPointer grew the chain (inode.go's blockPointer/resolveIndirect).
func (in *Inode) markPointerBlocks(bFreemap *Bitmap) {
	if in.d.Indirect != 0 {
		bFreemap.Mark(in.d.Indirect - in.sb.d.DataBlocksStart)
	}
	if in.d.DIndirect != 0 {
		bFreemap.Mark(in.d.DIndirect - in.sb.d.DataBlocksStart)
		for _, p := range in.readPtrBlock(in.d.DIndirect) {
			if p != 0 {
				bFreemap.Mark(p - in.sb.d.DataBlocksStart)
			}
		}
	}
}
