package testfs

import "github.com/cespare/xxhash/v2"

// csumTable is the on-disk table of one 64-bit checksum per possible data
// block, stored at sb.d.CsumTableStart. It is consulted on every data block
// read and updated on every data block write, so a block silently corrupted
// between writes is caught rather than returned as if valid.
type csumTable struct {
	bd    *BlockDevice
	geom  Geometry
	start uint32
	nr    uint32 // checksum table region size in blocks
	cache []uint64
}

func newCsumTable(bd *BlockDevice, geom Geometry, start, nr uint32, maxBlocks uint32) *csumTable {
	return &csumTable{bd: bd, geom: geom, start: start, nr: nr, cache: make([]uint64, maxBlocks)}
}

func loadCsumTable(bd *BlockDevice, geom Geometry, start, nr uint32, maxBlocks uint32) *csumTable {
	ct := newCsumTable(bd, geom, start, nr, maxBlocks)
	raw := make([]byte, nr*geom.BlockSize)
	bd.ReadBlocks(raw, start, nr)
	for i := uint32(0); i < maxBlocks && (i+1)*8 <= uint32(len(raw)); i++ {
		ct.cache[i] = beUint64(raw[i*8 : i*8+8])
	}
	return ct
}

// Update recomputes and persists the checksum for data block blockNr given
// its current contents.
func (ct *csumTable) Update(blockNr uint32, data []byte) {
	sum := xxhash.Sum64(data)
	ct.cache[blockNr] = sum

	entriesPerBlock := ct.geom.BlockSize / 8
	tblBlock := blockNr / entriesPerBlock
	buf := make([]byte, ct.geom.BlockSize)
	base := tblBlock * entriesPerBlock
	for i := uint32(0); i < entriesPerBlock && base+i < uint32(len(ct.cache)); i++ {
		putBeUint64(buf[i*8:i*8+8], ct.cache[base+i])
	}
	ct.bd.WriteBlocks(buf, ct.start+tblBlock, 1)
}

// Verify reports whether data's checksum matches the stored checksum for
// blockNr.
func (ct *csumTable) Verify(blockNr uint32, data []byte) bool {
	return xxhash.Sum64(data) == ct.cache[blockNr]
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
