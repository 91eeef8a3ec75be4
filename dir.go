package testfs

import "encoding/binary"

// dirent is the fixed header of one variable-length directory entry: an
// inode number (negative/tombstoned entries are represented by InodeNr ==
// direntTombstone) and the length of the name that follows it in the
// directory's data. Grounded on original_source/dir.c's struct dirent and
// its D_NAME(d) accessor.
type dirent struct {
	InodeNr int32
	NameLen uint32
	Name    string
}

const direntHeaderSize = 4 + 4 // InodeNr + NameLen

const direntTombstone = int32(-1)

func marshalDirentHeader(d *dirent) []byte {
	buf := make([]byte, direntHeaderSize)
	binary.BigEndian.PutUint32(buf[0:], uint32(d.InodeNr))
	binary.BigEndian.PutUint32(buf[4:], d.NameLen)
	return buf
}

func unmarshalDirentHeader(buf []byte) dirent {
	return dirent{
		InodeNr: int32(binary.BigEndian.Uint32(buf[0:])),
		NameLen: binary.BigEndian.Uint32(buf[4:]),
	}
}

// nextDirent reads the dirent at *offset and advances *offset past it,
// returning nil at end of directory. Ported directly from
// original_source/dir.c's testfs_next_dirent: a header is never allowed to
// straddle a block boundary, so if the header would cross one, offset is
// first advanced to the start of the next block; the same rule applies a
// second time if the header read back as an all-zero "skip to next block"
// marker (NameLen == 0), which testfs_write_dirent leaves behind when a
// dirent's body didn't fit in the remaining space of the current block.
func (in *Inode) nextDirent(offset *uint64) (*dirent, error) {
	bs := uint64(in.sb.geom.BlockSize)
	if *offset >= in.d.Size {
		return nil, nil
	}

	if (*offset+direntHeaderSize)/bs > *offset/bs {
		*offset = ((*offset + direntHeaderSize) / bs) * bs
	}
	hdr := make([]byte, direntHeaderSize)
	if _, err := in.ReadData(*offset, hdr); err != nil {
		return nil, err
	}
	d := unmarshalDirentHeader(hdr)

	if d.NameLen == 0 {
		*offset = ((*offset / bs) + 1) * bs
		if *offset >= in.d.Size {
			return nil, nil
		}
		if _, err := in.ReadData(*offset, hdr); err != nil {
			return nil, err
		}
		d = unmarshalDirentHeader(hdr)
	}

	*offset += direntHeaderSize
	name := make([]byte, d.NameLen)
	if d.NameLen > 0 {
		if _, err := in.ReadData(*offset, name); err != nil {
			return nil, err
		}
	}
	d.Name = string(name)
	*offset += uint64(d.NameLen)
	return &d, nil
}

// findDirentByInode returns the dirent in dir naming inode_nr, or nil if
// none exists. Ported from testfs_find_dirent, used by the pwd walk.
func (in *Inode) findDirentByInode(inodeNr uint32) (*dirent, uint64, error) {
	var offset uint64
	for {
		start := offset
		d, err := in.nextDirent(&offset)
		if err != nil {
			return nil, 0, err
		}
		if d == nil {
			return nil, 0, nil
		}
		if d.InodeNr == int32(inodeNr) {
			return d, start, nil
		}
	}
}

// findDirent returns the dirent naming name (skipping tombstones), or nil.
func (in *Inode) findDirent(name string) (*dirent, error) {
	var offset uint64
	for {
		d, err := in.nextDirent(&offset)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, nil
		}
		if d.InodeNr >= 0 && d.Name == name {
			return d, nil
		}
	}
}

// writeDirent writes one dirent's header+name at offset, first padding the
// remainder of the current block with zeroes (a tombstoned "skip" marker)
// if the new entry would otherwise straddle a block boundary. Ported from
// testfs_write_dirent.
func (in *Inode) writeDirent(name string, inodeNr int32, offset uint64) error {
	bs := uint64(in.sb.geom.BlockSize)
	total := direntHeaderSize + uint64(len(name))

	if (offset+total)/bs > offset/bs {
		nextOffset := ((offset + total) / bs) * bs
		pad := make([]byte, nextOffset-offset)
		if _, err := in.WriteData(offset, pad); err != nil {
			return err
		}
		offset = nextOffset
	}

	d := dirent{InodeNr: inodeNr, NameLen: uint32(len(name))}
	rec := append(marshalDirentHeader(&d), []byte(name)...)
	_, err := in.WriteData(offset, rec)
	return err
}

// addDirent appends name -> inodeNr to dir, returning ErrExists if an
// (untombstoned) entry with that name is already present. Ported from
// testfs_add_dirent: it also recycles the first tombstoned slot whose
// NameLen exactly matches, to avoid unbounded directory growth from
// repeated create/remove cycles.
func (in *Inode) addDirent(name string, inodeNr uint32) error {
	var offset uint64
	pOffset := uint64(0)
	found := false
	for {
		pOffset = offset
		d, err := in.nextDirent(&offset)
		if err != nil {
			return err
		}
		if d == nil {
			break
		}
		if d.InodeNr >= 0 && d.Name == name {
			return ErrExists
		}
		if d.InodeNr < 0 && uint32(len(name)) == d.NameLen {
			found = true
			break
		}
	}
	if !found {
		pOffset = in.d.Size
	}
	return in.writeDirent(name, int32(inodeNr), pOffset)
}

// removeDirentAllowed reports whether inodeNr may be unlinked: a
// directory may only be removed if its only live entries are "." and "..".
// Ported from testfs_remove_dirent_allowed.
func (sb *Superblock) removeDirentAllowed(inodeNr uint32) error {
	in, err := sb.GetInode(inodeNr)
	if err != nil {
		return err
	}
	defer sb.PutInode(in)
	if !in.IsDir() {
		return nil
	}
	var offset uint64
	for {
		d, err := in.nextDirent(&offset)
		if err != nil {
			return err
		}
		if d == nil {
			return nil
		}
		if d.InodeNr < 0 || d.Name == "." || d.Name == ".." {
			continue
		}
		return ErrNotEmpty
	}
}

// removeDirent tombstones the entry named name in dir (setting its inode
// number to -1, never reclaiming its space) and returns the inode number it
// named. Ported from testfs_remove_dirent.
func (sb *Superblock) removeDirent(dir *Inode, name string) (int32, error) {
	if name == "." || name == ".." {
		return 0, ErrInvalid
	}
	var offset uint64
	for {
		d, err := dir.nextDirent(&offset)
		if err != nil {
			return 0, err
		}
		if d == nil {
			return 0, ErrNotFound
		}
		if d.InodeNr < 0 || d.Name != name {
			continue
		}
		// nextDirent may have skipped padding before the entry, so locate
		// the entry from where it ended rather than where the scan began.
		start := offset - direntHeaderSize - uint64(d.NameLen)
		if err := sb.removeDirentAllowed(uint32(d.InodeNr)); err != nil {
			return 0, err
		}
		tomb := dirent{InodeNr: direntTombstone, NameLen: d.NameLen}
		if _, err := dir.WriteData(start, marshalDirentHeader(&tomb)); err != nil {
			return 0, err
		}
		return d.InodeNr, nil
	}
}

// createEmptyDir seeds a freshly created directory inode with a "." entry
// naming itself and a ".." entry naming parentNr. Ported from
// testfs_create_empty_dir.
func (sb *Superblock) createEmptyDir(parentNr uint32, dir *Inode) error {
	if err := dir.addDirent(".", dir.nr); err != nil {
		return err
	}
	if err := dir.addDirent("..", parentNr); err != nil {
		_, _ = sb.removeDirent(dir, ".")
		return err
	}
	return nil
}

// Dirent is the exported, read-only view of one live directory entry
// returned by ReadDir.
type Dirent struct {
	Name    string
	InodeNr uint32
	IsDir   bool
}

// ReadDir returns every live (non-tombstoned) entry in the directory
// inode, in on-disk order. Grounded on dir.c's testfs_ls inner loop.
func (in *Inode) ReadDir() ([]Dirent, error) {
	if !in.IsDir() {
		return nil, ErrNotDir
	}
	var out []Dirent
	var offset uint64
	for {
		d, err := in.nextDirent(&offset)
		if err != nil {
			return nil, err
		}
		if d == nil {
			break
		}
		if d.InodeNr < 0 {
			continue
		}
		cin, err := in.sb.GetInode(uint32(d.InodeNr))
		if err != nil {
			return nil, err
		}
		out = append(out, Dirent{Name: d.Name, InodeNr: uint32(d.InodeNr), IsDir: cin.IsDir()})
		in.sb.PutInode(cin)
	}
	return out, nil
}
