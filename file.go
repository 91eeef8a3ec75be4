package testfs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// File lets a file inode be used as a read-only io/fs.File. Adapted from
// squashfs's File/FileDir/fileinfo trio (file.go): that exposes a squashfs
// image through the standard io/fs interfaces, which this keeps as the
// idiom for presenting a volume read-only (e.g. to net/http's
// http.FileServer) while the write path goes through Context/Inode
// directly.
type File struct {
	*io.SectionReader
	ino  *Inode
	name string
}

// Dir lets a directory inode be used as a read-only io/fs.ReadDirFile.
type Dir struct {
	ino    *Inode
	name   string
	loaded bool
	ents   []Dirent
	pos    int
}

type fileinfo struct {
	ino  *Inode
	name string
}

var (
	_ fs.File       = (*File)(nil)
	_ io.ReaderAt   = (*File)(nil)
	_ fs.ReadDirFile = (*Dir)(nil)
	_ fs.FileInfo   = (*fileinfo)(nil)
)

// inodeReaderAt adapts Inode.ReadData to io.ReaderAt for io.SectionReader.
type inodeReaderAt struct{ ino *Inode }

func (r inodeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.ino.ReadData(uint64(off), p)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Open returns an io/fs.File wrapping in: a directory inode yields a *Dir
// implementing fs.ReadDirFile, a regular file yields a *File also
// implementing io.ReaderAt. Adapted from squashfs's Inode.OpenFile; the
// (fs.File, error) signature (rather than just fs.File) is what lets FS.Open
// below hand this straight back to an io/fs.FS caller.
func (in *Inode) Open(name string) (fs.File, error) {
	if in.IsDir() {
		return &Dir{ino: in, name: name}, nil
	}
	sec := io.NewSectionReader(inodeReaderAt{in}, 0, int64(in.Size()))
	return &File{SectionReader: sec, ino: in, name: name}, nil
}

// FS presents a mounted volume as a read-only io/fs.FS, resolving every
// Open relative to the volume root. Adapted from squashfs's top-level FS,
// which exists so a volume can be handed directly to callers like
// http.FileServer or fs.WalkDir instead of driven through Context/Inode.
type FS struct {
	sb *Superblock
}

var _ fs.FS = (*FS)(nil)

// FS returns a read-only io/fs.FS view of the volume.
func (sb *Superblock) FS() *FS { return &FS{sb: sb} }

func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ctx, err := f.sb.NewContext()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	defer ctx.Close()

	nr, err := ctx.ResolvePath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	in, err := f.sb.GetInode(nr)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return in.Open(name)
}

func (f *File) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(f.name), ino: f.ino}, nil
}

func (f *File) Sys() any { return f.ino }

// Close releases the inode reference Open pinned via GetInode.
func (f *File) Close() error {
	f.ino.sb.PutInode(f.ino)
	return nil
}

func (d *Dir) Read(p []byte) (int, error) {
	return 0, fs.ErrInvalid
}

func (d *Dir) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(d.name), ino: d.ino}, nil
}

func (d *Dir) Sys() any { return d.ino }

// Close releases the inode reference Open pinned via GetInode.
func (d *Dir) Close() error {
	d.loaded = false
	d.ents = nil
	d.pos = 0
	d.ino.sb.PutInode(d.ino)
	return nil
}

func (d *Dir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		ents, err := d.ino.ReadDir()
		if err != nil {
			return nil, err
		}
		d.ents = ents
		d.loaded = true
	}
	if n <= 0 {
		out := make([]fs.DirEntry, 0, len(d.ents)-d.pos)
		for ; d.pos < len(d.ents); d.pos++ {
			out = append(out, direntAdapter{d.ents[d.pos], d.ino.sb})
		}
		return out, nil
	}
	var out []fs.DirEntry
	for ; n > 0 && d.pos < len(d.ents); n-- {
		out = append(out, direntAdapter{d.ents[d.pos], d.ino.sb})
		d.pos++
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

type direntAdapter struct {
	d  Dirent
	sb *Superblock
}

func (a direntAdapter) Name() string { return a.d.Name }
func (a direntAdapter) IsDir() bool  { return a.d.IsDir }
func (a direntAdapter) Type() fs.FileMode {
	if a.d.IsDir {
		return fs.ModeDir
	}
	return 0
}
func (a direntAdapter) Info() (fs.FileInfo, error) {
	in, err := a.sb.GetInode(a.d.InodeNr)
	if err != nil {
		return nil, err
	}
	defer a.sb.PutInode(in)
	return &fileinfo{name: a.d.Name, ino: in}, nil
}

func (fi *fileinfo) Name() string { return fi.name }
func (fi *fileinfo) Size() int64  { return int64(fi.ino.Size()) }
func (fi *fileinfo) Mode() fs.FileMode {
	if fi.ino.IsDir() {
		return fs.ModeDir | 0755
	}
	return 0644
}
func (fi *fileinfo) ModTime() time.Time { return time.Unix(fi.ino.d.MTime, 0) }
func (fi *fileinfo) IsDir() bool        { return fi.ino.IsDir() }
func (fi *fileinfo) Sys() any           { return fi.ino }
