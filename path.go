package testfs

import "strings"

// Context is a shell session's view into the volume: which directory it is
// currently positioned in. Ported from original_source/testfs.h's struct
// context (cur_dir field); the argv/argc fields of the C struct become
// ordinary Go function parameters in internal/shell instead.
type Context struct {
	sb     *Superblock
	CurDir *Inode
}

// NewContext starts a session rooted at the volume's root directory
// (inode 0).
func (sb *Superblock) NewContext() (*Context, error) {
	root, err := sb.GetInode(0)
	if err != nil {
		return nil, err
	}
	return &Context{sb: sb, CurDir: root}, nil
}

// Close releases the context's current-directory reference.
func (c *Context) Close() {
	c.sb.PutInode(c.CurDir)
}

// resolveRec walks name relative to *dir, replacing *dir with each
// directory it descends into as it recurses and returning the final path
// component's inode number. Ported nearly verbatim from dir.c's
// testfs_dir_name_to_inode_nr_rec: a leading "/" restarts the walk at the
// root; a trailing "/" (other than the bare root path) is rejected by the
// caller (resolvePath) before the recursion starts; every other path is
// split at its first remaining "/" and resolved one component at a time.
func (sb *Superblock) resolveRec(dir **Inode, name string) (int32, error) {
	if name == "/" {
		return 0, nil
	}

	slash := strings.IndexByte(name, '/')
	if slash == 0 {
		root, err := sb.GetInode(0)
		if err != nil {
			return 0, err
		}
		sb.PutInode(*dir)
		*dir = root
		return sb.resolveRec(dir, name[1:])
	}
	if slash == len(name)-1 {
		return 0, ErrNotFound
	}

	searchName := name
	rest := ""
	if slash > 0 {
		searchName = name[:slash]
		rest = name[slash+1:]
	}

	d, err := (*dir).findDirent(searchName)
	if err != nil {
		return 0, err
	}
	if d == nil {
		return 0, ErrNotFound
	}

	if slash < 0 {
		return d.InodeNr, nil
	}

	next, err := sb.GetInode(uint32(d.InodeNr))
	if err != nil {
		return 0, err
	}
	sb.PutInode(*dir)
	*dir = next
	return sb.resolveRec(dir, rest)
}

// resolvePath resolves name relative to *dir, leaving *dir unchanged on
// return (any intermediate inode the recursion pinned is released and
// restored to the caller's original directory) and returning the resolved
// inode number. Ported from testfs_dir_name_to_inode_nr.
func (sb *Superblock) resolvePath(dir **Inode, name string) (int32, error) {
	if len(name) > 1 && name[len(name)-1] == '/' {
		return 0, ErrInvalid
	}
	startNr := (*dir).nr
	ret, err := sb.resolveRec(dir, name)
	if (*dir).nr != startNr {
		sb.PutInode(*dir)
		restored, gerr := sb.GetInode(startNr)
		if gerr != nil {
			return 0, gerr
		}
		*dir = restored
	}
	return ret, err
}

// ResolvePath is the exported form of resolvePath, used by the shell's
// commands to turn an argument into an inode without disturbing c.CurDir.
func (c *Context) ResolvePath(name string) (uint32, error) {
	dir := c.CurDir
	dir.AddRef()
	nr, err := c.sb.resolvePath(&dir, name)
	c.sb.PutInode(dir)
	if err != nil {
		return 0, err
	}
	return uint32(nr), nil
}

// ChangeDir moves the session's current directory to name. Ported from
// cmd_cd.
func (c *Context) ChangeDir(name string) error {
	nr, err := c.ResolvePath(name)
	if err != nil {
		return err
	}
	in, err := c.sb.GetInode(nr)
	if err != nil {
		return err
	}
	if !in.IsDir() {
		c.sb.PutInode(in)
		return ErrNotDir
	}
	c.sb.PutInode(c.CurDir)
	c.CurDir = in
	return nil
}

// pwdComponents recursively builds the path from the root down to in.
// Ported from testfs_pwd.
func (sb *Superblock) pwdComponents(in *Inode) ([]string, error) {
	parentNr, err := sb.resolvePath(&in, "..")
	if err != nil {
		return nil, err
	}
	if uint32(parentNr) == in.nr {
		return nil, nil
	}
	parent, err := sb.GetInode(uint32(parentNr))
	if err != nil {
		return nil, err
	}
	defer sb.PutInode(parent)

	d, _, err := parent.findDirentByInode(in.nr)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrInvalid
	}
	rest, err := sb.pwdComponents(parent)
	if err != nil {
		return nil, err
	}
	return append(rest, d.Name), nil
}

// Pwd returns the absolute path of the session's current directory.
// Ported from cmd_pwd/testfs_pwd.
func (c *Context) Pwd() (string, error) {
	parts, err := c.sb.pwdComponents(c.CurDir)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(parts, "/"), nil
}

// CreateFileOrDir creates a new inode of the given type named name,
// relative to c.CurDir, and links it in. Ported from
// testfs_create_file_or_dir: name may itself be a path ("a/b/new"), in
// which case the function temporarily cds into the path prefix, creates
// the leaf there, and restores c.CurDir before returning — including on
// the error path, matching the original's "commit the transaction even on
// failure" behavior.
func (c *Context) CreateFileOrDir(typ IType, name string) (*Inode, error) {
	if name == "/" {
		return nil, ErrExists
	}

	originalNr := c.CurDir.nr
	nameToCreate := name
	movedDir := false

	if slash := strings.LastIndexByte(name, '/'); slash >= 0 {
		prefix := name[:slash]
		if slash == 0 {
			prefix = "/"
		}
		if err := c.ChangeDir(prefix); err != nil {
			return nil, err
		}
		movedDir = true
		nameToCreate = name[slash+1:]
	}

	if uint32(len(nameToCreate))+direntHeaderSize > c.sb.geom.BlockSize {
		if movedDir {
			c.restoreDir(originalNr)
		}
		return nil, ErrInvalid
	}

	sb := c.sb
	sb.TxStart(TxCreate)

	if _, err := c.ResolvePath(nameToCreate); err == nil {
		sb.TxCommit(TxCreate)
		if movedDir {
			c.restoreDir(originalNr)
		}
		return nil, ErrExists
	}

	in, err := sb.CreateInode(typ)
	if err != nil {
		sb.TxCommit(TxCreate)
		if movedDir {
			c.restoreDir(originalNr)
		}
		return nil, err
	}

	if typ == ITypeDir {
		if err := sb.createEmptyDir(c.CurDir.nr, in); err != nil {
			sb.RemoveInode(in)
			sb.TxCommit(TxCreate)
			if movedDir {
				c.restoreDir(originalNr)
			}
			return nil, err
		}
	}

	if err := c.CurDir.addDirent(nameToCreate, in.nr); err != nil {
		sb.RemoveInode(in)
		sb.TxCommit(TxCreate)
		if movedDir {
			c.restoreDir(originalNr)
		}
		return nil, err
	}
	c.CurDir.sync()
	in.sync()
	sb.TxCommit(TxCreate)

	if movedDir {
		c.restoreDir(originalNr)
	}
	return in, nil
}

func (c *Context) restoreDir(nr uint32) {
	c.sb.PutInode(c.CurDir)
	restored, err := c.sb.GetInode(nr)
	if err != nil {
		return
	}
	c.CurDir = restored
}

// Remove unlinks name from c.CurDir and frees its inode and data blocks.
// Ported from cmd_rm.
func (c *Context) Remove(name string) error {
	sb := c.sb
	sb.TxStart(TxRemove)
	defer sb.TxCommit(TxRemove)

	inodeNr, err := sb.removeDirent(c.CurDir, name)
	if err != nil {
		return err
	}
	in, err := sb.GetInode(uint32(inodeNr))
	if err != nil {
		return err
	}
	sb.RemoveInode(in)
	c.CurDir.sync()
	return nil
}
