package testfs_test

import (
	"path/filepath"
	"testing"

	"github.com/shehbazj/klee-testfs"
)

func formatAndMount(t *testing.T, geom testfs.Geometry) *testfs.Superblock {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vol.img")
	if err := testfs.Format(path, geom); err != nil {
		t.Fatalf("Format: %v", err)
	}
	sb, err := testfs.Mount(path, false)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { sb.Close() })
	return sb
}

func smallGeometry() testfs.Geometry {
	return testfs.Geometry{BlockSize: 256, NrDirectBlocks: 4, MaxInodes: 2048, MaxDataBlocks: 2048}
}

func TestCreateWriteReadFile(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, err := sb.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "hello.txt")
	if err != nil {
		t.Fatalf("CreateFileOrDir: %v", err)
	}
	defer sb.PutInode(in)

	content := []byte("hello, testfs")
	sb.TxStart(testfs.TxWrite)
	if _, err := in.WriteData(0, content); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := in.TruncateData(uint64(len(content))); err != nil {
		t.Fatalf("TruncateData: %v", err)
	}
	in.SyncInode()
	sb.TxCommit(testfs.TxWrite)

	buf := make([]byte, len(content))
	if _, err := in.ReadData(0, buf); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(buf) != string(content) {
		t.Errorf("ReadData = %q, want %q", buf, content)
	}
}

func TestCreateExistingNameFails(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	in1, err := ctx.CreateFileOrDir(testfs.ITypeFile, "dup")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	sb.PutInode(in1)

	if _, err := ctx.CreateFileOrDir(testfs.ITypeFile, "dup"); err != testfs.ErrExists {
		t.Fatalf("second create = %v, want ErrExists", err)
	}
}

func TestMkdirCdPwd(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	din, err := ctx.CreateFileOrDir(testfs.ITypeDir, "sub")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sb.PutInode(din)

	if err := ctx.ChangeDir("sub"); err != nil {
		t.Fatalf("cd: %v", err)
	}
	pwd, err := ctx.Pwd()
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if pwd != "/sub" {
		t.Errorf("pwd = %q, want /sub", pwd)
	}

	if err := ctx.ChangeDir(".."); err != nil {
		t.Fatalf("cd ..: %v", err)
	}
	pwd, _ = ctx.Pwd()
	if pwd != "/" {
		t.Errorf("pwd after cd .. = %q, want /", pwd)
	}
}

func TestRemoveDirentTombstonesAndFreesInode(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "gone")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	nr := in.Nr()
	sb.PutInode(in)

	if err := ctx.Remove("gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := ctx.ResolvePath("gone"); err != testfs.ErrNotFound {
		t.Fatalf("resolve after remove = %v, want ErrNotFound", err)
	}

	// the freed inode number is the lowest clear bit, so the next create
	// reuses it
	in2, err := ctx.CreateFileOrDir(testfs.ITypeFile, "reused")
	if err != nil {
		t.Fatalf("create after remove: %v", err)
	}
	defer sb.PutInode(in2)
	if in2.Nr() != nr {
		t.Errorf("reused inode nr = %d, want freed nr %d", in2.Nr(), nr)
	}
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	din, err := ctx.CreateFileOrDir(testfs.ITypeDir, "parent")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sb.PutInode(din)
	if err := ctx.ChangeDir("parent"); err != nil {
		t.Fatalf("cd: %v", err)
	}
	fin, err := ctx.CreateFileOrDir(testfs.ITypeFile, "child")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	sb.PutInode(fin)
	if err := ctx.ChangeDir(".."); err != nil {
		t.Fatalf("cd ..: %v", err)
	}

	if err := ctx.Remove("parent"); err != testfs.ErrNotEmpty {
		t.Fatalf("remove non-empty dir = %v, want ErrNotEmpty", err)
	}
}

func TestCheckFSCleanVolume(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sb.PutInode(in)
	ctx.Close()

	res, err := sb.CheckFS()
	if err != nil {
		t.Fatalf("CheckFS: %v", err)
	}
	if !res.InodeFreemapConsistent {
		t.Errorf("inode freemap reported inconsistent on a clean volume")
	}
	if !res.BlockFreemapConsistent {
		t.Errorf("block freemap reported inconsistent on a clean volume")
	}
	if res.NrAllocatedInodes < 2 {
		t.Errorf("expected at least root + 1 allocated inodes, got %d", res.NrAllocatedInodes)
	}
}

func TestWriteAcrossIndirectBlocks(t *testing.T) {
	geom := testfs.Geometry{BlockSize: 64, NrDirectBlocks: 2, MaxInodes: 512, MaxDataBlocks: 4096}
	sb := formatAndMount(t, geom)
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "big")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sb.PutInode(in)

	// 2 direct + several indirect blocks worth of data, at 64 bytes/block.
	size := int(geom.BlockSize) * (int(geom.NrDirectBlocks) + 10)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	sb.TxStart(testfs.TxWrite)
	if _, err := in.WriteData(0, data); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := in.TruncateData(uint64(size)); err != nil {
		t.Fatalf("TruncateData: %v", err)
	}
	in.SyncInode()
	sb.TxCommit(testfs.TxWrite)

	got := make([]byte, size)
	if _, err := in.ReadData(0, got); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], data[i])
		}
	}

	res, err := sb.CheckFS()
	if err != nil {
		t.Fatalf("CheckFS: %v", err)
	}
	if !res.BlockFreemapConsistent {
		t.Errorf("block freemap reported inconsistent on a volume using only indirect blocks")
	}
}

func TestWriteAcrossDoubleIndirectBlocks(t *testing.T) {
	// 64-byte blocks give PtrsPerBlock() == 16, so direct(2) + single-indirect(16)
	// covers only 18 blocks; anything beyond that must resolve through the
	// double-indirect pointer.
	geom := testfs.Geometry{BlockSize: 64, NrDirectBlocks: 2, MaxInodes: 512, MaxDataBlocks: 4096}
	sb := formatAndMount(t, geom)
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "huge")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sb.PutInode(in)

	ptrsPerBlock := geom.PtrsPerBlock()
	singleIndirectCap := geom.NrDirectBlocks + ptrsPerBlock
	nblocks := singleIndirectCap + 3 // spill a few blocks into the double-indirect range
	size := int(geom.BlockSize) * int(nblocks)

	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i * 7) % 251)
	}

	sb.TxStart(testfs.TxWrite)
	if _, err := in.WriteData(0, data); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := in.TruncateData(uint64(size)); err != nil {
		t.Fatalf("TruncateData: %v", err)
	}
	in.SyncInode()
	sb.TxCommit(testfs.TxWrite)

	got := make([]byte, size)
	if _, err := in.ReadData(0, got); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], data[i])
		}
	}

	// exercise the shrink path through truncateBlocks, which frees blocks
	// that fall in the double-indirect range.
	if err := in.TruncateData(uint64(geom.BlockSize) * uint64(geom.NrDirectBlocks)); err != nil {
		t.Fatalf("TruncateData shrink: %v", err)
	}
	if in.Size() != uint64(geom.BlockSize)*uint64(geom.NrDirectBlocks) {
		t.Errorf("Size() after shrink = %d, want %d", in.Size(), uint64(geom.BlockSize)*uint64(geom.NrDirectBlocks))
	}

	res, err := sb.CheckFS()
	if err != nil {
		t.Fatalf("CheckFS: %v", err)
	}
	if !res.BlockFreemapConsistent {
		t.Errorf("block freemap reported inconsistent on a volume using double-indirect blocks")
	}
}
