package testfs_test

import (
	"io"
	"io/fs"
	"testing"

	"github.com/shehbazj/klee-testfs"
)

func TestFSOpenReadsFileContent(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "hello.txt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	content := []byte("read me through io/fs")
	sb.TxStart(testfs.TxWrite)
	if _, err := in.WriteData(0, content); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := in.TruncateData(uint64(len(content))); err != nil {
		t.Fatalf("TruncateData: %v", err)
	}
	in.SyncInode()
	sb.TxCommit(testfs.TxWrite)
	sb.PutInode(in)
	ctx.Close()

	var vfs fs.FS = sb.FS()
	f, err := vfs.Open("hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("ReadAll = %q, want %q", got, content)
	}

	fi, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.IsDir() {
		t.Errorf("Stat().IsDir() = true for a regular file")
	}
	if fi.Size() != int64(len(content)) {
		t.Errorf("Stat().Size() = %d, want %d", fi.Size(), len(content))
	}
}

func TestFSOpenListsDirectory(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	din, err := ctx.CreateFileOrDir(testfs.ITypeDir, "sub")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sb.PutInode(din)
	if err := ctx.ChangeDir("sub"); err != nil {
		t.Fatalf("cd: %v", err)
	}
	fin, err := ctx.CreateFileOrDir(testfs.ITypeFile, "leaf")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sb.PutInode(fin)
	ctx.Close()

	vfs := sb.FS()
	f, err := vfs.Open("sub")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	rd, ok := f.(fs.ReadDirFile)
	if !ok {
		t.Fatalf("Open(%q) did not return a fs.ReadDirFile", "sub")
	}
	ents, err := rd.ReadDir(-1)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var sawLeaf bool
	for _, e := range ents {
		if e.Name() == "leaf" {
			sawLeaf = true
		}
	}
	if !sawLeaf {
		t.Errorf("ReadDir(%q) = %v, missing %q", "sub", ents, "leaf")
	}
}

func TestFSOpenRejectsInvalidPath(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())

	if _, err := sb.FS().Open("../escape"); err == nil {
		t.Errorf("Open(%q) succeeded, want error", "../escape")
	}
}
