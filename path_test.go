package testfs_test

import (
	"testing"

	"github.com/shehbazj/klee-testfs"
)

func TestResolveAbsolutePath(t *testing.T) {
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

	// from inside /sub, an absolute path should still resolve from the root.
	nr, err := ctx.ResolvePath("/sub")
	if err != nil {
		t.Fatalf("ResolvePath(/sub): %v", err)
	}
	if nr != din.Nr() {
		t.Errorf("ResolvePath(/sub) = %d, want %d", nr, din.Nr())
	}

	rootNr, err := ctx.ResolvePath("/")
	if err != nil {
		t.Fatalf("ResolvePath(/): %v", err)
	}
	if rootNr != 0 {
		t.Errorf("ResolvePath(/) = %d, want 0", rootNr)
	}
}

func TestResolveRejectsTrailingSlash(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	din, err := ctx.CreateFileOrDir(testfs.ITypeDir, "sub")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sb.PutInode(din)

	if _, err := ctx.ResolvePath("sub/"); err != testfs.ErrInvalid {
		t.Fatalf("ResolvePath(sub/) = %v, want ErrInvalid", err)
	}
}

func TestPwdNestedDirs(t *testing.T) {
	sb := formatAndMount(t, smallGeometry())
	ctx, _ := sb.NewContext()
	defer ctx.Close()

	a, err := ctx.CreateFileOrDir(testfs.ITypeDir, "a")
	if err != nil {
		t.Fatalf("mkdir a: %v", err)
	}
	sb.PutInode(a)
	if err := ctx.ChangeDir("a"); err != nil {
		t.Fatalf("cd a: %v", err)
	}
	b, err := ctx.CreateFileOrDir(testfs.ITypeDir, "b")
	if err != nil {
		t.Fatalf("mkdir b: %v", err)
	}
	sb.PutInode(b)
	if err := ctx.ChangeDir("b"); err != nil {
		t.Fatalf("cd b: %v", err)
	}

	pwd, err := ctx.Pwd()
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if pwd != "/a/b" {
		t.Errorf("pwd = %q, want /a/b", pwd)
	}
}
