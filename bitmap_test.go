package testfs_test

import (
	"path/filepath"
	"testing"

	"github.com/shehbazj/klee-testfs"
)

func newTestBlockDevice(t *testing.T, geom testfs.Geometry, nrBlocks uint32) *testfs.BlockDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vol.img")
	bd, err := testfs.CreateBlockDevice(path, geom, nrBlocks, false)
	if err != nil {
		t.Fatalf("CreateBlockDevice: %v", err)
	}
	t.Cleanup(func() { bd.Close() })
	return bd
}

func TestBitmapAllocIsLowestClear(t *testing.T) {
	geom := testfs.Geometry{BlockSize: 64, NrDirectBlocks: 4, MaxInodes: 64 * 8, MaxDataBlocks: 64 * 8}
	bd := newTestBlockDevice(t, geom, 10)
	bm := testfs.NewBitmap(bd, geom, 0, geom.MaxInodes)

	first, err := bm.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if first != 0 {
		t.Fatalf("first Alloc() = %d, want 0", first)
	}
	second, err := bm.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if second != 1 {
		t.Fatalf("second Alloc() = %d, want 1", second)
	}

	bm.Unmark(0)
	third, err := bm.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if third != 0 {
		t.Fatalf("third Alloc() = %d, want 0 (lowest clear bit reused)", third)
	}
}

func TestBitmapExhaustion(t *testing.T) {
	geom := testfs.Geometry{BlockSize: 64, NrDirectBlocks: 4, MaxInodes: 64 * 8, MaxDataBlocks: 64 * 8}
	bd := newTestBlockDevice(t, geom, 10)
	bm := testfs.NewBitmap(bd, geom, 0, 4)

	for i := 0; i < 4; i++ {
		if _, err := bm.Alloc(); err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
	}
	if _, err := bm.Alloc(); err != testfs.ErrNoSpace {
		t.Fatalf("Alloc on full bitmap = %v, want ErrNoSpace", err)
	}
}

func TestBitmapPersistsAcrossReload(t *testing.T) {
	geom := testfs.Geometry{BlockSize: 64, NrDirectBlocks: 4, MaxInodes: 64 * 8, MaxDataBlocks: 64 * 8}
	bd := newTestBlockDevice(t, geom, 10)
	bm := testfs.NewBitmap(bd, geom, 0, geom.MaxInodes)

	allocated := map[uint32]bool{}
	for i := 0; i < 6; i++ {
		idx, err := bm.Alloc()
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		allocated[idx] = true
	}

	reloaded := testfs.LoadBitmap(bd, geom, 0, geom.InodeFreemapBlocks(), geom.MaxInodes)
	for idx := range allocated {
		if !reloaded.Test(idx) {
			t.Fatalf("reloaded bitmap missing allocated bit %d", idx)
		}
	}
	if reloaded.Test(100) {
		t.Fatalf("reloaded bitmap has unexpected bit set")
	}
}
