package testfs_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/shehbazj/klee-testfs"
)

// TestReadDataDetectsChecksumMismatch corrupts a file's on-disk block
// directly (bypassing WriteData, so the checksum table is never updated to
// match), then verifies ReadData reports ErrChecksum rather than returning
// silently corrupted bytes.
func TestReadDataDetectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	geom := smallGeometry()
	if err := testfs.Format(path, geom); err != nil {
		t.Fatalf("Format: %v", err)
	}
	sb, err := testfs.Mount(path, false)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer sb.Close()

	ctx, err := sb.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	in, err := ctx.CreateFileOrDir(testfs.ITypeFile, "data.bin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer sb.PutInode(in)

	content := []byte("checksum me please, do not corrupt")
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
		t.Fatalf("ReadData before corruption: %v", err)
	}
	if string(buf) != string(content) {
		t.Fatalf("ReadData = %q, want %q", buf, content)
	}

	// Corrupt the byte directly on disk, bypassing WriteData (and therefore
	// the checksum table update that would normally accompany a write).
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	idx := bytes.Index(raw, content)
	if idx < 0 {
		t.Fatalf("could not locate written content in backing file")
	}
	raw[idx] ^= 0xff
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := in.ReadData(0, buf); err != testfs.ErrChecksum {
		t.Fatalf("ReadData after corruption = %v, want ErrChecksum", err)
	}
}
