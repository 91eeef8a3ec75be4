package shell_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/shehbazj/klee-testfs"
	"github.com/shehbazj/klee-testfs/internal/shell"
)

func newShell(t *testing.T) (*shell.Shell, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vol.img")
	geom := testfs.Geometry{BlockSize: 256, NrDirectBlocks: 4, MaxInodes: 2048, MaxDataBlocks: 2048}
	require.NoError(t, testfs.Format(path, geom))
	sb, err := testfs.Mount(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })

	var buf bytes.Buffer
	log := logrus.NewEntry(logrus.New())
	s, err := shell.New(sb, &buf, log)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, &buf
}

func TestShellTouchWriteCat(t *testing.T) {
	s, out := newShell(t)

	s.HandleCommand("touch greeting.txt")
	require.Empty(t, out.String(), "touch should produce no output on success")

	s.HandleCommand(`write greeting.txt hello`)
	out.Reset()
	s.HandleCommand("cat greeting.txt")
	require.Equal(t, "hello\n", out.String())
}

func TestShellMkdirCdPwd(t *testing.T) {
	s, out := newShell(t)

	s.HandleCommand("mkdir projects")
	s.HandleCommand("cd projects")
	out.Reset()
	s.HandleCommand("pwd")
	require.Equal(t, "/projects\n", out.String())
}

func TestShellUnknownCommand(t *testing.T) {
	s, out := newShell(t)

	s.HandleCommand("frobnicate")
	require.Contains(t, out.String(), "command not found")
}

func TestShellRmMissingFileReportsError(t *testing.T) {
	s, out := newShell(t)

	s.HandleCommand("rm nope")
	require.Contains(t, out.String(), "rm:")
}

func TestShellCheckfsOnFreshVolume(t *testing.T) {
	s, out := newShell(t)

	s.HandleCommand("touch a")
	out.Reset()
	s.HandleCommand("checkfs")
	got := out.String()
	require.NotContains(t, got, "not consistent")
	require.Contains(t, got, "nr of allocated inodes")
}

func TestShellQuitSetsDone(t *testing.T) {
	s, _ := newShell(t)
	require.False(t, s.Done())
	s.HandleCommand("quit")
	require.True(t, s.Done())
}
