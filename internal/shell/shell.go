// Package shell implements testfs's interactive command table, ported from
// original_source/testfs.c's cmdtable/handle_command: a flat list of named
// commands, each with a maximum argument count, dispatched by name lookup.
package shell

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shehbazj/klee-testfs"
)

// Command is one entry of the command table: a name, its handler, and the
// maximum number of whitespace-separated arguments (including the command
// name itself) the original C table allowed.
type Command struct {
	Name    string
	MaxArgs int
	Run     func(s *Shell, args []string) error
}

// Shell is one interactive session against a mounted volume: the session's
// current-directory Context plus the I/O streams commands print to.
type Shell struct {
	SB  *testfs.Superblock
	Ctx *testfs.Context
	Out io.Writer
	Log *logrus.Entry

	quit bool
}

// New starts a shell session rooted at the volume's root directory.
func New(sb *testfs.Superblock, out io.Writer, log *logrus.Entry) (*Shell, error) {
	ctx, err := sb.NewContext()
	if err != nil {
		return nil, err
	}
	return &Shell{SB: sb, Ctx: ctx, Out: out, Log: log}, nil
}

// Close releases the session's current-directory reference.
func (s *Shell) Close() { s.Ctx.Close() }

// Done reports whether a "quit" command has ended the session.
func (s *Shell) Done() bool { return s.quit }

// Table is the command table, ordered exactly as
// original_source/testfs.c's cmdtable (spec §6's external command surface).
var Table = []Command{
	{"?", 1, cmdHelp},
	{"cd", 2, cmdCd},
	{"pwd", 1, cmdPwd},
	{"ls", 2, cmdLs},
	{"lsr", 2, cmdLsr},
	{"touch", maxArgs, cmdTouch},
	{"stat", maxArgs, cmdStat},
	{"rm", 2, cmdRm},
	{"mkdir", 2, cmdMkdir},
	{"cat", maxArgs, cmdCat},
	{"catr", 2, cmdCatr},
	{"write", 3, cmdWrite},
	{"owrite", 4, cmdOwrite},
	{"oread", 4, cmdOread},
	{"checkfs", 1, cmdCheckfs},
	{"quit", 1, cmdQuit},
}

// maxArgs mirrors original_source/testfs.h's MAX_ARGS bound on a single
// command line.
const maxArgs = 64

// HandleCommand tokenizes line into a command name and arguments and
// dispatches it against Table. Ported from handle_command: an unknown
// command name prints a "command not found" message rather than returning
// an error, matching the original's behavior exactly.
func (s *Shell) HandleCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name := fields[0]
	for _, cmd := range Table {
		if cmd.Name != name {
			continue
		}
		args := fields
		if len(args) > cmd.MaxArgs {
			args = args[:cmd.MaxArgs]
		}
		if err := cmd.Run(s, args); err != nil {
			fmt.Fprintf(s.Out, "%s: %v\n", name, err)
		}
		return
	}
	fmt.Fprintf(s.Out, "%s: command not found: type ? for help...\n", name)
}

func cmdHelp(s *Shell, _ []string) error {
	fmt.Fprintln(s.Out, "Commands:")
	for _, cmd := range Table {
		fmt.Fprintln(s.Out, cmd.Name)
	}
	return nil
}

func cmdQuit(s *Shell, _ []string) error {
	fmt.Fprintln(s.Out, "Bye!")
	s.quit = true
	return nil
}

func cmdCd(s *Shell, args []string) error {
	if len(args) != 2 {
		return testfs.ErrBadArgs
	}
	return s.Ctx.ChangeDir(args[1])
}

func cmdPwd(s *Shell, args []string) error {
	if len(args) != 1 {
		return testfs.ErrBadArgs
	}
	p, err := s.Ctx.Pwd()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.Out, p)
	return nil
}

func lsTarget(s *Shell, args []string) (string, error) {
	if len(args) != 1 && len(args) != 2 {
		return "", testfs.ErrBadArgs
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return ".", nil
}

func listDir(s *Shell, name string, recursive bool, prefix string) error {
	nr, err := s.Ctx.ResolvePath(name)
	if err != nil {
		return err
	}
	in, err := s.SB.GetInode(nr)
	if err != nil {
		return err
	}
	defer s.SB.PutInode(in)

	entries, err := in.ReadDir()
	if err != nil {
		return err
	}
	for _, e := range entries {
		suffix := ""
		if e.IsDir {
			suffix = "/"
		}
		fmt.Fprintf(s.Out, "%s%s%s\n", prefix, e.Name, suffix)
		if recursive && e.IsDir && e.Name != "." && e.Name != ".." {
			if err := listDir(s, name+"/"+e.Name, true, prefix); err != nil {
				return err
			}
		}
	}
	return nil
}

func cmdLs(s *Shell, args []string) error {
	name, err := lsTarget(s, args)
	if err != nil {
		return err
	}
	return listDir(s, name, false, "")
}

func cmdLsr(s *Shell, args []string) error {
	name, err := lsTarget(s, args)
	if err != nil {
		return err
	}
	return listDir(s, name, true, "")
}

func cmdTouch(s *Shell, args []string) error {
	if len(args) < 2 {
		return testfs.ErrBadArgs
	}
	for _, name := range args[1:] {
		in, err := s.Ctx.CreateFileOrDir(testfs.ITypeFile, name)
		if err != nil {
			return err
		}
		s.SB.PutInode(in)
	}
	return nil
}

func cmdMkdir(s *Shell, args []string) error {
	if len(args) != 2 {
		return testfs.ErrBadArgs
	}
	in, err := s.Ctx.CreateFileOrDir(testfs.ITypeDir, args[1])
	if err != nil {
		return err
	}
	s.SB.PutInode(in)
	return nil
}

func cmdStat(s *Shell, args []string) error {
	if len(args) < 2 {
		return testfs.ErrBadArgs
	}
	for _, name := range args[1:] {
		nr, err := s.Ctx.ResolvePath(name)
		if err != nil {
			return err
		}
		in, err := s.SB.GetInode(nr)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "%s: i_nr = %d, i_type = %d, i_size = %d\n", name, in.Nr(), in.Type(), in.Size())
		s.SB.PutInode(in)
	}
	return nil
}

func cmdRm(s *Shell, args []string) error {
	if len(args) != 2 {
		return testfs.ErrBadArgs
	}
	return s.Ctx.Remove(args[1])
}

func catOne(s *Shell, name string) error {
	nr, err := s.Ctx.ResolvePath(name)
	if err != nil {
		return err
	}
	in, err := s.SB.GetInode(nr)
	if err != nil {
		return err
	}
	defer s.SB.PutInode(in)
	if in.IsDir() {
		return testfs.ErrIsDir
	}
	if in.Size() == 0 {
		return nil
	}
	buf := make([]byte, in.Size())
	if _, err := in.ReadData(0, buf); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, string(buf))
	return nil
}

func cmdCat(s *Shell, args []string) error {
	if len(args) < 2 {
		return testfs.ErrBadArgs
	}
	for _, name := range args[1:] {
		if err := catOne(s, name); err != nil {
			return err
		}
	}
	return nil
}

// cmdCatr prints name (default ".") recursively: files are printed with a
// "name:" header, directories are descended into. Ported from file.c's
// cmd_catr; the descent walks fetched inodes directly and never changes the
// shell's current directory.
func cmdCatr(s *Shell, args []string) error {
	if len(args) > 2 {
		return testfs.ErrBadArgs
	}
	name := "."
	if len(args) == 2 {
		name = args[1]
	}
	nr, err := s.Ctx.ResolvePath(name)
	if err != nil {
		return err
	}
	in, err := s.SB.GetInode(nr)
	if err != nil {
		return err
	}
	defer s.SB.PutInode(in)
	return catrWalk(s, in)
}

func catrWalk(s *Shell, dir *testfs.Inode) error {
	entries, err := dir.ReadDir()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		cin, err := s.SB.GetInode(e.InodeNr)
		if err != nil {
			return err
		}
		if cin.IsDir() {
			err = catrWalk(s, cin)
		} else {
			fmt.Fprintf(s.Out, "%s:\n", e.Name)
			if cin.Size() > 0 {
				buf := make([]byte, cin.Size())
				if _, rerr := cin.ReadData(0, buf); rerr == nil {
					fmt.Fprintln(s.Out, string(buf))
				} else {
					err = rerr
				}
			}
		}
		s.SB.PutInode(cin)
		if err != nil {
			return err
		}
	}
	return nil
}

func cmdWrite(s *Shell, args []string) error {
	if len(args) != 3 {
		return testfs.ErrBadArgs
	}
	nr, err := s.Ctx.ResolvePath(args[1])
	if err != nil {
		return err
	}
	in, err := s.SB.GetInode(nr)
	if err != nil {
		return err
	}
	defer s.SB.PutInode(in)
	if in.IsDir() {
		return testfs.ErrIsDir
	}
	content := []byte(args[2])
	s.SB.TxStart(testfs.TxWrite)
	defer s.SB.TxCommit(testfs.TxWrite)
	if _, err := in.WriteData(0, content); err != nil {
		return err
	}
	if err := in.TruncateData(uint64(len(content))); err != nil {
		return err
	}
	in.SyncInode()
	return nil
}

func cmdOwrite(s *Shell, args []string) error {
	if len(args) != 4 {
		return testfs.ErrBadArgs
	}
	offset, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || offset < 0 {
		return testfs.ErrInvalid
	}
	nr, err := s.Ctx.ResolvePath(args[1])
	if err != nil {
		return err
	}
	in, err := s.SB.GetInode(nr)
	if err != nil {
		return err
	}
	defer s.SB.PutInode(in)
	if in.IsDir() {
		return testfs.ErrIsDir
	}
	content := []byte(args[3])
	s.SB.TxStart(testfs.TxWrite)
	defer s.SB.TxCommit(testfs.TxWrite)
	if _, err := in.WriteData(uint64(offset), content); err != nil {
		return err
	}
	if err := in.TruncateData(uint64(offset) + uint64(len(content))); err != nil {
		return err
	}
	in.SyncInode()
	return nil
}

func cmdOread(s *Shell, args []string) error {
	if len(args) != 4 {
		return testfs.ErrBadArgs
	}
	offset, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || offset < 0 {
		return testfs.ErrInvalid
	}
	size, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil || size < 0 {
		return testfs.ErrInvalid
	}
	if size == 0 {
		return nil
	}
	nr, err := s.Ctx.ResolvePath(args[1])
	if err != nil {
		return err
	}
	in, err := s.SB.GetInode(nr)
	if err != nil {
		return err
	}
	defer s.SB.PutInode(in)
	if in.IsDir() {
		return testfs.ErrIsDir
	}
	if in.Size() == 0 {
		return nil
	}
	if uint64(offset) >= in.Size() {
		return testfs.ErrInvalid
	}
	if uint64(offset)+uint64(size) > in.Size() {
		size = int64(in.Size()) - offset
	}
	buf := make([]byte, size)
	if _, err := in.ReadData(uint64(offset), buf); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, string(buf))
	return nil
}

func cmdCheckfs(s *Shell, args []string) error {
	if len(args) != 1 {
		return testfs.ErrBadArgs
	}
	res, err := s.SB.CheckFS()
	if err != nil && res == nil {
		return err
	}
	if !res.InodeFreemapConsistent {
		fmt.Fprintln(s.Out, "inode freemap is not consistent")
	}
	if !res.BlockFreemapConsistent {
		fmt.Fprintln(s.Out, "block freemap is not consistent")
	}
	fmt.Fprintf(s.Out, "nr of allocated inodes = %d\n", res.NrAllocatedInodes)
	fmt.Fprintf(s.Out, "nr of allocated blocks = %d\n", res.NrAllocatedBlocks)
	return nil
}
