// Command testfs opens an interactive shell against a testfs volume,
// ported from original_source/testfs.c's REPL (the getopt-based arg parsing
// and stdin command loop), rebuilt on cobra per the pack's CLI convention.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/shehbazj/klee-testfs"
	"github.com/shehbazj/klee-testfs/internal/shell"
)

var (
	logFile string
	sync    bool
	corrupt bool
)

func main() {
	root := &cobra.Command{
		Use:   "testfs <volume>",
		Short: "interactive shell for a testfs volume",
		Args:  cobra.ExactArgs(1),
		RunE:  runShell,
	}
	root.Flags().StringVar(&logFile, "log-file", "", "path to write rotated session logs to")
	root.Flags().BoolVar(&sync, "sync", true, "open the volume O_SYNC")
	root.Flags().BoolVarP(&corrupt, "corrupt", "c", false, "flip one bit of the in-memory superblock modification time after mount")
	viper.BindPFlag("sync", root.Flags().Lookup("sync"))
	viper.BindPFlag("corrupt", root.Flags().Lookup("corrupt"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runShell(cmd *cobra.Command, args []string) (err error) {
	volume := args[0]

	log := logrus.New()
	if logFile != "" {
		log.SetOutput(&lumberjack.Logger{Filename: logFile, MaxSize: 10, MaxBackups: 3})
	}
	entry := log.WithField("volume", volume)

	// Grounded on original_source/testfs.h's EXIT() macro: any fatal I/O
	// error anywhere below this point panics with *testfs.FatalIOError,
	// and this is the only place that recovers from it.
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*testfs.FatalIOError); ok {
				entry.WithError(fe).Error("fatal I/O error")
				os.Exit(1)
			}
			panic(r)
		}
	}()

	var opts []testfs.Option
	if viper.GetBool("corrupt") {
		opts = append(opts, testfs.WithFlags(testfs.FlagCorrupt))
	}
	sb, err := testfs.Mount(volume, viper.GetBool("sync"), opts...)
	if err != nil {
		return err
	}
	sb.WithLogger(entry)
	defer sb.Close()

	sh, err := shell.New(sb, cmd.OutOrStdout(), entry)
	if err != nil {
		return err
	}
	defer sh.Close()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(cmd.OutOrStdout(), "% ")
	for !sh.Done() && scanner.Scan() {
		sh.HandleCommand(scanner.Text())
		if !sh.Done() {
			fmt.Fprint(cmd.OutOrStdout(), "% ")
		}
	}
	return nil
}
