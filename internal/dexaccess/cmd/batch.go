package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dexaccess/internal/dexaccess/colorize"
	"dexaccess/internal/dexaccess/styles"
	"dexaccess/internal/engine"
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Rewrite every dex file in a directory",
	Long: `Rewrite every .dex file in a directory. Each foo.dex is written to
foo_modified.dex next to it; existing *_modified.dex files are skipped.
A file that fails does not stop the others.`,
	Example: `
# Rewrite the dex files of an unpacked apk
dexaccess batch ./unpacked

# Walk subdirectories with four workers
dexaccess batch -r -j 4 ./apks
  `,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		stop, err := startCPUProfile(cmd)
		if err != nil {
			return err
		}
		defer stop()

		p, err := loadPolicy(cmd)
		if err != nil {
			return err
		}
		recursive, _ := cmd.Flags().GetBool("recursive")
		jobs, _ := cmd.Flags().GetInt("jobs")

		results, err := engine.New(p).Batch(cmd.Context(), args[0], recursive, jobs)
		if err != nil {
			return err
		}
		return printBatch(cmd.OutOrStdout(), results, !colorize.Disabled() && isTerminal(cmd.OutOrStdout()))
	},
}

func init() {
	batchCmd.Flags().BoolP("recursive", "r", false, "Descend into subdirectories")
	batchCmd.Flags().IntP("jobs", "j", 0, "Files rewritten in parallel (default GOMAXPROCS)")
}

// printBatch lists one line per file and fails if any file failed.
func printBatch(w io.Writer, results []engine.BatchResult, color bool) error {
	ok, failed := "ok", "fail"
	if color {
		ok, failed = styles.Added.Render(ok), styles.Removed.Render(failed)
	}

	var nFailed int
	for _, r := range results {
		if r.Err != nil {
			nFailed++
			fmt.Fprintf(w, "%-4s %s: %v\n", failed, r.Input, r.Err)
			continue
		}
		fmt.Fprintf(w, "%-4s %s -> %s (%d flags changed)\n", ok, r.Input, r.Output, r.Stats.Changed)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "no dex files found")
	}
	if nFailed > 0 {
		return fmt.Errorf("%d of %d files failed", nFailed, len(results))
	}
	return nil
}
