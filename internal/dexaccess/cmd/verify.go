package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"dexaccess/internal/dex"
	"dexaccess/internal/dexaccess/colorize"
	"dexaccess/internal/dexaccess/styles"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file.dex>...",
	Short: "Check the structure, signature and checksum of dex files",
	Example: `
# Check a rewritten file
dexaccess verify classes-open.dex
  `,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		return verifyFiles(w, args, !colorize.Disabled() && isTerminal(w))
	},
}

func verifyFiles(w io.Writer, paths []string, color bool) error {
	ok, bad := "ok", "bad"
	if color {
		ok, bad = styles.Added.Render(ok), styles.Removed.Render(bad)
	}

	var failed int
	for _, path := range paths {
		version, err := verifyFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s  %s: %v\n", bad, path, err)
			continue
		}
		fmt.Fprintf(w, "%s   %s (dex %s)\n", ok, path, version)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(paths))
	}
	return nil
}

func verifyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f, err := dex.Parse(data)
	if err != nil {
		return "", err
	}
	if err := dex.Verify(data); err != nil {
		return f.Version, err
	}
	return f.Version, nil
}
