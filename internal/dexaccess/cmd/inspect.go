package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"dexaccess/internal/dexaccess/colorize"
	"dexaccess/internal/dexaccess/styles"
	"dexaccess/internal/policy"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.dex>",
	Short: "Show what a rewrite would change without writing anything",
	Long: `Inspect parses a dex file and dry-runs the rewrite with the current policy.
On a terminal it opens an interactive view with a summary and a filterable
class list; otherwise it prints a markdown report.`,
	Example: `
# Browse classes interactively
dexaccess inspect classes.dex

# Print the report, listing unchanged members too
dexaccess inspect -n --all classes.dex

# Machine readable
dexaccess inspect --json classes.dex | jq '.stats'
  `,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPolicy(cmd)
		if err != nil {
			return err
		}

		absPath, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", args[0])
			}
			return fmt.Errorf("cannot access file: %v", err)
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		all, _ := cmd.Flags().GetBool("all")

		out := cmd.OutOrStdout()
		tty := isTerminal(out)
		color := tty && !colorize.Disabled()

		if jsonOutput {
			return runJSON(out, absPath, all, color, p)
		}
		if noTUI || !tty {
			return runNoTUI(out, absPath, all, color, p)
		}

		program := tea.NewProgram(
			newModel(absPath, p),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolP("no-tui", "n", false, "Print the report instead of opening the TUI")
	inspectCmd.Flags().Bool("json", false, "Print the report as JSON")
	inspectCmd.Flags().BoolP("all", "a", false, "List unchanged classes and members too")
}

func runJSON(w io.Writer, path string, all, color bool, p policy.Policy) error {
	r, err := buildReport(path, p, all)
	if err != nil {
		return err
	}
	s, err := r.JSON()
	if err != nil {
		return err
	}
	if color {
		s = colorize.JSON(s)
	}
	fmt.Fprintln(w, s)
	return nil
}

func runNoTUI(w io.Writer, path string, all, color bool, p policy.Policy) error {
	r, err := buildReport(path, p, all)
	if err != nil {
		return err
	}
	fmt.Fprint(w, styles.RenderMarkdown(r.Markdown(all), terminalWidth(w), color))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(f.Fd()); err == nil && width > 0 {
			return width
		}
	}
	return 80
}
