package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	dlog "dexaccess/internal/dexaccess/log"
	"dexaccess/internal/engine"
	"dexaccess/internal/policy"
)

func init() {
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level: error, warn, info, debug, trace (default $DEXACCESS_LOG_LEVEL or info)")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")
	addPolicyFlags(rootCmd)

	rootCmd.Flags().BoolP("help", "h", false, "Help")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
}

// addPolicyFlags registers the rewrite policy flags on c and its
// subcommands.
func addPolicyFlags(c *cobra.Command) {
	fs := c.PersistentFlags()
	fs.StringP("config", "c", "", "JSON policy file (see `dexaccess schema`)")
	fs.Bool("keep-final-fields", false, "Leave final on fields (default)")
	fs.Bool("strip-final-fields", false, "Clear final on fields of non-interface classes")
	fs.Bool("no-public", false, "Leave visibility alone and only strip final")
	fs.Bool("keep-private-direct", false, "Leave private on instance methods in the direct method list")
	fs.StringArrayP("filter", "F", nil, "Leave classes whose descriptor starts with this prefix untouched (repeatable)")
	c.MarkFlagsMutuallyExclusive("keep-final-fields", "strip-final-fields")
}

// loadPolicy starts from the defaults, applies --config, then any policy
// flag given explicitly on the command line.
func loadPolicy(cmd *cobra.Command) (policy.Policy, error) {
	flags := cmd.Flags()
	p := policy.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if p, err = policy.Load(path); err != nil {
			return p, err
		}
	}

	if flags.Changed("keep-final-fields") {
		keep, _ := flags.GetBool("keep-final-fields")
		p.StripFinalFields = !keep
	}
	if flags.Changed("strip-final-fields") {
		p.StripFinalFields, _ = flags.GetBool("strip-final-fields")
	}
	if flags.Changed("no-public") {
		noPublic, _ := flags.GetBool("no-public")
		p.MakePublic = !noPublic
	}
	if flags.Changed("keep-private-direct") {
		p.KeepPrivateDirect, _ = flags.GetBool("keep-private-direct")
	}
	if flags.Changed("filter") {
		filters, _ := flags.GetStringArray("filter")
		p.ClassFilters = append(p.ClassFilters, filters...)
	}
	return p, nil
}

// startCPUProfile honours --cpuprofile. The returned stop func is always
// safe to call.
func startCPUProfile(cmd *cobra.Command) (func(), error) {
	path, _ := cmd.Flags().GetString("cpuprofile")
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return func() {}, fmt.Errorf("could not create CPU profile: %v", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return func() {}, fmt.Errorf("could not start CPU profile: %v", err)
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "dexaccess <input.dex> <output.dex>",
	Short: "Make the classes and members of a dex file public and non-final",
	Long: `Dexaccess rewrites the access flags of every class, field and method in an
Android dex file so that nothing is private, protected or final, then
recomputes the file's signature and checksum. Only flag bytes change; the
output has exactly the size and layout of the input.`,
	Example: `
# Rewrite a dex file
dexaccess classes.dex classes-open.dex

# Also strip final from fields, but leave framework classes alone
dexaccess --strip-final-fields -F Landroid/ -F Ljava/ classes.dex out.dex

# Rewrite every dex file under a directory
dexaccess batch -r ./unpacked
  `,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		if err := engine.Init(level); err != nil && cmd.Flags().Changed("log-level") {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		return nil
	},
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
		return engine.New(p).Run(args[0], args[1])
	},
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Plain output and pipes bypass fang's styled rendering.
	noTUI := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" {
			noTUI = true
			break
		}
	}

	var err error
	if noTUI {
		err = rootCmd.ExecuteContext(ctx)
	} else {
		err = fang.Execute(ctx, rootCmd, fang.WithNotifySignal(os.Interrupt))
	}
	dlog.Close()
	if err != nil {
		os.Exit(1)
	}
}
