package cmds

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tdbg-dev/tdbg/pkg/config"
	"github.com/tdbg-dev/tdbg/pkg/logflags"
	"github.com/tdbg-dev/tdbg/pkg/proc"
	"github.com/tdbg-dev/tdbg/pkg/terminal"
	"github.com/tdbg-dev/tdbg/pkg/version"
	"github.com/tdbg-dev/tdbg/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// workingDir is the working directory for running the program.
	workingDir string
	// tty is used to provide an alternate TTY for the program you wish to debug.
	tty string
	// disableASLR starts the program with address space layout randomization disabled.
	disableASLR bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const tdbgCommandLongDesc = `tdbg is a machine level debugger for linux/amd64 programs.

tdbg starts the program under ptrace and stops it before its first
instruction. From the prompt you can set breakpoints at instruction
addresses, resume and single step the program, and read or write its
registers and memory.

Flags after the program path are passed to the program, for example:

` + "`tdbg --wd /tmp ./hello -v --config conf.toml`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main tdbg root command.
	rootCommand = &cobra.Command{
		Use:   "tdbg [flags] <path/to/binary> [args...]",
		Short: "tdbg is a ptrace debugger for linux/amd64 programs.",
		Long:  tdbgCommandLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args, conf))
		},
		SilenceUsage: true,
	}
	// everything after the binary belongs to the binary
	rootCommand.Flags().SetInterspersed(false)
	rootCommand.SetGlobalNormalizationFunc(normalizeFlagName)

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'tdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'tdbg help log').")

	rootCommand.Flags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	rootCommand.Flags().StringVar(&tty, "tty", "", "TTY to use for the target program")
	rootCommand.Flags().BoolVar(&disableASLR, "disable-aslr", conf.GetDisableASLR(), "Start the program with address space layout randomization disabled.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tdbg Debugger\n%s\n", version.TdbgVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	ptrace		Log ptrace requests and wait results
	terminal	Log commands read by the terminal

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// normalizeFlagName accepts underscores in place of dashes.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// assemblyFlavour returns the syntax selected by the disassemble-flavor
// option.
func assemblyFlavour(conf *config.Config) (proc.AssemblyFlavour, error) {
	switch conf.DisassembleFlavour {
	case "", "intel":
		return proc.IntelFlavour, nil
	case "gnu":
		return proc.GNUFlavour, nil
	default:
		return proc.IntelFlavour, fmt.Errorf("unknown disassemble-flavor %q", conf.DisassembleFlavour)
	}
}

func execute(processArgs []string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	flavour, err := assemblyFlavour(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	client, err := debugger.New(&debugger.Config{
		WorkingDir:  workingDir,
		TTY:         tty,
		DisableASLR: disableASLR,
		Flavour:     flavour,
	}, processArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	term := terminal.New(client, conf)
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
