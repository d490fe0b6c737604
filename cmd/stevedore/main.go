// Command stevedore installs signed binary packages from a mirror into a
// local prefix, tracking what is installed so runs are idempotent and
// resumable.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/OrinWestfall/stevedore/internal/config"
	"github.com/OrinWestfall/stevedore/internal/install"
	"github.com/OrinWestfall/stevedore/internal/trust"
)

// Version is set at build time via -ldflags.
var Version = "v0.0.0-dev"

// Exit codes. Package-not-found gets its own code so wrappers can suggest
// the fake-install escape hatch.
const (
	exitOK        = 0
	exitError     = 1
	exitIntegrity = 2
	exitNotFound  = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, trust.ErrAnchorMismatch), errors.Is(err, trust.ErrSignature):
		return exitIntegrity
	case errors.Is(err, install.ErrNotFound):
		return exitNotFound
	default:
		return exitError
	}
}

// flags shared across all subcommands.
type rootFlags struct {
	verbosity int
	static    bool
	root      string
	mirror    string
	target    string
	cflags    bool
	ldflags   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "stevedore",
		Short:         "install signed binary packages from a mirror",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.cflags || flags.ldflags {
				return printBuildFlags(flags)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "increase log verbosity")
	cmd.PersistentFlags().BoolVar(&flags.static, "static", false, "strip shared libraries from installed payloads")
	cmd.PersistentFlags().StringVar(&flags.root, "root", "", "install root (default $STEVEDORE_ROOT or ~/.stevedore)")
	cmd.PersistentFlags().StringVar(&flags.mirror, "mirror", "", "package mirror base URL")
	cmd.PersistentFlags().StringVar(&flags.target, "target", "", "deployment target, e.g. 14.2 (default: detect)")
	cmd.Flags().BoolVar(&flags.cflags, "cflags", false, "print compiler flags for the install prefix")
	cmd.Flags().BoolVar(&flags.ldflags, "ldflags", false, "print linker flags for the install prefix")

	cmd.AddCommand(
		newInstallCmd(flags),
		newFakeInstallCmd(flags),
		newSearchCmd(flags),
		newUpgradeCmd(flags),
		newUpdateCacheCmd(flags),
		newClearCacheCmd(flags),
		newRemoveDylibsCmd(flags),
	)
	return cmd
}

// loadConfig resolves the runtime configuration with flag overrides applied.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.root != "" {
		cfg.Root = flags.root
	}
	if flags.mirror != "" {
		cfg.Mirror = flags.mirror
	}
	if flags.target != "" {
		cfg.Target = flags.target
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(flags *rootFlags) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	switch {
	case flags.verbosity >= 2:
		logger.SetLevel(log.DebugLevel)
	case flags.verbosity == 1:
		logger.SetLevel(log.InfoLevel)
	default:
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}

func printBuildFlags(flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if flags.cflags {
		fmt.Printf("-I%s/include ", cfg.PrefixDir())
	}
	if flags.ldflags {
		fmt.Printf("-L%s/lib ", cfg.PrefixDir())
	}
	fmt.Println()
	return nil
}
