package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries state shared by every subcommand.
type app struct {
	cfg    *config
	logger *zap.Logger

	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "hrclock",
		Short:         "High-resolution monotonic clock utility",
		Long:          "Read the monotonic clock, convert durations between units, time commands and record timing sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a TOML config file (default "+defaultConfigFile+" if present)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("storage-dir", "", "directory for storing session data")
	flags.String("format", "", "storage format: jsonl, protobuf, binary or sqlite")
	flags.String("unit", "", "display unit: ns, us, ms, s, m, h or d")

	root.AddCommand(
		a.newNowCmd(),
		a.newSinceCmd(),
		a.newConvertCmd(),
		a.newRunCmd(),
		a.newSessionsCmd(),
		a.newServeCmd(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.applyFlags(cmd.Flags()); err != nil {
		return err
	}
	a.cfg = cfg

	var zc zap.Config
	if a.verbose {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
	}
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger.Named("hrclock")

	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hrclock: %v\n", err)
		os.Exit(1)
	}
}
