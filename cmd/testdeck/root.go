package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/testdeck/internal/app/suite"
	"github.com/alexisbeaulieu97/testdeck/internal/config"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
)

type rootFlags struct {
	configPath string
	envFile    string
	testsDir   string
	reportsDir string
	logLevel   string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "testdeck",
		Short:         "testdeck discovers, runs and reports declarative test suites",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to settings file (default ./"+config.DefaultFile+" when present)")
	pf.StringVar(&flags.envFile, "env-file", "", "Path to a dotenv file with TESTDECK_* overrides")
	pf.StringVar(&flags.testsDir, "tests-dir", "", "Override the tests directory")
	pf.StringVar(&flags.reportsDir, "reports-dir", "", "Override the reports directory")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override the log level")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newScanCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newReportsCmd(flags))
	cmd.AddCommand(newLatestCmd(flags))
	cmd.AddCommand(newFailedCmd(flags))
	cmd.AddCommand(newStepsCmd(flags))
	cmd.AddCommand(newFunctionsCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// settings loads the settings file and applies command-line overrides.
func (f *rootFlags) settings() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: f.configPath, EnvFile: f.envFile})
	if err != nil {
		return nil, err
	}

	if f.testsDir != "" {
		cfg.TestsDir = f.testsDir
	}
	if f.reportsDir != "" {
		cfg.ReportsDir = f.reportsDir
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// appContext bundles what a command needs to talk to the core.
type appContext struct {
	cfg *config.Config
	log *logger.Logger
	svc *suite.Service
}

func (a *appContext) Close() error {
	return a.svc.Close()
}

// appOption adjusts the service options a command opens the core with.
type appOption func(*suite.Options)

func openApp(ctx context.Context, cmd *cobra.Command, flags *rootFlags, opts ...appOption) (*appContext, error) {
	cfg, err := flags.settings()
	if err != nil {
		return nil, newCommandError(cmd.Name(), "loading settings", err, "Check the settings file and TESTDECK_* environment variables.")
	}

	log, err := logger.New(logger.Options{
		Level:         cfg.Log.Level,
		HumanReadable: cfg.Log.Human,
		Writer:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	svcOpts := suite.Options{Config: cfg, Logger: log}
	for _, opt := range opts {
		opt(&svcOpts)
	}

	svc, err := suite.New(ctx, svcOpts)
	if err != nil {
		return nil, newCommandError(cmd.Name(), "opening the report store", err, "Check database.driver and database.dsn.")
	}

	return &appContext{cfg: cfg, log: log, svc: svc}, nil
}
