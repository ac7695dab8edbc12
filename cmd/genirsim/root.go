package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webis-de/GenIRSim/internal/application"
	"github.com/webis-de/GenIRSim/internal/ports"
)

// cli holds the state shared by all commands. It is filled in by the root
// command's PersistentPreRunE.
type cli struct {
	envFile string
	config  *Config
	logger  *zap.Logger

	// Flags that override the environment when set.
	logLevel       string
	logFormat      string
	restricted     bool
	maxConcurrency int
	attempts       int

	// registry replaces the built-in plugin registry; used by tests.
	registry *application.Registry
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&cli{})
}

func newRootCmdWith(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "genirsim",
		Short:         "Simulate and evaluate conversational search sessions",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.envFile, "env-file", ".env", "File that seeds the environment")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&c.logFormat, "log-format", "", "Log format (console, json)")
	flags.BoolVar(&c.restricted, "restricted", true, "Reject plugin modules that are URLs")
	flags.IntVar(&c.maxConcurrency, "max-concurrency", 0, "Maximum concurrent runs of a batch (0 is unlimited)")
	flags.IntVar(&c.attempts, "attempts", 1, "Attempts per run before it counts as failed")

	root.AddCommand(newRunCmd(c), newEvaluateCmd(c), newServeCmd(c))
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(c.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	if flags.Changed("restricted") {
		cfg.Restricted = c.restricted
	}
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrency = c.maxConcurrency
	}
	if flags.Changed("attempts") {
		cfg.Attempts = c.attempts
	}
	if cmd.Name() == "serve" && flags.Changed("addr") {
		addr, _ := flags.GetString("addr")
		cfg.Addr = addr
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	c.config = cfg
	c.logger = logger
	return nil
}

func (c *cli) runnerOptions(metrics ports.MetricsCollector) []application.RunnerOption {
	opts := []application.RunnerOption{
		application.WithRestricted(c.config.Restricted),
		application.WithMaxConcurrency(c.config.MaxConcurrency),
		application.WithAttempts(c.config.Attempts),
		application.WithLogger(c.logger),
		application.WithMetrics(metrics),
	}
	if c.registry != nil {
		opts = append(opts, application.WithRegistry(c.registry))
	}
	return opts
}
