package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/webis-de/GenIRSim/internal/application"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		paramsPath string
		logEntries bool
	)

	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Simulate and evaluate, printing one JSON evaluation per line",
		Long: `Run simulates the conversation described by CONFIG (JSON or YAML) and
evaluates it. With --params, every data row of the tab-separated file is
rendered into the configuration and run independently; the header row names
the variables. Failed runs print an empty object.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sinks := []logbook.Sink{logbook.ZapSink(c.logger)}
			if logEntries {
				sinks = append(sinks, logbook.JSONLines(cmd.ErrOrStderr()))
			}
			runner, err := application.NewRunner(append(c.runnerOptions(ports.NopMetrics{}),
				application.WithSink(logbook.Multi(sinks...)))...)
			if err != nil {
				return err
			}

			configuration, err := runner.Loader().LoadFile(args[0])
			if err != nil {
				return err
			}

			var evaluations []*domain.Evaluation
			if paramsPath == "" {
				evaluations = []*domain.Evaluation{runner.Run(cmd.Context(), configuration, nil)}
			} else {
				params, err := os.ReadFile(filepath.Clean(paramsPath))
				if err != nil {
					return fmt.Errorf("failed to read params: %w", err)
				}
				evaluations, err = runner.RunTSV(cmd.Context(), configuration, string(params))
				if err != nil {
					return err
				}
			}

			return writeEvaluations(cmd, evaluations)
		},
	}

	cmd.Flags().StringVar(&paramsPath, "params", "", "Tab-separated replacements, one run per data row")
	cmd.Flags().BoolVar(&logEntries, "log", false, "Write logbook entries to stderr as JSON lines")
	return cmd
}

func writeEvaluations(cmd *cobra.Command, evaluations []*domain.Evaluation) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, evaluation := range evaluations {
		if err := enc.Encode(evaluation); err != nil {
			return fmt.Errorf("failed to write evaluation: %w", err)
		}
	}
	return nil
}
