package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webis-de/GenIRSim/internal/application"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

const maxRunLine = 64 << 20

func newEvaluateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate CONFIG RUNS",
		Short: "Re-evaluate stored simulations with the evaluators of CONFIG",
		Long: `Evaluate reads RUNS, a JSON lines file as written by "run" (use - for
stdin), and evaluates the simulation of every line with the evaluators of
CONFIG. The simulation section of CONFIG is ignored. Lines that cannot be
evaluated print an empty object.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := application.NewRunner(append(c.runnerOptions(ports.NopMetrics{}),
				application.WithSink(logbook.ZapSink(c.logger)))...)
			if err != nil {
				return err
			}

			m, err := runner.Loader().LoadFile(args[0])
			if err != nil {
				return err
			}
			config, err := runner.Loader().DecodeEvaluation(m)
			if err != nil {
				return err
			}

			in, err := openRuns(cmd, args[1])
			if err != nil {
				return err
			}
			defer in.Close()

			scanner := bufio.NewScanner(in)
			scanner.Buffer(make([]byte, 0, 64*1024), maxRunLine)
			for line := 1; scanner.Scan(); line++ {
				if len(scanner.Bytes()) == 0 {
					continue
				}
				evaluation, err := evaluateLine(cmd, runner, config, scanner.Bytes())
				if err != nil {
					c.logger.Error("evaluation failed", zap.Int("line", line), zap.Error(err))
					evaluation = &domain.Evaluation{}
				}
				if err := writeEvaluations(cmd, []*domain.Evaluation{evaluation}); err != nil {
					return err
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read runs: %w", err)
			}
			return nil
		},
	}
}

func openRuns(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open runs: %w", err)
	}
	return f, nil
}

func evaluateLine(cmd *cobra.Command, runner *application.Runner, config *domain.EvaluationConfiguration, line []byte) (*domain.Evaluation, error) {
	var stored domain.Evaluation
	if err := json.Unmarshal(line, &stored); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}
	if stored.Simulation == nil {
		return nil, domain.NewConfigurationError("simulation", "missing", nil)
	}
	return runner.Evaluate(cmd.Context(), stored.Simulation, config)
}
