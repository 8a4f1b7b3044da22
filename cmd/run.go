package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
)

var (
	runFrom     string
	runTo       string
	runLimit    int
	runContinue bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all pipeline stages for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runLimit > 0 {
			cfg.Pipeline.ExtractLimit = runLimit
		}
		if runContinue {
			cfg.Pipeline.ContinueOnFailure = true
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Run(ctx, runFrom, runTo)
		if err != nil {
			if run != nil {
				printRun(run)
			}
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("pipeline run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
		return printRun(run)
	},
}

func printRun(run *model.Run) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "start date YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runTo, "to", "", "end date YYYY-MM-DD (required)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "cap the number of calls extracted")
	runCmd.Flags().BoolVar(&runContinue, "continue-on-failure", false, "keep running later stages after a stage fails")
	_ = runCmd.MarkFlagRequired("from")
	_ = runCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(runCmd)
}
