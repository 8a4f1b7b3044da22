package main

import (
	"github.com/spf13/cobra"

	"github.com/brokerdesk/callpipe/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run LLM analysis over uploaded transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.RunStage(ctx, model.StageAnalyze, "", "")
		if err != nil {
			return err
		}
		return printStageResult(result)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
