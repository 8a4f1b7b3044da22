package main

import (
	"github.com/spf13/cobra"

	"github.com/brokerdesk/callpipe/internal/model"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe downloaded recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.RunStage(ctx, model.StageTranscribe, "", "")
		if err != nil {
			return err
		}
		return printStageResult(result)
	},
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
}
