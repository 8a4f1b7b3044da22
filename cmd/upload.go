package main

import (
	"github.com/spf13/cobra"

	"github.com/brokerdesk/callpipe/internal/model"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload recordings to the backend store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.RunStage(ctx, model.StageUploadAudio, "", "")
		if err != nil {
			return err
		}
		return printStageResult(result)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}
