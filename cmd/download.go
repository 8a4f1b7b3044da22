package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
)

var downloadCleanup bool

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download recordings for extracted calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if downloadCleanup {
			removed, err := env.Pipeline.RedownloadCleanup()
			if err != nil {
				return err
			}
			zap.L().Info("removed stray audio files", zap.Int("count", removed))
		}

		result, err := env.Pipeline.RunStage(ctx, model.StageDownloadAudio, "", "")
		if err != nil {
			return err
		}
		return printStageResult(result)
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadCleanup, "cleanup", false, "remove audio files with no ledger entry before downloading")
	rootCmd.AddCommand(downloadCmd)
}
