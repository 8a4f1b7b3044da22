package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/brokerdesk/callpipe/internal/model"
)

var (
	extractFrom string
	extractTo   string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Fetch call logs for a date range and write the call-id workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.RunStage(ctx, model.StageGetCallIDs, extractFrom, extractTo)
		if err != nil {
			return err
		}
		return printStageResult(result)
	},
}

func printStageResult(result model.StageResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func init() {
	extractCmd.Flags().StringVar(&extractFrom, "from", "", "start date YYYY-MM-DD (required)")
	extractCmd.Flags().StringVar(&extractTo, "to", "", "end date YYYY-MM-DD (required)")
	_ = extractCmd.MarkFlagRequired("from")
	_ = extractCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(extractCmd)
}
