package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/internal/state"
)

var (
	statusStatsOnly   bool
	statusRetryFailed string
	statusResetFailed bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline progress and failure summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := state.Open(cfg.BaseDir)
		if err != nil {
			return err
		}

		if statusResetFailed {
			n, err := ledger.RetryAllFailed()
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d failed items across all stages.\n", n)
			return nil
		}

		if cmd.Flags().Changed("retry-failed") {
			return retryFailed(ledger, statusRetryFailed)
		}

		stats := ledger.Stats()

		if statusStatsOnly {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		formatStatusReport(os.Stdout, stats, ledger.FailedItems(), ledger.LastUpdated())
		return nil
	},
}

func retryFailed(ledger *state.Store, arg string) error {
	if arg == "all" {
		n, err := ledger.RetryAllFailed()
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d failed items across all stages.\n", n)
		return nil
	}

	stage, ok := model.ParseStage(arg)
	if !ok {
		return eris.Errorf("unknown stage %q (valid: download_audio, transcribe, upload_audio, analyze)", arg)
	}
	n, err := ledger.RetryFailed(stage)
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d failed items for stage %s.\n", n, stage)
	return nil
}

// formatStatusReport writes the human-readable status report to out.
func formatStatusReport(out io.Writer, stats model.ProcessingStats, failed model.FailedItems, lastUpdated time.Time) {
	header := color.New(color.FgCyan, color.Bold)
	warn := color.New(color.FgYellow)
	ok := color.New(color.FgGreen)
	p := message.NewPrinter(language.English)

	header.Fprintln(out, "=== Pipeline Status ===")
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	p.Fprintf(w, "Calls extracted:\t%d\n", stats.TotalCallsExtracted)
	p.Fprintf(w, "Audio downloaded:\t%d\t%s\n", stats.AudioDownloaded, stageProgress(stats.AudioDownloaded, stats.TotalCallsExtracted))
	p.Fprintf(w, "Transcribed:\t%d\t%s\n", stats.Transcribed, stageProgress(stats.Transcribed, stats.AudioDownloaded))
	p.Fprintf(w, "Uploaded:\t%d\t%s\n", stats.Uploaded, stageProgress(stats.Uploaded, stats.AudioDownloaded))
	p.Fprintf(w, "Analyzed:\t%d\t%s\n", stats.Analyzed, stageProgress(stats.Analyzed, stats.Uploaded))
	p.Fprintf(w, "Archived files:\t%d\n", stats.ArchivedFiles)
	p.Fprintf(w, "Completion:\t%s\n", stats.CompletionRate)
	w.Flush()
	fmt.Fprintln(out)

	if failed.Total() > 0 {
		warn.Fprintf(out, "Failed items: %d\n", failed.Total())
		printFailedList(out, "downloads", failed.Downloads)
		printFailedList(out, "transcriptions", failed.Transcriptions)
		printFailedList(out, "uploads", failed.Uploads)
		printFailedList(out, "analyses", failed.Analyses)
		fmt.Fprintln(out)
	} else {
		ok.Fprintln(out, "No failed items.")
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Next: %s\n", nextAction(stats, failed))
	if !lastUpdated.IsZero() {
		fmt.Fprintf(out, "Last updated: %s\n", lastUpdated.Local().Format("2006-01-02 15:04:05"))
	}
}

func stageProgress(done, total int) string {
	if total == 0 {
		return ""
	}
	return fmt.Sprintf("(%.1f%%)", float64(done)/float64(total)*100)
}

func printFailedList(out io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	const maxShown = 10
	shown := ids
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	fmt.Fprintf(out, "  %s (%d):", label, len(ids))
	for _, id := range shown {
		fmt.Fprintf(out, " %s", id)
	}
	if len(ids) > maxShown {
		fmt.Fprintf(out, " ... and %d more", len(ids)-maxShown)
	}
	fmt.Fprintln(out)
}

// nextAction suggests the command that makes the most progress from here.
func nextAction(stats model.ProcessingStats, failed model.FailedItems) string {
	switch {
	case failed.Total() > 0:
		return "clear failures with 'callpipe status --retry-failed', then re-run the affected stage"
	case stats.TotalCallsExtracted == 0:
		return "run 'callpipe extract --from DATE --to DATE' to pull call logs"
	case stats.AudioDownloaded < stats.TotalCallsExtracted:
		return "run 'callpipe download' to fetch pending recordings"
	case stats.Transcribed < stats.AudioDownloaded:
		return "run 'callpipe transcribe' to transcribe pending recordings"
	case stats.Uploaded < stats.AudioDownloaded:
		return "run 'callpipe upload' to push recordings to the backend"
	case stats.Analyzed < stats.Uploaded:
		return "run 'callpipe analyze' to analyze pending transcripts"
	default:
		return "all caught up"
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusStatsOnly, "stats-only", false, "print stats as JSON and exit")
	statusCmd.Flags().StringVar(&statusRetryFailed, "retry-failed", "", "clear the failure map for a stage (no value clears all)")
	statusCmd.Flags().Lookup("retry-failed").NoOptDefVal = "all"
	statusCmd.Flags().BoolVar(&statusResetFailed, "reset-failed", false, "clear all failure maps")
	rootCmd.AddCommand(statusCmd)
}
