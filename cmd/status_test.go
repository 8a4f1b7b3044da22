package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/brokerdesk/callpipe/internal/model"
)

func TestFormatStatusReport(t *testing.T) {
	color.NoColor = true

	stats := model.ProcessingStats{
		TotalCallsExtracted: 1200,
		AudioDownloaded:     600,
		Transcribed:         300,
		Uploaded:            300,
		Analyzed:            150,
		ArchivedFiles:       40,
		CompletionRate:      "12.5%",
	}
	failed := model.FailedItems{
		Downloads: []string{"c1", "c2"},
	}

	var buf bytes.Buffer
	formatStatusReport(&buf, stats, failed, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	out := buf.String()
	assert.Contains(t, out, "Pipeline Status")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "(50.0%)")
	assert.Contains(t, out, "Failed items: 2")
	assert.Contains(t, out, "downloads (2): c1 c2")
	assert.Contains(t, out, "--retry-failed")
	assert.Contains(t, out, "Last updated:")
}

func TestFormatStatusReport_NoFailures(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	formatStatusReport(&buf, model.ProcessingStats{CompletionRate: "0%"}, model.FailedItems{}, time.Time{})

	out := buf.String()
	assert.Contains(t, out, "No failed items.")
	assert.Contains(t, out, "callpipe extract")
	assert.NotContains(t, out, "Last updated:")
}

func TestNextAction(t *testing.T) {
	tests := []struct {
		name   string
		stats  model.ProcessingStats
		failed model.FailedItems
		want   string
	}{
		{
			name:   "failures come first",
			stats:  model.ProcessingStats{TotalCallsExtracted: 10},
			failed: model.FailedItems{Uploads: []string{"c1"}},
			want:   "--retry-failed",
		},
		{
			name:  "nothing extracted",
			stats: model.ProcessingStats{},
			want:  "callpipe extract",
		},
		{
			name:  "downloads pending",
			stats: model.ProcessingStats{TotalCallsExtracted: 10, AudioDownloaded: 5},
			want:  "callpipe download",
		},
		{
			name:  "transcriptions pending",
			stats: model.ProcessingStats{TotalCallsExtracted: 10, AudioDownloaded: 10, Transcribed: 5},
			want:  "callpipe transcribe",
		},
		{
			name:  "uploads pending",
			stats: model.ProcessingStats{TotalCallsExtracted: 10, AudioDownloaded: 10, Transcribed: 10, Uploaded: 5},
			want:  "callpipe upload",
		},
		{
			name:  "analyses pending",
			stats: model.ProcessingStats{TotalCallsExtracted: 10, AudioDownloaded: 10, Transcribed: 10, Uploaded: 10, Analyzed: 5},
			want:  "callpipe analyze",
		},
		{
			name:  "done",
			stats: model.ProcessingStats{TotalCallsExtracted: 10, AudioDownloaded: 10, Transcribed: 10, Uploaded: 10, Analyzed: 10},
			want:  "all caught up",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, nextAction(tt.stats, tt.failed), tt.want)
		})
	}
}

func TestStageProgress(t *testing.T) {
	assert.Equal(t, "", stageProgress(5, 0))
	assert.Equal(t, "(50.0%)", stageProgress(5, 10))
	assert.Equal(t, "(100.0%)", stageProgress(10, 10))
}

func TestPrintFailedList_Truncates(t *testing.T) {
	ids := make([]string, 15)
	for i := range ids {
		ids[i] = "c"
	}

	var buf bytes.Buffer
	printFailedList(&buf, "downloads", ids)

	assert.Contains(t, buf.String(), "downloads (15):")
	assert.Contains(t, buf.String(), "and 5 more")
}
