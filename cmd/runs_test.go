package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brokerdesk/callpipe/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	created := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "0f2a7c31-aaaa-bbbb-cccc-dddddddddddd",
			FromDate:  "2026-08-01",
			ToDate:    "2026-08-02",
			Status:    model.RunStatusComplete,
			CreatedAt: created,
			UpdatedAt: created.Add(90 * time.Second),
			Stages: []model.StageResult{
				{Stage: model.StageGetCallIDs, Status: model.StageStatusSucceeded},
				{Stage: model.StageDownloadAudio, Status: model.StageStatusSucceeded},
				{Stage: model.StageTranscribe, Status: model.StageStatusSkipped},
			},
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "0f2a7c31")
	assert.NotContains(t, out, "dddddddddddd")
	assert.Contains(t, out, "2026-08-01..2026-08-02")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "2ok/1skip/0fail")
	assert.Contains(t, out, "1m30s")
}

func TestSummarizeStages_Empty(t *testing.T) {
	assert.Equal(t, "-", summarizeStages(nil))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "12345678", truncateID("1234567890"))
}
