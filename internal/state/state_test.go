package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/callpipe/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestOpen_CreatesDirectories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	_, err := Open(base)
	require.NoError(t, err)

	for _, dir := range []string{
		"logs",
		"archive/call_ids",
		"archive/audio",
		"archive/transcripts",
		"archive/failed",
	} {
		info, statErr := os.Stat(filepath.Join(base, dir))
		require.NoError(t, statErr, dir)
		assert.True(t, info.IsDir(), dir)
	}

	// Opening again over existing directories is a no-op.
	_, err = Open(base)
	require.NoError(t, err)
}

func TestOpen_CorruptLedgerStartsFresh(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "logs"), 0o755))
	statePath := filepath.Join(base, "logs", "pipeline_state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o644))

	s, err := Open(base)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 0, stats.TotalCallsExtracted)
	assert.Equal(t, "0%", stats.CompletionRate)

	// The corrupt file is preserved for inspection.
	_, err = os.Stat(statePath + ".corrupt")
	assert.NoError(t, err)
}

func TestMarkDateRangeProcessed(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	assert.False(t, s.IsDateRangeProcessed("2025-01-01", "2025-01-02"))

	require.NoError(t, s.MarkDateRangeProcessed("2025-01-01", "2025-01-02", 5))

	assert.True(t, s.IsDateRangeProcessed("2025-01-01", "2025-01-02"))
	assert.Equal(t, 5, s.Stats().TotalCallsExtracted)

	// Exact match only: overlapping or partially matching ranges do not count.
	assert.False(t, s.IsDateRangeProcessed("2025-01-01", "2025-01-03"))
	assert.False(t, s.IsDateRangeProcessed("2024-12-31", "2025-01-02"))
}

func TestMarkAudioDownloaded_Idempotent(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	require.NoError(t, s.MarkAudioDownloaded("C1", "B1", "B1_C1.wav", "/tmp/B1_C1.wav"))
	assert.True(t, s.IsAudioDownloaded("C1"))
	assert.Equal(t, 1, s.Stats().AudioDownloaded)

	// Re-marking a completed call must not double count.
	require.NoError(t, s.MarkAudioDownloaded("C1", "B1", "B1_C1.wav", "/tmp/B1_C1.wav"))
	assert.Equal(t, 1, s.Stats().AudioDownloaded)

	require.NoError(t, s.MarkAudioDownloaded("C2", "B2", "B2_C2.wav", "/tmp/B2_C2.wav"))
	assert.Equal(t, 2, s.Stats().AudioDownloaded)
}

func TestMarkSuccess_ClearsFailureEntry(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	require.NoError(t, s.MarkAudioDownloadFailed("C1", assert.AnError))
	assert.Equal(t, []string{"C1"}, s.FailedItems().Downloads)

	require.NoError(t, s.MarkAudioDownloaded("C1", "B1", "B1_C1.wav", "/tmp/B1_C1.wav"))

	assert.True(t, s.IsAudioDownloaded("C1"))
	assert.Empty(t, s.FailedItems().Downloads)
}

func TestCallsForProcessing_ReadinessFilter(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	// A: downloaded + transcribed + uploaded.
	require.NoError(t, s.MarkAudioDownloaded("A", "B1", "B1_A.wav", "/tmp/B1_A.wav"))
	require.NoError(t, s.MarkTranscribed("A", "B1_A.wav", "/tmp/B1_A.txt"))
	require.NoError(t, s.MarkAudioUploaded("A", "https://cdn.example.com/B1_A.wav"))

	// B: downloaded + transcribed.
	require.NoError(t, s.MarkAudioDownloaded("B", "B1", "B1_B.wav", "/tmp/B1_B.wav"))
	require.NoError(t, s.MarkTranscribed("B", "B1_B.wav", "/tmp/B1_B.txt"))

	// C: downloaded only.
	require.NoError(t, s.MarkAudioDownloaded("C", "B2", "B2_C.wav", "/tmp/B2_C.wav"))

	assert.Equal(t, []string{"C"}, s.CallsForProcessing(model.StageTranscribe))
	assert.Equal(t, []string{"B", "C"}, s.CallsForProcessing(model.StageUploadAudio))
	assert.Equal(t, []string{"A"}, s.CallsForProcessing(model.StageAnalyze))

	// The default filter returns every downloaded call.
	assert.Equal(t, []string{"A", "B", "C"}, s.CallsForProcessing(model.StageDownloadAudio))
}

func TestStats_CompletionRate(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	// Zero denominator must not divide.
	assert.Equal(t, "0%", s.Stats().CompletionRate)

	require.NoError(t, s.MarkDateRangeProcessed("2025-01-01", "2025-01-02", 10))
	for _, id := range []string{"C1", "C2", "C3"} {
		require.NoError(t, s.MarkAnalyzed(id, "support"))
	}

	stats := s.Stats()
	assert.Equal(t, 10, stats.TotalCallsExtracted)
	assert.Equal(t, 3, stats.Analyzed)
	assert.Equal(t, "30.0%", stats.CompletionRate)
}

func TestRetryFailed_ScopedToStage(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	require.NoError(t, s.MarkAudioDownloadFailed("D1", assert.AnError))
	require.NoError(t, s.MarkTranscriptionFailed("T1", assert.AnError))
	require.NoError(t, s.MarkAudioUploadFailed("U1", assert.AnError))
	require.NoError(t, s.MarkAnalysisFailed("A1", assert.AnError))

	n, err := s.RetryFailed(model.StageDownloadAudio)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed := s.FailedItems()
	assert.Empty(t, failed.Downloads)
	assert.Equal(t, []string{"T1"}, failed.Transcriptions)
	assert.Equal(t, []string{"U1"}, failed.Uploads)
	assert.Equal(t, []string{"A1"}, failed.Analyses)
}

func TestRetryFailed_UnknownStage(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	_, err := s.RetryFailed(model.StageGetCallIDs)
	require.Error(t, err)
}

func TestRetryAllFailed(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	require.NoError(t, s.MarkAudioDownloadFailed("D1", assert.AnError))
	require.NoError(t, s.MarkTranscriptionFailed("T1", assert.AnError))
	require.NoError(t, s.MarkAudioUploadFailed("U1", assert.AnError))
	require.NoError(t, s.MarkAnalysisFailed("A1", assert.AnError))

	n, err := s.RetryAllFailed()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, s.FailedItems().Total())
}

func TestPersistence_RoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	s, err := Open(base)
	require.NoError(t, err)

	require.NoError(t, s.MarkDateRangeProcessed("2025-01-01", "2025-01-02", 5))
	require.NoError(t, s.MarkAudioDownloaded("C1", "B1", "B1_C1.wav", "/tmp/B1_C1.wav"))
	require.NoError(t, s.MarkTranscribed("C1", "B1_C1.wav", "/tmp/B1_C1.txt"))
	require.NoError(t, s.MarkAudioUploaded("C1", "https://cdn.example.com/B1_C1.wav"))
	require.NoError(t, s.MarkAnalyzed("C1", "pricing"))
	require.NoError(t, s.MarkAudioDownloadFailed("C2", assert.AnError))

	reloaded, err := Open(base)
	require.NoError(t, err)

	assert.Equal(t, s.Stats(), reloaded.Stats())
	assert.Equal(t, s.FailedItems(), reloaded.FailedItems())
	assert.True(t, reloaded.IsDateRangeProcessed("2025-01-01", "2025-01-02"))
	assert.True(t, reloaded.IsAudioDownloaded("C1"))
	assert.True(t, reloaded.IsTranscribed("C1"))
	assert.True(t, reloaded.IsAudioUploaded("C1"))
	assert.True(t, reloaded.IsAnalyzed("C1"))

	entry, ok := reloaded.UploadedEntry("C1")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/B1_C1.wav", entry.URL)

	// Byte-level round trip: reloading and saving must not change the document.
	statePath := filepath.Join(base, "logs", "pipeline_state.json")
	before, err := os.ReadFile(statePath)
	require.NoError(t, err)

	var doc1, doc2 document
	require.NoError(t, json.Unmarshal(before, &doc1))
	again, err := json.MarshalIndent(doc1, "", "  ")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(again, &doc2))
	assert.Equal(t, doc1, doc2)
}

func TestScenario_ExtractDownloadTranscribeFlow(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	require.NoError(t, s.MarkDateRangeProcessed("2025-01-01", "2025-01-02", 5))
	assert.Equal(t, 5, s.Stats().TotalCallsExtracted)

	require.NoError(t, s.MarkAudioDownloaded("C1", "B1", "B1_C1.wav", "/tmp/B1_C1.wav"))
	assert.True(t, s.IsAudioDownloaded("C1"))
	assert.Equal(t, []string{"C1"}, s.CallsForProcessing(model.StageTranscribe))
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	for _, stage := range model.Stages {
		got, ok := model.ParseStage(string(stage))
		assert.True(t, ok)
		assert.Equal(t, stage, got)
	}

	_, ok := model.ParseStage("bogus")
	assert.False(t, ok)
}
