package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/callpipe/internal/callids"
	"github.com/brokerdesk/callpipe/internal/model"
)

func writeTestWorkbook(t *testing.T, p *Pipeline, calls []model.CallRecord) string {
	t.Helper()
	require.NoError(t, ensureDir(p.callIDsDir()))
	path := filepath.Join(p.callIDsDir(), callids.Filename("2026-08-01", "2026-08-02"))
	require.NoError(t, callids.Write(path, calls))
	return path
}

func TestDownload_FetchesAndArchivesWorkbook(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	workbook := writeTestWorkbook(t, p, []model.CallRecord{
		{CallID: "c1", BrokerID: "b1", RecordingURL: "https://rec.example.com/c1.wav"},
		{CallID: "c2", BrokerID: "b2", RecordingURL: "https://rec.example.com/c2.wav"},
	})

	deps.fetcher.On("DownloadToFile", mock.Anything, "https://rec.example.com/c1.wav", mock.Anything).
		Return(int64(1024), nil)
	deps.fetcher.On("DownloadToFile", mock.Anything, "https://rec.example.com/c2.wav", mock.Anything).
		Return(int64(2048), nil)

	processed, failed, err := p.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, failed)

	assert.True(t, p.ledger.IsAudioDownloaded("c1"))
	assert.True(t, p.ledger.IsAudioDownloaded("c2"))

	entry, ok := p.ledger.DownloadedEntry("c1")
	require.True(t, ok)
	assert.Equal(t, "b1_c1.wav", entry.Filename)

	// Workbook moved to the archive once every call was attempted.
	_, err = os.Stat(workbook)
	assert.True(t, os.IsNotExist(err))
}

func TestDownload_SkipsAlreadyDownloaded(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	writeTestWorkbook(t, p, []model.CallRecord{
		{CallID: "c1", BrokerID: "b1", RecordingURL: "https://rec.example.com/c1.wav"},
		{CallID: "c2", BrokerID: "b2", RecordingURL: "https://rec.example.com/c2.wav"},
	})
	require.NoError(t, p.ledger.MarkAudioDownloaded("c1", "b1", "b1_c1.wav", "/tmp/b1_c1.wav"))

	deps.fetcher.On("DownloadToFile", mock.Anything, "https://rec.example.com/c2.wav", mock.Anything).
		Return(int64(2048), nil)

	processed, failed, err := p.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	deps.fetcher.AssertNotCalled(t, "DownloadToFile", mock.Anything, "https://rec.example.com/c1.wav", mock.Anything)
}

func TestDownload_FailureKeepsWorkbookForRetry(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	workbook := writeTestWorkbook(t, p, []model.CallRecord{
		{CallID: "c1", BrokerID: "b1", RecordingURL: "https://rec.example.com/c1.wav"},
		{CallID: "c2", BrokerID: "b2", RecordingURL: "https://rec.example.com/c2.wav"},
	})

	deps.fetcher.On("DownloadToFile", mock.Anything, "https://rec.example.com/c1.wav", mock.Anything).
		Return(int64(0), eris.New("connection reset"))
	deps.fetcher.On("DownloadToFile", mock.Anything, "https://rec.example.com/c2.wav", mock.Anything).
		Return(int64(2048), nil)

	processed, failed, err := p.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)

	assert.False(t, p.ledger.IsAudioDownloaded("c1"))
	assert.True(t, p.ledger.IsAudioDownloaded("c2"))

	// Workbook stays put so a re-run retries the failed call.
	_, err = os.Stat(workbook)
	assert.NoError(t, err)
}

func TestDownload_NoWorkbooks(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t)
	processed, failed, err := p.Download(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, failed)
}

func TestRedownloadCleanup_RemovesStrayFiles(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t)
	require.NoError(t, ensureDir(p.audioDir()))

	stray := filepath.Join(p.audioDir(), "b9_c9.wav")
	kept := filepath.Join(p.audioDir(), "b1_c1.wav")
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(kept, []byte("audio"), 0o644))
	require.NoError(t, p.ledger.MarkAudioDownloaded("c1", "b1", "b1_c1.wav", kept))

	removed, err := p.RedownloadCleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(kept)
	assert.NoError(t, err)
}

func TestAudioFilename(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "b1_c1.wav", AudioFilename("b1", "c1"))
}

func TestCallIDFromFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"b1_c1.wav", "c1"},
		{"broker_call_99.wav", "call_99"},
		{"nounderscore.wav", ""},
		{"trailing_.wav", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, callIDFromFilename(tt.name), tt.name)
	}
}
