package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func markTranscribed(t *testing.T, p *Pipeline, callID, brokerID, text string) {
	t.Helper()
	require.NoError(t, ensureDir(p.transcriptsDir()))
	path := filepath.Join(p.transcriptsDir(), brokerID+"_"+callID+".txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	require.NoError(t, p.ledger.MarkTranscribed(callID, AudioFilename(brokerID, callID), path))
}

func readURLMapping(t *testing.T, p *Pipeline) [][]string {
	t.Helper()
	f, err := os.Open(p.URLMappingPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestUpload_UploadsAndArchivesAudio(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	audioPath := markDownloaded(t, p, "c1", "b1")
	markTranscribed(t, p, "c1", "b1", "hello")

	deps.bubble.On("UploadFile", mock.Anything, audioPath).
		Return("https://cdn.example.com/b1_c1.wav", nil)

	processed, failed, err := p.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	assert.True(t, p.ledger.IsAudioUploaded("c1"))
	entry, ok := p.ledger.UploadedEntry("c1")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/b1_c1.wav", entry.URL)

	// Audio file is archived after a successful upload.
	_, err = os.Stat(audioPath)
	assert.True(t, os.IsNotExist(err))

	rows := readURLMapping(t, p)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"call_id", "filename", "url"}, rows[0])
	assert.Equal(t, []string{"c1", "b1_c1.wav", "https://cdn.example.com/b1_c1.wav"}, rows[1])
}

func TestUpload_KeepsAudioWhenArchivingDisabled(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	p.cfg.Pipeline.ArchiveAfterUpload = false
	audioPath := markDownloaded(t, p, "c1", "b1")
	markTranscribed(t, p, "c1", "b1", "hello")

	deps.bubble.On("UploadFile", mock.Anything, audioPath).
		Return("https://cdn.example.com/b1_c1.wav", nil)

	_, _, err := p.Upload(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(audioPath)
	assert.NoError(t, err)
}

func TestUpload_RecordsPerCallFailure(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	okPath := markDownloaded(t, p, "c1", "b1")
	markTranscribed(t, p, "c1", "b1", "hello")
	badPath := markDownloaded(t, p, "c2", "b2")
	markTranscribed(t, p, "c2", "b2", "world")

	deps.bubble.On("UploadFile", mock.Anything, okPath).
		Return("https://cdn.example.com/b1_c1.wav", nil)
	deps.bubble.On("UploadFile", mock.Anything, badPath).
		Return("", eris.New("storage rejected the file"))

	processed, failed, err := p.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)

	assert.True(t, p.ledger.IsAudioUploaded("c1"))
	assert.False(t, p.ledger.IsAudioUploaded("c2"))

	// The mapping only lists successful uploads.
	rows := readURLMapping(t, p)
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[1][0])
}

func TestUpload_NothingPending(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	processed, failed, err := p.Upload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, failed)

	deps.bubble.AssertNotCalled(t, "UploadFile", mock.Anything, mock.Anything)
}
