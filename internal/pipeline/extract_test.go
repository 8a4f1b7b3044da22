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

func TestExtract_WritesWorkbook(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	deps.telephony.On("CallLogs", mock.Anything, "2026-08-01", "2026-08-02").
		Return([]model.CallRecord{
			{CallID: "c1", BrokerID: "b1", RecordingURL: "https://rec.example.com/c1.wav"},
			{CallID: "c2", BrokerID: "b2", RecordingURL: "https://rec.example.com/c2.wav"},
		}, nil)

	processed, failed, err := p.Extract(context.Background(), "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, failed)

	workbook := filepath.Join(p.callIDsDir(), callids.Filename("2026-08-01", "2026-08-02"))
	calls, err := callids.Read(workbook)
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	assert.True(t, p.ledger.IsDateRangeProcessed("2026-08-01", "2026-08-02"))
}

func TestExtract_SkipsProcessedRange(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	require.NoError(t, p.ledger.MarkDateRangeProcessed("2026-08-01", "2026-08-02", 7))

	processed, failed, err := p.Extract(context.Background(), "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, failed)

	deps.telephony.AssertNotCalled(t, "CallLogs", mock.Anything, mock.Anything, mock.Anything)
}

func TestExtract_TruncatesToLimit(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	p.cfg.Pipeline.ExtractLimit = 1
	deps.telephony.On("CallLogs", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.CallRecord{
			{CallID: "c1", BrokerID: "b1", RecordingURL: "https://rec.example.com/c1.wav"},
			{CallID: "c2", BrokerID: "b2", RecordingURL: "https://rec.example.com/c2.wav"},
			{CallID: "c3", BrokerID: "b3", RecordingURL: "https://rec.example.com/c3.wav"},
		}, nil)

	processed, _, err := p.Extract(context.Background(), "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	workbook := filepath.Join(p.callIDsDir(), callids.Filename("2026-08-01", "2026-08-02"))
	calls, err := callids.Read(workbook)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].CallID)
}

func TestExtract_EmptyRangeStillMarksProcessed(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	deps.telephony.On("CallLogs", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.CallRecord{}, nil)

	processed, failed, err := p.Extract(context.Background(), "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, failed)

	assert.True(t, p.ledger.IsDateRangeProcessed("2026-08-01", "2026-08-02"))

	// No workbook for an empty range.
	_, err = os.Stat(filepath.Join(p.callIDsDir(), callids.Filename("2026-08-01", "2026-08-02")))
	assert.True(t, os.IsNotExist(err))
}

func TestExtract_APIErrorLeavesRangeUnprocessed(t *testing.T) {
	t.Parallel()

	p, deps := newTestPipeline(t)
	deps.telephony.On("CallLogs", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.New("boom"))

	_, _, err := p.Extract(context.Background(), "2026-08-01", "2026-08-02")
	require.Error(t, err)
	assert.False(t, p.ledger.IsDateRangeProcessed("2026-08-01", "2026-08-02"))
}
