package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/pkg/llm"
)

// MockTelephony implements telephony.Client for testing.
type MockTelephony struct {
	mock.Mock
}

func (m *MockTelephony) CallLogs(ctx context.Context, fromDate, toDate string) ([]model.CallRecord, error) {
	args := m.Called(ctx, fromDate, toDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CallRecord), args.Error(1)
}

func (m *MockTelephony) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockSpeech implements speech.Client for testing.
type MockSpeech struct {
	mock.Mock
}

func (m *MockSpeech) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	args := m.Called(ctx, audioPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transcript), args.Error(1)
}

// MockBubble implements bubble.Client for testing.
type MockBubble struct {
	mock.Mock
}

func (m *MockBubble) UploadFile(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

func (m *MockBubble) TriggerWorkflow(ctx context.Context, workflow string, payload any) error {
	args := m.Called(ctx, workflow, payload)
	return args.Error(0)
}

// MockLLM implements llm.Client for testing.
type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) CreateMessage(ctx context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.MessageResponse), args.Error(1)
}

// MockFetcher implements fetcher.Fetcher for testing.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	args := m.Called(ctx, rawURL, path)
	return args.Get(0).(int64), args.Error(1)
}
