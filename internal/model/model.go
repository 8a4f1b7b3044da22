package model

import (
	"time"
)

// Stage identifies one phase of the call processing pipeline.
type Stage string

const (
	StageGetCallIDs    Stage = "get_call_ids"
	StageDownloadAudio Stage = "download_audio"
	StageTranscribe    Stage = "transcribe"
	StageUploadAudio   Stage = "upload_audio"
	StageAnalyze       Stage = "analyze"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageGetCallIDs,
	StageDownloadAudio,
	StageTranscribe,
	StageUploadAudio,
	StageAnalyze,
}

// ParseStage converts a stage name to a Stage, reporting whether it is known.
func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// StageStatus represents the current state of a stage within a run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// CallRecord is a single call-log entry from the telephony vendor.
type CallRecord struct {
	CallID       string `json:"call_id"`
	BrokerID     string `json:"broker_id"`
	RecordingURL string `json:"recording_url"`
	FromName     string `json:"from_name,omitempty"`
	FromNumber   string `json:"from_number,omitempty"`
	ToNumber     string `json:"to_number,omitempty"`
	StartTime    string `json:"start_time,omitempty"`
	Duration     int    `json:"duration,omitempty"`
}

// Utterance is one speaker turn in a transcript. Start and End are
// millisecond offsets from the beginning of the recording.
type Utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the full output of the speech-to-text service for one call.
type Transcript struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence,omitempty"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Analysis is the structured LLM output for one call.
type Analysis struct {
	Category    string   `json:"category"`
	Sentiment   string   `json:"sentiment"`
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items,omitempty"`
	Escalation  bool     `json:"escalation"`
	RootCause   string   `json:"root_cause,omitempty"`
}

// Run represents a single orchestrated pipeline invocation.
type Run struct {
	ID        string        `json:"id"`
	FromDate  string        `json:"from_date"`
	ToDate    string        `json:"to_date"`
	Status    RunStatus     `json:"status"`
	Stages    []StageResult `json:"stages,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StageResult holds the outcome of one stage within a run.
type StageResult struct {
	Stage     Stage       `json:"stage"`
	Status    StageStatus `json:"status"`
	Duration  int64       `json:"duration_ms"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Error     string      `json:"error,omitempty"`
}

// ProcessingStats summarizes overall pipeline progress.
type ProcessingStats struct {
	TotalCallsExtracted int    `json:"total_calls_extracted"`
	AudioDownloaded     int    `json:"audio_downloaded"`
	Transcribed         int    `json:"transcribed"`
	Uploaded            int    `json:"uploaded"`
	Analyzed            int    `json:"analyzed"`
	ArchivedFiles       int    `json:"archived_files"`
	CompletionRate      string `json:"completion_rate"`
}

// FailedItems lists call ids currently in each stage's failure map.
type FailedItems struct {
	Downloads      []string `json:"failed_downloads"`
	Transcriptions []string `json:"failed_transcriptions"`
	Uploads        []string `json:"failed_uploads"`
	Analyses       []string `json:"failed_analyses"`
}

// Total returns the number of failed items across all stages.
func (f FailedItems) Total() int {
	return len(f.Downloads) + len(f.Transcriptions) + len(f.Uploads) + len(f.Analyses)
}
