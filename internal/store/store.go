package store

import (
	"context"

	"github.com/brokerdesk/callpipe/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the run-history persistence interface. The pipeline ledger
// tracks per-call progress; this store keeps the per-run audit trail and
// the analysis results that outlive individual runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, fromDate, toDate string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	AppendStageResult(ctx context.Context, runID string, result model.StageResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Analyses
	SaveAnalysis(ctx context.Context, callID string, analysis model.Analysis) error
	GetAnalysis(ctx context.Context, callID string) (*model.Analysis, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
