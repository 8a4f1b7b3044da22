// Package pipeline orchestrates the call processing stages: extract call
// logs, download recordings, transcribe, upload audio, and analyze
// transcripts. Per-call progress lives in the ledger so any stage can be
// re-run without repeating finished work.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/config"
	"github.com/brokerdesk/callpipe/internal/fetcher"
	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/internal/registry"
	"github.com/brokerdesk/callpipe/internal/state"
	"github.com/brokerdesk/callpipe/internal/store"
	"github.com/brokerdesk/callpipe/pkg/bubble"
	"github.com/brokerdesk/callpipe/pkg/llm"
	"github.com/brokerdesk/callpipe/pkg/speech"
	"github.com/brokerdesk/callpipe/pkg/telephony"
)

// Pipeline orchestrates the five call processing stages.
type Pipeline struct {
	cfg       *config.Config
	ledger    *state.Store
	store     store.Store
	telephony telephony.Client
	speech    speech.Client
	bubble    bubble.Client
	llm       llm.Client
	fetcher   fetcher.Fetcher
	questions *registry.Registry
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	ledger *state.Store,
	st store.Store,
	telClient telephony.Client,
	speechClient speech.Client,
	bubbleClient bubble.Client,
	llmClient llm.Client,
	f fetcher.Fetcher,
	questions *registry.Registry,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		ledger:    ledger,
		store:     st,
		telephony: telClient,
		speech:    speechClient,
		bubble:    bubbleClient,
		llm:       llmClient,
		fetcher:   f,
		questions: questions,
	}
}

// Output directories under the base dir. Created on demand by each stage.
func (p *Pipeline) callIDsDir() string     { return filepath.Join(p.cfg.BaseDir, "output", "call_ids") }
func (p *Pipeline) audioDir() string       { return filepath.Join(p.cfg.BaseDir, "output", "audio") }
func (p *Pipeline) transcriptsDir() string { return filepath.Join(p.cfg.BaseDir, "output", "transcripts") }

func ensureDir(dir string) error {
	return eris.Wrapf(os.MkdirAll(dir, 0o755), "pipeline: create %s", dir)
}

// stageFn executes one stage and reports how many items it processed and
// how many failed. A non-nil error means the stage itself broke, not that
// individual items failed.
type stageFn func(ctx context.Context) (processed, failed int, err error)

// Run executes all stages in order for the date range. A stage whose items
// partially fail does not stop the run; a broken stage stops it unless
// continue_on_failure is set.
func (p *Pipeline) Run(ctx context.Context, fromDate, toDate string) (*model.Run, error) {
	log := zap.L().With(zap.String("from", fromDate), zap.String("to", toDate))
	log.Info("pipeline: starting run")

	run, err := p.store.CreateRun(ctx, fromDate, toDate)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	stages := []struct {
		stage model.Stage
		fn    stageFn
	}{
		{model.StageGetCallIDs, func(ctx context.Context) (int, int, error) {
			return p.Extract(ctx, fromDate, toDate)
		}},
		{model.StageDownloadAudio, p.Download},
		{model.StageTranscribe, p.Transcribe},
		{model.StageUploadAudio, p.Upload},
		{model.StageAnalyze, p.Analyze},
	}

	runFailed := false
	for _, s := range stages {
		result := p.runStage(ctx, run.ID, s.stage, s.fn)
		run.Stages = append(run.Stages, result)

		if result.Status == model.StageStatusFailed {
			runFailed = true
			if !p.cfg.Pipeline.ContinueOnFailure {
				log.Error("pipeline: stopping run after stage failure",
					zap.String("stage", string(s.stage)),
				)
				p.setRunStatus(ctx, run.ID, model.RunStatusFailed)
				run.Status = model.RunStatusFailed
				return run, eris.Errorf("pipeline: stage %s failed: %s", s.stage, result.Error)
			}
			log.Warn("pipeline: continuing past failed stage",
				zap.String("stage", string(s.stage)),
			)
		}
	}

	status := model.RunStatusComplete
	if runFailed {
		status = model.RunStatusFailed
	}
	p.setRunStatus(ctx, run.ID, status)
	run.Status = status

	log.Info("pipeline: run finished", zap.String("status", string(status)))
	return run, nil
}

// RunStage executes a single named stage, recording it against a fresh run.
// The stage commands use this for standalone invocations.
func (p *Pipeline) RunStage(ctx context.Context, stage model.Stage, fromDate, toDate string) (model.StageResult, error) {
	var fn stageFn
	switch stage {
	case model.StageGetCallIDs:
		fn = func(ctx context.Context) (int, int, error) {
			return p.Extract(ctx, fromDate, toDate)
		}
	case model.StageDownloadAudio:
		fn = p.Download
	case model.StageTranscribe:
		fn = p.Transcribe
	case model.StageUploadAudio:
		fn = p.Upload
	case model.StageAnalyze:
		fn = p.Analyze
	default:
		return model.StageResult{}, eris.Errorf("pipeline: unknown stage %q", stage)
	}

	run, err := p.store.CreateRun(ctx, fromDate, toDate)
	if err != nil {
		return model.StageResult{}, eris.Wrap(err, "pipeline: create run")
	}

	result := p.runStage(ctx, run.ID, stage, fn)

	status := model.RunStatusComplete
	if result.Status == model.StageStatusFailed {
		status = model.RunStatusFailed
	}
	p.setRunStatus(ctx, run.ID, status)

	if result.Status == model.StageStatusFailed {
		return result, eris.Errorf("pipeline: stage %s failed: %s", stage, result.Error)
	}
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, runID string, stage model.Stage, fn stageFn) model.StageResult {
	log := zap.L().With(zap.String("stage", string(stage)))
	log.Info("pipeline: stage starting")

	start := time.Now()
	processed, failed, err := fn(ctx)
	duration := time.Since(start).Milliseconds()

	result := model.StageResult{
		Stage:     stage,
		Duration:  duration,
		Processed: processed,
		Failed:    failed,
	}

	switch {
	case err != nil:
		result.Status = model.StageStatusFailed
		result.Error = err.Error()
		log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
	case processed == 0 && failed == 0:
		result.Status = model.StageStatusSkipped
		log.Info("pipeline: stage had nothing to do",
			zap.Int64("duration_ms", duration),
		)
	default:
		result.Status = model.StageStatusSucceeded
		log.Info("pipeline: stage complete",
			zap.Int64("duration_ms", duration),
			zap.Int("processed", processed),
			zap.Int("failed", failed),
		)
	}

	if storeErr := p.store.AppendStageResult(ctx, runID, result); storeErr != nil {
		log.Warn("pipeline: failed to record stage result", zap.Error(storeErr))
	}
	return result
}

func (p *Pipeline) setRunStatus(ctx context.Context, runID string, status model.RunStatus) {
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("pipeline: failed to update run status",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
}
