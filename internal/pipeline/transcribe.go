package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brokerdesk/callpipe/internal/model"
)

// FormatTranscript renders a transcript for the analysts: one line per
// speaker turn with a [MM:SS] offset. Recordings without diarization fall
// back to the raw text.
func FormatTranscript(t *model.Transcript) string {
	if len(t.Utterances) == 0 {
		return t.Text
	}

	var b strings.Builder
	for i, u := range t.Utterances {
		if i > 0 {
			b.WriteByte('\n')
		}
		secs := u.Start / 1000
		fmt.Fprintf(&b, "[%02d:%02d] Speaker %s: %s", secs/60, secs%60, u.Speaker, u.Text)
	}
	return b.String()
}

// Transcribe sends every downloaded-but-untranscribed recording to the
// speech service, bounded by the configured worker count.
func (p *Pipeline) Transcribe(ctx context.Context) (int, int, error) {
	if err := ensureDir(p.transcriptsDir()); err != nil {
		return 0, 0, err
	}

	pending := p.ledger.CallsForProcessing(model.StageTranscribe)
	if len(pending) == 0 {
		zap.L().Info("transcribe: nothing pending")
		return 0, 0, nil
	}

	zap.L().Info("transcribe: starting",
		zap.Int("calls", len(pending)),
		zap.Int("workers", p.cfg.Pipeline.TranscribeWorkers),
	)

	var mu sync.Mutex
	var processed, failed int

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.TranscribeWorkers)

	for _, callID := range pending {
		g.Go(func() error {
			err := p.transcribeOne(gCtx, callID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A ledger write failure aborts the stage; a transcription
				// failure is recorded per call and the stage continues.
				var ledgerErr *ledgerWriteError
				if errors.As(err, &ledgerErr) {
					return ledgerErr.err
				}
				failed++
				return nil
			}
			processed++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return processed, failed, err
	}

	if err := p.writeStageSummary("transcribe", processed, failed); err != nil {
		zap.L().Warn("transcribe: summary write failed", zap.Error(err))
	}
	return processed, failed, nil
}

// writeStageSummary drops a small JSON summary under logs/ for the analysts'
// cron scraper.
func (p *Pipeline) writeStageSummary(stage string, processed, failed int) error {
	summary := struct {
		Stage      string    `json:"stage"`
		Processed  int       `json:"processed"`
		Failed     int       `json:"failed"`
		FinishedAt time.Time `json:"finished_at"`
	}{stage, processed, failed, time.Now().UTC()}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal stage summary")
	}
	path := filepath.Join(p.cfg.BaseDir, "logs", stage+"_summary.json")
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "pipeline: write %s", path)
}

// ledgerWriteError marks errors from the ledger itself, which must stop the
// stage rather than be counted as a per-call failure.
type ledgerWriteError struct {
	err error
}

func (e *ledgerWriteError) Error() string { return e.err.Error() }
func (e *ledgerWriteError) Unwrap() error { return e.err }

func (p *Pipeline) transcribeOne(ctx context.Context, callID string) error {
	entry, ok := p.ledger.DownloadedEntry(callID)
	if !ok {
		return &ledgerWriteError{eris.Errorf("transcribe: no download entry for %s", callID)}
	}

	transcript, err := p.speech.Transcribe(ctx, entry.Filepath)
	if err != nil {
		zap.L().Warn("transcribe: failed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		if markErr := p.ledger.MarkTranscriptionFailed(callID, err); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return err
	}

	base := strings.TrimSuffix(entry.Filename, filepath.Ext(entry.Filename))
	path := filepath.Join(p.transcriptsDir(), base+".txt")
	if err := os.WriteFile(path, []byte(FormatTranscript(transcript)), 0o644); err != nil {
		wrapped := eris.Wrapf(err, "transcribe: write transcript for %s", callID)
		if markErr := p.ledger.MarkTranscriptionFailed(callID, wrapped); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return wrapped
	}

	// Raw utterances kept alongside the formatted transcript for reprocessing.
	if raw, err := json.MarshalIndent(transcript, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(p.transcriptsDir(), base+".json"), raw, 0o644); err != nil {
			zap.L().Warn("transcribe: raw transcript write failed",
				zap.String("call_id", callID),
				zap.Error(err),
			)
		}
	}

	if err := p.ledger.MarkTranscribed(callID, entry.Filename, path); err != nil {
		return &ledgerWriteError{err}
	}
	return nil
}
