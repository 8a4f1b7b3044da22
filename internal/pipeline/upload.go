package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/internal/state"
)

// Upload pushes every transcript-ready recording to the backend store and
// records the public URL. After the stage it rewrites the URL mapping CSV
// from the ledger, so the file always reflects every upload ever made.
func (p *Pipeline) Upload(ctx context.Context) (int, int, error) {
	pending := p.ledger.CallsForProcessing(model.StageUploadAudio)
	if len(pending) == 0 {
		zap.L().Info("upload: nothing pending")
		return 0, 0, nil
	}

	zap.L().Info("upload: starting",
		zap.Int("calls", len(pending)),
		zap.Int("workers", p.cfg.Pipeline.UploadWorkers),
	)

	var mu sync.Mutex
	var processed, failed int

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.UploadWorkers)

	for _, callID := range pending {
		g.Go(func() error {
			err := p.uploadOne(gCtx, callID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
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

	if err := p.writeURLMapping(); err != nil {
		return processed, failed, err
	}
	return processed, failed, nil
}

func (p *Pipeline) uploadOne(ctx context.Context, callID string) error {
	entry, ok := p.ledger.DownloadedEntry(callID)
	if !ok {
		return &ledgerWriteError{eris.Errorf("upload: no download entry for %s", callID)}
	}

	url, err := p.bubble.UploadFile(ctx, entry.Filepath)
	if err != nil {
		zap.L().Warn("upload: failed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		if markErr := p.ledger.MarkAudioUploadFailed(callID, err); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return err
	}

	if err := p.ledger.MarkAudioUploaded(callID, url); err != nil {
		return &ledgerWriteError{err}
	}

	if p.cfg.Pipeline.ArchiveAfterUpload {
		if _, err := p.ledger.ArchiveFile(entry.Filepath, state.CategoryAudio, callID); err != nil {
			zap.L().Warn("upload: audio archive failed",
				zap.String("call_id", callID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// URLMappingPath returns the CSV that maps call ids to their public URLs.
func (p *Pipeline) URLMappingPath() string {
	return filepath.Join(p.cfg.BaseDir, "logs", "url_mapping.csv")
}

func (p *Pipeline) writeURLMapping() error {
	var uploaded []string
	for _, callID := range p.ledger.CallsForProcessing(model.StageDownloadAudio) {
		if p.ledger.IsAudioUploaded(callID) {
			uploaded = append(uploaded, callID)
		}
	}
	sort.Strings(uploaded)

	if err := ensureDir(filepath.Dir(p.URLMappingPath())); err != nil {
		return err
	}

	f, err := os.Create(p.URLMappingPath())
	if err != nil {
		return eris.Wrap(err, "upload: create url mapping")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"call_id", "filename", "url"}); err != nil {
		return eris.Wrap(err, "upload: write mapping header")
	}
	for _, callID := range uploaded {
		entry, ok := p.ledger.UploadedEntry(callID)
		if !ok {
			continue
		}
		download, _ := p.ledger.DownloadedEntry(callID)
		if err := w.Write([]string{callID, download.Filename, entry.URL}); err != nil {
			return eris.Wrapf(err, "upload: write mapping row %s", callID)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "upload: flush url mapping")
}
