package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/callids"
	"github.com/brokerdesk/callpipe/internal/state"
)

// AudioFilename builds the on-disk name for a call recording.
func AudioFilename(brokerID, callID string) string {
	return fmt.Sprintf("%s_%s.wav", brokerID, callID)
}

// Download reads every pending call-id workbook and fetches the recordings
// it lists. Calls already in the ledger are skipped. A workbook is archived
// once every call in it has been attempted.
func (p *Pipeline) Download(ctx context.Context) (int, int, error) {
	if err := ensureDir(p.audioDir()); err != nil {
		return 0, 0, err
	}

	workbooks, err := filepath.Glob(filepath.Join(p.callIDsDir(), "calls_*.xlsx"))
	if err != nil {
		return 0, 0, eris.Wrap(err, "download: list workbooks")
	}
	if len(workbooks) == 0 {
		zap.L().Info("download: no pending call-id workbooks")
		return 0, 0, nil
	}

	var processed, failed int
	for _, workbook := range workbooks {
		if ctx.Err() != nil {
			return processed, failed, eris.Wrap(ctx.Err(), "download: cancelled")
		}

		calls, err := callids.Read(workbook)
		if err != nil {
			zap.L().Error("download: unreadable workbook",
				zap.String("workbook", filepath.Base(workbook)),
				zap.Error(err),
			)
			failed++
			continue
		}

		allAttempted := true
		for _, call := range calls {
			if ctx.Err() != nil {
				return processed, failed, eris.Wrap(ctx.Err(), "download: cancelled")
			}
			if p.ledger.IsAudioDownloaded(call.CallID) {
				continue
			}

			filename := AudioFilename(call.BrokerID, call.CallID)
			path := filepath.Join(p.audioDir(), filename)

			if _, err := p.fetcher.DownloadToFile(ctx, call.RecordingURL, path); err != nil {
				zap.L().Warn("download: recording failed",
					zap.String("call_id", call.CallID),
					zap.Error(err),
				)
				if markErr := p.ledger.MarkAudioDownloadFailed(call.CallID, err); markErr != nil {
					return processed, failed, markErr
				}
				failed++
				allAttempted = false
				continue
			}

			if err := p.ledger.MarkAudioDownloaded(call.CallID, call.BrokerID, filename, path); err != nil {
				return processed, failed, err
			}
			processed++
		}

		if allAttempted {
			if _, err := p.ledger.ArchiveFile(workbook, state.CategoryCallIDs, ""); err != nil {
				zap.L().Warn("download: workbook archive failed",
					zap.String("workbook", filepath.Base(workbook)),
					zap.Error(err),
				)
			}
		}
	}

	return processed, failed, nil
}

// RedownloadCleanup removes audio files whose ledger entries are missing.
// Stray partial files appear when the process dies between the filesystem
// write and the ledger save.
func (p *Pipeline) RedownloadCleanup() (int, error) {
	entries, err := os.ReadDir(p.audioDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "download: read audio dir")
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		callID := callIDFromFilename(e.Name())
		if callID == "" || p.ledger.IsAudioDownloaded(callID) {
			continue
		}
		if err := os.Remove(filepath.Join(p.audioDir(), e.Name())); err != nil {
			return removed, eris.Wrapf(err, "download: remove stray %s", e.Name())
		}
		removed++
	}
	return removed, nil
}

// callIDFromFilename extracts the call id from <broker_id>_<call_id>.wav.
func callIDFromFilename(name string) string {
	base := strings.TrimSuffix(name, ".wav")
	i := strings.Index(base, "_")
	if i < 0 || i+1 >= len(base) {
		return ""
	}
	return base[i+1:]
}
