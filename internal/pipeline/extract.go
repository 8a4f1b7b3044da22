package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/callids"
)

// Extract pulls the call log for the date range and writes it to a call-id
// workbook. A range that was already extracted is skipped entirely, so
// re-running a crashed pipeline never duplicates calls.
func (p *Pipeline) Extract(ctx context.Context, fromDate, toDate string) (int, int, error) {
	if p.ledger.IsDateRangeProcessed(fromDate, toDate) {
		zap.L().Info("extract: date range already processed",
			zap.String("from", fromDate),
			zap.String("to", toDate),
		)
		return 0, 0, nil
	}

	calls, err := p.telephony.CallLogs(ctx, fromDate, toDate)
	if err != nil {
		return 0, 0, eris.Wrap(err, "extract: fetch call logs")
	}

	if limit := p.cfg.Pipeline.ExtractLimit; limit > 0 && len(calls) > limit {
		zap.L().Warn("extract: truncating call list",
			zap.Int("total", len(calls)),
			zap.Int("limit", limit),
		)
		calls = calls[:limit]
	}

	if len(calls) == 0 {
		zap.L().Info("extract: no recorded calls in range",
			zap.String("from", fromDate),
			zap.String("to", toDate),
		)
		// An empty range still counts as processed.
		if err := p.ledger.MarkDateRangeProcessed(fromDate, toDate, 0); err != nil {
			return 0, 0, err
		}
		return 0, 0, nil
	}

	if err := ensureDir(p.callIDsDir()); err != nil {
		return 0, 0, err
	}

	workbook := filepath.Join(p.callIDsDir(), callids.Filename(fromDate, toDate))
	if err := callids.Write(workbook, calls); err != nil {
		return 0, 0, err
	}

	if err := p.ledger.MarkDateRangeProcessed(fromDate, toDate, len(calls)); err != nil {
		return 0, 0, err
	}

	return len(calls), 0, nil
}
