// Package callids reads and writes the call-id workbooks the extract stage
// produces. Each workbook holds one date range of call-log rows and is the
// handoff artifact between extraction and the download stage.
package callids

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
)

const sheetName = "Calls"

var header = []string{
	"call_id",
	"broker_id",
	"recording_url",
	"from_name",
	"from_number",
	"to_number",
	"start_time",
	"duration",
}

// Filename returns the workbook name for a date range, e.g.
// calls_2025-01-01_2025-01-07.xlsx.
func Filename(fromDate, toDate string) string {
	return fmt.Sprintf("calls_%s_%s.xlsx", fromDate, toDate)
}

// Write saves the call records to an XLSX workbook at path.
func Write(path string, calls []model.CallRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "callids: add sheet")
	}

	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().Value = h
	}

	for _, c := range calls {
		row := sheet.AddRow()
		row.AddCell().Value = c.CallID
		row.AddCell().Value = c.BrokerID
		row.AddCell().Value = c.RecordingURL
		row.AddCell().Value = c.FromName
		row.AddCell().Value = c.FromNumber
		row.AddCell().Value = c.ToNumber
		row.AddCell().Value = c.StartTime
		row.AddCell().Value = strconv.Itoa(c.Duration)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "callids: save %s", path)
	}

	zap.L().Info("callids: wrote workbook",
		zap.String("path", path),
		zap.Int("calls", len(calls)),
	)
	return nil
}

// Read loads call records from an XLSX workbook. Rows missing a call id or
// recording URL are skipped with a warning rather than failing the file.
func Read(path string) ([]model.CallRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "callids: open %s", path)
	}

	sheet, ok := f.Sheet[sheetName]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("callids: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	var calls []model.CallRecord
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}

		cells := make([]string, len(header))
		for j := range cells {
			if j < len(row.Cells) {
				cells[j] = row.Cells[j].String()
			}
		}

		rec := model.CallRecord{
			CallID:       cells[0],
			BrokerID:     cells[1],
			RecordingURL: cells[2],
			FromName:     cells[3],
			FromNumber:   cells[4],
			ToNumber:     cells[5],
			StartTime:    cells[6],
		}
		if cells[7] != "" {
			rec.Duration, _ = strconv.Atoi(cells[7])
		}

		if rec.CallID == "" || rec.RecordingURL == "" {
			zap.L().Warn("callids: skipping incomplete row",
				zap.String("file", filepath.Base(path)),
				zap.Int("row", i+1),
			)
			continue
		}

		calls = append(calls, rec)
	}

	return calls, nil
}
