// Package export renders the error log and the task archive as XLSX
// workbooks for offline review.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/MimeLyc/fetchbot/internal/errlog"
	"github.com/MimeLyc/fetchbot/internal/persistence"
)

const (
	ErrorsSheet  = "Errors"
	HistorySheet = "History"

	timeLayout = "2006-01-02 15:04:05"
)

// ErrorsXLSX returns a workbook with one row per entry, in the given order.
func ErrorsXLSX(entries []errlog.Entry) ([]byte, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			formatTime(e.At),
			e.ID,
			userCell(e.UserID),
			e.URL,
			e.Context,
			e.Error,
		})
	}
	return workbook(ErrorsSheet,
		[]string{"Time (UTC)", "ID", "User", "URL", "Context", "Error"},
		[]float64{20, 38, 12, 48, 24, 80},
		rows)
}

// TasksXLSX returns a workbook with one row per archived task.
func TasksXLSX(tasks []persistence.ArchivedTask) ([]byte, error) {
	rows := make([][]any, 0, len(tasks))
	for _, t := range tasks {
		var seconds any = ""
		if !t.StartedAt.IsZero() && !t.FinishedAt.IsZero() {
			seconds = t.FinishedAt.Sub(t.StartedAt).Round(time.Millisecond).Seconds()
		}
		rows = append(rows, []any{
			formatTime(t.FinishedAt),
			t.ID,
			t.Label,
			string(t.Status),
			seconds,
			t.Error,
		})
	}
	return workbook(HistorySheet,
		[]string{"Finished (UTC)", "Task", "URL", "Status", "Seconds", "Error"},
		[]float64{20, 10, 48, 10, 10, 80},
		rows)
}

func workbook(sheet string, headers []string, widths []float64, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, w)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func userCell(id int64) any {
	if id == 0 {
		return ""
	}
	return id
}
