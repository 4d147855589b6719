package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/MimeLyc/fetchbot/internal/errlog"
	"github.com/MimeLyc/fetchbot/internal/jobs"
	"github.com/MimeLyc/fetchbot/internal/persistence"
)

func open(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestErrorsXLSX(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	data, err := ErrorsXLSX([]errlog.Entry{
		{ID: "e-2", At: at, UserID: 7, URL: "https://example.com/v", Context: "Download job-2", Error: "boom"},
		{ID: "e-1", At: at.Add(-time.Minute), Error: "older"},
	})
	require.NoError(t, err)

	f := open(t, data)
	rows, err := f.GetRows(ErrorsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"Time (UTC)", "ID", "User", "URL", "Context", "Error"}, rows[0])
	assert.Equal(t, []string{"2026-03-04 05:06:07", "e-2", "7", "https://example.com/v", "Download job-2", "boom"}, rows[1])
	assert.Equal(t, "e-1", rows[2][1])
	assert.Equal(t, "", rows[2][2])
}

func TestTasksXLSX(t *testing.T) {
	finished := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	data, err := TasksXLSX([]persistence.ArchivedTask{{
		Seq: 1,
		Task: jobs.Task{
			ID:         "job-1",
			Label:      "https://example.com/v",
			Status:     jobs.StatusFinished,
			Error:      "Resolve: boom",
			StartedAt:  finished.Add(-1500 * time.Millisecond),
			FinishedAt: finished,
		},
	}})
	require.NoError(t, err)

	f := open(t, data)
	assert.Equal(t, HistorySheet, f.GetSheetName(0))

	status, err := f.GetCellValue(HistorySheet, "D2")
	require.NoError(t, err)
	assert.Equal(t, "finished", status)

	seconds, err := f.GetCellValue(HistorySheet, "E2")
	require.NoError(t, err)
	assert.Equal(t, "1.5", seconds)
}

func TestErrorsXLSX_Empty(t *testing.T) {
	data, err := ErrorsXLSX(nil)
	require.NoError(t, err)

	rows, err := open(t, data).GetRows(ErrorsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
