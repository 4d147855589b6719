package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/fetchbot/internal/jobs"
	"github.com/MimeLyc/fetchbot/internal/updater"
)

func TestServer_Health(t *testing.T) {
	queue := jobs.NewQueue(jobs.WithConcurrency(2))
	gate := updater.NewGate()
	srv := NewServer(queue, gate)

	get := func() healthResponse {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	assert.Equal(t, healthResponse{Status: "ok", Queue: jobs.Stats{Limit: 2}}, get())

	gate.BeginUpdate()
	resp := get()
	assert.Equal(t, "updating", resp.Status)
	assert.True(t, resp.Updating)
	gate.EndUpdate()
}

func TestServer_HealthRejectsPost(t *testing.T) {
	srv := NewServer(jobs.NewQueue(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ListJobs(t *testing.T) {
	queue := jobs.NewQueue()
	queue.Submit("https://example.com/v", func(context.Context) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, queue.WaitIdle(ctx))

	srv := NewServer(queue, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []jobs.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "job-1", tasks[0].ID)
	assert.Equal(t, jobs.StatusFinished, tasks[0].Status)
}

func TestServer_MetricsMountedOnlyWhenSet(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(jobs.NewQueue(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fetchbot_up 1\n")
	})
	rec = httptest.NewRecorder()
	NewServer(jobs.NewQueue(), nil, WithMetrics(metrics)).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fetchbot_up 1\n", rec.Body.String())
}

func TestServer_JobStreamSendsChanges(t *testing.T) {
	queue := jobs.NewQueue()
	srv := NewServer(queue, updater.NewGate(), WithStreamInterval(10*time.Millisecond))
	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/jobs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan queueSnapshot, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var snap queueSnapshot
				if json.Unmarshal([]byte(data), &snap) == nil {
					events <- snap
				}
			}
		}
		close(events)
	}()

	first := <-events
	assert.Empty(t, first.Tasks)

	queue.Submit("https://example.com/v", func(context.Context) error { return nil })
	second, ok := <-events
	require.True(t, ok)
	require.NotEmpty(t, second.Tasks)
	assert.Equal(t, "job-1", second.Tasks[0].ID)
}

func TestServer_ShutdownBeforeListen(t *testing.T) {
	srv := NewServer(jobs.NewQueue(), updater.NewGate())

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, srv.ListenAndServe("127.0.0.1:0"), http.ErrServerClosed)
}
