package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/fetchbot/internal/jobs"
)

type queueSnapshot struct {
	Stats    jobs.Stats  `json:"stats"`
	Updating bool        `json:"updating"`
	Tasks    []jobs.Task `json:"tasks"`
}

// handleJobStream pushes a queue snapshot as a server-sent event whenever
// it changes, checking every streamInterval.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var last []byte
	send := func() bool {
		snap := queueSnapshot{Stats: s.queue.Stats(), Tasks: s.queue.List()}
		if s.gate != nil {
			snap.Updating = s.gate.IsUpdating()
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return false
		}
		if bytes.Equal(payload, last) {
			return true
		}
		last = payload
		if _, err := fmt.Fprintf(w, "event: queue\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
