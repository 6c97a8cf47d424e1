package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"llm-compiler-fuzz/internal/campaign"
	"llm-compiler-fuzz/internal/storage"
)

// StatusSource provides campaign snapshots. *campaign.Controller implements it.
type StatusSource interface {
	Status() campaign.Status
}

type Handlers struct {
	status   StatusSource
	workDir  string
	interval time.Duration
}

func NewHandlers(status StatusSource, workDir string) *Handlers {
	return &Handlers{
		status:   status,
		workDir:  workDir,
		interval: time.Second,
	}
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// HandleStatusStream pushes a status event every interval until the
// campaign reaches a terminal state or the client goes away.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	sse := NewSSEWriter(w)
	if sse == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		st := h.status.Status()
		if st.State == "done" || st.State == "aborted" {
			_ = sse.SendJSON("done", st)
			return
		}
		if err := sse.SendJSON("status", st); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// HandleCrashes lists the crash records archived so far.
func (h *Handlers) HandleCrashes(w http.ResponseWriter, r *http.Request) {
	resp := CrashesResponse{Crashes: []CrashSummary{}}

	store, err := storage.Open(h.workDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeError(w, err.Error(), "STORE_UNAVAILABLE", http.StatusInternalServerError, r)
		return
	}

	crashes, err := store.Crashes()
	if err != nil {
		writeError(w, err.Error(), "CRASH_LOG_UNREADABLE", http.StatusInternalServerError, r)
		return
	}
	for _, c := range crashes {
		resp.Crashes = append(resp.Crashes, summarizeCrash(c))
	}
	resp.Count = len(resp.Crashes)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
