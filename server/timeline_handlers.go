package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-auth/jobs"
	"github.com/jrsteele09/go-session-auth/timeline"
	"github.com/rs/zerolog/log"
)

// TimelineHandler streams the progress events of one job as server-sent events. A reconnecting
// client resumes after the id in Last-Event-ID (or the last_event_id query parameter). The
// stream ends after a terminal step.
func (s *Server) TimelineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queryHash := r.PathValue("queryHash")
		if queryHash == "" {
			writeJSONError(w, "invalid_request", "Missing query hash", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, "server_error", "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		lastID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
		if lastID == "" {
			lastID = strings.TrimSpace(r.URL.Query().Get("last_event_id"))
		}
		if lastID != "" {
			if err := timeline.ValidateStreamID(lastID); err != nil {
				writeJSONError(w, "invalid_request", "Invalid last event id", http.StatusBadRequest)
				return
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache, no-transform")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		poll := time.NewTicker(s.pollInterval)
		defer poll.Stop()
		heartbeat := time.NewTicker(s.heartbeatInterval)
		defer heartbeat.Stop()

		for {
			events, err := s.timeline.Read(ctx, queryHash, lastID, timeline.DefaultReadCount)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("query_hash", queryHash).Msg("timeline read failed")
			}
			for _, e := range events {
				if err := writeEvent(w, e); err != nil {
					return
				}
				lastID = e.StreamID
				if isTerminalStep(e.Step) {
					flusher.Flush()
					return
				}
			}
			if len(events) > 0 {
				flusher.Flush()
			}

			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-poll.C:
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e timeline.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.StreamID, e.Step, data)
	return err
}

func isTerminalStep(step string) bool {
	return step == jobs.StepCompleted || step == jobs.StepFailed
}

type jobResponse struct {
	QueryHash string         `json:"query_hash"`
	Status    jobs.Status    `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SearchResultHandler reports the outcome of a job: 404 when unknown, 202 while pending and
// 200 once it completed or failed.
func (s *Server) SearchResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queryHash := r.PathValue("queryHash")
		job, ok := s.jobs.Get(queryHash)
		if !ok {
			writeJSONError(w, "not_found", "Unknown query", http.StatusNotFound)
			return
		}

		status := http.StatusOK
		if job.Status == jobs.StatusPending {
			status = http.StatusAccepted
		}
		writeJSON(w, status, jobResponse{
			QueryHash: job.QueryHash,
			Status:    job.Status,
			Result:    job.Result,
			Error:     job.Error,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

type jobEventRequest struct {
	Step     string         `json:"step"`
	Query    string         `json:"query,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// JobEventsHandler lets an operator or a worker publish a progress step for a job. The start
// and terminal steps also move the job through its lifecycle.
func (s *Server) JobEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queryHash := r.PathValue("queryHash")

		var req jobEventRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "Malformed event body", http.StatusBadRequest)
			return
		}
		if req.Step == "" {
			writeJSONError(w, "invalid_request", "Missing step", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		var (
			event timeline.Event
			err   error
		)
		switch req.Step {
		case jobs.StepStarted:
			event, err = s.tracker.Start(ctx, queryHash, req.Query, req.Metadata)
		case jobs.StepCompleted:
			event, err = s.tracker.Complete(ctx, queryHash, req.Result)
		case jobs.StepFailed:
			event, err = s.tracker.Fail(ctx, queryHash, req.Error)
		default:
			event, err = s.tracker.Step(ctx, queryHash, req.Step, req.Payload)
		}
		if err != nil {
			log.Error().Err(err).Str("query_hash", queryHash).Str("step", req.Step).Msg("failed to publish job event")
			writeJSONError(w, "server_error", "Could not publish event", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, event)
	}
}

// HealthHandler reports liveness and which refresh backend is in use.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":       "ok",
			"refreshStore": s.storeKind,
		})
	}
}
