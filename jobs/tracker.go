package jobs

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-session-auth/timeline"
	"github.com/rs/zerolog/log"
)

// Steps with meaning to subscribers. StepCompleted and StepFailed are terminal.
const (
	StepStarted   = "search.started"
	StepCompleted = "response.completed"
	StepFailed    = "response.failed"
)

// Tracker keeps the job table and the timeline in step for producers.
type Tracker struct {
	jobs     *Registry
	timeline timeline.Store
}

func NewTracker(jobs *Registry, tl timeline.Store) *Tracker {
	return &Tracker{jobs: jobs, timeline: tl}
}

// Start resets the timeline of queryHash, marks the job pending and publishes StepStarted.
func (t *Tracker) Start(ctx context.Context, queryHash, query string, metadata map[string]any) (timeline.Event, error) {
	if err := t.timeline.Clear(ctx, queryHash); err != nil {
		log.Warn().Err(err).Str("query_hash", queryHash).Msg("failed to clear previous timeline")
	}
	t.jobs.MarkPending(queryHash, query, metadata)
	return t.publish(ctx, queryHash, StepStarted, map[string]any{"query": query, "status": string(StatusPending)})
}

// Step publishes an intermediate progress event.
func (t *Tracker) Step(ctx context.Context, queryHash, step string, payload map[string]any) (timeline.Event, error) {
	return t.publish(ctx, queryHash, step, payload)
}

// Complete records the result before announcing completion so subscribers fetching on the
// terminal event always find it.
func (t *Tracker) Complete(ctx context.Context, queryHash string, result map[string]any) (timeline.Event, error) {
	t.jobs.MarkCompleted(queryHash, result)
	return t.publish(ctx, queryHash, StepCompleted, map[string]any{"status": string(StatusCompleted)})
}

// Fail records the failure before announcing it.
func (t *Tracker) Fail(ctx context.Context, queryHash, errMsg string) (timeline.Event, error) {
	t.jobs.MarkFailed(queryHash, errMsg)
	return t.publish(ctx, queryHash, StepFailed, map[string]any{"status": string(StatusFailed), "error": errMsg})
}

func (t *Tracker) publish(ctx context.Context, queryHash, step string, payload map[string]any) (timeline.Event, error) {
	e, err := t.timeline.Publish(ctx, timeline.NewEvent(queryHash, step, payload))
	if err != nil {
		return timeline.Event{}, fmt.Errorf("publish %s: %w", step, err)
	}
	return e, nil
}
