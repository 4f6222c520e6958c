package timeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxLen caps how many events are kept per job.
	DefaultMaxLen = 1000
	// DefaultTTL is how long an idle timeline is retained by durable stores.
	DefaultTTL = time.Hour
	// DefaultReadCount bounds a single Read.
	DefaultReadCount = 100
)

// Event is one progress step of an asynchronous job, identified by its query hash.
type Event struct {
	EventID   string         `json:"event_id"`
	QueryHash string         `json:"query_hash"`
	Step      string         `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	StreamID  string         `json:"stream_id,omitempty"`
	Sequence  int64          `json:"sequence,omitempty"`
}

// Store is an append only per-job event log.
type Store interface {
	// Publish appends e and returns it with StreamID and Sequence filled in.
	Publish(ctx context.Context, e Event) (Event, error)
	// Read returns up to count events after afterID, oldest first. An empty afterID reads from the start.
	Read(ctx context.Context, queryHash, afterID string, count int) ([]Event, error)
	Clear(ctx context.Context, queryHash string) error
}

// NewEvent builds an event with a fresh id and a scrubbed copy of payload.
func NewEvent(queryHash, step string, payload map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		QueryHash: queryHash,
		Step:      step,
		Timestamp: time.Now().UTC(),
		Payload:   Scrub(payload),
	}
}

// ValidateStreamID checks that id is a "<millis>-<seq>" (or bare "<millis>") resume cursor.
func ValidateStreamID(id string) error {
	pos, err := parseStreamID(id)
	if err != nil {
		return err
	}
	if pos.millis < 0 || pos.seq < 0 {
		return fmt.Errorf("invalid stream id %q", id)
	}
	return nil
}

// streamPos is a parsed "<millis>-<seq>" stream id.
type streamPos struct {
	millis int64
	seq    int64
}

func parseStreamID(id string) (streamPos, error) {
	millis, seq, found := strings.Cut(id, "-")
	if !found {
		seq = "0"
	}
	m, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return streamPos{}, fmt.Errorf("invalid stream id %q", id)
	}
	s, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return streamPos{}, fmt.Errorf("invalid stream id %q", id)
	}
	return streamPos{millis: m, seq: s}, nil
}

func (p streamPos) after(o streamPos) bool {
	if p.millis != o.millis {
		return p.millis > o.millis
	}
	return p.seq > o.seq
}

func (p streamPos) String() string {
	return fmt.Sprintf("%d-%d", p.millis, p.seq)
}
