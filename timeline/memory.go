package timeline

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type memoryTimeline struct {
	events []Event
	seq    int64
}

// MemoryStore keeps timelines in process memory, trimmed to maxLen events each.
type MemoryStore struct {
	mu        sync.Mutex
	timelines map[string]*memoryTimeline
	maxLen    int
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timelines: make(map[string]*memoryTimeline),
		maxLen:    DefaultMaxLen,
		now:       time.Now,
	}
}

func (m *MemoryStore) Publish(_ context.Context, e Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tl, ok := m.timelines[e.QueryHash]
	if !ok {
		tl = &memoryTimeline{}
		m.timelines[e.QueryHash] = tl
	}
	tl.seq++
	e.Sequence = tl.seq
	e.StreamID = streamPos{millis: m.now().UnixMilli(), seq: tl.seq}.String()

	tl.events = append(tl.events, e)
	if over := len(tl.events) - m.maxLen; over > 0 {
		tl.events = append([]Event(nil), tl.events[over:]...)
	}
	return e, nil
}

func (m *MemoryStore) Read(_ context.Context, queryHash, afterID string, count int) ([]Event, error) {
	if count <= 0 {
		count = DefaultReadCount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tl, ok := m.timelines[queryHash]
	if !ok {
		return nil, nil
	}

	var cursor *streamPos
	if afterID != "" {
		pos, err := parseStreamID(afterID)
		if err != nil {
			return nil, err
		}
		cursor = &pos
	}

	events := make([]Event, 0, count)
	for _, e := range tl.events {
		if cursor != nil {
			pos, err := parseStreamID(e.StreamID)
			if err != nil || !pos.after(*cursor) {
				continue
			}
		}
		events = append(events, e)
		if len(events) == count {
			break
		}
	}
	return events, nil
}

func (m *MemoryStore) Clear(_ context.Context, queryHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timelines, queryHash)
	return nil
}
