package timeline_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-session-auth/timeline"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]timeline.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]timeline.Store{
		"memory": timeline.NewMemoryStore(),
		"redis":  timeline.NewRedisStore(client),
	}
}

func TestPublishAndReadInOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var published []timeline.Event
			for i := 0; i < 5; i++ {
				e, err := store.Publish(ctx, timeline.NewEvent("q1", fmt.Sprintf("step.%d", i), map[string]any{"n": i}))
				require.NoError(t, err)
				require.NotEmpty(t, e.StreamID)
				published = append(published, e)
			}

			all, err := store.Read(ctx, "q1", "", 0)
			require.NoError(t, err)
			require.Len(t, all, 5)
			for i, e := range all {
				require.Equal(t, published[i].EventID, e.EventID)
				require.Equal(t, published[i].StreamID, e.StreamID)
				require.Equal(t, "q1", e.QueryHash)
			}

			rest, err := store.Read(ctx, "q1", published[2].StreamID, 0)
			require.NoError(t, err)
			require.Len(t, rest, 2)
			require.Equal(t, "step.3", rest[0].Step)

			limited, err := store.Read(ctx, "q1", "", 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			require.Equal(t, "step.0", limited[0].Step)

			none, err := store.Read(ctx, "q1", published[4].StreamID, 0)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestReadUnknownAndClear(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := store.Read(ctx, "unknown", "", 10)
			require.NoError(t, err)
			require.Empty(t, empty)

			_, err = store.Publish(ctx, timeline.NewEvent("q2", "search.started", nil))
			require.NoError(t, err)
			require.NoError(t, store.Clear(ctx, "q2"))

			events, err := store.Read(ctx, "q2", "", 10)
			require.NoError(t, err)
			require.Empty(t, events)
		})
	}
}

func TestTimelinesAreIsolated(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Publish(ctx, timeline.NewEvent("a", "one", nil))
			require.NoError(t, err)
			_, err = store.Publish(ctx, timeline.NewEvent("b", "two", nil))
			require.NoError(t, err)

			events, err := store.Read(ctx, "a", "", 10)
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.Equal(t, "one", events[0].Step)
		})
	}
}

func TestMemoryStoreTrims(t *testing.T) {
	ctx := context.Background()
	store := timeline.NewMemoryStore()
	for i := 0; i < timeline.DefaultMaxLen+10; i++ {
		_, err := store.Publish(ctx, timeline.NewEvent("q", "tick", nil))
		require.NoError(t, err)
	}

	first, err := store.Read(ctx, "q", "", 1)
	require.NoError(t, err)
	require.Equal(t, int64(11), first[0].Sequence)
}

func TestRedisStreamHasTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := timeline.NewRedisStore(client)

	_, err := store.Publish(context.Background(), timeline.NewEvent("q", "tick", nil))
	require.NoError(t, err)
	require.Equal(t, timeline.DefaultTTL, mr.TTL("timeline:q"))
}

func TestScrub(t *testing.T) {
	payload := map[string]any{
		"query": "running shoes",
		"Email": "someone@example.com",
		"nested": map[string]any{
			"access_token": "secret",
			"score":        0.9,
		},
		"items":  []any{map[string]any{"prompt": "long text"}},
		"status": "completed",
	}

	scrubbed := timeline.Scrub(payload)
	require.Equal(t, "running shoes", scrubbed["query"])
	require.Equal(t, "completed", scrubbed["status"])
	require.Regexp(t, `^\[hash:[0-9a-f]{16}\]$`, scrubbed["Email"])

	nested := scrubbed["nested"].(map[string]any)
	require.Regexp(t, `^\[hash:`, nested["access_token"])
	require.Equal(t, 0.9, nested["score"])

	item := scrubbed["items"].([]any)[0].(map[string]any)
	require.Regexp(t, `^\[hash:`, item["prompt"])

	// The original is left untouched.
	require.Equal(t, "someone@example.com", payload["Email"])
	require.Nil(t, timeline.Scrub(nil))
}

func TestValidateStreamID(t *testing.T) {
	for _, id := range []string{"0-0", "1712345678901-3", "42"} {
		require.NoError(t, timeline.ValidateStreamID(id), id)
	}
	for _, id := range []string{"not-an-id", "12-x", "-1-0", "", "$"} {
		require.Error(t, timeline.ValidateStreamID(id), id)
	}
}
