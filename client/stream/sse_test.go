package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSSEScanner(t *testing.T) {
	input := strings.Join([]string{
		": heartbeat",
		"",
		"id: 1-0",
		"event: retrieval.started",
		"data: {\"a\":1}",
		"",
		"id: 2-0",
		"data: line one",
		"data: line two",
		"",
		"retry: 100",
		"data: tail",
	}, "\n")

	scanner := newSSEScanner(strings.NewReader(input))

	require.True(t, scanner.Next())
	require.Equal(t, sseEvent{ID: "1-0", Type: "retrieval.started", Data: `{"a":1}`}, scanner.Event())

	require.True(t, scanner.Next())
	require.Equal(t, sseEvent{ID: "2-0", Data: "line one\nline two"}, scanner.Event())

	require.True(t, scanner.Next())
	require.Equal(t, "tail", scanner.Event().Data)

	require.False(t, scanner.Next())
	require.NoError(t, scanner.Err())
}

func TestSSEScannerCRLF(t *testing.T) {
	scanner := newSSEScanner(strings.NewReader("id: 7\r\ndata: x\r\n\r\n"))
	require.True(t, scanner.Next())
	require.Equal(t, sseEvent{ID: "7", Data: "x"}, scanner.Event())
	require.False(t, scanner.Next())
}
