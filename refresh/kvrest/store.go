package kvrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-auth/refresh"
)

var _ refresh.Store = (*Store)(nil)

const (
	revokedMarker  = "1"
	defaultTimeout = 5 * time.Second
)

// Store talks to a hosted KV service through its REST command API (Vercel KV, Upstash).
// Each call POSTs a Redis command as a JSON array and reads {"result": ...} back.
type Store struct {
	baseURL    string
	token      string
	keys       refresh.Keyspace
	httpClient *http.Client
}

// Option customises a Store.
type Option func(*Store)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.httpClient = c
	}
}

// New returns a Store for the endpoint at baseURL authenticated with token.
func New(baseURL, token, namespace string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("kv rest store requires both url and token")
	}
	s := &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		keys:       refresh.Keyspace{Namespace: namespace},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type commandResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Ping checks that the endpoint accepts the configured token.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.command(ctx, "PING")
	return err
}

func (s *Store) Persist(ctx context.Context, hash string, record refresh.Record, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode refresh record: %w", err)
	}
	_, err = s.command(ctx, "SET", s.keys.Session(hash), string(payload), "EX", ttlSeconds(ttl))
	return err
}

func (s *Store) Revoke(ctx context.Context, hash string, ttl time.Duration) error {
	_, err := s.command(ctx, "SET", s.keys.Blacklist(hash), revokedMarker, "EX", ttlSeconds(ttl))
	return err
}

func (s *Store) Get(ctx context.Context, hash string) (*refresh.Record, error) {
	result, err := s.command(ctx, "GET", s.keys.Session(hash))
	if err != nil {
		return nil, err
	}
	if isNull(result) {
		return nil, nil
	}

	var payload string
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode kv result: %w", err)
	}
	var record refresh.Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	return &record, nil
}

func (s *Store) IsRevoked(ctx context.Context, hash string) (bool, error) {
	result, err := s.command(ctx, "EXISTS", s.keys.Blacklist(hash))
	if err != nil {
		return false, err
	}
	var n int64
	if err := json.Unmarshal(result, &n); err != nil {
		return false, fmt.Errorf("decode kv result: %w", err)
	}
	return n > 0, nil
}

func (s *Store) command(ctx context.Context, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode kv command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build kv request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kv %s: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kv %s: read response: %w", args[0], err)
	}

	var decoded commandResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("kv %s: decode response: %w", args[0], err)
		}
	}
	if resp.StatusCode >= 400 {
		if decoded.Error != "" {
			return nil, fmt.Errorf("kv %s: http %d: %s", args[0], resp.StatusCode, decoded.Error)
		}
		return nil, fmt.Errorf("kv %s: http %d", args[0], resp.StatusCode)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("kv %s: %s", args[0], decoded.Error)
	}
	return decoded.Result, nil
}

func ttlSeconds(ttl time.Duration) string {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
