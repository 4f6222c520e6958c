package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosed     State = "closed"
	StateError      State = "error"
)

const (
	DefaultPace              = 400 * time.Millisecond
	DefaultReconnectInitial  = 500 * time.Millisecond
	DefaultReconnectMax      = 30 * time.Second
	defaultReconnectMultiple = 2
	maxResultBytes           = 4 << 20
)

var (
	// ErrStreamClosed is an end of stream before a terminal step.
	ErrStreamClosed = errors.New("stream closed before completion")
	// ErrUnauthorized is a 401 on connect or result fetch.
	ErrUnauthorized = errors.New("stream unauthorized")
	// ErrNoResult is reported by Result when the subscription ended without a terminal step.
	ErrNoResult = errors.New("no result: stream ended before completion")
)

// Event is one progress step of a job.
type Event struct {
	EventID   string         `json:"event_id"`
	QueryHash string         `json:"query_hash"`
	Step      string         `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	// StreamID is the SSE id the event arrived with.
	StreamID string `json:"-"`
}

// Result is the authoritative outcome of a job.
type Result struct {
	QueryHash string          `json:"query_hash"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TokenSource supplies bearer tokens. RenewAccessToken is called after the server refused one.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RenewAccessToken(ctx context.Context) (string, error)
}

// Bridge opens progress streams for jobs.
type Bridge struct {
	baseURL       string
	httpClient    *http.Client
	tokens        TokenSource
	logger        zerolog.Logger
	pace          time.Duration
	terminalSteps map[string]struct{}
	initial       time.Duration
	max           time.Duration
}

type Option func(*Bridge)

// WithHTTPClient sets the client for stream and result calls. It should have no overall
// timeout since streams are long lived.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) {
		if c != nil {
			b.httpClient = c
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithPace sets the delay between events handed to the consumer. Zero delivers as fast as
// the consumer reads.
func WithPace(d time.Duration) Option {
	return func(b *Bridge) {
		if d >= 0 {
			b.pace = d
		}
	}
}

// WithTerminalSteps replaces the step names that mark completion.
func WithTerminalSteps(steps ...string) Option {
	return func(b *Bridge) {
		b.terminalSteps = make(map[string]struct{}, len(steps))
		for _, s := range steps {
			b.terminalSteps[s] = struct{}{}
		}
	}
}

// WithReconnect sets the first reconnect delay and its cap.
func WithReconnect(initial, max time.Duration) Option {
	return func(b *Bridge) {
		if initial > 0 {
			b.initial = initial
		}
		if max > 0 {
			b.max = max
		}
	}
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Bridge {
	b := &Bridge{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     zerolog.Nop(),
		pace:       DefaultPace,
		terminalSteps: map[string]struct{}{
			"response.completed": {},
			"response.failed":    {},
		},
		initial: DefaultReconnectInitial,
		max:     DefaultReconnectMax,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initial
	bo.MaxInterval = b.max
	bo.Multiplier = defaultReconnectMultiple
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

// Subscribe starts streaming the job identified by queryHash. The subscription lives until
// the job completes, ctx is cancelled or Cancel is called.
func (b *Bridge) Subscribe(ctx context.Context, queryHash string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		bridge:    b,
		queryHash: queryHash,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan Event),
		done:      make(chan struct{}),
		connDone:  make(chan struct{}),
		notify:    make(chan struct{}, 1),
		seen:      make(map[string]struct{}),
		state:     StateIdle,
		logger:    b.logger.With().Str("query_hash", queryHash).Logger(),
	}

	s.wg.Add(2)
	go s.run()
	go s.display()
	go func() {
		s.wg.Wait()
		s.mu.Lock()
		if s.state != StateError {
			s.state = StateClosed
		}
		s.mu.Unlock()
		close(s.done)
	}()
	return s
}

// Subscription is one live job stream. Events must be drained for Done to close.
type Subscription struct {
	bridge    *Bridge
	queryHash string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
	wg        sync.WaitGroup

	events   chan Event
	done     chan struct{}
	connDone chan struct{}
	notify   chan struct{}

	mu          sync.Mutex
	state       State
	seen        map[string]struct{}
	buffer      []Event
	pending     []Event
	lastEventID string
	terminal    bool
	result      *Result
	resultErr   error
	err         error
}

// Events yields accepted events in arrival order at the display pace. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once every event has been delivered and the result fetch has returned, or
// the subscription was cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffered returns every accepted event so far, deduplicated, in arrival order.
func (s *Subscription) Buffered() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.buffer...)
}

// Result is the job outcome fetched after the terminal step. Valid once Done is closed.
func (s *Subscription) Result() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil || s.resultErr != nil {
		return s.result, s.resultErr
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, ErrNoResult
}

// Cancel aborts the connection and any pending reconnect and waits for the subscription to
// wind down. Nothing is delivered once it returns. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

func (s *Subscription) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Subscription) run() {
	defer s.wg.Done()
	defer close(s.connDone)

	bo := s.bridge.newBackOff()
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)

		terminal, err := s.connect(bo)
		if terminal {
			s.fetchResult()
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		s.mu.Lock()
		s.state = StateError
		s.err = err
		s.mu.Unlock()
		s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("stream interrupted, reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect opens the stream and consumes it until a terminal step or an interruption.
func (s *Subscription) connect(bo *backoff.ExponentialBackOff) (bool, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.bridge.baseURL+"/timeline/"+url.PathEscape(s.queryHash), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := s.authorize(req); err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.lastEventID != "" {
		req.Header.Set("Last-Event-ID", s.lastEventID)
	}
	s.mu.Unlock()

	resp, err := s.bridge.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.renewToken()
		return false, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return false, fmt.Errorf("unexpected stream content type %q", ct)
	}

	s.setState(StateStreaming)
	bo.Reset()

	scanner := newSSEScanner(resp.Body)
	for scanner.Next() {
		raw := scanner.Event()
		var event Event
		if err := json.Unmarshal([]byte(raw.Data), &event); err != nil {
			s.logger.Warn().Err(err).Str("sse_id", raw.ID).Msg("dropping undecodable event")
			continue
		}
		if event.Step == "" {
			event.Step = raw.Type
		}
		event.StreamID = raw.ID
		if s.accept(event) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, ErrStreamClosed
}

// accept records event unless its id was seen before and reports whether it is terminal.
func (s *Subscription) accept(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.StreamID != "" {
		s.lastEventID = event.StreamID
	}
	if event.EventID != "" {
		if _, dup := s.seen[event.EventID]; dup {
			return false
		}
		s.seen[event.EventID] = struct{}{}
	}
	s.buffer = append(s.buffer, event)
	s.pending = append(s.pending, event)
	select {
	case s.notify <- struct{}{}:
	default:
	}

	if s.isTerminal(event) {
		s.terminal = true
		s.state = StateClosed
		return true
	}
	return false
}

func (s *Subscription) isTerminal(event Event) bool {
	if _, ok := s.bridge.terminalSteps[event.Step]; ok {
		return true
	}
	status, _ := event.Payload["status"].(string)
	return status == "completed" || status == "failed"
}

func (s *Subscription) authorize(req *http.Request) error {
	if s.bridge.tokens == nil {
		return nil
	}
	token, err := s.bridge.tokens.AccessToken(req.Context())
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (s *Subscription) renewToken() {
	if s.bridge.tokens == nil {
		return
	}
	if _, err := s.bridge.tokens.RenewAccessToken(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("token renewal failed")
	}
}

// fetchResult asks the result endpoint for the outcome once. A 401 is retried once with a
// renewed token.
func (s *Subscription) fetchResult() {
	result, err := s.getResult()
	if errors.Is(err, ErrUnauthorized) {
		s.renewToken()
		result, err = s.getResult()
	}

	s.mu.Lock()
	s.result, s.resultErr = result, err
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("result fetch failed")
	}
}

func (s *Subscription) getResult() (*Result, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.bridge.baseURL+"/search/result/"+url.PathEscape(s.queryHash), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if err := s.authorize(req); err != nil {
		return nil, err
	}

	resp, err := s.bridge.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted:
		return nil, fmt.Errorf("result returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResultBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// display hands pending events to the consumer at the configured pace.
func (s *Subscription) display() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		event, ok := s.nextPending()
		if !ok || s.ctx.Err() != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case s.events <- event:
		}

		if s.bridge.pace > 0 {
			timer := time.NewTimer(s.bridge.pace)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// nextPending waits for the next undelivered event. It returns false once the connection is
// finished and nothing is left, or on cancellation.
func (s *Subscription) nextPending() (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return event, true
		}
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return Event{}, false
		case <-s.notify:
		case <-s.connDone:
			s.mu.Lock()
			empty := len(s.pending) == 0
			s.mu.Unlock()
			if empty {
				return Event{}, false
			}
		}
	}
}
