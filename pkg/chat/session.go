package chat

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/matchbot/pkg/llm"
	"github.com/papercomputeco/matchbot/pkg/logger"
)

const (
	// DefaultReadSize is the number of body bytes requested per read.
	DefaultReadSize = 4096

	// DefaultTimeout bounds a whole exchange when no HTTP client is given.
	DefaultTimeout = 5 * time.Minute
)

// Config is the connection information a Session needs.
type Config struct {
	// Endpoint is the full chat function URL, see FunctionURL.
	Endpoint string

	// APIKey is sent as the bearer credential.
	APIKey string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option customizes a Session.
type Option func(*Session)

// WithListener registers fn to receive a Snapshot after every change.
// Listeners run on the goroutine calling SendMessage and must not call
// SendMessage or Reset themselves.
func WithListener(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.listener = fn
	}
}

// WithExchangeHook registers fn to receive the record of every exchange
// that reached the network stage, after cleanup.
func WithExchangeHook(fn func(Exchange)) Option {
	return func(s *Session) {
		s.hook = fn
	}
}

// WithReadSize overrides DefaultReadSize.
func WithReadSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// Session is a single conversation with the chat function. It is safe for
// concurrent use; at most one exchange runs at a time.
type Session struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
	listener func(Snapshot)
	hook     func(Exchange)
	readSize int

	mu    sync.Mutex
	turns []Turn
	busy  bool
	state State
	seq   uint64

	// open is the index of the assistant turn being streamed, or -1.
	open   int
	cancel context.CancelFunc

	pubMu   sync.Mutex
	lastSeq uint64
}

// New returns an idle Session with an empty conversation. Missing
// configuration is not an error here; it is reported by SendMessage.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		readSize: DefaultReadSize,
		open:     -1,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: DefaultTimeout}
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Endpoint returns the configured chat function URL.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Conversation returns a copy of the turns in order.
func (s *Session) Conversation() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns)
}

// Busy reports whether an exchange is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// State returns the state of the current or most recent exchange.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel stops the in-flight exchange, if any. SendMessage then runs its
// normal cleanup and returns context.Canceled. It reports whether there was
// anything to cancel.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Reset clears the conversation. It fails with ErrBusy during an exchange.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.turns = nil
	s.state = StateIdle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// SendMessage appends text as a user turn and streams the assistant's
// reply into the conversation. Leading and trailing whitespace is removed;
// an empty message is ignored.
//
// The user turn is kept whatever the outcome. The assistant turn is only
// kept if at least one non-empty delta arrived. SendMessage returns
// ErrBusy, a *ConfigError, a *TransportError, or the context error when
// the exchange was cancelled.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.turns = append(s.turns, Turn{Role: RoleUser, Content: text})
	s.busy = true
	s.state = StateSending
	s.cancel = cancel
	history := make([]llm.Message, len(s.turns))
	for i, t := range s.turns {
		history[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	ex := &Exchange{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Outcome:   StateFailed,
	}
	defer s.finish(ex)

	err := s.exchange(ctx, ex, history)
	ex.Err = err
	switch {
	case err == nil:
		ex.Outcome = StateCompleted
	case ctx.Err() != nil:
		ex.Outcome = StateCancelled
	default:
		ex.Outcome = StateFailed
	}
	return err
}

// setState moves a running exchange forward and publishes the change.
func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// openAssistant appends the empty assistant turn deltas are written to.
func (s *Session) openAssistant() {
	s.mu.Lock()
	s.turns = append(s.turns, Turn{Role: RoleAssistant})
	s.open = len(s.turns) - 1
	s.state = StateStreaming
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

func (s *Session) appendDelta(delta string) {
	s.mu.Lock()
	if s.open < 0 {
		s.mu.Unlock()
		return
	}
	s.turns[s.open].Content += delta
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// finish is the cleanup that runs on every exit path of SendMessage.
func (s *Session) finish(ex *Exchange) {
	ex.Duration = time.Since(ex.StartedAt)

	s.mu.Lock()
	if s.open >= 0 && s.turns[s.open].Content == "" {
		s.turns = slices.Delete(s.turns, s.open, s.open+1)
	}
	s.open = -1
	s.busy = false
	s.cancel = nil
	s.state = ex.Outcome
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	attrs := []any{
		"request_id", ex.ID.String(),
		"outcome", ex.Outcome.String(),
		"status", ex.StatusCode,
		"deltas", ex.Deltas,
		"malformed", ex.Malformed,
		"duration", ex.Duration,
	}
	switch ex.Outcome {
	case StateCompleted:
		s.logger.Debug("exchange completed", attrs...)
	case StateCancelled:
		s.logger.Info("exchange cancelled", attrs...)
	default:
		s.logger.Error("exchange failed", append(attrs, "error", ex.Err)...)
	}

	if s.hook != nil && ex.reachedNetwork {
		s.hook(*ex)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	s.seq++
	return Snapshot{
		Conversation: slices.Clone(s.turns),
		Busy:         s.busy,
		State:        s.state,
		seq:          s.seq,
	}
}

// publish delivers snap unless a newer snapshot was already delivered.
func (s *Session) publish(snap Snapshot) {
	if s.listener == nil {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if snap.seq <= s.lastSeq {
		return
	}
	s.lastSeq = snap.seq
	s.listener(snap)
}
