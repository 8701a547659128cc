package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	v1 "ripple/shared/contracts/stream/v1"
)

// Sender persists an outbound message. The hub assigns the canonical id and
// timestamp and fans the message out to subscribers; the returned echo is
// what the session appends locally.
type Sender interface {
	SendMessage(ctx context.Context, msg v1.Message) (v1.Message, error)
	SendGroupMessage(ctx context.Context, msg v1.Message, recipients []string) (v1.Message, error)
}

// SessionConfig wires collaborators and tunables into a Session.
// LocalActorID, History, and Transport are required. Issuer is optional
// (public topics need no token); Sender is optional (read-only surfaces).
type SessionConfig struct {
	LocalActorID string

	Issuer    TokenIssuer
	History   Source[v1.Message]
	Sender    Sender
	Transport Transport

	Logger   *slog.Logger
	Registry prometheus.Registerer

	PageSize          int
	ReconnectDelay    time.Duration
	MaxReconnects     int
	TokenSafetyBuffer time.Duration

	// OnChange is invoked after every externally visible mutation of the
	// session (items, loading flags, connection state). Called outside the
	// session lock; implementations may call back into the session.
	OnChange func()
}

// Session maintains the live, ordered, deduplicated view of one
// conversation at a time.
//
// Lifecycle per topic: Closed -> Opening (first page + token) -> Live
// (subscribed) -> Closed. Opening a different conversation tears the
// previous one down completely first — a Session never holds two live
// subscriptions.
//
// Every async completion (token fetch, page fetch, push event, state
// change) carries the epoch captured at dispatch; completions whose epoch
// no longer matches are discarded, so effects of an abandoned topic can
// never leak into the next one.
type Session struct {
	cfg     SessionConfig
	log     *slog.Logger
	metrics *Metrics

	tokens *TokenSession
	pager  *Pager[v1.Message]
	subs   *Subscriber

	mu             sync.Mutex
	epoch          uint64
	topic          Topic
	remote         string
	items          []v1.Message
	dispose        func()
	connState      ConnState
	loadingInitial bool
	authFailures   int
}

// NewSession constructs a Session from its collaborators.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.LocalActorID == "" {
		return nil, errors.New("stream: LocalActorID is required")
	}
	if cfg.History == nil {
		return nil, errors.New("stream: History source is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("stream: Transport is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := NewMetrics(cfg.Registry)

	s := &Session{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		pager:   NewPager(cfg.History, cfg.PageSize),
		subs:    NewSubscriber(log, cfg.Transport, cfg.ReconnectDelay, cfg.MaxReconnects, metrics),
	}
	if cfg.Issuer != nil {
		s.tokens = NewTokenSession(log, cfg.Issuer, cfg.TokenSafetyBuffer)
	}
	return s, nil
}

// OpenConversation resets the session onto the conversation between peerA
// and peerB: clear state, load page 1, obtain a token, and subscribe live.
//
// The first-page fetch is synchronous so the caller sees history errors; the
// token fetch and subscription run in the background and degrade gracefully
// — a failed token fetch leaves the session in history-only mode rather
// than failing the open.
func (s *Session) OpenConversation(ctx context.Context, peerA, peerB string) error {
	topic, err := ConversationTopic(peerA, peerB)
	if err != nil {
		return err
	}

	// Pick the participant that is not the local actor as the send target.
	remote := peerB
	if peerB == s.cfg.LocalActorID {
		remote = peerA
	}
	return s.open(ctx, topic, remote)
}

func (s *Session) open(ctx context.Context, topic Topic, remote string) error {
	s.mu.Lock()
	if s.topic == topic {
		s.mu.Unlock()
		return nil
	}
	s.teardownLocked()
	s.epoch++
	epoch := s.epoch
	s.topic = topic
	s.remote = remote
	s.loadingInitial = true
	s.pager.Reset(topic)
	s.mu.Unlock()
	s.notify()

	s.log.Info("session.open", "topic", string(topic))
	go s.ensureLive(epoch, topic)

	items, err := s.pager.LoadFirstPage(ctx)

	s.mu.Lock()
	if s.epoch == epoch {
		s.loadingInitial = false
		if err == nil {
			s.items = s.tagMine(items)
			sortMessagesAsc(s.items)
		}
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	s.metrics.PagesLoaded.Inc()
	return nil
}

// ensureLive obtains a token (when an issuer is configured) and opens the
// live subscription. Runs in the background; a stale epoch on completion
// means the session moved on and the result is dropped.
func (s *Session) ensureLive(epoch uint64, topic Topic) {
	var token string
	if s.tokens != nil {
		tok, err := s.tokens.EnsureToken(context.Background(), topic)
		if err != nil {
			// History-only mode. The next auth cycle or reopen retries.
			s.log.Warn("session.live.unavailable", "topic", string(topic), "error", err)
			return
		}
		token = tok.Value
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.dispose != nil {
		s.dispose()
	}
	s.dispose = s.subs.Subscribe(SubscribeOptions{
		Topic:         topic,
		Token:         token,
		OnEvent:       func(raw []byte) { s.handleEvent(epoch, raw) },
		OnAuthFailure: func() { s.handleAuthFailure(epoch, topic) },
		OnState:       func(st ConnState) { s.setConnState(epoch, st) },
	})
	s.mu.Unlock()
}

// handleEvent parses one push frame and merges it into the collection.
// Malformed frames (missing content, bad shape) are dropped before the
// merger ever sees them.
func (s *Session) handleEvent(epoch uint64, raw []byte) {
	msg, err := v1.DecodeMessage(raw)
	if err != nil {
		s.metrics.EventsDropped.Inc()
		s.log.Debug("session.event.drop", "error", err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	before := len(s.items)
	s.items = MergeMessage(s.items, msg, s.cfg.LocalActorID)
	merged := len(s.items) != before
	s.mu.Unlock()

	if !merged {
		s.metrics.EventsDuplicate.Inc()
		return
	}
	s.metrics.EventsMerged.Inc()
	s.notify()
}

// handleAuthFailure drops the rejected token and re-subscribes with a fresh
// one, up to authRetryLimit consecutive rejections per topic.
func (s *Session) handleAuthFailure(epoch uint64, topic Topic) {
	if s.tokens == nil {
		return
	}
	s.tokens.Invalidate()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.authFailures++
	failures := s.authFailures
	s.mu.Unlock()

	if failures > authRetryLimit {
		s.log.Error("session.live.auth_exhausted", "topic", string(topic), "failures", failures)
		return
	}
	go s.ensureLive(epoch, topic)
}

func (s *Session) setConnState(epoch uint64, state ConnState) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.connState = state
	if state == StateOpen {
		s.authFailures = 0
	}
	s.mu.Unlock()
	s.notify()
}

// LoadOlderPage fetches the next older history page and prepends it. A call
// while no more pages exist, or while a load is in flight, is a no-op.
func (s *Session) LoadOlderPage(ctx context.Context) error {
	s.mu.Lock()
	if s.topic == "" {
		s.mu.Unlock()
		return ErrClosed
	}
	epoch := s.epoch
	s.mu.Unlock()

	items, loaded, err := s.pager.LoadNextPage(ctx)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	if !loaded {
		return nil
	}
	s.metrics.PagesLoaded.Inc()
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.prependLocked(s.tagMine(items))
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// SendLocal sends a message to the conversation's remote participant and
// appends the hub's echo locally. The later push echo carries the same id
// and is absorbed by dedup.
func (s *Session) SendLocal(ctx context.Context, content string) (v1.Message, error) {
	return s.send(ctx, content, nil)
}

// SendGroupLocal sends a group message to the given recipients.
func (s *Session) SendGroupLocal(ctx context.Context, content string, recipients []string) (v1.Message, error) {
	if len(recipients) == 0 {
		return v1.Message{}, errors.New("stream: group send requires recipients")
	}
	return s.send(ctx, content, recipients)
}

func (s *Session) send(ctx context.Context, content string, recipients []string) (v1.Message, error) {
	if s.cfg.Sender == nil {
		return v1.Message{}, errors.New("stream: sender not configured")
	}

	s.mu.Lock()
	if s.topic == "" {
		s.mu.Unlock()
		return v1.Message{}, ErrClosed
	}
	epoch := s.epoch
	remote := s.remote
	s.mu.Unlock()

	clientID, err := NewClientMessageID(time.Now().UTC())
	if err != nil {
		return v1.Message{}, fmt.Errorf("stream: client message id: %w", err)
	}
	msg := v1.Message{
		ClientID:     clientID,
		SenderID:     s.cfg.LocalActorID,
		ReceiverID:   remote,
		Content:      content,
		SentAt:       time.Now().UTC(),
		GroupMessage: len(recipients) > 0,
	}

	var sent v1.Message
	if len(recipients) > 0 {
		sent, err = s.cfg.Sender.SendGroupMessage(ctx, msg, recipients)
	} else {
		sent, err = s.cfg.Sender.SendMessage(ctx, msg)
	}
	if err != nil {
		return v1.Message{}, err
	}
	sent.Mine = true

	s.mu.Lock()
	if s.epoch == epoch {
		s.items = MergeMessage(s.items, sent, s.cfg.LocalActorID)
	}
	s.mu.Unlock()
	s.notify()
	return sent, nil
}

// Close tears the session down: subscription disposed, buffers cleared,
// local token reference dropped. Synchronous — pending async work becomes
// epoch-stale and resolves as a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	s.epoch++
	s.teardownLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) teardownLocked() {
	if s.dispose != nil {
		s.dispose()
		s.dispose = nil
	}
	if s.tokens != nil {
		s.tokens.Close()
	}
	if s.topic != "" {
		s.log.Info("session.close", "topic", string(s.topic))
	}
	s.topic = ""
	s.remote = ""
	s.items = nil
	s.connState = StateClosed
	s.loadingInitial = false
	s.authFailures = 0
	s.pager.Reset("")
}

// Items returns a snapshot of the merged, ordered, deduplicated collection.
func (s *Session) Items() []v1.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Message, len(s.items))
	copy(out, s.items)
	return out
}

// Topic returns the currently open topic ("" when closed).
func (s *Session) Topic() Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// HasMoreOlder reports whether older history pages remain.
func (s *Session) HasMoreOlder() bool { return s.pager.HasMore() }

// IsLoadingOlder reports whether an older-page fetch is in flight.
func (s *Session) IsLoadingOlder() bool { return s.pager.Loading() }

// IsLoadingInitial reports whether the first page is still loading.
func (s *Session) IsLoadingInitial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingInitial
}

// ConnState returns the live connection state for the "live" indicator.
func (s *Session) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// prependLocked inserts an older page before the buffered items. A page can
// overlap items that already arrived via push, so ids already buffered are
// skipped.
func (s *Session) prependLocked(page []v1.Message) {
	seen := make(map[string]struct{}, len(s.items))
	for _, m := range s.items {
		if m.ID != "" {
			seen[m.ID] = struct{}{}
		}
	}
	out := make([]v1.Message, 0, len(page)+len(s.items))
	for _, m := range page {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
		}
		out = append(out, m)
	}
	out = append(out, s.items...)
	sortMessagesAsc(out)
	s.items = out
}

// tagMine returns a copy of items with authorship resolved against the
// local actor.
func (s *Session) tagMine(items []v1.Message) []v1.Message {
	out := make([]v1.Message, len(items))
	copy(out, items)
	for i := range out {
		if out[i].SenderID == s.cfg.LocalActorID {
			out[i].Mine = true
		}
	}
	return out
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}
