package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	v1 "ripple/shared/contracts/stream/v1"
)

// FeedConfig wires collaborators into a Feed. History and Transport are
// required; Issuer is optional for public notification topics.
type FeedConfig struct {
	Issuer    TokenIssuer
	History   Source[v1.Notification]
	Transport Transport

	Logger   *slog.Logger
	Registry prometheus.Registerer

	PageSize          int
	ReconnectDelay    time.Duration
	MaxReconnects     int
	TokenSafetyBuffer time.Duration

	OnChange func()
}

// Feed maintains the live, ordered, deduplicated notification stream for
// one user. It is the notification counterpart of Session: same topic /
// token / subscription / pager lifecycle, no send path and no authorship
// (every notification is addressed to the local actor).
type Feed struct {
	cfg     FeedConfig
	log     *slog.Logger
	metrics *Metrics

	tokens *TokenSession
	pager  *Pager[v1.Notification]
	subs   *Subscriber

	mu             sync.Mutex
	epoch          uint64
	topic          Topic
	items          []v1.Notification
	dispose        func()
	connState      ConnState
	loadingInitial bool
	authFailures   int
}

// NewFeed constructs a Feed from its collaborators.
func NewFeed(cfg FeedConfig) (*Feed, error) {
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

	f := &Feed{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		pager:   NewPager(cfg.History, cfg.PageSize),
		subs:    NewSubscriber(log, cfg.Transport, cfg.ReconnectDelay, cfg.MaxReconnects, metrics),
	}
	if cfg.Issuer != nil {
		f.tokens = NewTokenSession(log, cfg.Issuer, cfg.TokenSafetyBuffer)
	}
	return f, nil
}

// Open resets the feed onto userID's notification topic, loads page 1, and
// subscribes live. Token failure degrades to history-only, as in Session.
func (f *Feed) Open(ctx context.Context, userID string) error {
	topic, err := NotificationTopic(userID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.topic == topic {
		f.mu.Unlock()
		return nil
	}
	f.teardownLocked()
	f.epoch++
	epoch := f.epoch
	f.topic = topic
	f.loadingInitial = true
	f.pager.Reset(topic)
	f.mu.Unlock()
	f.notify()

	f.log.Info("feed.open", "topic", string(topic))
	go f.ensureLive(epoch, topic)

	items, err := f.pager.LoadFirstPage(ctx)

	f.mu.Lock()
	if f.epoch == epoch {
		f.loadingInitial = false
		if err == nil {
			f.items = append([]v1.Notification(nil), items...)
			sortNotificationsAsc(f.items)
		}
	}
	f.mu.Unlock()
	f.notify()

	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	f.metrics.PagesLoaded.Inc()
	return nil
}

func (f *Feed) ensureLive(epoch uint64, topic Topic) {
	var token string
	if f.tokens != nil {
		tok, err := f.tokens.EnsureToken(context.Background(), topic)
		if err != nil {
			f.log.Warn("feed.live.unavailable", "topic", string(topic), "error", err)
			return
		}
		token = tok.Value
	}

	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	if f.dispose != nil {
		f.dispose()
	}
	f.dispose = f.subs.Subscribe(SubscribeOptions{
		Topic:         topic,
		Token:         token,
		OnEvent:       func(raw []byte) { f.handleEvent(epoch, raw) },
		OnAuthFailure: func() { f.handleAuthFailure(epoch, topic) },
		OnState:       func(st ConnState) { f.setConnState(epoch, st) },
	})
	f.mu.Unlock()
}

func (f *Feed) handleEvent(epoch uint64, raw []byte) {
	notif, err := v1.DecodeNotification(raw)
	if err != nil {
		f.metrics.EventsDropped.Inc()
		f.log.Debug("feed.event.drop", "error", err)
		return
	}

	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	before := len(f.items)
	f.items = MergeNotification(f.items, notif)
	merged := len(f.items) != before
	f.mu.Unlock()

	if !merged {
		f.metrics.EventsDuplicate.Inc()
		return
	}
	f.metrics.EventsMerged.Inc()
	f.notify()
}

func (f *Feed) handleAuthFailure(epoch uint64, topic Topic) {
	if f.tokens == nil {
		return
	}
	f.tokens.Invalidate()

	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	f.authFailures++
	failures := f.authFailures
	f.mu.Unlock()

	if failures > authRetryLimit {
		f.log.Error("feed.live.auth_exhausted", "topic", string(topic), "failures", failures)
		return
	}
	go f.ensureLive(epoch, topic)
}

func (f *Feed) setConnState(epoch uint64, state ConnState) {
	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	f.connState = state
	if state == StateOpen {
		f.authFailures = 0
	}
	f.mu.Unlock()
	f.notify()
}

// LoadOlderPage fetches the next older notification page and prepends it.
func (f *Feed) LoadOlderPage(ctx context.Context) error {
	f.mu.Lock()
	if f.topic == "" {
		f.mu.Unlock()
		return ErrClosed
	}
	epoch := f.epoch
	f.mu.Unlock()

	items, loaded, err := f.pager.LoadNextPage(ctx)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	if !loaded {
		return nil
	}
	f.metrics.PagesLoaded.Inc()
	if len(items) == 0 {
		return nil
	}

	f.mu.Lock()
	if f.epoch == epoch {
		f.prependLocked(items)
	}
	f.mu.Unlock()
	f.notify()
	return nil
}

// Close tears the feed down; pending async work becomes epoch-stale.
func (f *Feed) Close() {
	f.mu.Lock()
	f.epoch++
	f.teardownLocked()
	f.mu.Unlock()
	f.notify()
}

func (f *Feed) teardownLocked() {
	if f.dispose != nil {
		f.dispose()
		f.dispose = nil
	}
	if f.tokens != nil {
		f.tokens.Close()
	}
	if f.topic != "" {
		f.log.Info("feed.close", "topic", string(f.topic))
	}
	f.topic = ""
	f.items = nil
	f.connState = StateClosed
	f.loadingInitial = false
	f.authFailures = 0
	f.pager.Reset("")
}

// Items returns a snapshot of the merged notification collection.
func (f *Feed) Items() []v1.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]v1.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// HasMoreOlder reports whether older pages remain.
func (f *Feed) HasMoreOlder() bool { return f.pager.HasMore() }

// IsLoadingOlder reports whether an older-page fetch is in flight.
func (f *Feed) IsLoadingOlder() bool { return f.pager.Loading() }

// IsLoadingInitial reports whether the first page is still loading.
func (f *Feed) IsLoadingInitial() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadingInitial
}

// ConnState returns the live connection state.
func (f *Feed) ConnState() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connState
}

func (f *Feed) prependLocked(page []v1.Notification) {
	seen := make(map[string]struct{}, len(f.items))
	for _, n := range f.items {
		if n.ID != "" {
			seen[n.ID] = struct{}{}
		}
	}
	out := make([]v1.Notification, 0, len(page)+len(f.items))
	for _, n := range page {
		if n.ID != "" {
			if _, dup := seen[n.ID]; dup {
				continue
			}
		}
		out = append(out, n)
	}
	out = append(out, f.items...)
	sortNotificationsAsc(out)
	f.items = out
}

func (f *Feed) notify() {
	if f.cfg.OnChange != nil {
		f.cfg.OnChange()
	}
}
