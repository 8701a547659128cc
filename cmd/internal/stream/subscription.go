package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ConnState is the live connection state exposed to the UI layer.
type ConnState int32

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	// StateDisconnected is terminal: the reconnect budget is exhausted and
	// the subscription gave up. A fresh Subscribe call starts over.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Transport establishes one live connection to a push topic.
// Implementations wrap auth rejections in ErrUnauthorized.
type Transport interface {
	Connect(ctx context.Context, topic Topic, token string) (Conn, error)
}

// Conn yields raw event frames from one live connection. Next blocks until
// a frame arrives, the connection fails, or ctx is cancelled.
type Conn interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// SubscribeOptions configures one Subscribe call.
type SubscribeOptions struct {
	Topic Topic
	// Token is optional: public topics need none.
	Token string
	// OnEvent receives each inbound frame that parsed as JSON. Invoked from
	// the subscription's reader goroutine, one frame at a time, in arrival
	// order.
	OnEvent func(raw []byte)
	// OnAuthFailure is invoked once when the transport rejects the token.
	// The subscription stops; the caller invalidates the token and
	// re-subscribes.
	OnAuthFailure func()
	// OnState observes connection state transitions.
	OnState func(ConnState)
}

// Subscriber owns live push connections. Each Subscribe call maintains
// exactly one connection bound to (topic, token) until its disposer runs,
// re-establishing it from scratch with a fixed delay on failure.
type Subscriber struct {
	log            *slog.Logger
	transport      Transport
	reconnectDelay time.Duration
	maxReconnects  int
	metrics        *Metrics
}

// NewSubscriber constructs a Subscriber. Non-positive tunables fall back to
// the defaults.
func NewSubscriber(log *slog.Logger, transport Transport, reconnectDelay time.Duration, maxReconnects int, metrics *Metrics) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	if maxReconnects <= 0 {
		maxReconnects = DefaultMaxReconnects
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Subscriber{
		log:            log,
		transport:      transport,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
		metrics:        metrics,
	}
}

// Subscribe opens a live connection and returns its disposer.
//
// A missing topic or event handler makes Subscribe a no-op returning a
// no-op disposer. The disposer cancels any pending reconnect wait, closes
// the live connection, and is idempotent and safe to call from any
// goroutine.
func (s *Subscriber) Subscribe(opts SubscribeOptions) func() {
	if opts.Topic == "" || opts.OnEvent == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.run(ctx, opts)

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (s *Subscriber) run(ctx context.Context, opts SubscribeOptions) {
	setState := func(state ConnState) {
		s.metrics.ConnState.Set(float64(state))
		if opts.OnState != nil {
			opts.OnState(state)
		}
	}

	attempts := 0
	for {
		if attempts == 0 {
			setState(StateConnecting)
		} else {
			setState(StateReconnecting)
		}

		conn, err := s.transport.Connect(ctx, opts.Topic, opts.Token)
		if err != nil {
			if ctx.Err() != nil {
				setState(StateClosed)
				return
			}
			if errors.Is(err, ErrUnauthorized) {
				s.log.Warn("stream.subscribe.unauthorized", "topic", string(opts.Topic))
				setState(StateClosed)
				if opts.OnAuthFailure != nil {
					opts.OnAuthFailure()
				}
				return
			}

			attempts++
			s.metrics.Reconnects.Inc()
			if attempts > s.maxReconnects {
				s.log.Error("stream.subscribe.gave_up",
					"topic", string(opts.Topic), "attempts", attempts-1)
				setState(StateDisconnected)
				return
			}
			s.log.Warn("stream.subscribe.retry",
				"topic", string(opts.Topic), "attempt", attempts, "delay", s.reconnectDelay, "error", err)
			if !s.sleep(ctx) {
				setState(StateClosed)
				return
			}
			continue
		}

		setState(StateOpen)
		attempts = 0
		readErr := s.read(ctx, conn, opts)
		_ = conn.Close()

		if ctx.Err() != nil {
			setState(StateClosed)
			return
		}
		if errors.Is(readErr, ErrUnauthorized) {
			s.log.Warn("stream.subscribe.unauthorized", "topic", string(opts.Topic))
			setState(StateClosed)
			if opts.OnAuthFailure != nil {
				opts.OnAuthFailure()
			}
			return
		}

		// Connection dropped mid-stream: fall through to the retry path.
		attempts++
		s.metrics.Reconnects.Inc()
		if attempts > s.maxReconnects {
			s.log.Error("stream.subscribe.gave_up",
				"topic", string(opts.Topic), "attempts", attempts-1)
			setState(StateDisconnected)
			return
		}
		s.log.Warn("stream.subscribe.retry",
			"topic", string(opts.Topic), "attempt", attempts, "delay", s.reconnectDelay, "error", readErr)
		if !s.sleep(ctx) {
			setState(StateClosed)
			return
		}
	}
}

// read pumps frames until the connection fails or ctx is cancelled.
// Frames that are not valid JSON are logged and dropped: a garbled frame
// must never take the stream down.
func (s *Subscriber) read(ctx context.Context, conn Conn, opts SubscribeOptions) error {
	for {
		frame, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		if !json.Valid(frame) {
			s.metrics.EventsDropped.Inc()
			s.log.Debug("stream.event.malformed", "topic", string(opts.Topic), "bytes", len(frame))
			continue
		}
		opts.OnEvent(frame)
	}
}

// sleep waits one reconnect delay, returning false when ctx was cancelled
// first (a superseding subscribe or a disposer).
func (s *Subscriber) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
