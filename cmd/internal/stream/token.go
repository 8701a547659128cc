package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is an opaque bearer credential scoped to the topics it was
// issued for. ExpiresIn is zero when the issuer did not report a lifetime.
type AccessToken struct {
	Value     string
	ExpiresIn time.Duration
	IssuedAt  time.Time
}

// TokenIssuer issues a short-lived bearer token scoped to the given topics.
type TokenIssuer interface {
	IssueStreamToken(ctx context.Context, topics []Topic) (AccessToken, error)
}

type tokenState int

const (
	tokenNone tokenState = iota
	tokenFetching
	tokenValid
)

type tokenResult struct {
	token AccessToken
	err   error
}

// TokenSession manages the short-lived stream token for one topic at a time.
//
// State machine: NoToken -> Fetching -> Valid -> NoToken. The Valid -> NoToken
// edge fires proactively (expiry timer, safety buffer before the real expiry)
// or reactively (Invalidate on an auth rejection from the transport).
//
// Concurrency: safe for concurrent use. EnsureToken is single-flight — a
// fetch already in flight never triggers a second concurrent fetch for the
// same topic; latecomers wait for the first result.
type TokenSession struct {
	log          *slog.Logger
	issuer       TokenIssuer
	safetyBuffer time.Duration

	mu      sync.Mutex
	state   tokenState
	topic   Topic
	token   AccessToken
	gen     uint64
	timer   *time.Timer
	waiters []chan tokenResult
}

// NewTokenSession constructs a TokenSession. A safetyBuffer <= 0 falls back
// to the default.
func NewTokenSession(log *slog.Logger, issuer TokenIssuer, safetyBuffer time.Duration) *TokenSession {
	if log == nil {
		log = slog.Default()
	}
	if safetyBuffer <= 0 {
		safetyBuffer = DefaultTokenSafetyBuffer
	}
	return &TokenSession{log: log, issuer: issuer, safetyBuffer: safetyBuffer}
}

// EnsureToken returns the current token for topic, fetching one if needed.
//
// A topic change drops any token held for the previous topic: tokens are
// never reused across topics they were not scoped to. If the topic changes
// again while a fetch is in flight, the resolved token is discarded and
// ErrSuperseded is returned.
func (s *TokenSession) EnsureToken(ctx context.Context, topic Topic) (AccessToken, error) {
	if topic == "" {
		return AccessToken{}, fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}

	for {
		s.mu.Lock()
		if s.topic != topic {
			s.dropLocked()
			s.topic = topic
		}

		switch s.state {
		case tokenValid:
			token := s.token
			s.mu.Unlock()
			return token, nil

		case tokenFetching:
			ch := make(chan tokenResult, 1)
			s.waiters = append(s.waiters, ch)
			s.mu.Unlock()
			select {
			case r := <-ch:
				if errors.Is(r.err, ErrSuperseded) {
					// The fetch we waited on was for an abandoned topic.
					// If ours is still the active one, fetch for real.
					s.mu.Lock()
					active := s.topic == topic
					s.mu.Unlock()
					if active {
						continue
					}
				}
				return r.token, r.err
			case <-ctx.Done():
				return AccessToken{}, ctx.Err()
			}
		}

		s.state = tokenFetching
		s.mu.Unlock()
		break
	}

	token, err := s.issuer.IssueStreamToken(ctx, []Topic{topic})

	s.mu.Lock()
	if s.topic != topic {
		// The active topic moved on while we were fetching. Deliver the
		// stale result to nobody.
		s.state = tokenNone
		waiters := s.takeWaitersLocked()
		s.mu.Unlock()
		notifyWaiters(waiters, tokenResult{err: ErrSuperseded})
		return AccessToken{}, ErrSuperseded
	}

	if err != nil {
		s.state = tokenNone
		waiters := s.takeWaitersLocked()
		s.mu.Unlock()
		wrapped := fmt.Errorf("%w: %v", ErrTokenFetch, err)
		notifyWaiters(waiters, tokenResult{err: wrapped})
		return AccessToken{}, wrapped
	}

	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
	s.token = token
	s.state = tokenValid
	s.gen++
	s.scheduleExpiryLocked(token, s.gen)
	waiters := s.takeWaitersLocked()
	s.mu.Unlock()

	notifyWaiters(waiters, tokenResult{token: token})
	return token, nil
}

// Invalidate drops the current token and cancels the expiry timer.
// Idempotent. The next EnsureToken call fetches a fresh token.
func (s *TokenSession) Invalidate() {
	s.mu.Lock()
	s.dropLocked()
	s.mu.Unlock()
}

// Close drops all local token state. Only the local reference is released;
// the issuer side is untouched.
func (s *TokenSession) Close() {
	s.mu.Lock()
	s.dropLocked()
	s.topic = ""
	s.mu.Unlock()
}

func (s *TokenSession) dropLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state == tokenValid {
		s.state = tokenNone
		s.token = AccessToken{}
	}
	// A fetch in flight resolves against the recorded topic; its result is
	// discarded there if the topic changed.
}

// scheduleExpiryLocked arms the proactive invalidation timer at
// lifetime - safetyBuffer after issuance (floored at zero).
//
// When the issuer omitted the lifetime, the token value is tried as a JWT
// and the exp claim used instead. Tokens with no discoverable lifetime stay
// valid until Invalidate is called reactively.
func (s *TokenSession) scheduleExpiryLocked(token AccessToken, gen uint64) {
	lifetime := token.ExpiresIn
	if lifetime <= 0 {
		exp, ok := jwtExpiry(token.Value)
		if !ok {
			return
		}
		lifetime = time.Until(exp)
	}

	fireIn := lifetime - s.safetyBuffer
	if fireIn < 0 {
		fireIn = 0
	}
	s.timer = time.AfterFunc(fireIn, func() { s.expireGen(gen) })
}

// expireGen invalidates the token only if it is still the generation the
// timer was armed for. A timer racing a fresh token is a no-op.
func (s *TokenSession) expireGen(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != tokenValid {
		s.mu.Unlock()
		return
	}
	topic := s.topic
	s.dropLocked()
	s.mu.Unlock()

	s.log.Debug("stream.token.expired", "topic", string(topic))
}

func (s *TokenSession) takeWaitersLocked() []chan tokenResult {
	waiters := s.waiters
	s.waiters = nil
	return waiters
}

func notifyWaiters(waiters []chan tokenResult, r tokenResult) {
	for _, ch := range waiters {
		ch <- r
	}
}

// jwtExpiry extracts the exp claim from a JWT-shaped token without verifying
// its signature. Verification is the hub's job; the client only needs the
// lifetime for proactive rotation.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
