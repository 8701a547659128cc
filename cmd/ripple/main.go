// Package main provides a CI-friendly smoke test for the Ripple stream engine.
//
// It validates:
//   - stream token issuance + authorized subscribe
//   - two live sessions on the same conversation topic
//   - send -> optimistic echo -> push fanout to the peer
//   - idempotent dedupe of the push echo on the sender side
//   - chronological ordering and authorship tagging
//   - notification feed fanout
//
// By default it spins up an in-process hub; pass -hub to target a real one.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"time"

	"ripple/cmd/internal/app"
	"ripple/cmd/internal/hub"
	"ripple/cmd/internal/hubtest"
	"ripple/cmd/internal/stream"
	v1 "ripple/shared/contracts/stream/v1"
)

func main() {
	cfg := app.LoadConfig()

	var (
		hubURL    = flag.String("hub", "", "Hub base URL (empty = in-process hub)")
		transport = flag.String("transport", cfg.Transport, "Push transport: sse or ws")
		userA     = flag.String("a", "smoke-alice", "First participant id")
		userB     = flag.String("b", "smoke-bob", "Second participant id")
		text      = flag.String("text", "hello ripple 👋", "Message text to send")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *transport != "sse" && *transport != "ws" {
		fatalf("invalid -transport: %q (want sse or ws)", *transport)
	}
	if strings.TrimSpace(*userA) == "" || strings.TrimSpace(*userB) == "" ||
		*userA == *userB {
		fatalf("-a and -b must be distinct non-empty ids")
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log := app.NewLogger(level, cfg.LogFormat)

	baseURL := *hubURL
	if baseURL == "" {
		local := hubtest.New(hubtest.Config{
			Logger:     log,
			SigningKey: []byte("ripple-smoke"),
			TokenTTL:   time.Minute,
		})
		server := httptest.NewServer(local.Handler())
		defer server.Close()
		baseURL = server.URL
	}
	if err := validateHubURL(baseURL); err != nil {
		fatalf("invalid hub URL: %v", err)
	}

	root := context.Background()

	a := mustOpenSession(root, log, baseURL, *transport, *userA, *userB, *timeout)
	defer a.session.Close()
	b := mustOpenSession(root, log, baseURL, *transport, *userB, *userA, *timeout)
	defer b.session.Close()

	mustReachState(a, stream.StateOpen, *timeout)
	mustReachState(b, stream.StateOpen, *timeout)
	if *verbose {
		fmt.Printf("live: topic=%s transport=%s\n", a.session.Topic(), *transport)
	}

	sent := mustSend(root, a, *text, *timeout)

	mustReceive(b, sent.ID, *timeout)
	got := itemByID(b.session.Items(), sent.ID)
	if got.Content != *text {
		fatalf("fanout content mismatch: got=%q want=%q", got.Content, *text)
	}
	if got.Mine {
		fatalf("fanout message tagged as own on receiver side")
	}

	// The push echo of A's own send must dedupe against the optimistic copy.
	time.Sleep(300 * time.Millisecond)
	if n := countByID(a.session.Items(), sent.ID); n != 1 {
		fatalf("dedupe: sender holds %d copies of %s", n, sent.ID)
	}
	if !itemByID(a.session.Items(), sent.ID).Mine {
		fatalf("sender's own message not tagged as own")
	}

	reply := mustSend(root, b, "reply: "+*text, *timeout)
	mustReceive(a, reply.ID, *timeout)
	mustAscending(a.session.Items())
	mustAscending(b.session.Items())

	mustFeedFanout(root, log, baseURL, *transport, *userB, *timeout)

	fmt.Printf("OK: topic=%s transport=%s msg=%s reply=%s\n",
		a.session.Topic(), *transport, sent.ID, reply.ID)
}

// smokeSession bundles one participant's session with its change signal.
type smokeSession struct {
	name    string
	session *stream.Session
	changed chan struct{}
}

func mustOpenSession(parent context.Context, log *slog.Logger, baseURL, transport, self, peer string, stepTimeout time.Duration) *smokeSession {
	client, err := hub.NewClient(hub.ClientConfig{
		BaseURL: baseURL,
		Logger:  log,
	})
	if err != nil {
		fatalf("hub client (%s): %v", self, err)
	}

	s := &smokeSession{name: self, changed: make(chan struct{}, 1)}
	session, err := stream.NewSession(stream.SessionConfig{
		LocalActorID: self,
		Issuer:       client,
		History:      client.MessageHistory(),
		Sender:       client,
		Transport:    newTransport(transport, baseURL),
		Logger:       log,
		OnChange:     s.signal,
	})
	if err != nil {
		fatalf("session (%s): %v", self, err)
	}
	s.session = session

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := session.OpenConversation(ctx, self, peer); err != nil {
		fatalf("open conversation (%s): %v", self, err)
	}
	return s
}

func newTransport(kind, baseURL string) stream.Transport {
	if kind == "ws" {
		return hub.NewWSTransport(baseURL, nil)
	}
	return hub.NewSSETransport(baseURL, nil)
}

func (s *smokeSession) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// waitUntil blocks until cond holds, rechecking on every session change.
func (s *smokeSession) waitUntil(cond func() bool, wait time.Duration) bool {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-deadline.C:
			return cond()
		case <-s.changed:
		}
	}
}

func mustReachState(s *smokeSession, want stream.ConnState, wait time.Duration) {
	ok := s.waitUntil(func() bool { return s.session.ConnState() == want }, wait)
	if !ok {
		fatalf("timeout waiting for %s (%s): state=%s", want, s.name, s.session.ConnState())
	}
}

func mustSend(parent context.Context, s *smokeSession, text string, stepTimeout time.Duration) v1.Message {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	sent, err := s.session.SendLocal(ctx, text)
	if err != nil {
		fatalf("send (%s): %v", s.name, err)
	}
	if sent.ID == "" {
		fatalf("send (%s): hub echo missing id", s.name)
	}
	return sent
}

func mustReceive(s *smokeSession, id string, wait time.Duration) {
	ok := s.waitUntil(func() bool { return countByID(s.session.Items(), id) > 0 }, wait)
	if !ok {
		fatalf("timeout waiting for message %s (%s)", id, s.name)
	}
}

func mustAscending(items []v1.Message) {
	for i := 1; i < len(items); i++ {
		if items[i].SentAt.Before(items[i-1].SentAt) {
			fatalf("ordering violated at index %d: %s after %s",
				i, items[i].SentAt, items[i-1].SentAt)
		}
	}
}

// mustFeedFanout opens a notification feed for userID, pushes one
// notification through the hub, and asserts the feed receives it live.
func mustFeedFanout(parent context.Context, log *slog.Logger, baseURL, transport, userID string, stepTimeout time.Duration) {
	client, err := hub.NewClient(hub.ClientConfig{BaseURL: baseURL, Logger: log})
	if err != nil {
		fatalf("feed hub client: %v", err)
	}

	changed := make(chan struct{}, 1)
	feed, err := stream.NewFeed(stream.FeedConfig{
		Issuer:    client,
		History:   client.NotificationHistory(),
		Transport: newTransport(transport, baseURL),
		Logger:    log,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		fatalf("feed: %v", err)
	}
	defer feed.Close()

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := feed.Open(ctx, userID); err != nil {
		fatalf("feed open: %v", err)
	}

	// Give the subscription a moment to come up before publishing.
	waitState := time.NewTimer(stepTimeout)
	defer waitState.Stop()
	for feed.ConnState() != stream.StateOpen {
		select {
		case <-waitState.C:
			fatalf("timeout waiting for feed subscription: state=%s", feed.ConnState())
		case <-changed:
		}
	}

	notifyHub(ctx, baseURL, userID, "smoke notification")

	deadline := time.NewTimer(stepTimeout)
	defer deadline.Stop()
	for len(feed.Items()) == 0 {
		select {
		case <-deadline.C:
			fatalf("timeout waiting for notification fanout")
		case <-changed:
		}
	}
}

func notifyHub(ctx context.Context, baseURL, userID, title string) {
	body, err := json.Marshal(map[string]string{"user_id": userID, "titre": title})
	if err != nil {
		fatalf("encode notification: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		fatalf("notification request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("publish notification: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		fatalf("publish notification: status=%d", resp.StatusCode)
	}
}

func validateHubURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func itemByID(items []v1.Message, id string) v1.Message {
	for _, m := range items {
		if m.ID == id {
			return m
		}
	}
	return v1.Message{}
}

func countByID(items []v1.Message, id string) int {
	n := 0
	for _, m := range items {
		if m.ID == id {
			n++
		}
	}
	return n
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
