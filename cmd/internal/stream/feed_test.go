package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	v1 "ripple/shared/contracts/stream/v1"
)

type notifSource struct {
	mu      sync.Mutex
	byTopic map[Topic][]v1.Notification
}

func (s *notifSource) put(topic Topic, items ...v1.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTopic == nil {
		s.byTopic = map[Topic][]v1.Notification{}
	}
	s.byTopic[topic] = append(s.byTopic[topic], items...)
}

func (s *notifSource) FetchPage(ctx context.Context, topic Topic, page, limit int) (Page[v1.Notification], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.byTopic[topic]
	if page != 1 {
		return Page[v1.Notification]{Page: page, Pages: 1, Total: len(all)}, nil
	}
	return Page[v1.Notification]{
		Items: append([]v1.Notification(nil), all...),
		Page:  1, Pages: 1, Total: len(all),
	}, nil
}

func newFeedFixture(t *testing.T) (*Feed, *notifSource, *pushTransport) {
	t.Helper()
	source := &notifSource{}
	transport := &pushTransport{}
	feed, err := NewFeed(FeedConfig{
		Issuer:         &fakeIssuer{lifetime: time.Hour},
		History:        source,
		Transport:      transport,
		ReconnectDelay: time.Millisecond,
		MaxReconnects:  2,
	})
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	t.Cleanup(feed.Close)
	return feed, source, transport
}

func TestFeed_OpenLoadsHistory(t *testing.T) {
	feed, source, _ := newFeedFixture(t)
	topic, _ := NotificationTopic("me")
	source.put(topic, v1.Notification{
		ID: "n1", Title: "welcome", CreatedAt: time.Now().UTC(),
	})

	if err := feed.Open(context.Background(), "me"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	items := feed.Items()
	if len(items) != 1 || items[0].Title != "welcome" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestFeed_PushMergesAndDedups(t *testing.T) {
	feed, _, transport := newFeedFixture(t)
	if err := feed.Open(context.Background(), "me"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for feed.ConnState() != StateOpen {
		if time.Now().After(deadline) {
			t.Fatalf("feed never went live: %s", feed.ConnState())
		}
		time.Sleep(5 * time.Millisecond)
	}

	notif := v1.Notification{ID: "n1", Title: "ping", CreatedAt: time.Now().UTC()}
	transport.push(t, notif)
	for len(feed.Items()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("push never merged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	transport.push(t, notif)
	time.Sleep(50 * time.Millisecond)
	if n := len(feed.Items()); n != 1 {
		t.Fatalf("duplicate notification not absorbed: items=%d", n)
	}
}

func TestFeed_MessagesDoNotLeakIntoFeed(t *testing.T) {
	feed, _, transport := newFeedFixture(t)
	if err := feed.Open(context.Background(), "me"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for feed.ConnState() != StateOpen {
		if time.Now().After(deadline) {
			t.Fatalf("feed never went live")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A message-shaped frame has no titre/createdAt and must be dropped.
	transport.push(t, v1.Message{
		ID: "m1", SenderID: "peer", Content: "hi", SentAt: time.Now().UTC(),
	})
	time.Sleep(50 * time.Millisecond)
	if n := len(feed.Items()); n != 0 {
		t.Fatalf("message frame leaked into feed: items=%d", n)
	}
}

func TestFeed_OpenRejectsBlankUser(t *testing.T) {
	feed, _, _ := newFeedFixture(t)
	if err := feed.Open(context.Background(), "  "); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("want ErrInvalidTopic, got %v", err)
	}
}
