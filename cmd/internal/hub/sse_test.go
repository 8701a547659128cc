package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ripple/cmd/internal/stream"
)

func TestSSETransport_ParsesEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscribe" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.URL.Query().Get("topic"); got != "conversations/a-b" {
			t.Errorf("topic=%q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth=%q", got)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// Heartbeat comment, one simple event, one multi-line event with a
		// carriage return, one non-data field to skip.
		_, _ = w.Write([]byte(":heartbeat\n\n"))
		_, _ = w.Write([]byte("data: {\"n\":1}\n\n"))
		_, _ = w.Write([]byte("event: message\r\ndata: {\"n\":\r\ndata: 2}\r\n\r\n"))
		flusher.Flush()
	}))
	defer server.Close()

	transport := NewSSETransport(server.URL, nil)
	conn, err := transport.Connect(context.Background(), "conversations/a-b", "tok")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	first, err := conn.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(first) != `{"n":1}` {
		t.Fatalf("first event=%q", first)
	}

	second, err := conn.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(second) != "{\"n\":\n2}" {
		t.Fatalf("multi-line event=%q", second)
	}
}

func TestSSETransport_UnauthorizedMapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	transport := NewSSETransport(server.URL, nil)
	_, err := transport.Connect(context.Background(), "conversations/a-b", "stale")
	if !errors.Is(err, stream.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestSSETransport_ServerErrorNotUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := NewSSETransport(server.URL, nil)
	_, err := transport.Connect(context.Background(), "conversations/a-b", "tok")
	if err == nil || errors.Is(err, stream.ErrUnauthorized) {
		t.Fatalf("500 must fail without the auth mapping: %v", err)
	}
}

func TestSSETransport_StreamEndReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"n\":1}\n\n"))
	}))
	defer server.Close()

	transport := NewSSETransport(server.URL, nil)
	conn, err := transport.Connect(context.Background(), "conversations/a-b", "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := conn.Next(context.Background()); err == nil {
		t.Fatalf("closed stream must surface an error")
	}
}
