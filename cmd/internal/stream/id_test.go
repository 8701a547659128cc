package stream

import (
	"testing"
	"time"
)

func TestNewClientMessageID(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a, err := NewClientMessageID(now)
	if err != nil {
		t.Fatalf("NewClientMessageID: %v", err)
	}
	b, err := NewClientMessageID(now)
	if err != nil {
		t.Fatalf("NewClientMessageID: %v", err)
	}
	if len(a) != 26 {
		t.Fatalf("unexpected ulid length: %d (%q)", len(a), a)
	}
	if a == b {
		t.Fatalf("ids must be unique even at the same timestamp")
	}

	later, err := NewClientMessageID(now.Add(time.Second))
	if err != nil {
		t.Fatalf("NewClientMessageID: %v", err)
	}
	if !(a < later) {
		t.Fatalf("ids must sort by time: %q vs %q", a, later)
	}

	if _, err := NewClientMessageID(time.Time{}); err != nil {
		t.Fatalf("zero time must fall back to now: %v", err)
	}
}
