package stream

import (
	"errors"
	"testing"
)

func TestConversationTopic_Symmetric(t *testing.T) {
	ab, err := ConversationTopic("alice", "bob")
	if err != nil {
		t.Fatalf("ConversationTopic: %v", err)
	}
	ba, err := ConversationTopic("bob", "alice")
	if err != nil {
		t.Fatalf("ConversationTopic: %v", err)
	}
	if ab != ba {
		t.Fatalf("topic not symmetric: %q vs %q", ab, ba)
	}
	if ab != "conversations/alice-bob" {
		t.Fatalf("unexpected topic: %q", ab)
	}
}

func TestConversationTopic_TrimsWhitespace(t *testing.T) {
	got, err := ConversationTopic("  alice ", "bob\n")
	if err != nil {
		t.Fatalf("ConversationTopic: %v", err)
	}
	if got != "conversations/alice-bob" {
		t.Fatalf("unexpected topic: %q", got)
	}
}

func TestConversationTopic_RejectsBlank(t *testing.T) {
	cases := [][2]string{
		{"", "bob"},
		{"alice", ""},
		{"   ", "bob"},
		{"", ""},
	}
	for _, c := range cases {
		if _, err := ConversationTopic(c[0], c[1]); !errors.Is(err, ErrInvalidTopic) {
			t.Fatalf("(%q,%q): want ErrInvalidTopic, got %v", c[0], c[1], err)
		}
	}
}

func TestNotificationTopic(t *testing.T) {
	got, err := NotificationTopic("alice")
	if err != nil {
		t.Fatalf("NotificationTopic: %v", err)
	}
	if got != "notifications/alice" {
		t.Fatalf("unexpected topic: %q", got)
	}
	if _, err := NotificationTopic("  "); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("want ErrInvalidTopic, got %v", err)
	}
}
