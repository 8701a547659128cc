// Package v1 defines the Ripple stream wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the sync engine, the hub client, and test fixtures
// to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is one conversation message as carried on the wire.
//
// ID is the deduplication key when present. SentAt is the sole ordering key
// for the merged collection.
type Message struct {
	ID           string    `json:"id,omitempty"`
	ClientID     string    `json:"client_msg_id,omitempty"`
	SenderID     string    `json:"sender_id"`
	ReceiverID   string    `json:"receiver_id,omitempty"`
	Content      string    `json:"content"`
	SentAt       time.Time `json:"sent_at"`
	GroupMessage bool      `json:"is_group_message,omitempty"`

	// Mine marks messages authored by the local actor. It is computed
	// client-side during merge and never travels on the wire.
	Mine bool `json:"-"`
}

// Validate performs structural validation for an inbound message frame.
func (m Message) Validate() error {
	if m.SenderID == "" {
		return errors.New("missing sender_id")
	}
	if m.Content == "" {
		return errors.New("missing content")
	}
	if m.SentAt.IsZero() {
		return errors.New("missing sent_at")
	}
	return nil
}

// Notification is one per-user notification as carried on the wire.
// The "titre" field name is wire-stable; do not rename it.
type Notification struct {
	ID        string          `json:"id,omitempty"`
	Title     string          `json:"titre"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an inbound notification frame.
func (n Notification) Validate() error {
	if n.Title == "" {
		return errors.New("missing titre")
	}
	if n.CreatedAt.IsZero() {
		return errors.New("missing createdAt")
	}
	return nil
}

// DecodeMessage parses and validates one raw event frame as a Message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed message frame: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, fmt.Errorf("invalid message frame: %w", err)
	}
	return m, nil
}

// DecodeNotification parses and validates one raw event frame as a Notification.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("malformed notification frame: %w", err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, fmt.Errorf("invalid notification frame: %w", err)
	}
	return n, nil
}
