package stream

import (
	"fmt"
	"strings"
)

// Topic is the addressable stream key for a conversation or a per-user
// notification channel. Derivation is a pure, total function: identical
// inputs always yield an identical topic.
type Topic string

const (
	conversationTopicPrefix = "conversations"
	notificationTopicPrefix = "notifications"
)

// ConversationTopic derives the topic shared by a pair of participants.
//
// The two identifiers are canonically sorted before joining, so both peers
// compute the same topic regardless of which side is the caller. Positional
// concatenation would silently split one pair across two topics.
func ConversationTopic(idA, idB string) (Topic, error) {
	a := strings.TrimSpace(idA)
	b := strings.TrimSpace(idB)
	if a == "" || b == "" {
		return "", fmt.Errorf("%w: conversation topic requires two participant ids", ErrInvalidTopic)
	}
	if b < a {
		a, b = b, a
	}
	return Topic(fmt.Sprintf("%s/%s-%s", conversationTopicPrefix, a, b)), nil
}

// NotificationTopic derives the per-user notification topic.
func NotificationTopic(userID string) (Topic, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", fmt.Errorf("%w: notification topic requires a user id", ErrInvalidTopic)
	}
	return Topic(fmt.Sprintf("%s/%s", notificationTopicPrefix, id)), nil
}
