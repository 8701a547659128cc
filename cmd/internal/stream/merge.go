package stream

import (
	"sort"

	v1 "ripple/shared/contracts/stream/v1"
)

// MergeMessage merges one incoming message into an ordered collection.
//
// Rules:
//   - Dedup by ID: if the incoming ID is present and already buffered, the
//     existing slice is returned unchanged. ID-less events append without
//     dedup (defensive fallback for backends that omit the id).
//   - Authorship: when the sender matches the local actor the message is
//     tagged Mine, so self-echoed push events render as "me".
//   - Order: ascending by SentAt, stable for equal timestamps.
//
// The function is pure: it never mutates its inputs and returns a fresh
// slice, so callers holding a previous snapshot stay valid.
func MergeMessage(existing []v1.Message, incoming v1.Message, localActorID string) []v1.Message {
	if incoming.ID != "" {
		for _, m := range existing {
			if m.ID == incoming.ID {
				return existing
			}
		}
	}

	if localActorID != "" && incoming.SenderID == localActorID {
		incoming.Mine = true
	}

	out := make([]v1.Message, 0, len(existing)+1)
	out = append(out, existing...)
	out = append(out, incoming)
	sortMessagesAsc(out)
	return out
}

// MergeNotification mirrors MergeMessage for the notification stream.
// Notifications carry no authorship: they are always addressed to the
// local actor.
func MergeNotification(existing []v1.Notification, incoming v1.Notification) []v1.Notification {
	if incoming.ID != "" {
		for _, n := range existing {
			if n.ID == incoming.ID {
				return existing
			}
		}
	}

	out := make([]v1.Notification, 0, len(existing)+1)
	out = append(out, existing...)
	out = append(out, incoming)
	sortNotificationsAsc(out)
	return out
}

func sortMessagesAsc(items []v1.Message) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].SentAt.Before(items[j].SentAt) })
}

func sortNotificationsAsc(items []v1.Notification) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
}
