package stream

import (
	"testing"
	"time"

	v1 "ripple/shared/contracts/stream/v1"
)

func msgAt(id, sender string, at time.Time) v1.Message {
	return v1.Message{ID: id, SenderID: sender, Content: "m-" + id, SentAt: at}
}

func TestMergeMessage_OrdersOutOfOrderArrivals(t *testing.T) {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	// Arrival order 1, 3, 2; timestamps 10:00, 10:02, 10:05.
	var items []v1.Message
	items = MergeMessage(items, msgAt("1", "alice", base), "me")
	items = MergeMessage(items, msgAt("3", "alice", base.Add(2*time.Minute)), "me")
	items = MergeMessage(items, msgAt("2", "alice", base.Add(5*time.Minute)), "me")

	want := []string{"1", "3", "2"}
	if len(items) != len(want) {
		t.Fatalf("len=%d want=%d", len(items), len(want))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("index %d: got=%s want=%s", i, items[i].ID, id)
		}
	}
}

func TestMergeMessage_DedupByID(t *testing.T) {
	base := time.Now().UTC()
	items := MergeMessage(nil, msgAt("1", "alice", base), "me")

	again := MergeMessage(items, msgAt("1", "alice", base), "me")
	if len(again) != 1 {
		t.Fatalf("duplicate not absorbed: len=%d", len(again))
	}

	// A duplicate id wins even when the copy carries a different timestamp.
	later := MergeMessage(items, msgAt("1", "alice", base.Add(time.Hour)), "me")
	if len(later) != 1 {
		t.Fatalf("duplicate with different sent_at not absorbed: len=%d", len(later))
	}
}

func TestMergeMessage_IDLessAppends(t *testing.T) {
	base := time.Now().UTC()
	items := MergeMessage(nil, msgAt("", "alice", base), "me")
	items = MergeMessage(items, msgAt("", "alice", base), "me")
	if len(items) != 2 {
		t.Fatalf("id-less events must append without dedup: len=%d", len(items))
	}
}

func TestMergeMessage_TagsAuthorship(t *testing.T) {
	base := time.Now().UTC()
	items := MergeMessage(nil, msgAt("1", "me", base), "me")
	items = MergeMessage(items, msgAt("2", "peer", base.Add(time.Second)), "me")

	if !items[0].Mine {
		t.Fatalf("own message not tagged")
	}
	if items[1].Mine {
		t.Fatalf("peer message tagged as own")
	}
}

func TestMergeMessage_DoesNotMutateInput(t *testing.T) {
	base := time.Now().UTC()
	existing := []v1.Message{
		msgAt("2", "alice", base.Add(time.Minute)),
	}
	snapshot := existing[0]

	merged := MergeMessage(existing, msgAt("1", "alice", base), "me")

	if existing[0] != snapshot {
		t.Fatalf("input slice mutated: %+v", existing[0])
	}
	if len(existing) != 1 || len(merged) != 2 {
		t.Fatalf("len existing=%d merged=%d", len(existing), len(merged))
	}
	if merged[0].ID != "1" || merged[1].ID != "2" {
		t.Fatalf("merged order wrong: %s, %s", merged[0].ID, merged[1].ID)
	}
}

func TestMergeMessage_StableForEqualTimestamps(t *testing.T) {
	at := time.Now().UTC()
	var items []v1.Message
	items = MergeMessage(items, msgAt("a", "alice", at), "me")
	items = MergeMessage(items, msgAt("b", "alice", at), "me")
	items = MergeMessage(items, msgAt("c", "alice", at), "me")

	for i, id := range []string{"a", "b", "c"} {
		if items[i].ID != id {
			t.Fatalf("equal-timestamp order not stable: index %d got=%s want=%s", i, items[i].ID, id)
		}
	}
}

func TestMergeNotification(t *testing.T) {
	base := time.Now().UTC()
	n1 := v1.Notification{ID: "n1", Title: "first", CreatedAt: base.Add(time.Minute)}
	n2 := v1.Notification{ID: "n2", Title: "second", CreatedAt: base}

	var items []v1.Notification
	items = MergeNotification(items, n1)
	items = MergeNotification(items, n2)
	if len(items) != 2 || items[0].ID != "n2" || items[1].ID != "n1" {
		t.Fatalf("unexpected order: %+v", items)
	}

	items = MergeNotification(items, n1)
	if len(items) != 2 {
		t.Fatalf("duplicate notification not absorbed: len=%d", len(items))
	}
}
