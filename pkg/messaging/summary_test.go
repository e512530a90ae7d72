package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"chattersync/pkg/codec"
	"chattersync/pkg/docstore"
	"chattersync/pkg/docstore/docstoretest"
	"chattersync/pkg/domain"
)

func TestSummaryMergeIsIdempotent(t *testing.T) {
	store := docstoretest.New()
	w := NewSummaryWriter(store)
	ctx := context.Background()
	msg := domain.ChatMessage{ID: "m1", SenderID: "u2", ReceiverID: "u1", Body: "hi"}
	for i := 0; i < 2; i++ {
		if err := w.Merge(ctx, "u1_u2", msg); err != nil {
			t.Fatalf("merge #%d: %v", i, err)
		}
	}
	s, ok, err := w.Summary(ctx, "u1_u2")
	if err != nil || !ok {
		t.Fatalf("summary: ok=%v err=%v", ok, err)
	}
	if s.LastMessageBody != "hi" || s.LastSenderID != "u2" || s.Participants[0] != "u1" || s.Participants[1] != "u2" {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestSummaryMergeKeepsUnrelatedFields(t *testing.T) {
	store := docstoretest.New()
	ctx := context.Background()
	if err := store.Set(ctx, "chats/u1_u2", docstore.Record{"pinned": true}, docstore.Overwrite); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := NewSummaryWriter(store)
	if err := w.Merge(ctx, "u1_u2", domain.ChatMessage{SenderID: "u1", ReceiverID: "u2", Body: "x"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	doc, _ := store.Get(ctx, "chats/u1_u2")
	if doc.Data["pinned"] != true {
		t.Fatalf("merge removed unrelated field: %+v", doc.Data)
	}
}

func TestSummaryMergeRejectsForeignThread(t *testing.T) {
	w := NewSummaryWriter(docstoretest.New())
	err := w.Merge(context.Background(), "u1_u3", domain.ChatMessage{SenderID: "u1", ReceiverID: "u2", Body: "x"})
	if !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

func TestSummaryRebuildUsesNewestMessage(t *testing.T) {
	store := docstoretest.New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, body := range []string{"first", "latest", "middle"} {
		sentAt := base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Minute)
		_, err := store.Add(ctx, codec.MessagesPath("u1_u2"), docstore.Record{
			"senderId": "u2", "receiverId": "u1", "body": body, "sentAt": sentAt, "read": false,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	w := NewSummaryWriter(store)
	msg, ok, err := w.Rebuild(ctx, "u1_u2")
	if err != nil || !ok || msg.Body != "latest" {
		t.Fatalf("rebuild: %+v ok=%v err=%v", msg, ok, err)
	}
	s, _, _ := w.Summary(ctx, "u1_u2")
	if s.LastMessageBody != "latest" || s.LastSenderID != "u2" {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestSummaryRebuildEmptyThread(t *testing.T) {
	w := NewSummaryWriter(docstoretest.New())
	if _, ok, err := w.Rebuild(context.Background(), "u1_u2"); ok || err != nil {
		t.Fatalf("expected no rebuild, ok=%v err=%v", ok, err)
	}
}
