package messaging

import (
	"context"
	"fmt"
	"time"

	"chattersync/pkg/codec"
	"chattersync/pkg/docstore"
	"chattersync/pkg/domain"
)

// SummaryWriter maintains the denormalized last-message summary of a thread.
type SummaryWriter struct {
	store docstore.Store
	now   func() time.Time
}

func NewSummaryWriter(store docstore.Store) *SummaryWriter {
	return &SummaryWriter{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Merge writes msg as the thread's latest message. Re-applying the same
// message yields the same record apart from updatedAt.
func (w *SummaryWriter) Merge(ctx context.Context, thread domain.ThreadID, msg domain.ChatMessage) error {
	participants, err := domain.Participants(msg.SenderID, msg.ReceiverID)
	if err != nil {
		return err
	}
	if derived, _ := domain.NewThreadID(msg.SenderID, msg.ReceiverID); derived != thread {
		return fmt.Errorf("%w: message %s does not belong to thread %s", domain.ErrInvalidParticipant, msg.ID, thread)
	}
	payload := codec.SummaryPayload(participants, msg.SenderID, msg.Body)
	return w.store.Set(ctx, codec.ThreadPath(thread), payload, docstore.Merge)
}

// Rebuild re-derives the summary from the newest message in the thread.
// ok is false when the thread has no messages.
func (w *SummaryWriter) Rebuild(ctx context.Context, thread domain.ThreadID) (msg domain.ChatMessage, ok bool, err error) {
	docs, err := w.store.Query(ctx, docstore.Query{
		Collection: codec.MessagesPath(thread),
		OrderBy:    codec.FieldSentAt,
		Direction:  docstore.Desc,
		Limit:      1,
	})
	if err != nil {
		return domain.ChatMessage{}, false, err
	}
	if len(docs) == 0 {
		return domain.ChatMessage{}, false, nil
	}
	msg, ok = codec.ToChatMessage(docs[0], w.now())
	if !ok {
		return domain.ChatMessage{}, false, nil
	}
	if err := w.Merge(ctx, thread, msg); err != nil {
		return domain.ChatMessage{}, false, err
	}
	return msg, true, nil
}

// Summary reads the thread summary.
func (w *SummaryWriter) Summary(ctx context.Context, thread domain.ThreadID) (domain.ConversationSummary, bool, error) {
	doc, err := w.store.Get(ctx, codec.ThreadPath(thread))
	if err != nil {
		return domain.ConversationSummary{}, false, err
	}
	s, ok := codec.ToConversationSummary(doc)
	return s, ok, nil
}
