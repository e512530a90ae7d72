// Package messaging owns the send path and the live message subscription of
// a conversation thread.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chattersync/pkg/codec"
	"chattersync/pkg/docstore"
	"chattersync/pkg/domain"
	"chattersync/pkg/identity"
	"chattersync/pkg/queue"
)

// EventSink receives an event for every appended message.
type EventSink interface {
	Publish(ctx context.Context, ev queue.MessageEvent) error
}

type Config struct {
	Store    docstore.Store
	Identity identity.Provider
	// Summaries defaults to a writer on Store.
	Summaries *SummaryWriter
	// Events is optional.
	Events EventSink
	Logger *slog.Logger
}

type Channel struct {
	store     docstore.Store
	auth      identity.Provider
	summaries *SummaryWriter
	events    EventSink
	logger    *slog.Logger
	now       func() time.Time
}

func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Store == nil {
		return nil, errors.New("messaging: store required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("messaging: identity provider required")
	}
	summaries := cfg.Summaries
	if summaries == nil {
		summaries = NewSummaryWriter(cfg.Store)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		store:     cfg.Store,
		auth:      cfg.Identity,
		summaries: summaries,
		events:    cfg.Events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *Channel) senderID() (string, error) {
	id, ok := c.auth.CurrentIdentity()
	if !ok || id.UID == "" {
		return "", fmt.Errorf("%w: not signed in", domain.ErrAuthUnavailable)
	}
	return id.UID, nil
}

// Send appends a message to the thread shared with receiverID. Once the
// append succeeds the message is durable: the summary merge and the event
// publish that follow are best-effort and only logged on failure.
func (c *Channel) Send(ctx context.Context, receiverID, body string) (domain.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: message body is blank", domain.ErrInvalidParticipant)
	}
	senderID, err := c.senderID()
	if err != nil {
		return domain.ChatMessage{}, err
	}
	thread, err := domain.NewThreadID(senderID, receiverID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	id, err := c.store.Add(ctx, codec.MessagesPath(thread), codec.MessagePayload(senderID, receiverID, body))
	if err != nil {
		return domain.ChatMessage{}, err
	}
	msg := domain.ChatMessage{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		SentAt:     c.now(),
	}
	logger := c.logger.With("thread_id", thread.String(), "message_id", id)
	if err := c.summaries.Merge(ctx, thread, msg); err != nil {
		logger.Warn("conversation summary update failed", "err", err)
	}
	if c.events != nil {
		ev := queue.MessageEvent{
			ThreadID:   thread.String(),
			MessageID:  id,
			SenderID:   senderID,
			ReceiverID: receiverID,
		}
		if err := c.events.Publish(ctx, ev); err != nil {
			logger.Warn("message event publish failed", "err", err)
		}
	}
	return msg, nil
}

// ObserveThread follows the thread shared with withUserID. Every delivery is
// the full history ordered by sentAt ascending; failures deliver an empty
// list and the subscription stays open.
func (c *Channel) ObserveThread(ctx context.Context, withUserID string) (<-chan []domain.ChatMessage, error) {
	self, err := c.senderID()
	if err != nil {
		return nil, err
	}
	thread, err := domain.NewThreadID(self, withUserID)
	if err != nil {
		return nil, err
	}
	events := docstore.StreamQuery(ctx, c.store, docstore.Query{
		Collection: codec.MessagesPath(thread),
		OrderBy:    codec.FieldSentAt,
		Direction:  docstore.Asc,
	})
	out := make(chan []domain.ChatMessage)
	go func() {
		defer close(out)
		for ev := range events {
			messages := []domain.ChatMessage{}
			if ev.Err != nil {
				c.logger.Warn("thread subscription error", "thread_id", thread.String(), "err", ev.Err)
			} else {
				messages = codec.ToChatMessages(ev.Docs, c.now())
			}
			select {
			case out <- messages:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
