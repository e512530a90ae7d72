package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chattersync/pkg/codec"
	"chattersync/pkg/docstore"
	"chattersync/pkg/domain"
	"chattersync/pkg/messaging"
	"chattersync/pkg/queue"
	"chattersync/services/notifier/internal/push"
)

const (
	defaultTitle = "New message"
	defaultBody  = "You have a new message"
)

// Outcome describes what happened to one event.
type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeMissingParticipant Outcome = "missing_participant"
	OutcomeForeignThread      Outcome = "foreign_thread"
	OutcomeNoToken            Outcome = "no_token"
	OutcomeThrottled          Outcome = "throttled"
	OutcomeTokenUnregistered  Outcome = "token_unregistered"
)

// Limiter throttles pushes per receiver.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Dispatcher turns new-message events into device notifications and keeps
// the thread summary reconciled with message history.
type Dispatcher struct {
	store     docstore.Store
	summaries *messaging.SummaryWriter
	pusher    push.Pusher
	limiter   Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher builds a dispatcher. limiter may be nil to disable throttling.
func NewDispatcher(store docstore.Store, pusher push.Pusher, limiter Limiter, logger *slog.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("document store required")
	}
	if pusher == nil {
		return nil, errors.New("pusher required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		summaries: messaging.NewSummaryWriter(store),
		pusher:    pusher,
		limiter:   limiter,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle adapts Dispatch to the queue consumer. Only errors worth retrying
// are returned.
func (d *Dispatcher) Handle(ctx context.Context, ev queue.EventStatus) error {
	outcome, err := d.Dispatch(ctx, ev.Event)
	if err != nil {
		d.logger.Warn("dispatch failed", "event_id", ev.ID, "attempt", ev.Attempts, "err", err)
		return err
	}
	d.logger.Info("event dispatched", "event_id", ev.ID, "thread_id", ev.Event.ThreadID, "outcome", outcome)
	return nil
}

// Dispatch processes one event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev queue.MessageEvent) (Outcome, error) {
	senderID := strings.TrimSpace(ev.SenderID)
	receiverID := strings.TrimSpace(ev.ReceiverID)
	if senderID == "" || receiverID == "" {
		return OutcomeMissingParticipant, nil
	}
	thread, err := domain.NewThreadID(senderID, receiverID)
	if err != nil || thread.String() != ev.ThreadID {
		return OutcomeForeignThread, nil
	}

	var msgDoc, senderDoc, receiverDoc docstore.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, err := d.store.Get(gctx, codec.MessagePath(thread, ev.MessageID))
		msgDoc = doc
		return err
	})
	g.Go(func() error {
		doc, err := d.store.Get(gctx, codec.UserPath(senderID))
		senderDoc = doc
		return err
	})
	g.Go(func() error {
		doc, err := d.store.Get(gctx, codec.UserPath(receiverID))
		receiverDoc = doc
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("load event records: %w", err)
	}

	outcome, err := d.deliver(ctx, ev, msgDoc, senderDoc, receiverDoc)
	if err != nil {
		return "", err
	}
	d.reconcile(ctx, thread)
	return outcome, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev queue.MessageEvent, msgDoc, senderDoc, receiverDoc docstore.Document) (Outcome, error) {
	_, token := codec.ToRecipient(receiverDoc)
	if token == "" {
		return OutcomeNoToken, nil
	}
	title, _ := codec.ToRecipient(senderDoc)
	if title == "" {
		title = defaultTitle
	}
	var body string
	if msg, ok := codec.ToChatMessage(msgDoc, d.now()); ok {
		body = msg.Body
	}
	text := body
	if strings.TrimSpace(text) == "" {
		text = defaultBody
	}

	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, ev.ReceiverID)
		if err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
		if !allowed {
			return OutcomeThrottled, nil
		}
	}

	err := d.pusher.Push(ctx, push.Notification{
		Token: token,
		Title: title,
		Body:  text,
		Data: map[string]string{
			"senderName": title,
			"body":       body,
			"senderId":   ev.SenderID,
			"threadId":   ev.ThreadID,
			"messageId":  ev.MessageID,
		},
	})
	if errors.Is(err, push.ErrUnregistered) {
		if err := d.store.Set(ctx, codec.UserPath(ev.ReceiverID), codec.PushTokenPayload(""), docstore.Merge); err != nil {
			d.logger.Warn("clear push token failed", "uid", ev.ReceiverID, "err", err)
		}
		return OutcomeTokenUnregistered, nil
	}
	if err != nil {
		return "", err
	}
	return OutcomeDelivered, nil
}

func (d *Dispatcher) reconcile(ctx context.Context, thread domain.ThreadID) {
	if _, _, err := d.summaries.Rebuild(ctx, thread); err != nil {
		d.logger.Warn("summary reconcile failed", "thread_id", thread.String(), "err", err)
	}
}
