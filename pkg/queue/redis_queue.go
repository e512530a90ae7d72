// Package queue carries new-message events from the send path to the
// notification dispatcher over a Redis stream with consumer groups.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chattersync/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// DefaultStream is the stream shared by publishers and the notifier.
const DefaultStream = "chattersync:messages"

// MessageEvent announces a newly appended message.
type MessageEvent struct {
	ThreadID   string `json:"threadId"`
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// EventStatus tracks delivery of one event through the consumer group.
type EventStatus struct {
	ID           string       `json:"id"`
	Event        MessageEvent `json:"event"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Handler processes one event. A returned error schedules a retry until the
// attempt budget is spent.
type Handler func(ctx context.Context, ev EventStatus) error

type RedisMessageQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	statusTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	logger       *slog.Logger
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	StatusTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	Logger     *slog.Logger
}

func NewRedisMessageQueue(cfg RedisQueueConfig) (*RedisMessageQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = DefaultStream
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notifier"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	statusTTL := cfg.StatusTTL
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisMessageQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		statusTTL:    statusTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
		logger:       logger,
	}, nil
}

func validateEvent(ev MessageEvent) error {
	if strings.TrimSpace(ev.ThreadID) == "" || strings.TrimSpace(ev.MessageID) == "" {
		return errors.New("threadId and messageId required")
	}
	return nil
}

// Enqueue appends ev to the stream and records its status as queued.
func (q *RedisMessageQueue) Enqueue(ctx context.Context, ev MessageEvent) (EventStatus, error) {
	if err := validateEvent(ev); err != nil {
		return EventStatus{}, err
	}
	now := time.Now().UTC()
	status := EventStatus{
		ID:        util.NewID(),
		Event:     ev,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return EventStatus{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(status.ID, ev),
	}).Err(); err != nil {
		return EventStatus{}, err
	}
	return status, nil
}

// Publish is Enqueue for callers that only need the error.
func (q *RedisMessageQueue) Publish(ctx context.Context, ev MessageEvent) error {
	_, err := q.Enqueue(ctx, ev)
	return err
}

func (q *RedisMessageQueue) Get(ctx context.Context, id string) (EventStatus, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return EventStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.statusKey(id)).Result()
	if err != nil {
		return EventStatus{}, false, err
	}
	if len(data) == 0 {
		return EventStatus{}, false, nil
	}
	return decodeEventStatus(id, data), true, nil
}

// Start launches concurrency consumers that run until ctx is done.
func (q *RedisMessageQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

// Ping checks the connection.
func (q *RedisMessageQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisMessageQueue) Close() error {
	return q.client.Close()
}

func (q *RedisMessageQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// From the start of the stream: events published before the first
		// consumer came up are still delivered. Acked entries are deleted.
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.logger.Warn("create consumer group failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisMessageQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("read message events failed", "consumer", consumer, "err", err)
				q.pause(ctx)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisMessageQueue) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(q.retryDelay):
	}
}

func (q *RedisMessageQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisMessageQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	id, ev := parseStreamValues(msg.Values)
	if id == "" || validateEvent(ev) != nil {
		q.logger.Warn("dropping malformed message event", "msg_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	status, err := q.markProcessing(ctx, id, ev)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err = handler(ctx, status)
	if err == nil {
		_ = q.markDone(ctx, id)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if status.Attempts >= q.maxRetries {
		q.logger.Warn("message event failed", "event_id", id, "attempts", status.Attempts, "err", err)
		_ = q.markFailed(ctx, id, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.markQueued(ctx, id, err.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	if err := q.requeueAndAck(ctx, msg.ID, id, ev); err != nil {
		q.logger.Warn("requeue message event failed", "event_id", id, "err", err)
	}
}

func (q *RedisMessageQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds the event and retires the old entry atomically, so a
// failure leaves the original pending for XAUTOCLAIM.
func (q *RedisMessageQueue) requeueAndAck(ctx context.Context, msgID, id string, ev MessageEvent) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(id, ev),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisMessageQueue) markProcessing(ctx context.Context, id string, ev MessageEvent) (EventStatus, error) {
	status, _, err := q.Get(ctx, id)
	if err != nil {
		return EventStatus{}, err
	}
	if status.ID == "" {
		status = EventStatus{ID: id}
	}
	status.Event = ev
	status.Attempts++
	status.Status = StatusProcessing
	status.UpdatedAt = time.Now().UTC()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = status.UpdatedAt
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return EventStatus{}, err
	}
	return status, nil
}

func (q *RedisMessageQueue) markQueued(ctx context.Context, id, errMsg string) error {
	return q.transition(ctx, id, StatusQueued, errMsg)
}

func (q *RedisMessageQueue) markDone(ctx context.Context, id string) error {
	return q.transition(ctx, id, StatusDone, "")
}

func (q *RedisMessageQueue) markFailed(ctx context.Context, id, errMsg string) error {
	return q.transition(ctx, id, StatusFailed, errMsg)
}

func (q *RedisMessageQueue) transition(ctx context.Context, id, to, errMsg string) error {
	status, _, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	status.Status = to
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, status)
}

func (q *RedisMessageQueue) writeStatus(ctx context.Context, status EventStatus) error {
	key := q.statusKey(status.ID)
	payload := map[string]any{
		"id":         status.ID,
		"threadId":   status.Event.ThreadID,
		"messageId":  status.Event.MessageID,
		"senderId":   status.Event.SenderID,
		"receiverId": status.Event.ReceiverID,
		"status":     status.Status,
		"error":      status.ErrorMessage,
		"attempts":   strconv.Itoa(status.Attempts),
		"createdAt":  status.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":  status.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.statusTTL).Err()
	return nil
}

func (q *RedisMessageQueue) statusKey(id string) string {
	return fmt.Sprintf("event:%s:%s", q.stream, id)
}

func streamValues(id string, ev MessageEvent) map[string]any {
	return map[string]any{
		"event_id":    id,
		"thread_id":   ev.ThreadID,
		"message_id":  ev.MessageID,
		"sender_id":   ev.SenderID,
		"receiver_id": ev.ReceiverID,
	}
}

func parseStreamValues(values map[string]any) (string, MessageEvent) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	return str("event_id"), MessageEvent{
		ThreadID:   str("thread_id"),
		MessageID:  str("message_id"),
		SenderID:   str("sender_id"),
		ReceiverID: str("receiver_id"),
	}
}

func decodeEventStatus(id string, data map[string]string) EventStatus {
	status := EventStatus{
		ID: id,
		Event: MessageEvent{
			ThreadID:   data["threadId"],
			MessageID:  data["messageId"],
			SenderID:   data["senderId"],
			ReceiverID: data["receiverId"],
		},
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		status.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		status.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		status.UpdatedAt = t
	}
	return status
}
