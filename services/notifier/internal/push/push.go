// Package push delivers device notifications.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// ErrUnregistered reports a device token the provider no longer accepts.
// Retrying the same token cannot succeed.
var ErrUnregistered = errors.New("push token unregistered")

// Notification is one message addressed to a single device.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type Pusher interface {
	Push(ctx context.Context, n Notification) error
}

// FCMPusher sends through Firebase Cloud Messaging.
type FCMPusher struct {
	client *messaging.Client
}

// NewFCMPusher initializes a Firebase app for projectID. An empty
// credentialsFile falls back to application default credentials.
func NewFCMPusher(ctx context.Context, projectID, credentialsFile string) (*FCMPusher, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firebase project required")
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

func (p *FCMPusher) Push(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.Token) == "" {
		return errors.New("push token required")
	}
	_, err := p.client.Send(ctx, &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("%w: %v", ErrUnregistered, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// LogPusher only logs notifications. Used for local runs without FCM.
type LogPusher struct {
	logger *slog.Logger
}

func NewLogPusher(logger *slog.Logger) *LogPusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPusher{logger: logger}
}

func (p *LogPusher) Push(ctx context.Context, n Notification) error {
	p.logger.InfoContext(ctx, "push notification", "title", n.Title, "body", n.Body, "data", n.Data)
	return nil
}
