// internal/notify/notify.go
// Package notify delivers short text messages to reporting users.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/roadcase/roadcase-go/internal/metrics"
)

// Title is shown above every push notification.
const Title = "道路回報"

// Notifier sends text to a user. Callers treat delivery as best effort.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Queue is the part of the event publisher that carries notifications.
type Queue interface {
	PublishNotification(ctx context.Context, userID, text string) error
}

// queueNotifier hands messages to the event stream for a delivery worker.
type queueNotifier struct {
	q Queue
}

// NewQueue returns a Notifier that publishes notification events on q.
func NewQueue(q Queue) Notifier {
	return &queueNotifier{q: q}
}

func (n *queueNotifier) Notify(ctx context.Context, userID, text string) error {
	if err := n.q.PublishNotification(ctx, userID, text); err != nil {
		return fmt.Errorf("queue notification for %s: %w", userID, err)
	}
	return nil
}

// logNotifier only records the message. Used when no channel is configured.
type logNotifier struct {
	log *slog.Logger
}

// NewLog returns a Notifier that writes each message to log.
func NewLog(log *slog.Logger) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) Notify(ctx context.Context, userID, text string) error {
	n.log.InfoContext(ctx, "notification", "user_id", userID, "text", text)
	return nil
}

// sender is implemented by *messaging.Client.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes messages through Firebase Cloud Messaging. Each user's devices
// subscribe to the topic returned by Topic.
type FCM struct {
	client sender
	log    *slog.Logger
}

// NewFCM initializes a Firebase app from a service account file.
func NewFCM(ctx context.Context, credentialsFile string, log *slog.Logger) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	log.Info("firebase messaging client initialized")
	return &FCM{client: client, log: log}, nil
}

// Topic is the FCM topic a user's devices subscribe to.
func Topic(userID string) string {
	return "user-" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '~', r == '%':
			return r
		}
		return '_'
	}, userID)
}

func (f *FCM) Notify(ctx context.Context, userID, text string) error {
	m := metrics.NewMetrics()
	start := time.Now()

	id, err := f.client.Send(ctx, &messaging.Message{
		Notification: &messaging.Notification{Title: Title, Body: text},
		Data:         map[string]string{"userId": userID},
		Topic:        Topic(userID),
	})
	m.UpstreamRequestDuration.WithLabelValues("fcm").Observe(time.Since(start).Seconds())
	if err != nil {
		m.UpstreamRequestTotal.WithLabelValues("fcm", "error").Inc()
		return fmt.Errorf("send fcm message to %s: %w", userID, err)
	}
	m.UpstreamRequestTotal.WithLabelValues("fcm", "ok").Inc()
	f.log.DebugContext(ctx, "fcm message sent", "user_id", userID, "message_id", id)
	return nil
}
