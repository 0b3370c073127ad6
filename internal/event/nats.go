// internal/event/nats.go
// Package event provides NATS JetStream publishing of case lifecycle events.
// Downstream consumers use the stream for notifications and audit trails.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/roadcase/roadcase-go/internal/metrics"
	"github.com/roadcase/roadcase-go/internal/model"
)

// Subjects published by the service.
const (
	SubjectCaseCreated    = "roadcase.cases.created"
	SubjectStatusChanged  = "roadcase.cases.status_changed"
	SubjectPhotoAppended  = "roadcase.cases.photo_appended"
	SubjectCommentAdded   = "roadcase.cases.comment_added"
	SubjectNotification   = "roadcase.notify.user"
	envelopeVersion       = "1.0.0"
	dedupWindow           = 2 * time.Minute
	dedupRetention        = 5 * time.Minute
	streamCases           = "ROAD_CASES"
	streamNotifications   = "ROAD_NOTIFY"
	correlationContextKey = ctxKey("correlationId")
)

type ctxKey string

// WithCorrelationID returns a context carrying the request correlation id,
// which is copied onto every envelope published under it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationContextKey, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationContextKey).(string)
	return id
}

// Publisher interface defines the event publishing operations required by the case service.
type Publisher interface {
	// Case events
	PublishCaseCreated(ctx context.Context, c model.Case) error
	PublishStatusChanged(ctx context.Context, caseID string, from, to model.Status) error
	PublishPhotoAppended(ctx context.Context, caseID string, photo model.PhotoEntry) error
	PublishCommentAdded(ctx context.Context, comment model.Comment) error

	// PublishNotification queues a user-facing message for delivery.
	PublishNotification(ctx context.Context, userID, text string) error

	// Close closes the publisher connection
	Close() error
}

// StatusChange is the payload of a status changed event.
type StatusChange struct {
	CaseID string       `json:"caseId"`
	From   model.Status `json:"from"`
	To     model.Status `json:"to"`
}

// PhotoAppended is the payload of a photo appended event.
type PhotoAppended struct {
	CaseID string           `json:"caseId"`
	Photo  model.PhotoEntry `json:"photo"`
}

// Notification is the payload of a user notification event.
type Notification struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// NewEnvelope wraps payload for subject, taking the correlation id from ctx
// or minting one.
func NewEnvelope(ctx context.Context, subject string, payload interface{}, now time.Time) EventEnvelope {
	cid := CorrelationID(ctx)
	if cid == "" {
		cid = uuid.New().String()
	}
	return EventEnvelope{
		Type:          subject,
		Version:       envelopeVersion,
		OccurredAt:    now.UTC(),
		CorrelationID: cid,
		Payload:       payload,
	}
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
type noop struct{}

// NewNoop returns a Publisher that discards every event.
func NewNoop() Publisher { return &noop{} }

func (n *noop) Close() error { return nil }

func (n *noop) PublishCaseCreated(ctx context.Context, c model.Case) error { return nil }

func (n *noop) PublishStatusChanged(ctx context.Context, caseID string, from, to model.Status) error {
	return nil
}

func (n *noop) PublishPhotoAppended(ctx context.Context, caseID string, photo model.PhotoEntry) error {
	return nil
}

func (n *noop) PublishCommentAdded(ctx context.Context, comment model.Comment) error { return nil }

func (n *noop) PublishNotification(ctx context.Context, userID, text string) error { return nil }

// jetStream is the subset of nats.JetStreamContext used for publishing.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc  *nats.Conn // NATS connection, nil in tests
	js  jetStream  // JetStream context for stream operations
	now func() time.Time

	// Case created and status changed events are deduplicated per key
	dedup map[string]time.Time
	mutex sync.Mutex
}

// NewPublisher connects to url and returns a JetStream publisher.
// If url is empty or the connection fails, it returns a no-op publisher
// so the service keeps working without event streaming.
func NewPublisher(url string, log *slog.Logger) Publisher {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url, nats.Name("roadcase"))
	if err != nil {
		log.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		log.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{nc: nc, js: js, now: time.Now, dedup: make(map[string]time.Time)}
}

// initStreams creates the case and notification streams if they are missing.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamCases,
		Subjects:  []string{"roadcase.cases.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", streamCases, err)
	}

	// Notifications are consumed once by the delivery worker
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamNotifications,
		Subjects:  []string{"roadcase.notify.*"},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", streamNotifications, err)
	}

	return nil
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup reports whether key was published within the dedup window.
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	last, ok := p.dedup[key]
	return ok && p.now().Sub(last) < dedupWindow
}

// updateDedup records key as published now and drops stale entries.
func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	cutoff := now.Add(-dedupRetention)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = now
}

// publish wraps payload in an envelope and sends it to subject. A non-empty
// dedupKey suppresses repeats inside the dedup window.
func (p *natsPub) publish(ctx context.Context, subject, dedupKey string, payload interface{}) error {
	if dedupKey != "" && p.shouldDedup(dedupKey) {
		return nil
	}

	m := metrics.NewMetrics()
	start := time.Now()

	b, err := json.Marshal(NewEnvelope(ctx, subject, payload, p.now()))
	if err != nil {
		m.EventPublishTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}

	_, err = p.js.Publish(subject, b, nats.Context(ctx))
	m.EventPublishDuration.WithLabelValues(subject).Observe(time.Since(start).Seconds())
	if err != nil {
		m.EventPublishTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	m.EventPublishTotal.WithLabelValues(subject, "ok").Inc()

	if dedupKey != "" {
		p.updateDedup(dedupKey)
	}
	return nil
}

func (p *natsPub) PublishCaseCreated(ctx context.Context, c model.Case) error {
	return p.publish(ctx, SubjectCaseCreated, "created:"+c.CaseID, c)
}

func (p *natsPub) PublishStatusChanged(ctx context.Context, caseID string, from, to model.Status) error {
	return p.publish(ctx, SubjectStatusChanged, "status:"+caseID+":"+string(to),
		StatusChange{CaseID: caseID, From: from, To: to})
}

func (p *natsPub) PublishPhotoAppended(ctx context.Context, caseID string, photo model.PhotoEntry) error {
	return p.publish(ctx, SubjectPhotoAppended, "", PhotoAppended{CaseID: caseID, Photo: photo})
}

func (p *natsPub) PublishCommentAdded(ctx context.Context, comment model.Comment) error {
	return p.publish(ctx, SubjectCommentAdded, "", comment)
}

func (p *natsPub) PublishNotification(ctx context.Context, userID, text string) error {
	return p.publish(ctx, SubjectNotification, "", Notification{UserID: userID, Text: text})
}
