package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roadcase/roadcase-go/internal/model"
)

type fakeJS struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (f *fakeJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, &nats.Msg{Subject: subj, Data: data})
	return &nats.PubAck{Stream: "test"}, nil
}

func newTestPublisher(js jetStream, now *time.Time) *natsPub {
	return &natsPub{js: js, now: func() time.Time { return *now }, dedup: make(map[string]time.Time)}
}

func TestNewEnvelopeCorrelation(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	env := NewEnvelope(WithCorrelationID(context.Background(), "req-1"), SubjectCaseCreated, "x", now)
	if env.CorrelationID != "req-1" || env.Type != SubjectCaseCreated || env.Version != envelopeVersion {
		t.Errorf("envelope = %+v", env)
	}

	env = NewEnvelope(context.Background(), SubjectCaseCreated, "x", now)
	if env.CorrelationID == "" {
		t.Error("expected a generated correlation id")
	}
}

func TestPublishCaseCreated(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	js := &fakeJS{}
	p := newTestPublisher(js, &now)

	c := model.Case{CaseID: "A000001", Status: model.StatusUnprocessed, Category: "道路養護"}
	if err := p.PublishCaseCreated(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if len(js.msgs) != 1 || js.msgs[0].Subject != SubjectCaseCreated {
		t.Fatalf("messages = %+v", js.msgs)
	}

	var env struct {
		Type    string     `json:"type"`
		Payload model.Case `json:"payload"`
	}
	if err := json.Unmarshal(js.msgs[0].Data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Payload.CaseID != "A000001" {
		t.Errorf("payload case = %q", env.Payload.CaseID)
	}
}

func TestPublishDedupWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	js := &fakeJS{}
	p := newTestPublisher(js, &now)
	ctx := context.Background()

	_ = p.PublishStatusChanged(ctx, "A000001", model.StatusUnprocessed, model.StatusInProgress)
	_ = p.PublishStatusChanged(ctx, "A000001", model.StatusUnprocessed, model.StatusInProgress)
	if len(js.msgs) != 1 {
		t.Fatalf("published %d, want 1 inside window", len(js.msgs))
	}

	now = now.Add(dedupWindow + time.Second)
	_ = p.PublishStatusChanged(ctx, "A000001", model.StatusUnprocessed, model.StatusInProgress)
	if len(js.msgs) != 2 {
		t.Fatalf("published %d, want 2 after window", len(js.msgs))
	}

	// Notifications are never deduplicated
	_ = p.PublishNotification(ctx, "u1", "hi")
	_ = p.PublishNotification(ctx, "u1", "hi")
	if len(js.msgs) != 4 {
		t.Errorf("published %d, want 4", len(js.msgs))
	}
}

func TestPublishFailureNotRecordedForDedup(t *testing.T) {
	now := time.Now()
	js := &fakeJS{err: errors.New("no responders")}
	p := newTestPublisher(js, &now)

	if err := p.PublishCaseCreated(context.Background(), model.Case{CaseID: "A000001"}); err == nil {
		t.Fatal("expected publish error")
	}
	js.err = nil
	if err := p.PublishCaseCreated(context.Background(), model.Case{CaseID: "A000001"}); err != nil {
		t.Fatal(err)
	}
	if len(js.msgs) != 1 {
		t.Errorf("retry after failure was suppressed")
	}
}

func TestNewPublisherWithoutURL(t *testing.T) {
	p := NewPublisher("", nil)
	if _, ok := p.(*noop); !ok {
		t.Fatalf("got %T, want noop", p)
	}
	if err := p.PublishNotification(context.Background(), "u1", "x"); err != nil {
		t.Error(err)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}
