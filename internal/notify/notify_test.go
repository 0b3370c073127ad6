package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"firebase.google.com/go/v4/messaging"
)

type fakeQueue struct {
	userID, text string
	err          error
}

func (f *fakeQueue) PublishNotification(ctx context.Context, userID, text string) error {
	f.userID, f.text = userID, text
	return f.err
}

func TestQueueNotifier(t *testing.T) {
	q := &fakeQueue{}
	if err := NewQueue(q).Notify(context.Background(), "u1", "hello"); err != nil {
		t.Fatal(err)
	}
	if q.userID != "u1" || q.text != "hello" {
		t.Errorf("queued %q %q", q.userID, q.text)
	}

	boom := errors.New("boom")
	q.err = boom
	if err := NewQueue(q).Notify(context.Background(), "u1", "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	if err := NewLog(log).Notify(context.Background(), "u1", "目前總點數：3"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"user_id":"u1"`) {
		t.Errorf("log = %s", buf.String())
	}
}

type fakeSender struct {
	msg *messaging.Message
	err error
}

func (f *fakeSender) Send(ctx context.Context, m *messaging.Message) (string, error) {
	f.msg = m
	return "projects/p/messages/1", f.err
}

func TestFCMNotify(t *testing.T) {
	s := &fakeSender{}
	f := &FCM{client: s, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	if err := f.Notify(context.Background(), "U42", "thanks"); err != nil {
		t.Fatal(err)
	}
	if s.msg.Topic != "user-U42" || s.msg.Notification.Body != "thanks" {
		t.Errorf("message = %+v", s.msg)
	}

	s.err = errors.New("unavailable")
	if err := f.Notify(context.Background(), "U42", "x"); err == nil {
		t.Error("expected send error")
	}
}

func TestTopic(t *testing.T) {
	tests := map[string]string{
		"U42":       "user-U42",
		"a.b_c-d":   "user-a.b_c-d",
		"line:user": "user-line_user",
		"使用者":       "user-___",
	}
	for in, want := range tests {
		if got := Topic(in); got != want {
			t.Errorf("Topic(%q) = %q, want %q", in, got, want)
		}
	}
}
