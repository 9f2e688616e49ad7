package reporting

import (
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestDisabledReporterIsNoop(t *testing.T) {
	r, err := New("", "test")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r.Enabled() {
		t.Fatalf("empty dsn should disable reporting")
	}
	r.Capture(errors.New("boom"), nil)
	if !r.Flush(0) {
		t.Fatalf("flush on disabled reporter should succeed")
	}

	var nilReporter *Reporter
	nilReporter.Capture(errors.New("boom"), nil)
}

func TestInvalidDSN(t *testing.T) {
	if _, err := New("not a dsn", "test"); err == nil {
		t.Fatalf("expected error for invalid dsn")
	}
}

func TestCaptureSendsTaggedEvent(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	r, err := newWithOptions(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.test/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	r.Capture(errors.New("authentication: invalid credentials"), map[string]string{"stage": "signin"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events=%d, want 1", len(events))
	}
	if events[0].Tags["stage"] != "signin" {
		t.Fatalf("tags=%v, want stage=signin", events[0].Tags)
	}
}
