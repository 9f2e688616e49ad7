// Package reporting forwards fatal connector errors to Sentry.
package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter sends errors to a dedicated Sentry hub. A Reporter built from an
// empty DSN, or a nil Reporter, drops everything.
type Reporter struct {
	hub *sentry.Hub
}

// New builds a reporter for dsn. release tags every event.
func New(dsn, release string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}
	return newWithOptions(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
}

func newWithOptions(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether events are actually sent.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Capture reports err with the given tags.
func (r *Reporter) Capture(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}
