// Package email implements the abstract Email sink: send(to, subject,
// body), used only by the alert dispatcher's fallback path after a
// webhook exhausts its retries. This transport is a stub: it logs
// rather than sending, since the real mail provider integration is out
// of scope.
package email

import (
	"context"
	"log/slog"
)

// Sink sends a single fallback email.
type Sink interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LoggingSink is the stub transport: it records the send as a
// structured log line and never fails. Swapping in a real provider
// later only requires a new Sink implementation; nothing else in the
// dispatcher changes.
type LoggingSink struct {
	log *slog.Logger
}

// New creates a LoggingSink.
func New(log *slog.Logger) *LoggingSink {
	return &LoggingSink{log: log}
}

// Send logs the fallback email and returns nil.
func (s *LoggingSink) Send(_ context.Context, to, subject, body string) error {
	s.log.Info("fallback email", "to", to, "subject", subject, "body", body)
	return nil
}
