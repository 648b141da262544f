package email

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggingSink_SendNeverFails(t *testing.T) {
	var buf bytes.Buffer
	s := New(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := s.Send(context.Background(), "ops@example.com", "Alert delivery failed", "match XYZ failed 3 times"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "ops@example.com") || !strings.Contains(out, "Alert delivery failed") {
		t.Errorf("expected logged fields in output, got %q", out)
	}
}
