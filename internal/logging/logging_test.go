package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestContextWithLogger(t *testing.T) {
	t.Parallel()

	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("expected no logger on a bare context")
	}

	logger := slog.New(slog.DiscardHandler)
	ctx := ContextWithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Fatalf("expected attached logger to be returned")
	}
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Fatalf("nil logger must not derive a new context")
	}
	if got := OrDefault(nil); got != slog.Default() {
		t.Fatalf("expected slog.Default for nil logger")
	}
}

func TestScoped(t *testing.T) {
	t.Parallel()

	var base, request bytes.Buffer
	baseLogger := slog.New(slog.NewJSONHandler(&base, nil))
	requestLogger := slog.New(slog.NewJSONHandler(&request, nil)).With("request_id", "req-1")

	Scoped(context.Background(), baseLogger, "service", "BookingService", "Submit", "booking_id", "b-1").Info("done")
	entry := decode(t, &base)
	if entry["service"] != "BookingService" || entry["operation"] != "Submit" || entry["booking_id"] != "b-1" {
		t.Fatalf("unexpected attributes: %v", entry)
	}

	ctx := ContextWithLogger(context.Background(), requestLogger)
	Scoped(ctx, baseLogger, "handler", "ResourceHandler", "").Info("done")
	entry = decode(t, &request)
	if entry["request_id"] != "req-1" || entry["handler"] != "ResourceHandler" {
		t.Fatalf("expected request logger to win: %v", entry)
	}
	if _, ok := entry["operation"]; ok {
		t.Fatalf("empty operation must be omitted: %v", entry)
	}
	if base.Len() != 0 {
		t.Fatalf("base logger must not be used when the context carries one")
	}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	buf.Reset()
	return entry
}
