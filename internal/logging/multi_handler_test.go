package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	t.Parallel()

	var infoBuf, errorBuf bytes.Buffer
	logger := slog.New(MultiHandler(
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
		nil,
	)).With("component", "poller")

	logger.Info("invoice pending", "invoice_id", "INV-1")
	logger.Error("status update failed", "invoice_id", "INV-2")

	if !strings.Contains(infoBuf.String(), "invoice_id=INV-1") || !strings.Contains(infoBuf.String(), "invoice_id=INV-2") {
		t.Fatalf("text handler missing records: %q", infoBuf.String())
	}
	if strings.Contains(errorBuf.String(), "INV-1") {
		t.Fatalf("error handler received info record: %q", errorBuf.String())
	}
	if !strings.Contains(errorBuf.String(), `"component":"poller"`) {
		t.Fatalf("error handler missing attrs: %q", errorBuf.String())
	}
}

func TestFromContext_FallsBackToDiscardLogger(t *testing.T) {
	t.Parallel()

	logger := FromContext(context.Background(), nil)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("dropped")
}

func TestWith_StoresDerivedLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, logger := With(context.Background(), base, "invoice_id", "INV-7")
	logger.Info("direct")
	FromContext(ctx, nil).Info("from context")

	if got := strings.Count(buf.String(), "invoice_id=INV-7"); got != 2 {
		t.Fatalf("expected both records to carry invoice_id, got %d in %q", got, buf.String())
	}
}

func TestFromContext_FallsBackToNoop(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background(), nil) == nil {
		t.Fatal("expected a no-op logger")
	}
}
