package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
)

func TestSpanTreeUsesRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&buf, "debug", "text"))
	defer slog.SetDefault(prev)

	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "dispatcher.process")
	root.SetAttr("entity_id", "f1")
	_, child := Start(ctx, "ocr.extract_sync")
	child.End()

	if child.TraceID != "req-1" || len(root.Children) != 1 {
		t.Fatalf("child = %+v, root children = %d", child, len(root.Children))
	}
	if strings.Contains(buf.String(), "span=") {
		t.Fatal("child end must not log the tree")
	}

	root.End()
	out := buf.String()
	for _, want := range []string{"span=dispatcher.process", "span=ocr.extract_sync", "trace_id=req-1", "entity_id=f1", "depth=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRootWithoutRequestIDGetsTraceID(t *testing.T) {
	_, span := Start(context.Background(), "approval.approve")
	if span.TraceID == "" {
		t.Fatal("root span without request id needs a trace id")
	}
	if FromContext(context.Background()) != nil {
		t.Error("empty context has no span")
	}
}
