package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_DisabledInstallsLocalProvider(t *testing.T) {
	tp, err := Init(context.Background(), Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	if otel.GetTracerProvider() != tp {
		t.Error("global tracer provider was not replaced")
	}

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span with a valid context")
	}
}
