package observability

import (
	"context"
	"testing"
)

// NewMetrics registers on the default registry, so it runs exactly once
// across the package's tests.
func TestMetricsAndNoopTracer(t *testing.T) {
	m := NewMetrics()
	m.SignalFirings.WithLabelValues("cron").Inc()
	m.ToolExecutions.WithLabelValues("call-service", "success").Inc()
	m.HubConnected.Set(1)
	m.LLMRequestDuration.WithLabelValues("anthropic", "claude-3-7-sonnet-latest").Observe(1.25)

	tracer, shutdown := NewTracer(TraceConfig{})
	ctx, span := tracer.Start(context.Background(), "runtime.scheduler_step")
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
	tracer.RecordError(span, nil)
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}
