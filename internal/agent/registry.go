package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/hearth/internal/observability"
)

const (
	// DefaultToolTimeout bounds one tool invocation.
	DefaultToolTimeout = 60 * time.Second

	// AnthropicToolTimeout is the longer budget granted when the
	// conversation runs on the anthropic driver.
	AnthropicToolTimeout = 180 * time.Second

	// maxParallelTools caps concurrent dispatch within one turn.
	maxParallelTools = 10
)

// Registry aggregates the tools of a conversation's servers and dispatches
// calls to them. It is built once per conversation and read-only afterwards.
type Registry struct {
	tools   map[string]Tool
	ordered []Tool
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithToolTimeout overrides the per-invocation timeout.
func WithToolTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryMetrics attaches the process metrics.
func WithRegistryMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry collects the tools of servers. Duplicate names resolve
// first-registered-wins and are logged.
func NewRegistry(servers []ToolServer, opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		timeout: DefaultToolTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, server := range servers {
		for _, tool := range server.Tools() {
			if _, exists := r.tools[tool.Name()]; exists {
				r.logger.Warn("duplicate tool name, first registration wins",
					"tool", tool.Name(), "server", server.Name())
				continue
			}
			r.tools[tool.Name()] = tool
			r.ordered = append(r.ordered, tool)
		}
	}
	return r
}

// Specs returns the driver-facing tool descriptions in registration order.
func (r *Registry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.ordered))
	for _, tool := range r.ordered {
		specs = append(specs, ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return specs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int { return len(r.ordered) }

// Dispatch runs one tool call under the per-invocation timeout. Timeouts,
// errors and panics all come back as IsError tool-results; the outer
// conversation never aborts on a tool failure.
func (r *Registry) Dispatch(ctx context.Context, call ToolCall) ToolResultBlock {
	tool, ok := r.tools[call.Name]
	if !ok {
		return ToolResultBlock{
			CallID:  call.ID,
			Content: fmt.Sprintf("no tool named %q is available", call.Name),
			IsError: true,
		}
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "agent.tool",
		attribute.String("tool.name", call.Name))
	defer span.End()
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool panicked",
					"tool", call.Name, "panic", rec, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, rec)}
			}
		}()
		result, err := tool.Execute(callCtx, call.Input)
		done <- outcome{result: result, err: err}
	}()

	var block ToolResultBlock
	select {
	case out := <-done:
		switch {
		case out.err != nil:
			block = ToolResultBlock{CallID: call.ID, Content: out.err.Error(), IsError: true}
		case out.result == nil:
			block = ToolResultBlock{CallID: call.ID, Content: "tool returned no result", IsError: true}
		default:
			block = ToolResultBlock{CallID: call.ID, Content: out.result.Content, IsError: out.result.IsError}
		}
	case <-callCtx.Done():
		block = ToolResultBlock{
			CallID:  call.ID,
			Content: fmt.Sprintf("tool %s did not finish within %s", call.Name, r.timeout),
			IsError: true,
		}
	}

	if r.metrics != nil {
		status := "success"
		if block.IsError {
			status = "error"
		}
		r.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		r.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	return block
}

// DispatchAll runs the calls in parallel (bounded) and returns their
// results ordered deterministically by call ID.
func (r *Registry) DispatchAll(ctx context.Context, calls []ToolCall) []ToolResultBlock {
	if len(calls) == 0 {
		return nil
	}

	results := make([]ToolResultBlock, len(calls))
	sem := make(chan struct{}, maxParallelTools)
	done := make(chan int, len(calls))
	for i, call := range calls {
		go func(idx int, tc ToolCall) {
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = r.Dispatch(ctx, tc)
			done <- idx
		}(i, call)
	}
	for range calls {
		<-done
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].CallID < results[j].CallID })
	return results
}
