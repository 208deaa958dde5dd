package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/hearth/internal/observability"
)

const (
	// maxIterations caps the tool loop.
	maxIterations = 10

	// responseReserve is the per-turn output allowance.
	responseReserve = 4000

	// minResponseCap below which the budget counts as exhausted.
	minResponseCap = 1000

	// budgetHighWater stops the loop once estimated usage passes it.
	budgetHighWater = 0.9

	// defaultRequestTimeout bounds one provider call; local models get
	// longer.
	defaultRequestTimeout = 100 * time.Second
	ollamaRequestTimeout  = 300 * time.Second
)

const timeoutApology = "I'm sorry, that request timed out before the model answered. Continuing."

// Sampling defaults, applied where the driver's wire supports them.
const (
	defaultTemperature = 0.7
	defaultTopP        = 0.9
	defaultTopK        = 40
)

// Conversation is one prompt-with-tools run.
type Conversation struct {
	Driver  Driver
	Model   string
	System  string
	Prompt  string
	Servers []ToolServer

	// Previous seeds the history; when non-empty the system prompt is not
	// re-emitted.
	Previous []Message

	// TokenOverrides adjusts the model budget table, keyed by model name.
	TokenOverrides map[string]int
}

// Engine drives conversations. Safe for concurrent use; each Converse call
// is independent.
type Engine struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	// requestTimeout, when non-zero, overrides the per-driver provider
	// timeout; tests shrink it.
	requestTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches the process metrics.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithRequestTimeout overrides the provider call timeout.
func WithRequestTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.requestTimeout = d }
}

// NewEngine builds an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Converse runs the bounded tool loop and yields each turn as soon as it is
// finalised. The channel closes when the loop stops: final answer, budget
// exhausted, iteration cap, unrecoverable provider error, or cancellation.
// Whatever was yielded before a failure is the partial message log.
func (e *Engine) Converse(ctx context.Context, conv Conversation) <-chan Message {
	out := make(chan Message, 1)
	go func() {
		defer close(out)
		e.run(ctx, conv, out)
	}()
	return out
}

func (e *Engine) run(ctx context.Context, conv Conversation, out chan<- Message) {
	driver := conv.Driver
	logger := e.logger.With("driver", driver.Name(), "model", conv.Model)

	ctx, span := observability.StartSpan(ctx, "agent.converse",
		attribute.String("llm.driver", driver.Name()),
		attribute.String("llm.model", conv.Model))
	defer span.End()

	yield := func(m Message) bool {
		select {
		case out <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}

	history := make([]Message, 0, len(conv.Previous)+4)
	history = append(history, conv.Previous...)
	if conv.Prompt != "" {
		prompt := TextMessage(RoleUser, conv.Prompt)
		history = append(history, prompt)
		if !yield(prompt) {
			return
		}
	}

	system := conv.System
	if len(conv.Previous) > 0 {
		system = ""
	}

	toolTimeout := DefaultToolTimeout
	if driver.Name() == "anthropic" {
		toolTimeout = AnthropicToolTimeout
	}
	registry := NewRegistry(conv.Servers,
		WithToolTimeout(toolTimeout),
		WithRegistryLogger(logger),
		WithRegistryMetrics(e.metrics))
	specs := registry.Specs()

	requestTimeout := e.requestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
		if driver.Name() == "ollama" {
			requestTimeout = ollamaRequestTimeout
		}
	}

	budget := TokenBudget(driver.Name(), conv.Model, conv.TokenOverrides)
	if _, overridden := conv.TokenOverrides[conv.Model]; !overridden {
		if reporter, ok := driver.(ContextReporter); ok {
			if n, err := reporter.ContextLength(ctx, conv.Model); err == nil && n > 0 {
				budget = n
			} else if err != nil {
				logger.Warn("context length lookup failed, using fallback",
					"budget", budget, "error", err)
			}
		}
	}
	used := 0

	for iter := 0; iter < maxIterations; iter++ {
		responseCap := responseReserve
		if half := (budget - used) / 2; half < responseCap {
			responseCap = half
		}
		if responseCap < minResponseCap {
			logger.Info("token budget exhausted", "used", used, "budget", budget)
			return
		}

		resp, err := e.complete(ctx, driver, &Request{
			Model:       conv.Model,
			System:      system,
			Messages:    history,
			Tools:       specs,
			MaxTokens:   responseCap,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
			TopK:        defaultTopK,
		}, requestTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				logger.Warn("provider call timed out, continuing", "iteration", iter)
				apology := TextMessage(RoleAssistant, timeoutApology)
				history = append(history, apology)
				if !yield(apology) {
					return
				}
				continue
			}
			logger.Error("provider call failed", "iteration", iter, "error", err)
			return
		}

		if resp.InputTokens > 0 || resp.OutputTokens > 0 {
			used = resp.InputTokens + resp.OutputTokens
		} else {
			used += estimateMessage(resp.Message)
		}
		if e.metrics != nil {
			e.metrics.LLMTokens.WithLabelValues(driver.Name(), "input").Add(float64(resp.InputTokens))
			e.metrics.LLMTokens.WithLabelValues(driver.Name(), "output").Add(float64(resp.OutputTokens))
		}

		assistant := resp.Message
		assistant.Role = RoleAssistant
		history = append(history, assistant)
		if !yield(assistant) {
			return
		}

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			return
		}

		results := registry.DispatchAll(ctx, calls)
		blocks := make([]Block, 0, len(results))
		for i := range results {
			blocks = append(blocks, Block{Type: BlockToolResult, ToolResult: &results[i]})
		}
		bundle := Message{Role: RoleUser, Blocks: blocks}
		history = append(history, bundle)
		if !yield(bundle) {
			return
		}

		used += estimateMessage(bundle)
		if float64(used) > budgetHighWater*float64(budget) {
			logger.Info("stopping near token budget", "used", used, "budget", budget)
			return
		}
	}
	logger.Info("iteration cap reached", "iterations", maxIterations)
}

// complete performs one provider call under its timeout, recording metrics.
func (e *Engine) complete(ctx context.Context, driver Driver, req *Request, timeout time.Duration) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := driver.Complete(callCtx, req)
	if e.metrics != nil {
		status := "success"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		case err != nil:
			status = "error"
		}
		e.metrics.LLMRequestCounter.WithLabelValues(driver.Name(), req.Model, status).Inc()
		e.metrics.LLMRequestDuration.WithLabelValues(driver.Name(), req.Model).Observe(time.Since(start).Seconds())
	}
	return resp, err
}
