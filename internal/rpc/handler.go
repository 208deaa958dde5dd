package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/hub"
	"github.com/haasonsaas/hearth/internal/runtime"
	"github.com/haasonsaas/hearth/internal/signal"
	"github.com/haasonsaas/hearth/internal/store"
)

// Handler is the method surface exposed over the multiplexer, backed by
// the runtime.
type Handler struct {
	runtime *runtime.Runtime
}

// NewHandler builds the handler.
func NewHandler(r *runtime.Runtime) *Handler {
	return &Handler{runtime: r}
}

// Ping answers pong.
func (h *Handler) Ping() string { return "pong" }

// ListAutomations returns the current catalogue.
func (h *Handler) ListAutomations() []catalog.Automation {
	return h.runtime.Automations()
}

// ListSignals returns the live signal rows.
func (h *Handler) ListSignals(ctx context.Context) ([]signal.Signal, error) {
	return h.runtime.Signals(ctx)
}

// ListHandlers returns the current handler set with validity.
func (h *Handler) ListHandlers() []runtime.HandlerView {
	return h.runtime.Handlers()
}

// ListLogs returns automation log rows before the given RFC 3339
// instant, newest first. An empty instant means now.
func (h *Handler) ListLogs(ctx context.Context, before string, limit int) ([]store.AutomationLogEntry, error) {
	var at time.Time
	if before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return nil, fmt.Errorf("invalid before instant %q: %w", before, err)
		}
		at = parsed
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return h.runtime.Logs(ctx, at, limit)
}

// TriggerAutomation runs an automation immediately.
func (h *Handler) TriggerAutomation(ctx context.Context, fingerprint string) error {
	return h.runtime.TriggerAutomation(ctx, fingerprint)
}

// Chat streams the turns of a free-form conversation.
func (h *Handler) Chat(ctx context.Context, text string) <-chan agent.Message {
	return h.runtime.Chat(ctx, text)
}

// HubStates returns the filtered entity snapshot.
func (h *Handler) HubStates(ctx context.Context) (map[string]hub.EntityState, error) {
	return h.runtime.HubStates(ctx)
}
