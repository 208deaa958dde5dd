package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/observability"
	"github.com/haasonsaas/hearth/internal/signal"
	"github.com/haasonsaas/hearth/internal/store"
	"github.com/haasonsaas/hearth/internal/tools/cue"
	"github.com/haasonsaas/hearth/internal/tools/homeassistant"
	"github.com/haasonsaas/hearth/internal/tools/notify"
	"github.com/haasonsaas/hearth/internal/tools/scheduler"
)

// executionServers is the full-access tool set handed to firing,
// manual and chat conversations.
func (r *Runtime) executionServers(fingerprint string) []agent.ToolServer {
	return []agent.ToolServer{
		homeassistant.NewServer(r.cfg.Hub, homeassistant.ModeFull, false),
		notify.NewServer(r.cfg.Hub, false),
		r.memory,
		scheduler.NewServer(r.cfg.Store, fingerprint, scheduler.ModeCancelOnly,
			r.cfg.Location, r.logger, scheduler.WithNow(r.cfg.Now)),
		cue.NewServer(r.cfg.CuesDir),
	}
}

// executeFiring runs one execution step. The signal row is reloaded by
// ID first; a row that vanished under a raced rebuild aborts silently.
func (r *Runtime) executeFiring(ctx context.Context, firing signal.Firing) error {
	sig, err := r.cfg.Store.GetSignal(ctx, firing.Signal.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reload signal: %w", err)
	}
	if sig.IsDead {
		return nil
	}

	r.logger.Info("executing firing",
		"signal", sig.ID, "type", string(sig.Type),
		"fingerprint", sig.AutomationFingerprint)

	ctx, span := observability.StartSpan(ctx, "runtime.execution_step",
		attribute.Int64("signal.id", sig.ID),
		attribute.String("signal.type", string(sig.Type)))

	status := "ok"
	err = r.converseAndLog(ctx, store.AutomationLogEntry{
		Type:                  store.LogExecuteSignal,
		AutomationFingerprint: sig.AutomationFingerprint,
		SignalID:              sig.ID,
	}, agent.Conversation{
		Driver:         r.cfg.Driver,
		Model:          r.cfg.Model,
		System:         executionSystemPrompt,
		Prompt:         executionPrompt(sig, firing.Automation, r.now()),
		Servers:        r.executionServers(sig.AutomationFingerprint),
		TokenOverrides: r.cfg.TokenOverrides,
	})
	if err != nil {
		status = "error"
	}
	observability.EndSpan(span, err)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Executions.WithLabelValues(status).Inc()
	}
	return err
}

// TriggerAutomation runs an automation immediately, bypassing its
// triggers. Records a manual log row.
func (r *Runtime) TriggerAutomation(ctx context.Context, fingerprint string) error {
	automation, ok := r.cfg.Catalogue.ByFingerprint(fingerprint)
	if !ok {
		return fmt.Errorf("no automation with fingerprint %s", fingerprint)
	}
	return r.converseAndLog(ctx, store.AutomationLogEntry{
		Type:                  store.LogManual,
		AutomationFingerprint: fingerprint,
	}, agent.Conversation{
		Driver:         r.cfg.Driver,
		Model:          r.cfg.Model,
		System:         executionSystemPrompt,
		Prompt:         manualPrompt(automation, r.now()),
		Servers:        r.executionServers(fingerprint),
		TokenOverrides: r.cfg.TokenOverrides,
	})
}

// Chat runs a free-form conversation with the full tool set, streaming
// the turns. The complete message log lands in a chat log row when the
// conversation ends.
func (r *Runtime) Chat(ctx context.Context, text string) <-chan agent.Message {
	out := make(chan agent.Message, 1)
	go func() {
		defer close(out)
		turns := r.cfg.Engine.Converse(ctx, agent.Conversation{
			Driver:         r.cfg.Driver,
			Model:          r.cfg.Model,
			System:         chatSystemPrompt,
			Prompt:         text,
			Servers:        r.executionServers(""),
			TokenOverrides: r.cfg.TokenOverrides,
		})
		var log []agent.Message
		for turn := range turns {
			log = append(log, turn)
			select {
			case out <- turn:
			case <-ctx.Done():
				return
			}
		}
		_, err := r.cfg.Store.InsertAutomationLog(context.WithoutCancel(ctx), store.AutomationLogEntry{
			Type:       store.LogChat,
			MessageLog: agent.MarshalLog(log),
		})
		if err != nil {
			r.logger.Error("recording chat log failed", "error", err)
		}
	}()
	return out
}

// converseAndLog drives one conversation to completion and persists the
// message log. A partial log from a failed conversation is persisted too.
func (r *Runtime) converseAndLog(ctx context.Context, entry store.AutomationLogEntry, conv agent.Conversation) error {
	turns := r.cfg.Engine.Converse(ctx, conv)
	var log []agent.Message
	for turn := range turns {
		log = append(log, turn)
	}
	entry.MessageLog = agent.MarshalLog(log)
	if _, err := r.cfg.Store.InsertAutomationLog(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("record %s log: %w", entry.Type, err)
	}
	return nil
}
