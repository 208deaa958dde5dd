package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/observability"
	"github.com/haasonsaas/hearth/internal/store"
	"github.com/haasonsaas/hearth/internal/tools/homeassistant"
	"github.com/haasonsaas/hearth/internal/tools/scheduler"
)

// scheduleAutomation runs one scheduler step. Skips fingerprints already
// represented in the store (restart idempotence) or already visited this
// process (at-most-once per lifetime). The model inserts the signals
// through the scheduler tools; nothing is post-processed here.
func (r *Runtime) scheduleAutomation(ctx context.Context, automation catalog.Automation) error {
	r.scheduledMu.Lock()
	if r.scheduled[automation.Fingerprint] {
		r.scheduledMu.Unlock()
		return nil
	}
	r.scheduled[automation.Fingerprint] = true
	r.scheduledMu.Unlock()

	count, err := r.cfg.Store.CountSignalsByFingerprint(ctx, automation.Fingerprint)
	if err != nil {
		return fmt.Errorf("count signals: %w", err)
	}
	if count > 0 {
		return nil
	}

	r.logger.Info("scheduling automation",
		"fingerprint", automation.Fingerprint, "source", automation.SourcePath)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SchedulerSteps.WithLabelValues("run").Inc()
	}

	ctx, span := observability.StartSpan(ctx, "runtime.scheduler_step",
		attribute.String("automation.fingerprint", automation.Fingerprint))
	defer span.End()

	observations, err := r.memory.Observations()
	if err != nil {
		r.logger.Warn("reading observations failed", "error", err)
	}

	servers := []agent.ToolServer{
		homeassistant.NewServer(r.cfg.Hub, homeassistant.ModeReadOnly, false),
		scheduler.NewServer(r.cfg.Store, automation.Fingerprint, scheduler.ModeFull,
			r.cfg.Location, r.logger, scheduler.WithNow(r.cfg.Now)),
	}

	turns := r.cfg.Engine.Converse(ctx, agent.Conversation{
		Driver:         r.cfg.Driver,
		Model:          r.cfg.Model,
		System:         schedulingSystemPrompt,
		Prompt:         schedulingPrompt(automation, r.now(), observations),
		Servers:        servers,
		TokenOverrides: r.cfg.TokenOverrides,
	})
	var log []agent.Message
	for turn := range turns {
		log = append(log, turn)
	}

	_, err = r.cfg.Store.InsertAutomationLog(context.WithoutCancel(ctx), store.AutomationLogEntry{
		Type:                  store.LogDetermineSignal,
		AutomationFingerprint: automation.Fingerprint,
		MessageLog:            agent.MarshalLog(log),
	})
	if err != nil {
		return fmt.Errorf("record scheduling log: %w", err)
	}
	return nil
}
