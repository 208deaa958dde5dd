// Package runtime chains the pipeline: catalogue changes schedule new
// automations, live signals become handlers, firings run executions.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/hub"
	"github.com/haasonsaas/hearth/internal/observability"
	"github.com/haasonsaas/hearth/internal/signal"
	"github.com/haasonsaas/hearth/internal/store"
	"github.com/haasonsaas/hearth/internal/tools/memory"
)

const (
	// compactInterval and compactMaxAge bound the log retention sweep.
	compactInterval = 24 * time.Hour
	compactMaxAge   = 90 * 24 * time.Hour
)

// Hub is the slice of the hub client the runtime and its tool servers
// need.
type Hub interface {
	FetchStates(ctx context.Context) (map[string]hub.EntityState, error)
	FetchServices(ctx context.Context) (map[string]map[string]hub.ServiceDescriptor, error)
	CallService(ctx context.Context, call hub.Call, testMode bool) error
	NotifyTargets(ctx context.Context) ([]string, error)
	SendNotification(ctx context.Context, target, message, title string, testMode bool) error
	Events() (<-chan hub.Event, func())
}

// Config wires a Runtime.
type Config struct {
	Store     *store.Store
	Catalogue *catalog.Catalogue
	Hub       Hub
	Engine    *agent.Engine
	Driver    agent.Driver
	Model     string

	Location   *time.Location
	MemoryPath string
	CuesDir    string

	// TokenOverrides adjusts per-model budgets, from configuration.
	TokenOverrides map[string]int

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Now is the clock; tests pin it.
	Now func() time.Time
}

// Runtime owns the pipeline goroutines.
type Runtime struct {
	cfg    Config
	logger *slog.Logger
	memory *memory.Server

	// scheduled guards at-most-once scheduling per fingerprint for this
	// process lifetime; the store count guards across restarts.
	scheduledMu sync.Mutex
	scheduled   map[string]bool

	// generation gates firing delivery: a rebuild bumps it, and firings
	// from handlers of an older generation are dropped.
	generation atomic.Int64

	handlersMu     sync.RWMutex
	handlers       []signal.Handler
	cancelHandlers context.CancelFunc

	firings chan signal.Firing
	wg      sync.WaitGroup
}

// New builds a Runtime.
func New(cfg Config) *Runtime {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runtime{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "runtime"),
		memory:    memory.NewServer(cfg.MemoryPath),
		scheduled: make(map[string]bool),
		firings:   make(chan signal.Firing, 16),
	}
}

func (r *Runtime) now() time.Time { return r.cfg.Now().In(r.cfg.Location) }

// Run starts the pipeline and blocks until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	batches, unsubscribe := r.cfg.Catalogue.Subscribe()
	defer unsubscribe()

	if err := r.cfg.Catalogue.Start(ctx); err != nil {
		return err
	}

	r.wg.Add(2)
	go r.executeLoop(ctx)
	go r.maintenanceLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.teardown()
			r.wg.Wait()
			return ctx.Err()
		case automations, ok := <-batches:
			if !ok {
				r.teardown()
				r.wg.Wait()
				return nil
			}
			r.tick(ctx, automations)
		}
	}
}

// tick is one pass of the serial stage chain.
func (r *Runtime) tick(ctx context.Context, automations []catalog.Automation) {
	r.schedule(ctx, automations)
	r.sweepOrphans(ctx, automations)
	r.rebuild(ctx)
}

// schedule runs the scheduler step sequentially over automations not yet
// represented in the store.
func (r *Runtime) schedule(ctx context.Context, automations []catalog.Automation) {
	for _, automation := range automations {
		if ctx.Err() != nil {
			return
		}
		if err := r.scheduleAutomation(ctx, automation); err != nil {
			r.logger.Error("scheduling failed",
				"fingerprint", automation.Fingerprint, "error", err)
		}
	}
}

// sweepOrphans marks signals dead whose fingerprint no longer appears in
// the catalogue. Rows stay for log referential integrity.
func (r *Runtime) sweepOrphans(ctx context.Context, automations []catalog.Automation) {
	present := make(map[string]bool, len(automations))
	for _, automation := range automations {
		present[automation.Fingerprint] = true
	}
	fingerprints, err := r.cfg.Store.ListFingerprintsWithSignals(ctx)
	if err != nil {
		r.logger.Error("orphan sweep failed", "error", err)
		return
	}
	for _, fp := range fingerprints {
		if present[fp] {
			continue
		}
		n, err := r.cfg.Store.MarkSignalsDeadByFingerprint(ctx, fp)
		if err != nil {
			r.logger.Error("orphan sweep failed", "fingerprint", fp, "error", err)
			continue
		}
		if n > 0 {
			r.logger.Info("marked orphaned signals dead", "fingerprint", fp, "count", n)
		}
	}
}

// rebuild replaces the handler set from the live signal rows. The
// generation bump makes the swap atomic for consumers: firings from the
// old set are discarded even if their goroutines are still unwinding.
func (r *Runtime) rebuild(ctx context.Context) {
	signals, err := r.cfg.Store.ListLiveSignals(ctx)
	if err != nil {
		r.logger.Error("handler rebuild failed", "error", err)
		return
	}

	gen := r.generation.Add(1)
	deps := signal.Deps{
		States:   r.cfg.Hub,
		Location: r.cfg.Location,
		Logger:   r.logger,
		Now:      r.cfg.Now,
	}

	handlers := make([]signal.Handler, 0, len(signals))
	for _, sig := range signals {
		automation, ok := r.cfg.Catalogue.ByFingerprint(sig.AutomationFingerprint)
		if !ok {
			continue
		}
		handlers = append(handlers, signal.NewHandler(sig, automation, deps))
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	fire := func(f signal.Firing) {
		if r.generation.Load() != gen {
			return
		}
		select {
		case r.firings <- f:
		case <-handlerCtx.Done():
		}
	}

	r.handlersMu.Lock()
	if r.cancelHandlers != nil {
		r.cancelHandlers()
	}
	r.handlers = handlers
	r.cancelHandlers = cancel
	r.handlersMu.Unlock()

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SignalHandlers.Reset()
	}
	live := 0
	for _, h := range handlers {
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.SignalHandlers.
				WithLabelValues(string(h.Signal().Type), fmt.Sprintf("%t", h.Valid())).Inc()
		}
		if !h.Valid() {
			r.logger.Warn("invalid signal",
				"signal", h.Signal().ID, "reason", h.Description())
			continue
		}
		live++
		r.wg.Add(1)
		go func(h signal.Handler) {
			defer r.wg.Done()
			h.Start(handlerCtx, fire)
		}(h)
	}
	r.logger.Info("handler set rebuilt", "handlers", len(handlers), "live", live)
}

// executeLoop drains firings; each execution runs independently.
func (r *Runtime) executeLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case firing := <-r.firings:
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.SignalFirings.WithLabelValues(string(firing.Signal.Type)).Inc()
			}
			r.wg.Add(1)
			go func(f signal.Firing) {
				defer r.wg.Done()
				if err := r.executeFiring(ctx, f); err != nil {
					r.logger.Error("execution failed",
						"signal", f.Signal.ID, "error", err)
				}
			}(firing)
		}
	}
}

func (r *Runtime) maintenanceLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(compactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.cfg.Store.Compact(ctx, compactMaxAge); err != nil {
				r.logger.Error("compact failed", "error", err)
			}
		}
	}
}

func (r *Runtime) teardown() {
	r.handlersMu.Lock()
	if r.cancelHandlers != nil {
		r.cancelHandlers()
		r.cancelHandlers = nil
	}
	r.handlersMu.Unlock()
}

// HandlerView is the read-only handler row surfaced over RPC.
type HandlerView struct {
	SignalID              int64  `json:"signalId"`
	AutomationFingerprint string `json:"automationFingerprint"`
	Type                  string `json:"type"`
	Description           string `json:"description"`
	Valid                 bool   `json:"valid"`
}

// Automations returns the current catalogue view.
func (r *Runtime) Automations() []catalog.Automation {
	return r.cfg.Catalogue.Automations()
}

// Handlers returns the current handler set.
func (r *Runtime) Handlers() []HandlerView {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	views := make([]HandlerView, 0, len(r.handlers))
	for _, h := range r.handlers {
		views = append(views, HandlerView{
			SignalID:              h.Signal().ID,
			AutomationFingerprint: h.Signal().AutomationFingerprint,
			Type:                  string(h.Signal().Type),
			Description:           h.Description(),
			Valid:                 h.Valid(),
		})
	}
	return views
}

// Signals returns the live signal rows.
func (r *Runtime) Signals(ctx context.Context) ([]signal.Signal, error) {
	return r.cfg.Store.ListLiveSignals(ctx)
}

// Logs returns automation log rows before the given time, newest first.
func (r *Runtime) Logs(ctx context.Context, before time.Time, limit int) ([]store.AutomationLogEntry, error) {
	if before.IsZero() {
		before = r.now().Add(time.Second)
	}
	return r.cfg.Store.ListAutomationLogsBefore(ctx, before, limit)
}

// HubStates returns the filtered entity snapshot.
func (r *Runtime) HubStates(ctx context.Context) (map[string]hub.EntityState, error) {
	states, err := r.cfg.Hub.FetchStates(ctx)
	if err != nil {
		return nil, err
	}
	return hub.FilterUncommon(states, false), nil
}
