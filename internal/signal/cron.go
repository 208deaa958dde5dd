package signal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/hearth/internal/catalog"
)

// cronHandler fires at each occurrence of a standard 5-field expression,
// evaluated in the configured timezone, until the schedule has no next
// date.
type cronHandler struct {
	base
	sched cron.Schedule
	deps  Deps
}

func newCronHandler(sig Signal, automation catalog.Automation, deps Deps) Handler {
	body, err := DecodeCron(sig)
	if err != nil {
		return newInvalid(sig, automation, err.Error())
	}
	sched, err := cron.ParseStandard(body.Cron)
	if err != nil {
		return newInvalid(sig, automation, "bad cron expression "+body.Cron+": "+err.Error())
	}

	h := &cronHandler{
		base:  base{sig: sig, automation: automation, valid: true},
		sched: sched,
		deps:  deps,
	}
	next := sched.Next(deps.now().In(deps.location()))
	if next.IsZero() {
		h.description = "cron " + body.Cron + " (never fires)"
	} else {
		h.description = "next firing " + next.Format(descriptionLayout)
	}
	return h
}

func (h *cronHandler) Start(ctx context.Context, fire func(Firing)) {
	for {
		now := h.deps.now().In(h.deps.location())
		next := h.sched.Next(now)
		if next.IsZero() {
			return
		}
		// Sleep relative to the injected clock, not the wall clock.
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fire(Firing{Signal: h.sig, Automation: h.automation})
		}
	}
}
