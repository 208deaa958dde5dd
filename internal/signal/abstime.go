package signal

import (
	"context"
	"time"

	"github.com/haasonsaas/hearth/internal/catalog"
)

// timeHandler fires exactly once at an absolute instant. An instant already
// in the past makes the handler invalid; it never fires.
type timeHandler struct {
	base
	at   time.Time
	deps Deps
}

func newTimeHandler(sig Signal, automation catalog.Automation, deps Deps) Handler {
	body, err := DecodeTime(sig)
	if err != nil {
		return newInvalid(sig, automation, err.Error())
	}
	at, err := time.Parse(time.RFC3339, body.ISO8601Time)
	if err != nil {
		return newInvalid(sig, automation, "bad instant "+body.ISO8601Time+": "+err.Error())
	}

	description := "fires at " + at.In(deps.location()).Format(descriptionLayout)
	if !at.After(deps.now()) {
		h := newInvalid(sig, automation, description+" (Past due)")
		return h
	}
	return &timeHandler{
		base: base{sig: sig, automation: automation, valid: true, description: description},
		at:   at,
		deps: deps,
	}
}

func (h *timeHandler) Start(ctx context.Context, fire func(Firing)) {
	timer := time.NewTimer(h.at.Sub(h.deps.now()))
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
		fire(Firing{Signal: h.sig, Automation: h.automation})
	}
}
