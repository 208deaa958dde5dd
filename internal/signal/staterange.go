package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/hub"
)

// rangeHandler fires when a numeric entity stays inside [min, max] for the
// configured duration. The in-range timer lives with the handler: it does
// not survive a restart.
type rangeHandler struct {
	base
	entityID string
	min, max float64
	duration time.Duration
	deps     Deps
}

func newRangeHandler(sig Signal, automation catalog.Automation, deps Deps) Handler {
	body, err := DecodeRange(sig)
	if err != nil {
		return newInvalid(sig, automation, err.Error())
	}
	if body.EntityID == "" {
		return newInvalid(sig, automation, "range signal names no entity")
	}
	if body.Min > body.Max {
		return newInvalid(sig, automation,
			fmt.Sprintf("range [%g, %g] is empty", body.Min, body.Max))
	}
	if body.DurationSeconds <= 0 {
		return newInvalid(sig, automation,
			fmt.Sprintf("range duration %d seconds must be positive", body.DurationSeconds))
	}

	return &rangeHandler{
		base: base{
			sig:        sig,
			automation: automation,
			valid:      true,
			description: fmt.Sprintf("when %s stays in [%g, %g] for %s",
				body.EntityID, body.Min, body.Max,
				time.Duration(body.DurationSeconds)*time.Second),
		},
		entityID: body.EntityID,
		min:      body.Min,
		max:      body.Max,
		duration: time.Duration(body.DurationSeconds) * time.Second,
		deps:     deps,
	}
}

func (h *rangeHandler) inRange(state string) (bool, bool) {
	v, err := strconv.ParseFloat(state, 64)
	if err != nil {
		// Non-numeric readings are skipped, not treated as an exit.
		return false, false
	}
	return v >= h.min && v <= h.max, true
}

func (h *rangeHandler) Start(ctx context.Context, fire func(Firing)) {
	var inRangeSince *time.Time
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	timerLive := false

	stopTimer := func() {
		if timerLive && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerLive = false
	}
	enter := func() {
		now := h.deps.now()
		inRangeSince = &now
		stopTimer()
		timer.Reset(h.duration)
		timerLive = true
	}
	exit := func() {
		inRangeSince = nil
		stopTimer()
	}

	// Seed: an entity already inside the range starts its clock now.
	if states, err := h.deps.States.FetchStates(ctx); err == nil {
		if st, ok := states[h.entityID]; ok {
			if in, numeric := h.inRange(st.State); numeric && in {
				enter()
			}
		}
	}

	events, cancel := h.deps.States.Events()
	defer cancel()
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timerLive = false
			if inRangeSince != nil {
				fire(Firing{Signal: h.sig, Automation: h.automation})
				inRangeSince = nil
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.EventType != "state_changed" {
				continue
			}
			var change hub.StateChange
			if err := json.Unmarshal(ev.Data, &change); err != nil {
				continue
			}
			if change.EntityID != h.entityID || change.NewState == nil {
				continue
			}
			in, numeric := h.inRange(change.NewState.State)
			if !numeric {
				continue
			}
			switch {
			case in && inRangeSince == nil:
				enter()
			case !in:
				exit()
			}
		}
	}
}
