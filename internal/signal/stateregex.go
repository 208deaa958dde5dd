package signal

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/debounce"
	"github.com/haasonsaas/hearth/internal/hub"
)

// DefaultStateDelay rate-limits match edges when the signal carries no
// explicit delay.
const DefaultStateDelay = 750 * time.Millisecond

// stateHandler fires on the rising edge of a regex match against the state
// of any watched entity. The current snapshot seeds the match table, so a
// handler created while the state already matches does not fire until the
// state leaves and matches again.
type stateHandler struct {
	base
	entityIDs []string
	re        *regexp.Regexp
	delay     time.Duration
	deps      Deps
}

func newStateHandler(sig Signal, automation catalog.Automation, deps Deps) Handler {
	body, err := DecodeState(sig)
	if err != nil {
		return newInvalid(sig, automation, err.Error())
	}
	if len(body.EntityIDs) == 0 {
		return newInvalid(sig, automation, "state signal watches no entities")
	}
	re, err := regexp.Compile("(?i)" + body.Regex)
	if err != nil {
		return newInvalid(sig, automation, "bad pattern "+body.Regex+": "+err.Error())
	}
	delay := DefaultStateDelay
	if body.DelayMS != nil && *body.DelayMS >= 0 {
		delay = time.Duration(*body.DelayMS) * time.Millisecond
	}

	return &stateHandler{
		base: base{
			sig:         sig,
			automation:  automation,
			valid:       true,
			description: "when " + strings.Join(body.EntityIDs, ", ") + " matches /" + body.Regex + "/",
		},
		entityIDs: body.EntityIDs,
		re:        re,
		delay:     delay,
		deps:      deps,
	}
}

func (h *stateHandler) watches(entityID string) bool {
	for _, id := range h.entityIDs {
		if id == entityID {
			return true
		}
	}
	return false
}

func (h *stateHandler) Start(ctx context.Context, fire func(Firing)) {
	logger := h.deps.logger()

	// Subscribe before seeding so a change that lands while the snapshot
	// is being fetched is not lost.
	events, cancel := h.deps.States.Events()
	defer cancel()

	// Seed with the snapshot so an already-matching entity stays quiet
	// until its next rising edge.
	lastMatch := make(map[string]bool, len(h.entityIDs))
	if states, err := h.deps.States.FetchStates(ctx); err == nil {
		for _, id := range h.entityIDs {
			if st, ok := states[id]; ok {
				lastMatch[id] = h.re.MatchString(st.State)
			}
		}
	} else {
		logger.Warn("state handler starts unseeded", "signal", h.sig.ID, "error", err)
	}

	// Leading debounce: the first edge fires immediately, followers within
	// the quiet window coalesce, and the last sample still flushes at the
	// end of the window.
	deb := debounce.New(
		func(string, []Firing) { fire(Firing{Signal: h.sig, Automation: h.automation}) },
		debounce.WithWindow[Firing](h.delay),
		debounce.WithLeading[Firing](),
	)
	defer deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return
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
			if !h.watches(change.EntityID) || change.NewState == nil {
				continue
			}
			match := h.re.MatchString(change.NewState.State)
			if match && !lastMatch[change.EntityID] {
				deb.Enqueue(Firing{Signal: h.sig, Automation: h.automation})
			}
			lastMatch[change.EntityID] = match
		}
	}
}
