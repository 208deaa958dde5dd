package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/hearth/internal/catalog"
)

// offsetHandler fires exactly once, a fixed interval after its creation.
type offsetHandler struct {
	base
	delay time.Duration
}

func newOffsetHandler(sig Signal, automation catalog.Automation, deps Deps) Handler {
	body, err := DecodeOffset(sig)
	if err != nil {
		return newInvalid(sig, automation, err.Error())
	}
	if body.OffsetInSeconds < 0 {
		return newInvalid(sig, automation,
			fmt.Sprintf("offset %d seconds is negative", body.OffsetInSeconds))
	}
	delay := time.Duration(body.OffsetInSeconds) * time.Second
	return &offsetHandler{
		base: base{
			sig:         sig,
			automation:  automation,
			valid:       true,
			description: "fires " + delay.String() + " after creation",
		},
		delay: delay,
	}
}

func (h *offsetHandler) Start(ctx context.Context, fire func(Firing)) {
	timer := time.NewTimer(h.delay)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
		fire(Firing{Signal: h.sig, Automation: h.automation})
	}
}
