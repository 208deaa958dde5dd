package signal

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/hub"
)

// Firing is one occurrence emitted by a live handler.
type Firing struct {
	Signal     Signal
	Automation catalog.Automation
}

// StateSource is the slice of the hub client the state-driven handlers
// need: a snapshot plus the live event stream.
type StateSource interface {
	FetchStates(ctx context.Context) (map[string]hub.EntityState, error)
	Events() (<-chan hub.Event, func())
}

// Deps carries what handlers borrow from the runtime. They own none of it.
type Deps struct {
	States   StateSource
	Location *time.Location
	Logger   *slog.Logger

	// Now is the clock; tests pin it. Nil means time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.UTC
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Handler turns one persisted signal into firings. An invalid handler
// surfaces its problem through Description and schedules nothing.
type Handler interface {
	Signal() Signal
	Automation() catalog.Automation
	Description() string
	Valid() bool

	// Start delivers firings to fire until ctx is done. It blocks; the
	// runtime runs each handler in its own goroutine. No-op when !Valid().
	Start(ctx context.Context, fire func(Firing))
}

// NewHandler builds the handler matching sig's type. Undecodable data or
// invalid parameters produce an invalid handler, never an error: the
// catalogue must still be able to show the broken signal.
func NewHandler(sig Signal, automation catalog.Automation, deps Deps) Handler {
	switch sig.Type {
	case TypeCron:
		return newCronHandler(sig, automation, deps)
	case TypeOffset:
		return newOffsetHandler(sig, automation, deps)
	case TypeTime:
		return newTimeHandler(sig, automation, deps)
	case TypeState:
		return newStateHandler(sig, automation, deps)
	case TypeRange:
		return newRangeHandler(sig, automation, deps)
	default:
		return newInvalid(sig, automation, "unknown signal type "+string(sig.Type))
	}
}

// base carries the fields every handler variant shares.
type base struct {
	sig         Signal
	automation  catalog.Automation
	description string
	valid       bool
}

func (b *base) Signal() Signal                 { return b.sig }
func (b *base) Automation() catalog.Automation { return b.automation }
func (b *base) Description() string            { return b.description }
func (b *base) Valid() bool                    { return b.valid }

// invalidHandler is the inert form every variant degrades to.
type invalidHandler struct {
	base
}

func newInvalid(sig Signal, automation catalog.Automation, why string) *invalidHandler {
	return &invalidHandler{base{sig: sig, automation: automation, description: why}}
}

func (h *invalidHandler) Start(context.Context, func(Firing)) {}

// descriptionLayout renders instants for humans, in the configured zone.
const descriptionLayout = "Mon Jan 2 15:04 MST 2006"
