package app

import (
	"fmt"

	"github.com/hylla/nudge/internal/domain"
)

// HandlerName identifies the handler that processes one event kind.
type HandlerName string

// HandlerName values.
const (
	HandlerAppOpen  HandlerName = "app_open"
	HandlerCheckIn  HandlerName = "check_in"
	HandlerDoNext   HandlerName = "do_next"
	HandlerDoAction HandlerName = "do_action"
	HandlerDayEnd   HandlerName = "day_end"
)

// Route is the state-independent dispatch decision for one event kind.
type Route struct {
	Kind    domain.EventKind
	Handler HandlerName
	// NextPhase is the nominal edge; empty when the handler decides from the action.
	NextPhase       domain.Phase
	NeedsCandidates bool
}

var routes = map[domain.EventKind]Route{
	domain.EventAppOpen: {
		Kind:    domain.EventAppOpen,
		Handler: HandlerAppOpen,
	},
	domain.EventCheckInSubmitted: {
		Kind:            domain.EventCheckInSubmitted,
		Handler:         HandlerCheckIn,
		NextPhase:       domain.PhaseCheckedIn,
		NeedsCandidates: true,
	},
	domain.EventDoNext: {
		Kind:            domain.EventDoNext,
		Handler:         HandlerDoNext,
		NextPhase:       domain.PhaseTaskSelected,
		NeedsCandidates: true,
	},
	domain.EventDoAction: {
		Kind:            domain.EventDoAction,
		Handler:         HandlerDoAction,
		NeedsCandidates: true,
	},
	domain.EventDayEnd: {
		Kind:      domain.EventDayEnd,
		Handler:   HandlerDayEnd,
		NextPhase: domain.PhaseIdle,
	},
}

// RouteFor maps an event kind to its handler. It never consults user state.
func RouteFor(kind domain.EventKind) (Route, error) {
	route, ok := routes[kind]
	if !ok {
		return Route{}, fmt.Errorf("route %q: %w", kind, domain.ErrUnknownEventKind)
	}
	return route, nil
}
