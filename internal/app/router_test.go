package app

import (
	"errors"
	"testing"

	"github.com/hylla/nudge/internal/domain"
)

func TestRouteForCoversEveryKind(t *testing.T) {
	want := map[domain.EventKind]HandlerName{
		domain.EventAppOpen:          HandlerAppOpen,
		domain.EventCheckInSubmitted: HandlerCheckIn,
		domain.EventDoNext:           HandlerDoNext,
		domain.EventDoAction:         HandlerDoAction,
		domain.EventDayEnd:           HandlerDayEnd,
	}
	for _, kind := range domain.EventKinds() {
		route, err := RouteFor(kind)
		if err != nil {
			t.Fatalf("RouteFor(%q) error = %v", kind, err)
		}
		if route.Handler != want[kind] || route.Kind != kind {
			t.Fatalf("RouteFor(%q) = %#v", kind, route)
		}
	}
	if route, _ := RouteFor(domain.EventDayEnd); route.NextPhase != domain.PhaseIdle {
		t.Fatalf("expected day end to return to idle, got %q", route.NextPhase)
	}
	if route, _ := RouteFor(domain.EventDoAction); route.NextPhase != "" {
		t.Fatalf("expected do_action phase to be decided by the handler, got %q", route.NextPhase)
	}
}

func TestRouteForUnknownKind(t *testing.T) {
	if _, err := RouteFor("sleep"); !errors.Is(err, domain.ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}
}
