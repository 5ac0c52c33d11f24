package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/nudge/internal/app"
	"go.uber.org/goleak"
)

// recordingSink collects spans and can block until released.
type recordingSink struct {
	mu      sync.Mutex
	spans   []app.Span
	release chan struct{}
	err     error
}

func (s *recordingSink) Export(_ context.Context, span app.Span) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, span)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spans)
}

func TestExporterFlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	exp := NewExporter(sink, 8, nil)
	for i := range 5 {
		exp.Emit(app.Span{TraceID: "t", Name: "event", Attrs: map[string]string{"i": string(rune('a' + i))}})
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := sink.count(); got != 5 {
		t.Fatalf("exported = %d, want 5", got)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	exp.Emit(app.Span{TraceID: "late"})
	if exp.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1 after close", exp.Dropped())
	}
}

func TestExporterDropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{release: make(chan struct{})}
	exp := NewExporter(sink, 1, nil)

	start := time.Now()
	for range 20 {
		exp.Emit(app.Span{TraceID: "t"})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Emit blocked for %v", elapsed)
	}
	if exp.Dropped() == 0 {
		t.Fatal("expected dropped spans with a blocked sink")
	}
	close(sink.release)
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := int64(sink.count()) + exp.Dropped(); got != 20 {
		t.Fatalf("exported+dropped = %d, want 20", got)
	}
}

func TestExporterLogsSinkFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	logger := log.New(&buf)
	exp := NewExporter(&recordingSink{err: errors.New("collector down")}, 4, logger)
	exp.Emit(app.Span{TraceID: "t1"})
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !strings.Contains(buf.String(), "collector down") {
		t.Fatalf("expected sink error in log, got %q", buf.String())
	}
}

func TestLogSinkWritesSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)
	err := LogSink{Logger: logger}.Export(context.Background(), app.Span{
		TraceID:  "t1",
		Name:     "process do_next",
		UserID:   "u1",
		Duration: 12 * time.Millisecond,
		Attrs:    map[string]string{"success": "true"},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"process do_next", "trace_id=t1", "user_id=u1", "success=true"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}
