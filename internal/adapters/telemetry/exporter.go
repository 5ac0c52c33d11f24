// Package telemetry exports orchestrator spans off the request path.
package telemetry

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/nudge/internal/app"
)

// DefaultBufferSize bounds queued spans when no size is configured.
const DefaultBufferSize = 256

// Sink receives exported spans. Errors are logged and never reach the caller of Emit.
type Sink interface {
	Export(context.Context, app.Span) error
}

// LogSink writes each span as one structured log line.
type LogSink struct {
	Logger *log.Logger
}

// Export writes span to the logger.
func (s LogSink) Export(_ context.Context, span app.Span) error {
	kv := []any{
		"trace_id", span.TraceID,
		"user_id", span.UserID,
		"duration_ms", span.Duration.Milliseconds(),
	}
	for k, v := range span.Attrs {
		kv = append(kv, k, v)
	}
	if span.Err != "" {
		kv = append(kv, "err", span.Err)
	}
	s.Logger.Debug(span.Name, kv...)
	return nil
}

// Exporter is a non-blocking app.Tracer. Spans that do not fit in the buffer are dropped.
type Exporter struct {
	spans   chan app.Span
	sink    Sink
	logger  *log.Logger
	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

// NewExporter starts the export worker. Call Close to flush and stop it.
func NewExporter(sink Sink, bufferSize int, logger *log.Logger) *Exporter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	e := &Exporter{
		spans:   make(chan app.Span, bufferSize),
		sink:    sink,
		logger:  logger,
		done:    make(chan struct{}),
		timeout: time.Second,
	}
	go e.run()
	return e
}

// Emit queues span without blocking.
func (e *Exporter) Emit(span app.Span) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.spans <- span:
	default:
		e.dropped.Add(1)
	}
}

// Dropped reports how many spans were discarded.
func (e *Exporter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting spans, drains the buffer and waits for the worker.
func (e *Exporter) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.spans)
		e.mu.Unlock()
	})
	<-e.done
	if n := e.Dropped(); n > 0 {
		e.logger.Warn("telemetry spans dropped", "count", n)
	}
	return nil
}

func (e *Exporter) run() {
	defer close(e.done)
	for span := range e.spans {
		e.export(span)
	}
}

func (e *Exporter) export(span app.Span) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("telemetry sink panicked", "trace_id", span.TraceID, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.sink.Export(ctx, span); err != nil {
		e.logger.Warn("telemetry export failed", "trace_id", span.TraceID, "err", err)
	}
}
