package tracer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stleox/seetrace/pkg/config"
	attr "go.opentelemetry.io/otel/attribute"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	tr "go.opentelemetry.io/otel/trace"
)

// Tracer is a TraceSink backed by an OpenTelemetry tracer. Spans are started
// and ended with the reconstructed timestamps, children under their parent's
// context, roots as new traces.
type Tracer struct {
	// base context of every root span
	ctx context.Context

	tracer tr.Tracer

	// historical span count
	numSpan uint64
	mu      sync.Mutex

	// for debug
	// spanName -> traceID
	debMapTraceID map[string]string
	// spanName -> spanID
	debMapSpanID map[string]string
	// spanName -> parentId
	debMapParent map[string]string
}

type otelHandle struct {
	ctx  context.Context
	span tr.Span
}

func NewTracer(ctx context.Context, t tr.Tracer) *Tracer {
	return &Tracer{
		ctx:           ctx,
		tracer:        t,
		debMapTraceID: make(map[string]string, 0),
		debMapSpanID:  make(map[string]string, 0),
		debMapParent:  make(map[string]string, 0),
	}
}

func (t *Tracer) BeginSpan(name string, parent SpanHandle, start int64, attrs ...attr.KeyValue) SpanHandle {
	startOpts := make([]tr.SpanStartOption, 0, 2)
	startOpts = append(startOpts, tr.WithTimestamp(microsToTime(start)))
	startOpts = append(startOpts, tr.WithAttributes(attrs...))

	parentCtx := t.ctx
	if p, ok := parent.(*otelHandle); ok && p != nil {
		parentCtx = p.ctx
	} else {
		// 根 span 总是开启新的 trace
		startOpts = append(startOpts, tr.WithNewRoot())
	}

	ctx, span := t.tracer.Start(parentCtx, name, startOpts...)
	return &otelHandle{ctx: ctx, span: span}
}

func (t *Tracer) EndSpan(h SpanHandle, end int64) {
	handle, ok := h.(*otelHandle)
	if !ok || handle == nil {
		return
	}
	span := handle.span
	span.End(tr.WithTimestamp(microsToTime(end)))

	t.mu.Lock()
	t.numSpan++
	t.mu.Unlock()

	if config.Debug {
		// try to convert to sdktr.ReadOnlySpan
		switch span := span.(type) {
		case sdktr.ReadOnlySpan:
			logrus.Debugf("span name: %s, span id: %s, parent span id: %s",
				span.Name(), span.SpanContext().SpanID(), span.Parent().SpanID())
			t.mu.Lock()
			t.debMapTraceID[span.Name()] = span.SpanContext().TraceID().String()
			t.debMapSpanID[span.Name()] = span.SpanContext().SpanID().String()
			t.debMapParent[span.Name()] = span.Parent().SpanID().String()
			t.mu.Unlock()
		default:
			logrus.Debugf("can't convert to ReadOnlySpan, span id: %s", span.SpanContext().SpanID())
		}
	}
}

func (t *Tracer) NumSpan() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numSpan
}

func microsToTime(us int64) time.Time {
	return time.UnixMicro(us)
}
