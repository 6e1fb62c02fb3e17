package tracer

import (
	attr "go.opentelemetry.io/otel/attribute"
)

// SpanHandle is whatever a sink needs to find a begun span again.
type SpanHandle any

// TraceSink receives reconstructed spans. BeginSpan is always called for a
// parent before any of its children, EndSpan for children before their parent.
// Timestamps are microseconds produced by a Clock.
type TraceSink interface {
	BeginSpan(name string, parent SpanHandle, start int64, attrs ...attr.KeyValue) SpanHandle
	EndSpan(h SpanHandle, end int64)
}

const (
	AttrReplayID  = attr.Key("replay.id")
	AttrChainID   = attr.Key("chain.id")
	AttrChainName = attr.Key("chain.name")
	AttrLogLine   = attr.Key("log.line")
	AttrSource    = attr.Key("log.source")
)

// MultiSink fans spans out to several sinks.
type MultiSink []TraceSink

type multiHandle []SpanHandle

func (m MultiSink) BeginSpan(name string, parent SpanHandle, start int64, attrs ...attr.KeyValue) SpanHandle {
	parents, _ := parent.(multiHandle)
	handles := make(multiHandle, len(m))
	for i, sink := range m {
		var p SpanHandle
		if parents != nil {
			p = parents[i]
		}
		handles[i] = sink.BeginSpan(name, p, start, attrs...)
	}
	return handles
}

func (m MultiSink) EndSpan(h SpanHandle, end int64) {
	handles, ok := h.(multiHandle)
	if !ok {
		return
	}
	for i, sink := range m {
		sink.EndSpan(handles[i], end)
	}
}
