package tracer

import (
	"fmt"
	"strings"
	"sync"

	attr "go.opentelemetry.io/otel/attribute"
)

// RecordedSpan is one span kept by a Recorder.
type RecordedSpan struct {
	Name       string
	Start      int64
	End        int64
	Parent     *RecordedSpan
	Attributes []attr.KeyValue
	Children   []*RecordedSpan
	Ended      bool
}

func (s *RecordedSpan) Attr(key attr.Key) (attr.Value, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attr.Value{}, false
}

// Recorder keeps spans in memory. Only ended spans count as emitted.
type Recorder struct {
	mu    sync.Mutex
	roots []*RecordedSpan
	ended []*RecordedSpan
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (rec *Recorder) BeginSpan(name string, parent SpanHandle, start int64, attrs ...attr.KeyValue) SpanHandle {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	span := &RecordedSpan{
		Name:       name,
		Start:      start,
		Attributes: attrs,
	}
	if p, ok := parent.(*RecordedSpan); ok && p != nil {
		span.Parent = p
		p.Children = append(p.Children, span)
	} else {
		rec.roots = append(rec.roots, span)
	}
	return span
}

func (rec *Recorder) EndSpan(h SpanHandle, end int64) {
	span, ok := h.(*RecordedSpan)
	if !ok || span == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	span.End = end
	span.Ended = true
	rec.ended = append(rec.ended, span)
}

// Spans returns emitted spans in the order they were ended.
func (rec *Recorder) Spans() []*RecordedSpan {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]*RecordedSpan(nil), rec.ended...)
}

func (rec *Recorder) Roots() []*RecordedSpan {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]*RecordedSpan(nil), rec.roots...)
}

// Find returns the emitted spans with the given name.
func (rec *Recorder) Find(name string) []*RecordedSpan {
	found := make([]*RecordedSpan, 0)
	for _, span := range rec.Spans() {
		if span.Name == name {
			found = append(found, span)
		}
	}
	return found
}

func (rec *Recorder) Reset() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.roots = nil
	rec.ended = nil
}

// Tree renders the emitted spans, one per line, indented by depth, with
// offsets relative to the first root's start.
func (rec *Recorder) Tree() string {
	roots := rec.Roots()
	if len(roots) == 0 {
		return ""
	}
	base := roots[0].Start

	var sb strings.Builder
	var walk func(span *RecordedSpan, depth int)
	walk = func(span *RecordedSpan, depth int) {
		if !span.Ended {
			return
		}
		fmt.Fprintf(&sb, "%s%s [+%dus, %dus]\n",
			strings.Repeat("  ", depth), span.Name, span.Start-base, span.End-span.Start)
		for _, child := range span.Children {
			walk(child, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
	return sb.String()
}
