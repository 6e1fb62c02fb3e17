package tracer

import (
	attr "go.opentelemetry.io/otel/attribute"
)

// SpanFrame is one reconstructed operation. Parent is a back reference used
// to attach the frame to the right span when it is emitted.
type SpanFrame struct {
	Name       string
	Start      int64
	End        int64
	Parent     *SpanFrame
	Attributes []attr.KeyValue

	state     stateID
	descended bool
	closed    bool
	handle    SpanHandle
}

// chain 是一次提交的单位：cascade 下的一条 trace，或 session 下的一次回调
// 根 frame 关闭时整体提交给 sink；中途输入结束则整体丢弃
type chain struct {
	id     string
	name   string
	parent *SpanFrame
	clock  *Clock
	line   int

	stack  []*SpanFrame
	opened []*SpanFrame
	closed []*SpanFrame
}

func newChain(id, name string, parent *SpanFrame, clock *Clock, line int) *chain {
	return &chain{
		id:     id,
		name:   name,
		parent: parent,
		clock:  clock,
		line:   line,
		stack:  make([]*SpanFrame, 0, 4),
	}
}

func (c *chain) push(state stateID, name string, start int64, attrs ...attr.KeyValue) *SpanFrame {
	parent := c.parent
	if top := c.top(); top != nil {
		parent = top
	}
	f := &SpanFrame{
		Name:       name,
		Start:      start,
		Parent:     parent,
		Attributes: attrs,
		state:      state,
	}
	c.stack = append(c.stack, f)
	c.opened = append(c.opened, f)
	return f
}

// pop closes the innermost frame at end.
func (c *chain) pop(end int64) *SpanFrame {
	f := c.top()
	if f == nil {
		return nil
	}
	c.stack = c.stack[:len(c.stack)-1]
	if end < f.Start {
		end = f.Start
	}
	f.End = end
	f.closed = true
	c.closed = append(c.closed, f)
	return f
}

func (c *chain) top() *SpanFrame {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

func (c *chain) done() bool {
	return len(c.opened) > 0 && len(c.stack) == 0
}

// commit hands the chain to the sink: begin parents first, end children first.
func (c *chain) commit(sink TraceSink) int {
	for _, f := range c.opened {
		var parent SpanHandle
		if f.Parent != nil {
			parent = f.Parent.handle
		}
		f.handle = sink.BeginSpan(f.Name, parent, f.Start, f.Attributes...)
	}
	for _, f := range c.closed {
		sink.EndSpan(f.handle, f.End)
	}
	return len(c.closed)
}

func (c *chain) openNames() []string {
	names := make([]string, 0, len(c.stack))
	for _, f := range c.stack {
		names = append(names, f.Name)
	}
	return names
}
