package tracer

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/source"
	attr "go.opentelemetry.io/otel/attribute"
)

// Engine replays logs through a compiled Machine into a TraceSink.
// An Engine holds no per-replay state; concurrent Replay calls are independent
// as long as the sink is safe for concurrent use.
type Engine struct {
	machine *Machine
	sink    TraceSink
}

func NewEngine(machine *Machine, sink TraceSink) *Engine {
	return &Engine{
		machine: machine,
		sink:    sink,
	}
}

// Replay scans src once. epoch is the initial clock value in microseconds.
// Reconstruction problems end up in the Report; the error is only set when the
// source cannot be opened or fails while reading.
func (e *Engine) Replay(ctx context.Context, src source.Source, epoch int64) (*Report, error) {
	lines, err := src.Open(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open source %s", src.Name())
	}
	defer lines.Close()

	rn := &run{
		m:      e.machine,
		sink:   e.sink,
		cur:    newCursor(lines, e.machine.window),
		clock:  NewClock(epoch),
		clocks: NewClockSet(epoch),
		rep: &Report{
			ReplayID:   uuid.NewString(),
			Source:     src.Name(),
			Vocabulary: e.machine.name,
			Start:      epoch,
		},
	}

	if rn.skipPreamble() {
		switch e.machine.mode {
		case config.ModeSession:
			rn.session()
		default:
			rn.cascade()
		}
	}

	rn.rep.Lines = rn.cur.count()
	rn.rep.End = rn.latest()
	if err := lines.Err(); err != nil {
		return rn.rep, errors.Wrapf(err, "read source %s", src.Name())
	}
	return rn.rep, nil
}

type branchResult int

const (
	branchFound branchResult = iota
	branchNone
	branchEOF
)

// run is the state of one replay.
type run struct {
	m      *Machine
	sink   TraceSink
	cur    *cursor
	rep    *Report
	clock  *Clock
	clocks *ClockSet
}

func (r *run) skipPreamble() bool {
	if r.m.skipUntil == "" {
		return true
	}
	for {
		l, ok := r.cur.next()
		if !ok {
			r.rep.PreambleMissing = true
			return false
		}
		if strings.Contains(l.text, r.m.skipUntil) {
			return true
		}
	}
}

// cascade 模式：每个根标记开启一条新的 trace
func (r *run) cascade() {
	for {
		l, ok := r.cur.next()
		if !ok {
			return
		}
		root := r.m.matchRoot(l.text)
		if root == noState {
			r.inert(l, r.clock)
			continue
		}

		name := r.m.state(root).name
		c := newChain("", name, nil, r.clock, l.no)
		r.stampRoot(l, c.clock)
		c.push(root, name, c.clock.Now(),
			AttrReplayID.String(r.rep.ReplayID),
			AttrSource.String(r.rep.Source),
			AttrLogLine.Int(l.no))

		if r.drive(c) {
			r.rep.Traces++
			r.rep.Spans += c.commit(r.sink)
			logrus.Debugf("committed trace %s from line %d", name, l.no)
		}
	}
}

// session 模式：整个输入是一个 session，按 ChainIdentifier 拆分出各个 chain
func (r *run) session() {
	spec := r.m.session
	sess := &SpanFrame{
		Name:  spec.name,
		Start: r.clock.Now(),
		Attributes: []attr.KeyValue{
			AttrReplayID.String(r.rep.ReplayID),
			AttrSource.String(r.rep.Source),
		},
	}
	sess.handle = r.sink.BeginSpan(sess.Name, nil, sess.Start, sess.Attributes...)
	r.rep.Traces++

	for {
		l, ok := r.cur.next()
		if !ok {
			break
		}
		id := r.m.chainID(l.text)
		if id == "" {
			r.inert(l, r.clock)
			continue
		}
		name, registered := r.m.chainName(id)
		if !registered {
			r.rep.UnknownChains++
			logrus.WithError(ErrUnknownChain).WithField("chainID", id).Debugf("line %d", l.no)
			r.inert(l, r.clock)
			continue
		}

		clock := r.clockFor(id)
		root := r.m.matchRoot(l.text)
		if root == noState {
			r.inert(l, clock)
			continue
		}

		c := newChain(id, name, sess, clock, l.no)
		r.stamp(l, clock)
		c.push(root, name, clock.Now(),
			AttrChainID.String(id),
			AttrChainName.String(name),
			AttrLogLine.Int(l.no))

		if r.drive(c) {
			r.rep.Chains++
			r.rep.Spans += c.commit(r.sink)
			logrus.Debugf("committed chain %s (%s) from line %d", name, id, l.no)
		}
	}

	sess.End = r.latest()
	r.sink.EndSpan(sess.handle, sess.End)
	r.rep.Spans++
}

// drive runs the state machine until the chain's root frame closes.
// It reports false when the chain was abandoned.
func (r *run) drive(c *chain) bool {
	for !c.done() {
		top := c.top()
		st := r.m.state(top.state)

		switch st.kind {
		case kindLeaf:
			// 最内层立即关闭，至少持续 1us
			c.pop(c.clock.Advance(0))

		case kindBlock:
			if top.descended {
				c.pop(c.clock.Now())
				continue
			}
			top.descended = true
			switch r.branch(c, st) {
			case branchEOF:
				r.rep.abandon(c, ErrMissingInput)
				return false
			case branchNone:
				c.pop(c.clock.Advance(0))
			}

		case kindScoped:
			l, ok := r.cur.next()
			if !ok {
				r.rep.abandon(c, ErrMissingInput)
				return false
			}
			if r.foreign(c, l) {
				r.rep.OutOfBand++
				continue
			}
			if r.m.closes(st.id, l.text) && r.sameChain(c, l) {
				r.stamp(l, c.clock)
				c.pop(c.clock.Now())
				continue
			}
			if next := r.m.matchChild(st.id, l.text); next != noState {
				r.open(c, next, l)
				continue
			}
			r.inert(l, c.clock)
		}
	}
	return true
}

// branch peeks up to window lines to pick the child of a block level, and
// consumes nothing unless a child is found. Lines of other chains do not take
// a window slot; they are counted as out-of-band once consumed.
func (r *run) branch(c *chain, st *state) branchResult {
	for i, used, foreign := 0, 0, 0; used < r.m.window; i++ {
		l, ok := r.cur.peek(i)
		if !ok {
			return branchEOF
		}
		if r.foreign(c, l) {
			foreign++
			if foreign > config.MaxForeignLines {
				return branchNone
			}
			continue
		}
		used++
		if next := r.m.matchChild(st.id, l.text); next != noState {
			for j := 0; j < i; j++ {
				skipped, _ := r.cur.next()
				if r.foreign(c, skipped) {
					r.rep.OutOfBand++
					continue
				}
				r.inert(skipped, c.clock)
			}
			l, _ = r.cur.next()
			r.open(c, next, l)
			return branchFound
		}
		// 遇到其它已知标记，分支不可能在更后面
		if r.m.known(l.text) {
			return branchNone
		}
	}
	return branchNone
}

func (r *run) open(c *chain, next stateID, l line) {
	r.stamp(l, c.clock)
	c.push(next, r.m.state(next).name, c.clock.Now(), AttrLogLine.Int(l.no))
}

// foreign reports a line of another registered chain inside chain c.
func (r *run) foreign(c *chain, l line) bool {
	if c.id == "" {
		return false
	}
	id := r.m.chainID(l.text)
	if id == "" || id == c.id {
		return false
	}
	_, registered := r.m.chainName(id)
	return registered
}

func (r *run) sameChain(c *chain, l line) bool {
	if c.id == "" {
		return true
	}
	return r.m.chainID(l.text) == c.id
}

// stamp applies the delta of a marker line. A missing or malformed delta
// still advances by the 1us floor.
func (r *run) stamp(l line, clock *Clock) {
	d := ExtractDelta(l.text)
	if d.Status == DeltaMatched {
		clock.Advance(d.Micros)
		return
	}
	r.rep.MalformedDeltas++
	logrus.WithError(ErrMalformedDelta).WithField("delta", d.Status).Debugf("line %d", l.no)
	clock.Advance(0)
}

// stampRoot applies the delta of a trace root, which may legitimately have none.
func (r *run) stampRoot(l line, clock *Clock) {
	d := ExtractDelta(l.text)
	switch d.Status {
	case DeltaMatched:
		clock.Advance(d.Micros)
	case DeltaMalformed:
		r.stamp(l, clock)
	}
}

// inert lines only move the clock when they carry a delta.
func (r *run) inert(l line, clock *Clock) {
	if d := ExtractDelta(l.text); d.Status == DeltaMatched {
		clock.Advance(d.Micros)
	}
}

func (r *run) clockFor(id string) *Clock {
	if r.m.session != nil && r.m.session.clock == config.ClockPerChain {
		return r.clocks.Get(id)
	}
	return r.clock
}

func (r *run) latest() int64 {
	latest := r.clock.Now()
	if max := r.clocks.Max(); max > latest {
		latest = max
	}
	return latest
}
