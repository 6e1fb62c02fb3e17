package tracer

import (
	"github.com/stleox/seetrace/pkg/source"
)

type line struct {
	no   int
	text string
}

// cursor reads lines forward and keeps a small lookahead buffer of lines
// that have been peeked but not consumed yet.
type cursor struct {
	lines source.Lines
	buf   []line
	read  int
	eof   bool
}

func newCursor(lines source.Lines, window int) *cursor {
	return &cursor{
		lines: lines,
		buf:   make([]line, 0, window),
	}
}

func (c *cursor) fill(n int) bool {
	for len(c.buf) < n {
		if c.eof {
			return false
		}
		text, ok := c.lines.Next()
		if !ok {
			c.eof = true
			return false
		}
		c.read++
		c.buf = append(c.buf, line{no: c.read, text: text})
	}
	return true
}

// peek returns the i-th unconsumed line without consuming it.
func (c *cursor) peek(i int) (line, bool) {
	if !c.fill(i + 1) {
		return line{}, false
	}
	return c.buf[i], true
}

func (c *cursor) next() (line, bool) {
	if !c.fill(1) {
		return line{}, false
	}
	l := c.buf[0]
	c.buf = c.buf[1:]
	return l, true
}

// lines read from the source so far, consumed or buffered
func (c *cursor) count() int {
	return c.read
}
