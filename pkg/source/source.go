package source

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stleox/seetrace/pkg/config"
)

// Source supplies a finished log as lines. Open may be called any number of
// times; every call starts again from the first line.
type Source interface {
	Name() string
	Open(ctx context.Context) (Lines, error)
}

// Lines is a lazily produced, finite sequence of lines.
// Next reports false at end of input, after Close, or once ctx is done.
type Lines interface {
	Next() (string, bool)
	Err() error
	Close() error
}

// readerLines 基于 bufio.Reader 按行读取，超长的行截断为一行
type readerLines struct {
	ctx    context.Context
	reader *bufio.Reader
	closer io.Closer
	closed bool
	done   bool
	err    error
}

func newReaderLines(ctx context.Context, r io.Reader, closer io.Closer) *readerLines {
	return &readerLines{
		ctx:    ctx,
		reader: bufio.NewReaderSize(r, 64*1024),
		closer: closer,
	}
}

func (l *readerLines) Next() (string, bool) {
	if l.closed || l.done {
		return "", false
	}
	// 取消即视为输入结束
	if l.ctx.Err() != nil {
		return "", false
	}

	var buf []byte
	got, truncated := false, false
	for {
		frag, isPrefix, err := l.reader.ReadLine()
		if err != nil {
			l.done = true
			if err != io.EOF {
				l.err = errors.Wrap(err, "read line")
			}
			break
		}
		got = true
		if room := config.MaxLineBytes - len(buf); len(frag) > room {
			buf = append(buf, frag[:room]...)
			truncated = true
		} else {
			buf = append(buf, frag...)
		}
		if !isPrefix {
			break
		}
	}
	if !got {
		return "", false
	}
	if truncated {
		logrus.Debugf("SeeTrace truncated a line longer than %d bytes", config.MaxLineBytes)
	}
	return strings.TrimSuffix(string(buf), "\r"), true
}

func (l *readerLines) Err() error {
	return l.err
}

func (l *readerLines) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Text is an in-memory source.
type Text struct {
	name string
	text string
}

func FromString(name, text string) *Text {
	return &Text{name: name, text: text}
}

func FromLines(name string, lines ...string) *Text {
	return &Text{name: name, text: strings.Join(lines, "\n")}
}

func (t *Text) Name() string {
	return t.name
}

func (t *Text) Open(ctx context.Context) (Lines, error) {
	return newReaderLines(ctx, strings.NewReader(t.text), nil), nil
}
