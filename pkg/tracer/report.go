package tracer

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingInput 结构上需要的行因输入结束而缺失
	ErrMissingInput = errors.New("missing input")
	// ErrMalformedDelta 标记行的相对时间缺失或无法解析
	ErrMalformedDelta = errors.New("malformed delta")
	// ErrUnknownChain 未注册的 ChainIdentifier
	ErrUnknownChain      = errors.New("unknown chain identifier")
	ErrInvalidVocabulary = errors.New("invalid vocabulary")
)

// AbandonedChain is a chain dropped because the input ended while it was open.
type AbandonedChain struct {
	Chain      string
	ChainID    string
	Line       int
	OpenFrames []string
	Reason     error
}

// Report is the post-hoc diagnostic of one replay.
type Report struct {
	ReplayID   string
	Source     string
	Vocabulary string

	Lines  int
	Traces int
	Chains int
	Spans  int

	MalformedDeltas int
	OutOfBand       int
	UnknownChains   int
	PreambleMissing bool

	// Clock 的起止
	Start int64
	End   int64

	Abandoned []AbandonedChain
}

func (rep *Report) abandon(c *chain, reason error) {
	rep.Abandoned = append(rep.Abandoned, AbandonedChain{
		Chain:      c.name,
		ChainID:    c.id,
		Line:       c.line,
		OpenFrames: c.openNames(),
		Reason:     reason,
	})
}

func (rep *Report) Complete() bool {
	return len(rep.Abandoned) == 0 && !rep.PreambleMissing
}

// Summary logs the report.
func (rep *Report) Summary() {
	logrus.WithFields(logrus.Fields{
		"replay":     rep.ReplayID,
		"source":     rep.Source,
		"vocabulary": rep.Vocabulary,
		"lines":      rep.Lines,
		"traces":     rep.Traces,
		"chains":     rep.Chains,
		"spans":      rep.Spans,
		"durationUs": rep.End - rep.Start,
	}).Info("SeeTrace finished replay")

	if rep.PreambleMissing {
		logrus.WithField("source", rep.Source).Warn("SeeTrace never found the end of the preamble")
	}
	if rep.MalformedDeltas != 0 || rep.OutOfBand != 0 || rep.UnknownChains != 0 {
		logrus.WithFields(logrus.Fields{
			"malformedDeltas": rep.MalformedDeltas,
			"outOfBand":       rep.OutOfBand,
			"unknownChains":   rep.UnknownChains,
		}).Info("SeeTrace skipped or repaired lines")
	}
	for _, a := range rep.Abandoned {
		logrus.WithFields(logrus.Fields{
			"chain":   a.Chain,
			"chainID": a.ChainID,
			"line":    a.Line,
			"open":    a.OpenFrames,
		}).WithError(a.Reason).Warn("SeeTrace abandoned chain")
	}
}
