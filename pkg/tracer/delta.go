package tracer

import (
	"regexp"
	"strconv"
	"strings"
)

type DeltaStatus int

const (
	// DeltaAbsent 行中没有相对时间标注，时钟不前进
	DeltaAbsent DeltaStatus = iota
	// DeltaMalformed 有标注但无法解析
	DeltaMalformed
	DeltaMatched
)

func (s DeltaStatus) String() string {
	switch s {
	case DeltaAbsent:
		return "absent"
	case DeltaMalformed:
		return "malformed"
	case DeltaMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Delta is the relative time annotation of one line, e.g. "(+0.000012345)".
type Delta struct {
	Status  DeltaStatus
	Micros  int64
	Seconds float64
}

var (
	deltaPattern = regexp.MustCompile(`\+(\d+)\.(\d+)`)
	// babeltrace 的标注形如 "(+0.000012345)"，括号内的其它写法视为 malformed
	deltaAnnotation = regexp.MustCompile(`\(\+[^)]*\)`)
)

// 整数秒部分的上限，超过会溢出 int64 微秒
const maxDeltaSeconds = 9_000_000_000_000

// ExtractDelta extracts the first "+<digits>.<digits>" of a line as microseconds.
// The conversion works on the decimal digits, so the result is exactly the
// truncation of seconds*1e6.
func ExtractDelta(line string) Delta {
	m := deltaPattern.FindStringSubmatch(line)
	if m == nil {
		if deltaAnnotation.MatchString(line) {
			return Delta{Status: DeltaMalformed}
		}
		return Delta{Status: DeltaAbsent}
	}

	whole, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || whole > maxDeltaSeconds {
		return Delta{Status: DeltaMalformed}
	}

	frac := m[2]
	if len(frac) > 6 {
		frac = frac[:6]
	} else {
		frac += strings.Repeat("0", 6-len(frac))
	}
	micros, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return Delta{Status: DeltaMalformed}
	}

	seconds, _ := strconv.ParseFloat(m[1]+"."+m[2], 64)
	return Delta{
		Status:  DeltaMatched,
		Micros:  whole*1_000_000 + micros,
		Seconds: seconds,
	}
}
