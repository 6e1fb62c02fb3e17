package tracer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/source"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	tr "go.opentelemetry.io/otel/trace"
)

// ReplayManager wires the configured vocabulary, exporter and olap around the
// Engine. It is safe for concurrent Replay calls.
type ReplayManager struct {
	numReplay atomic.Int32

	// cache: ReplayID -> Report
	reports *lru.Cache[string, *Report]

	ShutdownCtx context.Context

	// guards tracerProvider and recorder
	mu             sync.Mutex
	tracerProvider *sdktr.TracerProvider

	// only with the tree exporter
	recorder *Recorder

	olap *Olap

	vp *viper.Viper
}

func NewReplayManager(vp *viper.Viper) *ReplayManager {
	var rm ReplayManager
	rm.ShutdownCtx = context.Background()
	rm.reports, _ = lru.New[string, *Report](config.MaxNumReports)
	rm.vp = vp

	if vp == nil {
		rm.olap = nil // under testing
	} else {
		rm.olap = NewOlap(vp)
	}

	return &rm
}

// Machine loads and compiles the configured vocabulary.
func (rm *ReplayManager) Machine() (*Machine, error) {
	v, err := config.LoadVocabulary(rm.vp)
	if err != nil {
		return nil, err
	}
	return Compile(v)
}

// Replay reconstructs the traces of one source and hands them to every
// configured sink.
func (rm *ReplayManager) Replay(ctx context.Context, src source.Source) (*Report, error) {
	machine, err := rm.Machine()
	if err != nil {
		return nil, err
	}
	tp, recorder := rm.sinks()

	number := rm.numReplay.Add(1)
	t := NewTracer(ctx, tp.Tracer(config.TracerName,
		tr.WithInstrumentationVersion(config.TracerVersion)))

	sinks := MultiSink{t}
	if recorder != nil {
		sinks = append(sinks, recorder)
	}
	if rm.olap != nil {
		sinks = append(sinks, NewOlapSink(rm.olap, ""))
	}

	var sink TraceSink = sinks
	if len(sinks) == 1 {
		sink = t
	}

	logrus.Debugf("SeeTrace starts replay#%d of %s with vocabulary %s", number, src.Name(), machine.Name())
	rep, err := NewEngine(machine, sink).Replay(ctx, src, rm.epoch())
	if rep != nil {
		rm.reports.Add(rep.ReplayID, rep)
		rep.Summary()
		rm.olap.InsertAbandoned(rep)
	}
	return rep, err
}

// sinks returns the tracer provider, a dummy one if no exporter was set up,
// and the recorder of the tree exporter.
func (rm *ReplayManager) sinks() (*sdktr.TracerProvider, *Recorder) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.tracerProvider == nil {
		rm.tracerProvider = rm.newDummyProvider()
	}
	return rm.tracerProvider, rm.recorder
}

// epoch is the configured initial clock in microseconds, now if unset.
func (rm *ReplayManager) epoch() int64 {
	if rm.vp != nil && rm.vp.GetInt64("epoch") > 0 {
		return rm.vp.GetInt64("epoch")
	}
	return time.Now().UnixMicro()
}

func (rm *ReplayManager) Report(replayID string) (*Report, bool) {
	return rm.reports.Get(replayID)
}

// Reports returns the cached reports, oldest first.
func (rm *ReplayManager) Reports() []*Report {
	return rm.reports.Values()
}

func (rm *ReplayManager) Recorder() *Recorder {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.recorder
}

func (rm *ReplayManager) Olap() *Olap {
	return rm.olap
}

// These hooked on defer-point of cmd:

func (rm *ReplayManager) Flush() {
	rm.mu.Lock()
	tp := rm.tracerProvider
	rm.mu.Unlock()
	if tp != nil {
		if err := tp.ForceFlush(rm.ShutdownCtx); err != nil {
			logrus.WithError(err).Warn("SeeTrace couldn't flush spans")
		}
	}
	rm.olap.Flush()
}

// CheckSpansCount 检查 olap 中某次回放的 span 数量是否与报告一致
// true 代表一致
func (rm *ReplayManager) CheckSpansCount(replayID string) bool {
	rep, hit := rm.reports.Get(replayID)
	if !hit || rm.olap == nil {
		return false
	}
	rm.olap.Flush()
	return rm.olap.CountSpans(replayID) == rep.Spans
}
