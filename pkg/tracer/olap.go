package tracer

import (
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	attr "go.opentelemetry.io/otel/attribute"
)

// inserter is the part of sqlx.BulkInserter the olap needs.
type inserter interface {
	Insert(args ...any) error
	Flush()
}

// Olap persists emitted spans and abandoned chains into an OLAP server
// speaking the MySQL protocol. A nil *Olap is valid and does nothing.
type Olap struct {
	conn              sqlx.SqlConn
	spanInserter      inserter
	abandonedInserter inserter

	// 插入失败的 span 数量
	numFailed int
	mu        sync.Mutex
}

func NewOlap(vp *viper.Viper) *Olap {
	// conn to the OLAP server
	olapDSN := ""
	if vp != nil {
		olapDSN = vp.GetString("olap-dsn")
	}
	if olapDSN == "" {
		logrus.Debug("SeeTrace runs without olap")
		return nil
	}

	db := sqlx.NewMysql(olapDSN)

	err := CreateSpanTable(db)
	if err != nil {
		logrus.WithError(err).Error("SeeTrace couldn't create table t_span")
		return nil
	}

	spanInserter, err := NewSpanInserter(db)
	if err != nil {
		logrus.WithError(err).Error("SeeTrace couldn't open table t_span")
		return nil
	}

	err = CreateAbandonedTable(db)
	if err != nil {
		logrus.WithError(err).Error("SeeTrace couldn't create table t_abandoned")
		return nil
	}

	abandonedInserter, err := NewAbandonedInserter(db)
	if err != nil {
		logrus.WithError(err).Error("SeeTrace couldn't open table t_abandoned")
		return nil
	}

	return &Olap{
		conn:              db,
		spanInserter:      spanInserter,
		abandonedInserter: abandonedInserter,
	}
}

func CreateSpanTable(db sqlx.SqlConn) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `t_span` " +
		"(id CHAR(36), " + // len(UUID)
		"trace_id CHAR(36), " +
		"parent_id CHAR(36), " +
		"replay_id CHAR(36), " +
		"name VARCHAR(255), " +
		"chain_id VARCHAR(63), " +
		"line BIGINT, " +
		"start_time DATETIME(6), " +
		"end_time DATETIME(6)) " +
		"DISTRIBUTED BY HASH(trace_id) BUCKETS 32 " +
		"PROPERTIES (\"replication_num\" = \"1\");")
	return err
}

func NewSpanInserter(db sqlx.SqlConn) (*sqlx.BulkInserter, error) {
	return sqlx.NewBulkInserter(db, "INSERT INTO `t_span` "+
		"(id, "+
		"trace_id, "+
		"parent_id, "+
		"replay_id, "+
		"name, "+
		"chain_id, "+
		"line, "+
		"start_time, "+
		"end_time) "+
		"VALUES (?,?,?,?,?,?,?,?,?)")
}

func CreateAbandonedTable(db sqlx.SqlConn) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `t_abandoned` " +
		"(replay_id CHAR(36), " +
		"source VARCHAR(255), " +
		"chain VARCHAR(255), " +
		"chain_id VARCHAR(63), " +
		"line BIGINT, " +
		"open_frames VARCHAR(1023), " +
		"reason VARCHAR(255)) " +
		"DISTRIBUTED BY HASH(replay_id) BUCKETS 8 " +
		"PROPERTIES (\"replication_num\" = \"1\");")
	return err
}

func NewAbandonedInserter(db sqlx.SqlConn) (*sqlx.BulkInserter, error) {
	return sqlx.NewBulkInserter(db, "INSERT INTO `t_abandoned` "+
		"(replay_id, "+
		"source, "+
		"chain, "+
		"chain_id, "+
		"line, "+
		"open_frames, "+
		"reason) "+
		"VALUES (?,?,?,?,?,?,?)")
}

// InsertAbandoned 记录报告中被丢弃的 chain
func (o *Olap) InsertAbandoned(rep *Report) {
	if o == nil || rep == nil {
		return
	}
	for _, a := range rep.Abandoned {
		reason := ""
		if a.Reason != nil {
			reason = a.Reason.Error()
		}
		err := o.abandonedInserter.Insert(rep.ReplayID, rep.Source, a.Chain, a.ChainID, a.Line,
			strings.Join(a.OpenFrames, ","), reason)
		if err != nil {
			logrus.WithError(err).Warn("SeeTrace couldn't insert into t_abandoned")
		}
	}
}

// CountSpans 统计某次回放写入的 span 数量
func (o *Olap) CountSpans(replayID string) int {
	if o == nil || o.conn == nil {
		return -1
	}
	var count int
	err := o.conn.QueryRow(&count, "SELECT COUNT(*) FROM `t_span` WHERE replay_id = ?", replayID)
	if err != nil {
		logrus.WithError(err).Warn("SeeTrace couldn't select t_span")
	}
	return count
}

func (o *Olap) NumFailed() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.numFailed
}

func (o *Olap) Flush() {
	if o == nil {
		return
	}
	o.spanInserter.Flush()
	o.abandonedInserter.Flush()
}

func (o *Olap) Conn() sqlx.SqlConn {
	if o == nil {
		return nil
	}
	return o.conn
}

// OlapSink is a TraceSink writing one row per ended span.
type OlapSink struct {
	olap     *Olap
	replayID string
}

type olapSpan struct {
	id       string
	traceID  string
	parentID string
	name     string
	chainID  string
	line     int64
	start    int64
}

func NewOlapSink(olap *Olap, replayID string) *OlapSink {
	return &OlapSink{
		olap:     olap,
		replayID: replayID,
	}
}

func (s *OlapSink) BeginSpan(name string, parent SpanHandle, start int64, attrs ...attr.KeyValue) SpanHandle {
	span := &olapSpan{
		id:    uuid.NewString(),
		name:  name,
		start: start,
	}
	if p, ok := parent.(*olapSpan); ok && p != nil {
		span.traceID = p.traceID
		span.parentID = p.id
		span.chainID = p.chainID
	} else {
		span.traceID = span.id
	}
	for _, kv := range attrs {
		switch kv.Key {
		case AttrChainID:
			span.chainID = kv.Value.AsString()
		case AttrLogLine:
			span.line = kv.Value.AsInt64()
		case AttrReplayID:
			if s.replayID == "" {
				s.replayID = kv.Value.AsString()
			}
		}
	}
	return span
}

func (s *OlapSink) EndSpan(h SpanHandle, end int64) {
	span, ok := h.(*olapSpan)
	if !ok || span == nil || s.olap == nil {
		return
	}
	err := s.olap.spanInserter.Insert(span.id, span.traceID, span.parentID, s.replayID,
		span.name, span.chainID, span.line,
		time.UnixMicro(span.start).UTC(), time.UnixMicro(end).UTC())
	if err != nil {
		logrus.WithError(err).Warn("SeeTrace couldn't insert into t_span")
		s.olap.mu.Lock()
		s.olap.numFailed++
		s.olap.mu.Unlock()
	}
}
