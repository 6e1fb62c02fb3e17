package tracer

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/source"
	r "github.com/stretchr/testify/require"
)

const epochT = int64(1_700_000_000_000_000)

func TestTracer_Replay_Publish(t *testing.T) {
	// rclcpp -> rcl -> rmw，最内层最先关闭
	rec, rep := mockReplay(t, config.PresetPublish, epochT, publishLog...)
	r.True(t, rep.Complete())
	r.Equal(t, 1, rep.Traces)
	r.Equal(t, 3, rep.Spans)

	spans := rec.Spans()
	r.Equal(t, 3, len(spans))
	r.Equal(t, "ros2::rmw_publish", spans[0].Name)
	r.Equal(t, "ros2::rcl_publish", spans[1].Name)
	r.Equal(t, "ros2::rclcpp_publish", spans[2].Name)

	rmw, rcl, rclcpp := spans[0], spans[1], spans[2]
	r.Equal(t, epochT, rclcpp.Start)
	r.Equal(t, epochT+1000, rcl.Start)
	r.Equal(t, epochT+1500, rmw.Start)

	r.Equal(t, epochT+1501, rmw.End)
	r.True(t, rmw.End >= rcl.End)
	r.True(t, rcl.End >= rclcpp.End)
	r.Equal(t, rmw.End, rclcpp.End)

	r.Same(t, rclcpp, rcl.Parent)
	r.Same(t, rcl, rmw.Parent)
	r.Nil(t, rclcpp.Parent)

	id, ok := rclcpp.Attr(AttrReplayID)
	r.True(t, ok)
	r.Equal(t, rep.ReplayID, id.AsString())
	line, ok := rmw.Attr(AttrLogLine)
	r.True(t, ok)
	r.Equal(t, int64(3), line.AsInt64())
}

func TestTracer_Replay_Monotonic(t *testing.T) {
	lines := append([]string{}, takeLog...)
	lines = append(lines, timerLog...)
	lines = append(lines, takeLog...)
	rec, rep := mockReplay(t, config.PresetTake, epochT, lines...)
	r.True(t, rep.Complete())
	r.Equal(t, 3, rep.Traces)
	requireMonotonic(t, rec)

	// 多条 trace 共用一个时钟，后一条不早于前一条结束
	roots := rec.Roots()
	r.Equal(t, 3, len(roots))
	for i := 1; i < len(roots); i++ {
		r.True(t, roots[i].Start >= roots[i-1].End)
	}
}

func TestTracer_Replay_Idempotent(t *testing.T) {
	lines := append([]string{}, takeLog...)
	lines = append(lines, publishLog...)

	rec1, rep1 := mockReplay(t, config.PresetTake, epochT, lines...)
	rec2, rep2 := mockReplay(t, config.PresetTake, epochT+12345, lines...)
	r.NotEqual(t, rep1.ReplayID, rep2.ReplayID)
	r.Equal(t, rec1.Tree(), rec2.Tree())

	spans1, spans2 := rec1.Spans(), rec2.Spans()
	r.Equal(t, len(spans1), len(spans2))
	for i := range spans1 {
		r.Equal(t, spans1[i].Name, spans2[i].Name)
		r.Equal(t, spans1[i].Start-epochT, spans2[i].Start-epochT-12345)
		r.Equal(t, spans1[i].End-spans1[i].Start, spans2[i].End-spans2[i].Start)
	}
}

func TestTracer_Replay_Truncated(t *testing.T) {
	// 在第二层打开后输入结束
	rec, rep := mockReplay(t, config.PresetPublish, epochT, publishLog[:2]...)
	r.Equal(t, 0, len(rec.Spans()))
	r.Equal(t, 0, rep.Traces)
	r.Equal(t, 0, rep.Spans)
	r.False(t, rep.Complete())

	r.Equal(t, 1, len(rep.Abandoned))
	a := rep.Abandoned[0]
	r.Equal(t, "ros2::rclcpp_publish", a.Chain)
	r.Equal(t, 1, a.Line)
	r.Equal(t, []string{"ros2::rclcpp_publish", "ros2::rcl_publish"}, a.OpenFrames)
	r.True(t, errors.Is(a.Reason, ErrMissingInput))
}

func TestTracer_Replay_TruncatedAfterComplete(t *testing.T) {
	lines := append([]string{}, publishLog...)
	lines = append(lines, publishLog[0])
	rec, rep := mockReplay(t, config.PresetPublish, epochT, lines...)

	// 前一条完整提交，后一条被丢弃
	r.Equal(t, 3, len(rec.Spans()))
	r.Equal(t, 1, rep.Traces)
	r.Equal(t, 1, len(rep.Abandoned))
	r.Equal(t, 4, rep.Abandoned[0].Line)
}

func TestTracer_Replay_LongLine(t *testing.T) {
	// 超长的行不影响后面的 trace
	lines := append([]string{}, publishLog...)
	lines = append(lines, "ros2:rcl_log: { msg = "+strings.Repeat("x", 2*config.MaxLineBytes)+" }")
	lines = append(lines, publishLog...)
	rec, rep := mockReplay(t, config.PresetPublish, epochT, lines...)
	r.True(t, rep.Complete())
	r.Equal(t, 2, rep.Traces)
	r.Equal(t, 6, rep.Spans)
	r.Equal(t, 7, rep.Lines)
	r.Equal(t, 2, len(rec.Roots()))
	requireMonotonic(t, rec)
}

func TestTracer_Replay_CascadeWindow(t *testing.T) {
	// cascade 只看紧随的一行
	rec, rep := mockReplay(t, config.PresetPublish, epochT,
		"ros2:rclcpp_publish: { publisher_handle = 0x10 }",
		"(+0.000200) ros2:rcl_log: { msg = hello }",
		"(+0.000100) ros2:rcl_publish: { publisher_handle = 0x10 }",
	)
	r.True(t, rep.Complete())
	spans := rec.Spans()
	r.Equal(t, 1, len(spans))
	r.Equal(t, "ros2::rclcpp_publish", spans[0].Name)
	r.Equal(t, epochT, spans[0].Start)
	r.Equal(t, epochT+1, spans[0].End)
	r.Equal(t, 3, rep.Lines)
}

func TestTracer_Replay_TwoTraces(t *testing.T) {
	lines := append([]string{}, publishLog...)
	lines = append(lines, "(+0.000100) ros2:rclcpp_publish: { publisher_handle = 0x10 }")
	lines = append(lines, publishLog[1:]...)
	rec, rep := mockReplay(t, config.PresetPublish, epochT, lines...)
	r.Equal(t, 2, rep.Traces)

	roots := rec.Roots()
	r.Equal(t, 2, len(roots))
	r.Equal(t, epochT+1601, roots[1].Start)
	r.Equal(t, epochT+1601+1501, roots[1].End)
}

func TestTracer_Replay_LookaheadBranch(t *testing.T) {
	rec, rep := mockReplay(t, config.PresetTake, 0, takeLog...)
	r.True(t, rep.Complete())
	r.Equal(t, 8, rep.Spans)

	execute := rec.Find("ros2::rclcpp_executor_execute")[0]
	r.Equal(t, int64(0), execute.Start)
	r.Equal(t, int64(81), execute.End)

	callback := rec.Find("ros2::callback")[0]
	r.Equal(t, int64(40), callback.Start)
	r.Equal(t, int64(81), callback.End)
	r.Equal(t, "ros2::rclcpp_take", callback.Parent.Name)

	rmw := rec.Find("ros2::rmw_publish")[0]
	r.Equal(t, int64(70), rmw.Start)
	r.Equal(t, int64(71), rmw.End)
	requireMonotonic(t, rec)
}

func TestTracer_Replay_LookaheadTimer(t *testing.T) {
	// timer 分支：中间夹着一行未知事件
	rec, rep := mockReplay(t, config.PresetTake, 0, timerLog...)
	r.True(t, rep.Complete())

	spans := rec.Spans()
	r.Equal(t, 2, len(spans))
	callback, execute := spans[0], spans[1]
	r.Equal(t, "ros2::callback", callback.Name)
	r.Same(t, execute, callback.Parent)
	r.Equal(t, int64(15), callback.Start)
	r.Equal(t, int64(35), callback.End)
	r.Equal(t, int64(0), execute.Start)
	r.Equal(t, int64(35), execute.End)
}

func TestTracer_Replay_LookaheadExhausted(t *testing.T) {
	lines := []string{"ros2:rclcpp_executor_execute: { handle = 0x9 }"}
	for i := 0; i < config.DefaultWindow; i++ {
		lines = append(lines, "ros2:rcl_log: { msg = busy }")
	}
	lines = append(lines, timerLog[2:]...)

	rec, rep := mockReplay(t, config.PresetTake, 0, lines...)
	r.True(t, rep.Complete())
	spans := rec.Spans()
	r.Equal(t, 1, len(spans))
	r.Equal(t, "ros2::rclcpp_executor_execute", spans[0].Name)
	r.Equal(t, int64(1), spans[0].End)
}

func TestTracer_Replay_LookaheadEOF(t *testing.T) {
	rec, rep := mockReplay(t, config.PresetTake, 0,
		"ros2:rclcpp_executor_execute: { handle = 0x9 }",
		"ros2:rcl_log: { msg = busy }",
	)
	r.Equal(t, 0, len(rec.Spans()))
	r.Equal(t, 1, len(rep.Abandoned))
	r.Equal(t, []string{"ros2::rclcpp_executor_execute"}, rep.Abandoned[0].OpenFrames)
	r.Equal(t, 2, rep.Lines)
}

func TestTracer_Replay_Malformed(t *testing.T) {
	rec, rep := mockReplay(t, config.PresetPublish, epochT,
		"ros2:rclcpp_publish: { publisher_handle = 0x10 }",
		"(+?.?????????) ros2:rcl_publish: { publisher_handle = 0x10 }",
		"(+0.000500) ros2:rmw_publish: { message = 0x11 }",
	)
	r.Equal(t, 1, rep.MalformedDeltas)
	rcl := rec.Find("ros2::rcl_publish")[0]
	r.Equal(t, epochT+1, rcl.Start)
	rmw := rec.Find("ros2::rmw_publish")[0]
	r.Equal(t, epochT+501, rmw.Start)
	r.Equal(t, epochT+502, rmw.End)
}

func TestTracer_Replay_SkipUntil(t *testing.T) {
	v := mockVocabulary(config.ModeCascade)
	v.SkipUntil = "/chatter"
	lines := []string{
		"OUTER before the topic exists",
		"(+0.000500) ros2:rcl_subscription_init: { topic_name = /chatter }",
		"OUTER",
		"(+0.000010) MIDDLE",
		"(+0.000010) INNER",
	}

	rec, rep := mockReplayVocabulary(t, v, 0, lines...)
	r.True(t, rep.Complete())
	r.Equal(t, 5, rep.Lines)
	r.Equal(t, 1, rep.Traces)
	r.Equal(t, 3, len(rec.Spans()))
	r.Equal(t, int64(0), rec.Find("outer")[0].Start)
	r.Equal(t, int64(21), rec.Find("inner")[0].End)

	rec, rep = mockReplayVocabulary(t, v, 0, lines[2:]...)
	r.True(t, rep.PreambleMissing)
	r.False(t, rep.Complete())
	r.Equal(t, 0, len(rec.Spans()))
}

func TestTracer_Replay_Session(t *testing.T) {
	rec, rep := mockSession(t, config.ClockShared, 0, pingPongLog...)
	r.True(t, rep.Complete())
	r.Equal(t, 1, rep.Traces)
	r.Equal(t, 3, rep.Chains)
	r.Equal(t, 10, rep.Spans)
	requireMonotonic(t, rec)

	roots := rec.Roots()
	r.Equal(t, 1, len(roots))
	session := roots[0]
	r.Equal(t, "ros2::session", session.Name)
	r.Equal(t, int64(0), session.Start)
	r.Equal(t, int64(392), session.End)

	// 各 chain 都直接挂在 session 下，互不嵌套
	names := make([]string, 0)
	for _, chain := range session.Children {
		id, ok := chain.Attr(AttrChainID)
		r.True(t, ok)
		names = append(names, chain.Name)
		for _, span := range mockDescendants(chain) {
			_, nested := span.Attr(AttrChainID)
			r.False(t, nested, "%s nests under chain %s", span.Name, id.AsString())
		}
	}
	r.Equal(t, []string{"ping", "pong", "pang"}, names)

	ping := session.Children[0]
	r.Equal(t, int64(100), ping.Start)
	r.Equal(t, int64(141), ping.End)
	r.Equal(t, 1, len(ping.Children))
	r.Equal(t, "ros2::rclcpp_publish", ping.Children[0].Name)

	pang := session.Children[2]
	r.Equal(t, int64(382), pang.Start)
	r.Equal(t, int64(392), pang.End)
	r.Equal(t, 0, len(pang.Children))
}

func TestTracer_Replay_SessionOutOfBand(t *testing.T) {
	rec, rep := mockSession(t, config.ClockShared, 0,
		"(+0.000010) ros2:callback_start: { callback = 0xa }",
		"(+0.000010) ros2:callback_start: { callback = 0xb }",
		"(+0.000010) ros2:callback_end: { callback = 0xb }",
		"(+0.000010) ros2:callback_end: { callback = 0xa }",
	)
	r.Equal(t, 2, rep.OutOfBand)
	r.Equal(t, 1, rep.Chains)
	r.Equal(t, 0, rep.MalformedDeltas)

	ping := rec.Find("ping")
	r.Equal(t, 1, len(ping))
	r.Equal(t, int64(10), ping[0].Start)
	r.Equal(t, int64(20), ping[0].End)
	r.Equal(t, 0, len(rec.Find("pong")))
}

func TestTracer_Replay_SessionOutOfBandWindow(t *testing.T) {
	// 其它 chain 的行不占用预读窗口
	lines := []string{
		"(+0.000100) ros2:callback_start: { callback = 0xA }",
		"(+0.000010) ros2:rclcpp_publish: { publisher_handle = 0x10, message = 0x11 }",
	}
	for i := 0; i < 3; i++ {
		lines = append(lines,
			"(+0.000010) ros2:callback_start: { callback = 0xB }",
			"(+0.000010) ros2:callback_end: { callback = 0xB }")
	}
	lines = append(lines,
		"(+0.000010) ros2:rcl_publish: { publisher_handle = 0x10, message = 0x11 }",
		"(+0.000010) ros2:rmw_publish: { message = 0x11 }",
		"(+0.000010) ros2:callback_end: { callback = 0xA }",
	)

	rec, rep := mockSession(t, config.ClockShared, 0, lines...)
	r.True(t, rep.Complete())
	r.Equal(t, 6, rep.OutOfBand)
	r.Equal(t, 1, rep.Chains)
	r.Equal(t, 5, rep.Spans)

	ping := rec.Find("ping")[0]
	r.Equal(t, int64(100), ping.Start)
	r.Equal(t, int64(141), ping.End)

	rcl := rec.Find("ros2::rcl_publish")
	r.Equal(t, 1, len(rcl))
	r.Equal(t, int64(120), rcl[0].Start)
	r.Equal(t, "ros2::rclcpp_publish", rcl[0].Parent.Name)
	r.Equal(t, 1, len(rec.Find("ros2::rmw_publish")))
	r.Equal(t, 0, len(rec.Find("pong")))
	requireMonotonic(t, rec)
}

func TestTracer_Replay_SessionUnknownChain(t *testing.T) {
	rec, rep := mockSession(t, config.ClockShared, 0,
		"(+0.000010) ros2:callback_start: { callback = 0xdead }",
		"(+0.000010) ros2:callback_end: { callback = 0xdead }",
		"(+0.000010) ros2:callback_start: { callback = 0xA }",
		"(+0.000010) ros2:callback_end: { callback = 0xA }",
	)
	r.Equal(t, 2, rep.UnknownChains)
	r.Equal(t, 1, rep.Chains)

	ping := rec.Find("ping")[0]
	r.Equal(t, int64(30), ping.Start)
	r.Equal(t, int64(40), ping.End)
	id, _ := ping.Attr(AttrChainID)
	r.Equal(t, "0xa", id.AsString())
}

func TestTracer_Replay_ClockPolicy(t *testing.T) {
	lines := []string{
		"(+0.000100) ros2:callback_start: { callback = 0xa }",
		"(+0.000050) ros2:callback_end: { callback = 0xa }",
		"(+0.000200) ros2:callback_start: { callback = 0xb }",
		"(+0.000050) ros2:callback_end: { callback = 0xb }",
	}

	rec, _ := mockSession(t, config.ClockShared, 0, lines...)
	pong := rec.Find("pong")[0]
	r.Equal(t, int64(350), pong.Start)
	r.Equal(t, int64(400), pong.End)
	r.Equal(t, int64(400), rec.Find("ros2::session")[0].End)

	// per_chain 下每个 chain 从 epoch 开始各自累加
	rec, _ = mockSession(t, config.ClockPerChain, 0, lines...)
	ping := rec.Find("ping")[0]
	r.Equal(t, int64(100), ping.Start)
	r.Equal(t, int64(150), ping.End)
	pong = rec.Find("pong")[0]
	r.Equal(t, int64(200), pong.Start)
	r.Equal(t, int64(250), pong.End)
	r.Equal(t, int64(250), rec.Find("ros2::session")[0].End)
	requireMonotonic(t, rec)
}

func TestTracer_Replay_SessionTruncated(t *testing.T) {
	rec, rep := mockSession(t, config.ClockShared, 0, pingPongLog[:3]...)
	r.Equal(t, 1, len(rep.Abandoned))
	a := rep.Abandoned[0]
	r.Equal(t, "ping", a.Chain)
	r.Equal(t, "0xa", a.ChainID)
	r.Equal(t, []string{"ping", "ros2::rclcpp_publish", "ros2::rcl_publish"}, a.OpenFrames)

	// session 本身仍然输出
	spans := rec.Spans()
	r.Equal(t, 1, len(spans))
	r.Equal(t, "ros2::session", spans[0].Name)
	r.Equal(t, 1, rep.Spans)
}

func TestTracer_Replay_Cancelled(t *testing.T) {
	v, _ := config.Preset(config.PresetPublish)
	m, err := Compile(v)
	r.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := NewRecorder()
	rep, err := NewEngine(m, rec).Replay(ctx, source.FromLines("cancelled", publishLog...), epochT)
	r.NoError(t, err)
	r.Equal(t, 0, rep.Lines)
	r.Equal(t, 0, len(rec.Spans()))
}

func TestTracer_Replay_OpenError(t *testing.T) {
	v, _ := config.Preset(config.PresetPublish)
	m, err := Compile(v)
	r.NoError(t, err)

	_, err = NewEngine(m, NewRecorder()).Replay(context.Background(), source.FromFile("/nonexistent/seetrace.log"), epochT)
	r.Error(t, err)
}

//mockers

var publishLog = []string{
	"ros2:rclcpp_publish: { cpu_id = 0 }, { publisher_handle = 0x10, message = 0x11 }",
	"(+0.001000) ros2:rcl_publish: { cpu_id = 0 }, { publisher_handle = 0x10, message = 0x11 }",
	"(+0.000500) ros2:rmw_publish: { cpu_id = 0 }, { message = 0x11 }",
}

var takeLog = []string{
	"ros2:rclcpp_executor_execute: { handle = 0x20 }",
	"(+0.000010) ros2:rcl_take: { message = 0x21 }",
	"(+0.000010) ros2:rmw_take: { rmw_subscription_handle = 0x22, message = 0x21 }",
	"(+0.000010) ros2:rclcpp_take: { message = 0x21 }",
	"(+0.000010) ros2:callback_start: { callback = 0x23, is_intra_process = 0 }",
	"(+0.000010) ros2:rclcpp_publish: { publisher_handle = 0x10, message = 0x11 }",
	"(+0.000010) ros2:rcl_publish: { publisher_handle = 0x10, message = 0x11 }",
	"(+0.000010) ros2:rmw_publish: { message = 0x11 }",
	"(+0.000010) ros2:callback_end: { callback = 0x23 }",
}

var timerLog = []string{
	"ros2:rclcpp_executor_execute: { handle = 0x30 }",
	"(+0.000005) ros2:rcl_timer_call: { timer_handle = 0x30 }",
	"(+0.000010) ros2:callback_start: { callback = 0x31, is_intra_process = 0 }",
	"(+0.000020) ros2:callback_end: { callback = 0x31 }",
}

var pingPongLog = []string{
	"(+0.000100) ros2:callback_start: { callback = 0xA, is_intra_process = 0 }",
	"(+0.000010) ros2:rclcpp_publish: { publisher_handle = 0x10, message = 0x11 }",
	"(+0.000010) ros2:rcl_publish: { publisher_handle = 0x10, message = 0x11 }",
	"(+0.000010) ros2:rmw_publish: { message = 0x11 }",
	"(+0.000010) ros2:callback_end: { callback = 0xA }",
	"ros2:rcl_log: { msg = ping sent }",
	"(+0.000100) ros2:callback_start: { callback = 0xB, is_intra_process = 0 }",
	"(+0.000010) ros2:rclcpp_publish: { publisher_handle = 0x12, message = 0x13 }",
	"(+0.000010) ros2:rcl_publish: { publisher_handle = 0x12, message = 0x13 }",
	"(+0.000010) ros2:rmw_publish: { message = 0x13 }",
	"(+0.000010) ros2:callback_end: { callback = 0xB }",
	"(+0.000100) ros2:callback_start: { callback = 0xC, is_intra_process = 0 }",
	"(+0.000010) ros2:callback_end: { callback = 0xC }",
}

func mockReplay(t *testing.T, preset string, epoch int64, lines ...string) (*Recorder, *Report) {
	v, err := config.Preset(preset)
	r.NoError(t, err)
	return mockReplayVocabulary(t, v, epoch, lines...)
}

func mockSession(t *testing.T, clock config.ClockPolicy, epoch int64, lines ...string) (*Recorder, *Report) {
	v, err := config.Preset(config.PresetPingPong)
	r.NoError(t, err)
	v.Session.Clock = clock
	v.Session.Chains = map[string]string{
		"0xA": "ping",
		"0xB": "pong",
		"0xC": "pang",
	}
	return mockReplayVocabulary(t, v, epoch, lines...)
}

func mockReplayVocabulary(t *testing.T, v *config.Vocabulary, epoch int64, lines ...string) (*Recorder, *Report) {
	m, err := Compile(v)
	r.NoError(t, err)
	rec := NewRecorder()
	rep, err := NewEngine(m, rec).Replay(context.Background(), source.FromLines("mock.log", lines...), epoch)
	r.NoError(t, err)
	return rec, rep
}

func requireMonotonic(t *testing.T, rec *Recorder) {
	for _, span := range rec.Spans() {
		r.True(t, span.End >= span.Start, span.Name)
		if p := span.Parent; p != nil {
			r.True(t, p.Start <= span.Start, "%s starts before %s", span.Name, p.Name)
			r.True(t, span.End <= p.End, "%s outlives %s", span.Name, p.Name)
		}
	}
}

func mockDescendants(span *RecordedSpan) []*RecordedSpan {
	found := make([]*RecordedSpan, 0)
	for _, child := range span.Children {
		found = append(found, child)
		found = append(found, mockDescendants(child)...)
	}
	return found
}
