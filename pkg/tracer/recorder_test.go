package tracer

import (
	"testing"

	"github.com/stleox/seetrace/pkg/config"
	r "github.com/stretchr/testify/require"
)

func TestTracer_Recorder_Tree(t *testing.T) {
	rec, _ := mockReplay(t, config.PresetPublish, epochT, publishLog...)
	r.Equal(t, ""+
		"ros2::rclcpp_publish [+0us, 1501us]\n"+
		"  ros2::rcl_publish [+1000us, 501us]\n"+
		"    ros2::rmw_publish [+1500us, 1us]\n",
		rec.Tree())
}

func TestTracer_Recorder_Unended(t *testing.T) {
	rec := NewRecorder()
	root := rec.BeginSpan("root", nil, 10)
	rec.BeginSpan("child", root, 11)
	rec.EndSpan(root, 20)

	// 未结束的 span 不算输出
	r.Equal(t, 1, len(rec.Spans()))
	r.Equal(t, "root [+0us, 10us]\n", rec.Tree())
	r.Equal(t, 0, len(rec.Find("child")))

	rec.Reset()
	r.Equal(t, "", rec.Tree())
	r.Equal(t, 0, len(rec.Roots()))
}

func TestTracer_Recorder_IgnoresForeignHandle(t *testing.T) {
	rec := NewRecorder()
	rec.EndSpan("not a span", 1)
	rec.EndSpan(nil, 1)
	r.Equal(t, 0, len(rec.Spans()))
}
