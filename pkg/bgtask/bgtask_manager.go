package bgtask

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/source"
	"github.com/stleox/seetrace/pkg/tracer"
)

// BgTaskManager manages background periodical tasks.
// Includes:
// - Replay new logs dropped into the spool directory
type BgTaskManager struct {
	bgTasks  []BgTask
	replayer Replayer
	ctx      context.Context
}

type BgTask interface {
	Start()
	Stop()
}

// Replayer is satisfied by *tracer.ReplayManager.
type Replayer interface {
	Replay(ctx context.Context, src source.Source) (*tracer.Report, error)
}

func NewBgTaskManager(ctx context.Context, vp *viper.Viper, replayer Replayer) *BgTaskManager {
	m := &BgTaskManager{
		bgTasks:  make([]BgTask, 0),
		replayer: replayer,
		ctx:      ctx,
	}

	dir := vp.GetString("spool-dir")
	if dir == "" {
		logrus.Warn("SeeTrace has no spool-dir, nothing to watch")
		return m
	}
	glob := vp.GetString("spool-glob")
	if glob == "" {
		glob = config.SpoolGlob
	}
	interval := vp.GetDuration("spool-interval")
	if interval <= 0 {
		interval = config.SpoolInterval
	}
	m.addSpoolTask(dir, glob, interval)
	return m
}

func (m *BgTaskManager) StartAll() {
	for _, task := range m.bgTasks {
		task.Start()
	}
}

func (m *BgTaskManager) StopAll() {
	for _, task := range m.bgTasks {
		task.Stop()
	}
}

func (m *BgTaskManager) NumTasks() int {
	return len(m.bgTasks)
}
