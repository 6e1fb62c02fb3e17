package bgtask

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/source"
)

// SpoolTask 定期扫描 spool 目录，回放新出现或有变化的日志
type SpoolTask struct {
	m        *BgTaskManager
	dir      string
	glob     string
	interval time.Duration

	// cache: path -> fingerprint of the replayed file
	seen *lru.Cache[string, string]

	cron *cron.Cron
}

func (m *BgTaskManager) addSpoolTask(dir, glob string, interval time.Duration) *SpoolTask {
	seen, _ := lru.New[string, string](config.MaxNumSpooled)
	t := &SpoolTask{
		m:        m,
		dir:      dir,
		glob:     glob,
		interval: interval,
		seen:     seen,
	}
	m.bgTasks = append(m.bgTasks, t)
	return t
}

func (t *SpoolTask) Run() {
	n, err := t.Scan()
	if err != nil {
		logrus.WithError(err).Warnf("SeeTrace couldn't scan spool dir %s", t.dir)
		return
	}
	if n > 0 {
		logrus.Infof("SeeTrace replayed %d spooled logs", n)
	}
}

// Scan replays every matching file not replayed in its current form yet.
func (t *SpoolTask) Scan() (int, error) {
	paths, err := filepath.Glob(filepath.Join(t.dir, t.glob))
	if err != nil {
		return 0, errors.Wrapf(err, "glob %s", t.glob)
	}
	sort.Strings(paths)

	replayed := 0
	for _, path := range paths {
		if t.m.ctx.Err() != nil {
			break
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		fp := fingerprint(info)
		if last, hit := t.seen.Get(path); hit && last == fp {
			continue
		}

		// 失败的文件同样记下，内容变化后才会再次回放
		t.seen.Add(path, fp)
		if _, err := t.m.replayer.Replay(t.m.ctx, source.FromFile(path)); err != nil {
			logrus.WithError(err).WithField("path", path).Warn("SeeTrace couldn't replay spooled log")
			continue
		}
		replayed++
	}
	return replayed, nil
}

func fingerprint(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

func (t *SpoolTask) Start() {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddJob(fmt.Sprintf("@every %s", t.interval), t)
	if err != nil {
		logrus.WithError(err).Warn("SeeTrace couldn't add spool task")
		return
	}
	t.cron = c
	c.Start()
	logrus.Infof("SeeTrace watches %s every %s", filepath.Join(t.dir, t.glob), t.interval)
}

func (t *SpoolTask) Stop() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
	t.cron = nil
}
