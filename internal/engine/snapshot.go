// snapshot.go — 周期快照调度器。
//
// 有会话运行时每 period 触发一次, 把所有运行中缓冲整体落库 (崩溃恢复用);
// 正常终止路径另有同步落库, 两边都是幂等整体覆盖, 不存在读改写竞争。
package engine

import (
	"time"

	"github.com/agentdeck/go-deck-v2/pkg/logger"
	"github.com/agentdeck/go-deck-v2/pkg/util"
)

// SnapshotScheduler 快照调度器。fire 回调把快照任务投递回 sequencer,
// 调度器本身不接触任何会话数据。
type SnapshotScheduler struct {
	period time.Duration
	fire   func()
	stop   chan struct{}
	active bool
}

// NewSnapshotScheduler 创建。period <= 0 时取默认 30s。
func NewSnapshotScheduler(period time.Duration, fire func()) *SnapshotScheduler {
	if period <= 0 {
		period = 30 * time.Second
	}
	return &SnapshotScheduler{period: period, fire: fire}
}

// Start 启动 ticker (首个会话开始运行时)。重复调用为 no-op。
func (s *SnapshotScheduler) Start() {
	if s.active {
		return
	}
	s.active = true
	s.stop = make(chan struct{})
	stop := s.stop

	util.SafeGo("engine.snapshotScheduler", func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.fire()
			case <-stop:
				return
			}
		}
	})
	logger.Infow("snapshot scheduler started", logger.FieldComponent, "engine")
}

// Stop 停止 ticker (最后一个运行中会话结束时)。重复调用为 no-op。
func (s *SnapshotScheduler) Stop() {
	if !s.active {
		return
	}
	s.active = false
	close(s.stop)
	logger.Infow("snapshot scheduler stopped", logger.FieldComponent, "engine")
}

// Active 返回调度器是否在运行。
func (s *SnapshotScheduler) Active() bool { return s.active }
