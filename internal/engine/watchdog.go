// watchdog.go — 会话静默看门狗。
//
// 不为每个会话建计时器: 每个会话记录单调的 LastEventAt,
// 由周期 tick 统一检查。运行中会话静默超过 quiet 阈值发一次告警,
// 不自动判失败 (agent 可能只是慢), 下一个事件到达即复位。
package engine

import (
	"time"
)

// Watchdog 静默检查器。Check 由 sequencer 在 tick 上调用。
type Watchdog struct {
	quiet time.Duration
}

// NewWatchdog 创建。quiet <= 0 时取默认 120s。
func NewWatchdog(quiet time.Duration) *Watchdog {
	if quiet <= 0 {
		quiet = 120 * time.Second
	}
	return &Watchdog{quiet: quiet}
}

// Check 扫描运行中会话, 返回本轮新晋静默超时的会话。
// 已告警过的跳过, 直到事件到达复位标记。
func (w *Watchdog) Check(running []*Session, now time.Time) []*Session {
	var flagged []*Session
	for _, s := range running {
		if s.Status != SessionRunning || s.watchdogFlagged {
			continue
		}
		last := s.LastEventAt
		if last.IsZero() {
			last = s.CreatedAt
		}
		if now.Sub(last) > w.quiet {
			s.watchdogFlagged = true
			flagged = append(flagged, s)
		}
	}
	return flagged
}
