// router.go — BindQueue 与事件路由。
//
// 新建会话在 agent 回传 session_configured 之前无法按 ID 路由,
// 先进 BindQueue 排队; agent 按提交顺序处理, 绑定也按同一顺序到达 (FIFO)。
package engine

import (
	"time"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// ========================================
// BindQueue
// ========================================

type bindEntry struct {
	session    *Session
	enqueuedAt time.Time
}

// BindQueue 等待 agent 会话 ID 的本地会话队列, 容量有界。
// 溢出时最老的条目被挤出并判定为孤儿 (failed)。
type BindQueue struct {
	entries []bindEntry
	cap     int
}

// NewBindQueue 创建, cap <= 0 时取默认 10。
func NewBindQueue(capacity int) *BindQueue {
	if capacity <= 0 {
		capacity = 10
	}
	return &BindQueue{cap: capacity}
}

// Push 入队。返回因溢出被挤出的会话 (无则 nil)。
func (q *BindQueue) Push(s *Session, now time.Time) *Session {
	var evicted *Session
	if len(q.entries) >= q.cap {
		evicted = q.entries[0].session
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, bindEntry{session: s, enqueuedAt: now})
	return evicted
}

// Pop 弹出最老的条目, 空队列返回 nil。
func (q *BindQueue) Pop() *Session {
	if len(q.entries) == 0 {
		return nil
	}
	s := q.entries[0].session
	q.entries = q.entries[1:]
	return s
}

// Remove 按本地 ID 移除 (中断/删除未绑定会话时)。
func (q *BindQueue) Remove(id string) bool {
	for i, e := range q.entries {
		if e.session.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// SweepExpired 摘除排队超过 timeout 的条目并返回, 防止 agent 永不应答时泄漏。
func (q *BindQueue) SweepExpired(now time.Time, timeout time.Duration) []*Session {
	var expired []*Session
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.enqueuedAt) > timeout {
			expired = append(expired, e.session)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return expired
}

// Len 队列长度。
func (q *BindQueue) Len() int { return len(q.entries) }

// ========================================
// EventRouter
// ========================================

// EventRouter 把事件解析到目标会话。
type EventRouter struct {
	registry *SessionRegistry
	queue    *BindQueue
}

// NewEventRouter 创建。
func NewEventRouter(registry *SessionRegistry, queue *BindQueue) *EventRouter {
	return &EventRouter{registry: registry, queue: queue}
}

// Route 解析事件的目标会话。返回 nil 表示事件被丢弃 (已记日志)。
//
// 规则:
//   - bind 事件: 弹出 BindQueue 最老条目 (FIFO); 队列为空回退前台会话;
//     重复绑定为幂等 no-op。
//   - 带 agent 会话 ID: 查 registry, 未知 ID 丢弃 (属于已完成被清理的会话)。
//   - 无 ID: 仅在至多一个会话运行时回退前台, 多会话并发时丢弃,
//     避免后台事件被错记到前台。
func (r *EventRouter) Route(ev agentproc.Event) *Session {
	if ev.Kind == agentproc.KindSessionConfigured && ev.SessionID != "" {
		return r.routeBind(ev)
	}

	if ev.SessionID != "" {
		if s := r.registry.ByAgent(ev.SessionID); s != nil {
			return s
		}
		logger.Warn("router: event for unknown session dropped",
			logger.FieldComponent, "router",
			logger.FieldAgentSID, ev.SessionID,
			logger.FieldEventType, ev.Kind,
		)
		return nil
	}

	if r.registry.RunningCount() > 1 {
		logger.Warn("router: unattributed event dropped with multiple sessions running",
			logger.FieldComponent, "router",
			logger.FieldEventType, ev.Kind,
			logger.FieldCount, r.registry.RunningCount(),
		)
		return nil
	}
	if s := r.registry.Foreground(); s != nil {
		return s
	}
	logger.Warn("router: no foreground session for unattributed event",
		logger.FieldComponent, "router",
		logger.FieldEventType, ev.Kind,
	)
	return nil
}

func (r *EventRouter) routeBind(ev agentproc.Event) *Session {
	// 已知 ID 的重复 bind: 幂等
	if s := r.registry.ByAgent(ev.SessionID); s != nil {
		return s
	}

	s := r.queue.Pop()
	if s == nil {
		s = r.registry.Foreground()
		if s == nil {
			logger.Warn("router: bind with empty queue and no foreground session",
				logger.FieldComponent, "router",
				logger.FieldAgentSID, ev.SessionID,
			)
			return nil
		}
	}
	if s.AgentSessionID != "" {
		// 会话已绑定过, 不覆盖
		return s
	}

	r.registry.BindAgent(s, ev.SessionID)
	logger.Infow("router: session bound",
		logger.FieldComponent, "router",
		logger.FieldSessionID, s.ID,
		logger.FieldAgentSID, ev.SessionID,
	)
	return s
}
