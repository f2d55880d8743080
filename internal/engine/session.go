// session.go — 引擎内会话运行时状态。
package engine

import (
	"time"
)

// SessionStatus 会话状态。变更统一走 Processor.transition。
type SessionStatus string

const (
	SessionIdle        SessionStatus = "idle"
	SessionRunning     SessionStatus = "running"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

// IsTerminal 返回状态是否为终态。
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionInterrupted:
		return true
	default:
		return false
	}
}

// Session 会话运行时记录。Buffer 在会话运行期间以此为准,
// 持久化层只保存周期快照与终态快照。
type Session struct {
	ID             string
	AgentSessionID string // 绑定前为空
	Title          string
	Cwd            string
	Model          string
	AgentName      string
	Status         SessionStatus
	Buffer         []ConversationMessage

	// RemoteCommandID 非空时, 该会话由远端命令发起, 终态需回报结果。
	RemoteCommandID string

	CreatedAt   time.Time
	LastEventAt time.Time

	// interrupted 置位后, 本回合后续事件只记日志不进缓冲,
	// 防止迟到的 abort 信号把 interrupted 翻回 completed。
	interrupted bool

	// watchdogFlagged 标记已发过静默告警, 事件到达时复位。
	watchdogFlagged bool

	// pendingPrompt 当前等待回复的 question/permission 请求。
	pendingPrompt *PromptRequest
}

// touch 记录事件活动时间并复位 watchdog 标记。
func (s *Session) touch(now time.Time) {
	s.LastEventAt = now
	s.watchdogFlagged = false
}

// ========================================
// SessionRegistry
// ========================================

// SessionRegistry 本地会话索引: 本地 ID / agent 会话 ID 双向映射 +
// 运行中集合 + 前台会话指针。仅 sequencer 访问, 不加锁。
type SessionRegistry struct {
	byLocal map[string]*Session
	byAgent map[string]*Session
	running map[string]struct{} // 本地 ID
	fg      string              // 前台会话本地 ID
}

// NewSessionRegistry 创建。
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byLocal: make(map[string]*Session),
		byAgent: make(map[string]*Session),
		running: make(map[string]struct{}),
	}
}

// Add 注册会话。
func (r *SessionRegistry) Add(s *Session) {
	r.byLocal[s.ID] = s
	if s.AgentSessionID != "" {
		r.byAgent[s.AgentSessionID] = s
	}
}

// BindAgent 记录 agent 会话 ID → 会话映射。
func (r *SessionRegistry) BindAgent(s *Session, agentSID string) {
	s.AgentSessionID = agentSID
	r.byAgent[agentSID] = s
}

// ByLocal 按本地 ID 查找。
func (r *SessionRegistry) ByLocal(id string) *Session { return r.byLocal[id] }

// ByAgent 按 agent 会话 ID 查找。
func (r *SessionRegistry) ByAgent(agentSID string) *Session { return r.byAgent[agentSID] }

// SetForeground 切换前台会话。
func (r *SessionRegistry) SetForeground(id string) { r.fg = id }

// Foreground 返回前台会话, 无则 nil。
func (r *SessionRegistry) Foreground() *Session { return r.byLocal[r.fg] }

// IsForeground 判断会话是否为前台。
func (r *SessionRegistry) IsForeground(s *Session) bool {
	return s != nil && s.ID == r.fg
}

// MarkRunning / UnmarkRunning 维护运行中集合。
func (r *SessionRegistry) MarkRunning(id string)   { r.running[id] = struct{}{} }
func (r *SessionRegistry) UnmarkRunning(id string) { delete(r.running, id) }

// RunningCount 运行中会话数量。
func (r *SessionRegistry) RunningCount() int { return len(r.running) }

// RunningSessions 返回运行中会话列表。
func (r *SessionRegistry) RunningSessions() []*Session {
	out := make([]*Session, 0, len(r.running))
	for id := range r.running {
		if s := r.byLocal[id]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// All 返回全部已注册会话。
func (r *SessionRegistry) All() []*Session {
	out := make([]*Session, 0, len(r.byLocal))
	for _, s := range r.byLocal {
		out = append(out, s)
	}
	return out
}

// Remove 移除会话 (显式删除时调用)。
func (r *SessionRegistry) Remove(id string) {
	if s, ok := r.byLocal[id]; ok {
		if s.AgentSessionID != "" {
			delete(r.byAgent, s.AgentSessionID)
		}
		delete(r.byLocal, id)
		delete(r.running, id)
		if r.fg == id {
			r.fg = ""
		}
	}
}
