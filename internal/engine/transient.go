// transient.go — 前台会话瞬态状态 (思考文本 / 当前工具)。
//
// 瞬态内容不进消息缓冲。思考文本的延迟消隐不用单独计时器,
// 记一个 deadline 时间戳由周期检查 tick 读取 (级联 cancel/restart 退化为改时间戳)。
package engine

import (
	"time"
)

// TransientState 前台会话的瞬态展示状态。
type TransientState struct {
	SessionID     string `json:"sessionId"`
	ReasoningText string `json:"reasoningText,omitempty"`
	CurrentTool   string `json:"currentTool,omitempty"`

	reasoningDeadline time.Time
	dismissAfter      time.Duration
}

// NewTransientState 创建。dismissAfter 为思考文本静默消隐时长。
func NewTransientState(dismissAfter time.Duration) *TransientState {
	if dismissAfter <= 0 {
		dismissAfter = 4 * time.Second
	}
	return &TransientState{dismissAfter: dismissAfter}
}

// AppendReasoning 追加思考文本并重置消隐 deadline。
func (t *TransientState) AppendReasoning(sessionID, delta string, now time.Time) {
	if delta == "" {
		return
	}
	if t.SessionID != sessionID {
		// 切换前台会话后残留的思考文本直接丢弃
		t.ReasoningText = ""
		t.SessionID = sessionID
	}
	t.ReasoningText += delta
	t.reasoningDeadline = now.Add(t.dismissAfter)
}

// SetCurrentTool 更新当前工具名。
func (t *TransientState) SetCurrentTool(sessionID, tool string) {
	t.SessionID = sessionID
	t.CurrentTool = tool
}

// Tick 周期检查: deadline 已过则清空思考文本。返回是否发生变化。
func (t *TransientState) Tick(now time.Time) bool {
	if t.ReasoningText == "" || t.reasoningDeadline.IsZero() {
		return false
	}
	if now.Before(t.reasoningDeadline) {
		return false
	}
	t.ReasoningText = ""
	t.reasoningDeadline = time.Time{}
	return true
}

// Clear 清空全部瞬态 (回合终止/切换会话)。
func (t *TransientState) Clear(sessionID string) {
	if sessionID != "" && t.SessionID != sessionID {
		return
	}
	t.ReasoningText = ""
	t.CurrentTool = ""
	t.reasoningDeadline = time.Time{}
}
