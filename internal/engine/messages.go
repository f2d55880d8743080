// messages.go — 会话消息模型与 MessageStore 合并算法。
//
// MessageStore 对传入的 buffer 是纯函数式的: 接收缓冲 + 新消息, 返回新缓冲,
// 前台 buffer 和后台 buffer 走同一套合并逻辑。
package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType 消息类型。
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageTool      MessageType = "tool"
	MessageTodo      MessageType = "todo"
	MessageSystem    MessageType = "system"
)

// MessageStatus 消息生命周期状态。
type MessageStatus string

const (
	StatusRunning   MessageStatus = "running"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
)

// TodoStatus todo 项状态。
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoItem todo 列表项。按 ID 稳定识别; 空 content 的状态更新保留已知 content。
type TodoItem struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// ConversationMessage 可合并的会话消息单元。
type ConversationMessage struct {
	ID         string        `json:"id"`
	Type       MessageType   `json:"type"`
	Content    string        `json:"content,omitempty"`
	ToolName   string        `json:"toolName,omitempty"`
	ToolInput  string        `json:"toolInput,omitempty"`
	ToolOutput string        `json:"toolOutput,omitempty"`
	CallID     string        `json:"callId,omitempty"`
	Status     MessageStatus `json:"status,omitempty"`
	Todos      []TodoItem    `json:"todos,omitempty"`
	// Terminal 标记回合收尾的系统横幅, 每个回合最多一条。
	Terminal  bool      `json:"terminal,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// todoMerge 仅在 todo-write 入口传递合并模式, 不序列化。
	todoMerge bool
}

// MessageStore 消息合并器。
//
// 仅由 sequencer 调用, 不加锁; seq 用于生成进程内唯一消息 ID。
type MessageStore struct {
	seq int64
}

// NewMessageStore 创建。
func NewMessageStore() *MessageStore { return &MessageStore{} }

// NextID 生成消息 ID: {kind}-{unix 毫秒}-{递增序号}。
func (s *MessageStore) NextID(kind string) string {
	s.seq++
	if kind == "" {
		kind = "item"
	}
	return fmt.Sprintf("%s-%d-%d", kind, time.Now().UnixMilli(), s.seq)
}

// Merge 合并入口: 对 buf 应用一条新消息, 返回新缓冲。
//
// 分派规则 (按消息类型):
//   - system + Terminal: 回合内去重 (最后一条 user 之后已有横幅则丢弃)
//   - user: 总是追加, 从不合并
//   - assistant: 仅与缓冲最后一条 assistant 就地拼接, 否则追加
//   - tool: call id 优先 → 连续合并兜底 → 追加 running
//   - todo: 全缓冲唯一 todo 消息, 按 todoMerge 决定并入或整体替换
func (s *MessageStore) Merge(buf []ConversationMessage, in ConversationMessage) []ConversationMessage {
	if in.ID == "" {
		in.ID = s.NextID(string(in.Type))
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}

	switch in.Type {
	case MessageSystem:
		if in.Terminal && hasTerminalSinceLastUser(buf) {
			return buf
		}
		return append(buf, in)
	case MessageUser:
		return append(buf, in)
	case MessageAssistant:
		return mergeAssistant(buf, in)
	case MessageTool:
		return s.mergeTool(buf, in)
	case MessageTodo:
		return s.mergeTodoWrite(buf, in)
	default:
		return append(buf, in)
	}
}

// hasTerminalSinceLastUser 从尾部扫描到最近一条 user 消息为止,
// 判断该回合是否已有终止横幅。
func hasTerminalSinceLastUser(buf []ConversationMessage) bool {
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i].Type == MessageUser {
			return false
		}
		if buf[i].Type == MessageSystem && buf[i].Terminal {
			return true
		}
	}
	return false
}

// mergeAssistant 流式 assistant 合并: 只有缓冲最后一条是 assistant 才拼接,
// 保持 "text → tool → text" 的视觉顺序。
func mergeAssistant(buf []ConversationMessage, in ConversationMessage) []ConversationMessage {
	if n := len(buf); n > 0 && buf[n-1].Type == MessageAssistant {
		buf[n-1].Content += in.Content
		return buf
	}
	return append(buf, in)
}

// mergeTool 工具消息合并, 优先级:
//
//	a. call id 匹配 (缓冲中任意位置)
//	b. 连续合并: 最后一条是无输出的 tool, 且来者带输出、工具名匹配
//	c. 追加为 running 状态的新工具消息
func (s *MessageStore) mergeTool(buf []ConversationMessage, in ConversationMessage) []ConversationMessage {
	if in.CallID != "" {
		for i := range buf {
			if buf[i].Type == MessageTool && buf[i].CallID == in.CallID {
				mergeToolFields(&buf[i], in)
				return buf
			}
		}
	}

	if n := len(buf); n > 0 && in.ToolOutput != "" {
		last := &buf[n-1]
		if last.Type == MessageTool && last.ToolOutput == "" && toolNameMatches(last.ToolName, in.ToolName) {
			mergeToolFields(last, in)
			return buf
		}
	}

	if in.Status == "" {
		in.Status = StatusRunning
	}
	return append(buf, in)
}

// mergeToolFields 字段级合并: 已有非空值优先, 但 output 到达后状态强制收敛。
// 已完成的工具消息不会被重新打开。
func mergeToolFields(dst *ConversationMessage, in ConversationMessage) {
	if dst.ToolName == "" {
		dst.ToolName = in.ToolName
	}
	if dst.ToolInput == "" {
		dst.ToolInput = in.ToolInput
	}
	if dst.CallID == "" {
		dst.CallID = in.CallID
	}
	if in.Content != "" && dst.Content == "" {
		dst.Content = in.Content
	}
	if in.ToolOutput != "" {
		dst.ToolOutput = in.ToolOutput
		if dst.Status != StatusFailed {
			dst.Status = StatusCompleted
		}
	}
	if in.Status == StatusFailed {
		dst.Status = StatusFailed
	} else if in.Status == StatusCompleted && dst.Status == StatusRunning {
		// 无输出的结果形态也要把 running 消息收口
		dst.Status = StatusCompleted
	}
}

// toolNameMatches 连续合并的工具名匹配: 相同、为空或通用 "result" 标签。
func toolNameMatches(existing, incoming string) bool {
	if incoming == "" || strings.EqualFold(incoming, "result") {
		return true
	}
	return strings.EqualFold(existing, incoming)
}

// mergeTodoWrite 维护缓冲内唯一的 todo 消息。
//
// todoMerge 置位时按 item ID 并入 (空 content 的状态更新保留旧 content),
// 否则整体替换。合并后把被 todo-write 取代的 running 工具消息标记完成。
func (s *MessageStore) mergeTodoWrite(buf []ConversationMessage, in ConversationMessage) []ConversationMessage {
	idx := -1
	for i := range buf {
		if buf[i].Type == MessageTodo {
			idx = i
			break
		}
	}

	if idx >= 0 {
		if in.todoMerge {
			buf[idx].Todos = mergeTodoItems(buf[idx].Todos, in.Todos)
		} else {
			buf[idx].Todos = in.Todos
		}
		buf[idx].Status = StatusCompleted
	} else {
		in.Status = StatusCompleted
		buf = append(buf, in)
	}

	closeSupersededToolMessage(buf, in.CallID)
	return buf
}

// mergeTodoItems 按 ID 并入 todo 项。状态总是采用新值;
// content 为空的更新保留该 ID 已知的 content。
func mergeTodoItems(existing, updates []TodoItem) []TodoItem {
	byID := make(map[string]int, len(existing))
	merged := append([]TodoItem{}, existing...)
	for i, item := range merged {
		byID[item.ID] = i
	}
	for _, u := range updates {
		if i, ok := byID[u.ID]; ok {
			merged[i].Status = u.Status
			if u.Content != "" {
				merged[i].Content = u.Content
			}
			continue
		}
		merged = append(merged, u)
		byID[u.ID] = len(merged) - 1
	}
	return merged
}

// closeSupersededToolMessage 收口被 todo-write 取代的残留 running 工具消息,
// 按 call id 或 todo 工具名启发式匹配, 避免 UI 上一直转圈。
func closeSupersededToolMessage(buf []ConversationMessage, callID string) {
	for i := len(buf) - 1; i >= 0; i-- {
		m := &buf[i]
		if m.Type != MessageTool || m.Status != StatusRunning {
			continue
		}
		if (callID != "" && m.CallID == callID) || isTodoToolName(m.ToolName) {
			m.Status = StatusCompleted
			return
		}
	}
}

func isTodoToolName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == "todowrite" || n == "todo_write" || n == "update_plan"
}

// NewTodoMessage 构造 todo-write 入口消息 (merge 标志经非序列化字段传递)。
func (s *MessageStore) NewTodoMessage(items []TodoItem, merge bool, callID string) ConversationMessage {
	return ConversationMessage{
		Type:      MessageTodo,
		Todos:     items,
		CallID:    callID,
		todoMerge: merge,
	}
}

// ========================================
// 收尾操作 (回合终止时由 processor 调用)
// ========================================

// CloseRunningTools 将所有 running 工具消息置为指定终态。
func CloseRunningTools(buf []ConversationMessage, to MessageStatus) {
	for i := range buf {
		if buf[i].Type == MessageTool && buf[i].Status == StatusRunning {
			buf[i].Status = to
		}
	}
}

// ForceTodosCompleted 将仍处于 pending/in_progress 的 todo 项强制完成。
func ForceTodosCompleted(buf []ConversationMessage) {
	for i := range buf {
		if buf[i].Type != MessageTodo {
			continue
		}
		for j := range buf[i].Todos {
			switch buf[i].Todos[j].Status {
			case TodoPending, TodoInProgress:
				buf[i].Todos[j].Status = TodoCompleted
			}
		}
	}
}

// ========================================
// 快照序列化
// ========================================

// EncodeBuffer 将消息缓冲序列化为快照 blob。
func EncodeBuffer(buf []ConversationMessage) (json.RawMessage, error) {
	if buf == nil {
		buf = []ConversationMessage{}
	}
	return json.Marshal(buf)
}

// DecodeBuffer 从快照 blob 还原消息缓冲。
func DecodeBuffer(raw json.RawMessage) ([]ConversationMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf []ConversationMessage
	if err := json.Unmarshal(raw, &buf); err != nil {
		return nil, err
	}
	return buf, nil
}
