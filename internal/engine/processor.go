// processor.go — 统一事件处理器 (per-event 状态机)。
//
// 前台/后台会话走完全相同的处理路径, foreground 参数只门控瞬态副作用,
// 从不影响缓冲变更逻辑 — 这是引擎的核心正确性性质, 后台路径不允许分叉。
package engine

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// ProcessorSink 处理器副作用出口, 由 Engine 实现 (测试可用假实现)。
// 所有回调都在 sequencer 上同步调用。
type ProcessorSink interface {
	// BufferChanged 会话消息缓冲发生变化。
	BufferChanged(s *Session)
	// StatusChanged 会话状态变化 (含持久化; errText 仅 failed 时非空)。
	StatusChanged(s *Session, errText string)
	// TransientChanged 前台瞬态状态变化。
	TransientChanged(s *Session)
	// Alert 会话级非致命告警。
	Alert(s *Session, level, text string)
	// PromptRequested 出现等待用户回复的 question/permission 请求。
	PromptRequested(s *Session, req PromptRequest)
	// SessionBound 会话完成 agent ID 绑定。
	SessionBound(s *Session)
	// RecordUsage 首次观察到的用量上报 (去重后)。
	RecordUsage(s *Session, ev agentproc.Event)
	// PersistSnapshot 同步整体落库当前缓冲。
	PersistSnapshot(s *Session)
	// SessionFinished 会话离开 running 集合 (终态收尾末尾调用)。
	SessionFinished(s *Session)
}

// PromptRequest 进行中的 native question / permission 请求。
type PromptRequest struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"` // "question" | "permission"
	MessageID string `json:"messageId"`
	ToolName  string `json:"toolName,omitempty"`
	Input     string `json:"input,omitempty"`
}

// UnifiedEventProcessor 每事件状态机。协作者显式注入, 无全局单例。
type UnifiedEventProcessor struct {
	messages  *MessageStore
	usage     *UsageDeduplicator
	transient *TransientState
	sink      ProcessorSink
}

// NewUnifiedEventProcessor 创建。
func NewUnifiedEventProcessor(messages *MessageStore, usage *UsageDeduplicator, transient *TransientState, sink ProcessorSink) *UnifiedEventProcessor {
	return &UnifiedEventProcessor{
		messages:  messages,
		usage:     usage,
		transient: transient,
		sink:      sink,
	}
}

// ========================================
// 事件分派
// ========================================

type eventHandler func(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool)

var eventHandlers = map[string]eventHandler{
	agentproc.KindSessionConfigured: handleBindEvent,
	agentproc.KindTokenCount:        handleUsageEvent,
	agentproc.KindReasoningDelta:    handleReasoningEvent,
	agentproc.KindToolCallBegin:     handleToolBeginEvent,
	agentproc.KindToolCallEnd:       handleToolEndEvent,
	agentproc.KindAssistantMessage:  handleAssistantEvent,
	agentproc.KindAssistantDelta:    handleAssistantEvent,
	agentproc.KindUserMessage:       handleUserEvent,
	agentproc.KindTurnDiff:          handleDiffEvent,
	agentproc.KindTurnComplete:      handleFinishEvent,
	agentproc.KindIdle:              handleFinishEvent,
	agentproc.KindError:             handleErrorEvent,
	agentproc.KindStreamError:       handleErrorEvent,
	agentproc.KindWarning:           handleWarningEvent,
	agentproc.KindUnknown:           handleUnknownEvent,
}

// Process 处理一条已路由的事件。原始事件日志由 Engine 在此之前写入。
func (p *UnifiedEventProcessor) Process(s *Session, ev agentproc.Event, fg bool) {
	if s.interrupted {
		// 中断后的本回合事件只记日志, 不进缓冲也不改状态
		logger.Debug("processor: event ignored on interrupted session",
			logger.FieldSessionID, s.ID,
			logger.FieldEventType, ev.Kind,
		)
		return
	}
	s.touch(time.Now())

	if handler, ok := eventHandlers[ev.Kind]; ok {
		handler(p, s, ev, fg)
	}
}

// ========================================
// 状态迁移 (唯一入口)
// ========================================

// Transition 集中式状态迁移。终态到终态的重复迁移为幂等 no-op,
// 重复的 finish/idle 信号收敛为一次完成。
func (p *UnifiedEventProcessor) Transition(s *Session, to SessionStatus, errText string, fg bool) {
	if s.Status == to {
		return
	}
	if s.Status.IsTerminal() && to.IsTerminal() {
		return
	}
	s.Status = to

	if to.IsTerminal() {
		p.finalize(s, to, errText, fg)
		return
	}
	p.sink.StatusChanged(s, "")
}

// finalize 终态收尾: 收口 running 工具 → 强制完成 todo → 终止横幅 →
// 同步落库 → 移出 running 集合。
func (p *UnifiedEventProcessor) finalize(s *Session, to SessionStatus, errText string, fg bool) {
	toolState := StatusCompleted
	if to == SessionInterrupted {
		toolState = StatusFailed
	}
	CloseRunningTools(s.Buffer, toolState)
	ForceTodosCompleted(s.Buffer)

	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:     MessageSystem,
		Content:  terminalBanner(to, errText),
		Status:   StatusCompleted,
		Terminal: true,
	})
	s.pendingPrompt = nil

	if fg {
		p.transient.Clear(s.ID)
		p.sink.TransientChanged(s)
	}

	p.sink.BufferChanged(s)
	p.sink.StatusChanged(s, errText)
	p.sink.PersistSnapshot(s)
	p.sink.SessionFinished(s)
}

func terminalBanner(to SessionStatus, errText string) string {
	switch to {
	case SessionFailed:
		if errText == "" {
			errText = "发生错误"
		}
		return "会话失败: " + errText
	case SessionInterrupted:
		return "已中断"
	default:
		return "回合已完成"
	}
}

// Interrupt 用户显式中断 (唯一进入 interrupted 的途径, 不由事件触发)。
func (p *UnifiedEventProcessor) Interrupt(s *Session, fg bool) {
	if s.Status != SessionRunning {
		return
	}
	p.Transition(s, SessionInterrupted, "", fg)
	s.interrupted = true
}

// ClearInterrupted 新一轮提交时复位中断屏蔽。
func (p *UnifiedEventProcessor) ClearInterrupted(s *Session) {
	s.interrupted = false
}

// ========================================
// per-kind 处理器
// ========================================

func handleBindEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if ev.Model != "" && s.Model == "" {
		s.Model = ev.Model
	}
	if ev.AgentName != "" && s.AgentName == "" {
		s.AgentName = ev.AgentName
	}
	p.sink.SessionBound(s)
}

func handleUsageEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if ev.Usage == nil {
		return
	}
	if !p.usage.Record(s.ID, ev.MessageID, *ev.Usage) {
		return
	}
	p.sink.RecordUsage(s, ev)
}

func handleReasoningEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if !fg || ev.Text == "" {
		return
	}
	p.transient.AppendReasoning(s.ID, ev.Text, time.Now())
	p.sink.TransientChanged(s)
}

func handleToolBeginEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	// question / permission 走提示通道, 不进通用工具合并
	if ev.PromptKind != "" {
		p.divertToPrompt(s, ev, fg)
		return
	}
	// todo-write 只处理完成形态, call 形态跳过避免重复气泡
	if ev.IsTodoWrite() {
		return
	}

	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:      MessageTool,
		ToolName:  ev.ToolName,
		ToolInput: ev.ToolInput,
		CallID:    ev.CallID,
		Status:    StatusRunning,
	})
	p.sink.BufferChanged(s)

	if fg {
		p.transient.SetCurrentTool(s.ID, ev.ToolName)
		p.sink.TransientChanged(s)
	}
}

func handleToolEndEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if ev.IsTodoWrite() {
		p.applyTodoWrite(s, ev)
		p.sink.BufferChanged(s)
		return
	}

	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:       MessageTool,
		ToolName:   ev.ToolName,
		ToolInput:  ev.ToolInput,
		ToolOutput: ev.ToolOut,
		CallID:     ev.CallID,
		Status:     StatusCompleted,
	})
	p.sink.BufferChanged(s)

	if fg {
		p.transient.SetCurrentTool(s.ID, "")
		p.sink.TransientChanged(s)
	}
}

func handleAssistantEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if ev.Text == "" {
		return
	}
	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:    MessageAssistant,
		Content: ev.Text,
	})
	p.sink.BufferChanged(s)
}

func handleUserEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:    MessageUser,
		Content: ev.Text,
	})
	p.sink.BufferChanged(s)
}

func handleDiffEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if ev.Text == "" {
		return
	}
	// diff 作为内容并入 assistant 流, 与文本遵循同一尾部合并规则
	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:    MessageAssistant,
		Content: "\n```diff\n" + ev.Text + "\n```\n",
	})
	p.sink.BufferChanged(s)
}

func handleFinishEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	p.Transition(s, SessionCompleted, "", fg)
}

func handleErrorEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	p.Transition(s, SessionFailed, ev.Text, fg)
}

func handleWarningEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	if ev.Text == "" {
		return
	}
	p.sink.Alert(s, "warning", ev.Text)
}

func handleUnknownEvent(p *UnifiedEventProcessor, s *Session, ev agentproc.Event, fg bool) {
	logger.Debug("processor: unknown event kind",
		logger.FieldSessionID, s.ID,
		logger.FieldRaw, string(ev.Raw),
	)
	// 可展示则降级为系统消息, 否则仅日志
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
		Type:    MessageSystem,
		Content: ev.Text,
	})
	p.sink.BufferChanged(s)
}

// ========================================
// 提示通道 (question / permission)
// ========================================

// divertToPrompt 创建一条 running 工具消息并挂起等待用户回复。
func (p *UnifiedEventProcessor) divertToPrompt(s *Session, ev agentproc.Event, fg bool) {
	msg := ConversationMessage{
		ID:        p.messages.NextID("prompt"),
		Type:      MessageTool,
		ToolName:  ev.ToolName,
		ToolInput: ev.ToolInput,
		CallID:    ev.CallID,
		Status:    StatusRunning,
	}
	s.Buffer = p.messages.Merge(s.Buffer, msg)
	req := PromptRequest{
		RequestID: ev.RequestID,
		Kind:      ev.PromptKind,
		MessageID: msg.ID,
		ToolName:  ev.ToolName,
		Input:     ev.ToolInput,
	}
	s.pendingPrompt = &req

	p.sink.BufferChanged(s)
	p.sink.PromptRequested(s, req)
}

// ResolvePrompt 用户回复到达: 对应工具消息以回复文本为输出收口。
// 返回挂起的请求 (无挂起请求返回 nil)。
func (p *UnifiedEventProcessor) ResolvePrompt(s *Session, response string) *PromptRequest {
	req := s.pendingPrompt
	if req == nil {
		return nil
	}
	s.pendingPrompt = nil

	for i := range s.Buffer {
		if s.Buffer[i].ID == req.MessageID {
			s.Buffer[i].ToolOutput = response
			s.Buffer[i].Status = StatusCompleted
			break
		}
	}
	p.sink.BufferChanged(s)
	return req
}

// ========================================
// todo-write 解析
// ========================================

type todoWritePayload struct {
	Todos []todoWriteItem `json:"todos"`
	Merge bool            `json:"merge"`
}

type todoWriteItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// applyTodoWrite 解析 todo-write 结果并合并。payload 不可解析时
// 优雅降级为普通工具消息展示, 不报错。
func (p *UnifiedEventProcessor) applyTodoWrite(s *Session, ev agentproc.Event) {
	items, merge, ok := parseTodoWrite(ev.ToolInput)
	if !ok {
		items, merge, ok = parseTodoWrite(ev.ToolOut)
	}
	if !ok {
		s.Buffer = p.messages.Merge(s.Buffer, ConversationMessage{
			Type:       MessageTool,
			ToolName:   ev.ToolName,
			ToolInput:  ev.ToolInput,
			ToolOutput: ev.ToolOut,
			CallID:     ev.CallID,
			Status:     StatusCompleted,
		})
		return
	}
	msg := p.messages.NewTodoMessage(items, merge, ev.CallID)
	s.Buffer = p.messages.Merge(s.Buffer, msg)
}

func parseTodoWrite(raw string) ([]TodoItem, bool, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false, false
	}
	var payload todoWritePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || len(payload.Todos) == 0 {
		return nil, false, false
	}
	items := make([]TodoItem, 0, len(payload.Todos))
	for _, t := range payload.Todos {
		if t.ID == "" {
			continue
		}
		items = append(items, TodoItem{
			ID:      t.ID,
			Content: t.Content,
			Status:  normalizeTodoStatus(t.Status),
		})
	}
	if len(items) == 0 {
		return nil, false, false
	}
	return items, payload.Merge, true
}

func normalizeTodoStatus(status string) TodoStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "done", "success":
		return TodoCompleted
	case "in_progress", "doing", "active", "running":
		return TodoInProgress
	case "cancelled", "canceled", "skipped":
		return TodoCancelled
	default:
		return TodoPending
	}
}
