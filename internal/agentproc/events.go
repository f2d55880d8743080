// Package agentproc 封装外部 agent 子进程。
//
// 子进程在 stdout 上按行输出 JSON 事件 (NDJSON), 在 stdin 上接受 JSON 命令。
// 本包只负责进程生命周期与事件编解码; 事件语义由 engine 处理。
package agentproc

import (
	"encoding/json"
	"strings"
)

// Event agent 事件信封 (解码后)。
//
// Raw 始终保留原始行 — 即便引擎没有完整解码, 也要能写入事件日志用于回放。
type Event struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"sessionId,omitempty"`
	Text      string          `json:"text,omitempty"`

	ToolName  string `json:"toolName,omitempty"`
	ToolInput string `json:"toolInput,omitempty"`
	ToolOut   string `json:"toolOutput,omitempty"`
	CallID    string `json:"callId,omitempty"`

	// 提示请求 (native question / permission request) 走提示通道而非通用工具合并。
	RequestID  string `json:"requestId,omitempty"`
	PromptKind string `json:"promptKind,omitempty"` // "" | "question" | "permission"

	MessageID string `json:"messageId,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
	Model     string `json:"model,omitempty"`
	AgentName string `json:"agentName,omitempty"`

	// SecondaryFinish 标记冗余完成信号 (例如 turn_complete 之后的 idle),
	// 不得产生第二条完成消息。
	SecondaryFinish bool `json:"secondaryFinish,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Usage token 用量计数。
type Usage struct {
	InputTokens     int     `json:"inputTokens"`
	OutputTokens    int     `json:"outputTokens"`
	ReasoningTokens int     `json:"reasoningTokens,omitempty"`
	CostUSD         float64 `json:"costUsd,omitempty"`
}

// ========================================
// 事件类型常量
// ========================================

const (
	// 核心生命周期
	KindSessionConfigured = "session_configured"
	KindTurnComplete      = "turn_complete"
	KindIdle              = "idle" // 冗余完成信号
	KindError             = "error"
	KindStreamError       = "stream_error"

	// Agent 输出
	KindAssistantMessage = "agent_message"
	KindAssistantDelta   = "agent_message_delta"
	KindReasoningDelta   = "agent_reasoning_delta"
	KindUserMessage      = "user_message"

	// 工具调用
	KindToolCallBegin = "tool_call_begin"
	KindToolCallEnd   = "tool_call_end"

	// 代码修改
	KindTurnDiff = "turn_diff"

	// 其他
	KindTokenCount = "token_count"
	KindWarning    = "warning"
	KindUnknown    = "unknown"
)

// ToolNameTodoWrite todo 列表工具名 (engine 对其做特殊拦截)。
const ToolNameTodoWrite = "TodoWrite"

// ========================================
// 事件数据 payload (与子进程协议一一对应)
// ========================================

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type sessionConfiguredData struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

type textData struct {
	SessionID string `json:"session_id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Content   string `json:"content,omitempty"`
	Text      string `json:"text,omitempty"`
}

type toolCallData struct {
	SessionID string          `json:"session_id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    string          `json:"output,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Prompt    string          `json:"prompt,omitempty"` // "question" | "permission"
}

type tokenCountData struct {
	SessionID string  `json:"session_id,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	Input     int     `json:"input"`
	Output    int     `json:"output"`
	Reasoning int     `json:"reasoning,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
	Model     string  `json:"model,omitempty"`
}

type finishData struct {
	SessionID string `json:"session_id,omitempty"`
}

type errorData struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
}

type diffData struct {
	SessionID string `json:"session_id,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// DecodeLine 将一行 NDJSON 解码为 Event。
//
// 未知类型不报错 — 降级为 KindUnknown 并保留原始 payload (§graceful degradation)。
func DecodeLine(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, err
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	ev := Event{Kind: normalizeKind(env.Type), Raw: raw}

	switch ev.Kind {
	case KindSessionConfigured:
		var d sessionConfiguredData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.Model = d.Model
		ev.AgentName = d.AgentName

	case KindAssistantMessage, KindAssistantDelta, KindReasoningDelta, KindUserMessage, KindWarning:
		var d textData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.Text = firstText(d.Delta, d.Text, d.Content)

	case KindToolCallBegin, KindToolCallEnd:
		var d toolCallData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.CallID = d.CallID
		ev.ToolName = d.Tool
		ev.ToolOut = d.Output
		ev.RequestID = d.RequestID
		ev.PromptKind = normalizePromptKind(d.Prompt)
		if len(d.Input) > 0 {
			ev.ToolInput = string(d.Input)
		}

	case KindTokenCount:
		var d tokenCountData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.MessageID = d.MessageID
		ev.Model = d.Model
		ev.Usage = &Usage{
			InputTokens:     d.Input,
			OutputTokens:    d.Output,
			ReasoningTokens: d.Reasoning,
			CostUSD:         d.CostUSD,
		}

	case KindTurnComplete, KindIdle:
		var d finishData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		if ev.Kind == KindIdle {
			ev.SecondaryFinish = true
		}

	case KindError, KindStreamError:
		var d errorData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.Text = d.Message

	case KindTurnDiff:
		var d diffData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.Text = d.Diff

	default:
		// 未知类型: 尽力提取通用字段, 方便日志检索
		var d textData
		_ = json.Unmarshal(env.Data, &d)
		ev.SessionID = d.SessionID
		ev.Text = firstText(d.Delta, d.Text, d.Content)
	}

	return ev, nil
}

// normalizeKind 归一化事件类型, 未知类型映射为 KindUnknown。
func normalizeKind(t string) string {
	switch strings.TrimSpace(t) {
	case KindSessionConfigured, KindTurnComplete, KindIdle,
		KindError, KindStreamError,
		KindAssistantMessage, KindAssistantDelta, KindReasoningDelta, KindUserMessage,
		KindToolCallBegin, KindToolCallEnd,
		KindTurnDiff, KindTokenCount, KindWarning:
		return strings.TrimSpace(t)
	default:
		return KindUnknown
	}
}

func normalizePromptKind(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "question":
		return "question"
	case "permission":
		return "permission"
	default:
		return ""
	}
}

func firstText(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// IsFinish 返回事件是否为完成信号 (含冗余完成)。
func (e Event) IsFinish() bool {
	return e.Kind == KindTurnComplete || e.Kind == KindIdle
}

// IsTodoWrite 返回事件是否为 todo 列表工具调用。
func (e Event) IsTodoWrite() bool {
	return strings.EqualFold(e.ToolName, ToolNameTodoWrite)
}

// ========================================
// Client → Agent 命令
// ========================================

// SubmitCommand 提交新会话意图。
type SubmitCommand struct {
	Type string `json:"type"` // "submit"
	Text string `json:"text"`
	Cwd  string `json:"cwd,omitempty"`
}

// ResumeCommand 恢复已有会话。
type ResumeCommand struct {
	Type      string `json:"type"` // "resume"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Cwd       string `json:"cwd,omitempty"`
}

// InterruptCommand 中断当前生成。
type InterruptCommand struct {
	Type string `json:"type"` // "interrupt"
}

// QuestionReply 回复 native question。
type QuestionReply struct {
	Type      string   `json:"type"` // "question_reply"
	RequestID string   `json:"request_id"`
	Answers   []string `json:"answers"`
}

// PermissionReply 回复 native permission request。
type PermissionReply struct {
	Type      string `json:"type"` // "permission_reply"
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"` // "allow" | "deny"
}

// SetSessionCommand 预设/清除 agent 侧会话 ID。
type SetSessionCommand struct {
	Type      string  `json:"type"` // "set_session"
	SessionID *string `json:"session_id"`
}
