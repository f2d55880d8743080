package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
)

// recordingSink 记录回调次数的假 sink。
type recordingSink struct {
	bufferChanged    int
	statusChanged    int
	lastStatusErr    string
	transientChanged int
	alerts           []string
	prompts          []PromptRequest
	bound            int
	usageEvents      []agentproc.Event
	snapshots        int
	finished         int
}

func (r *recordingSink) BufferChanged(*Session) { r.bufferChanged++ }
func (r *recordingSink) StatusChanged(_ *Session, errText string) {
	r.statusChanged++
	r.lastStatusErr = errText
}
func (r *recordingSink) TransientChanged(*Session) { r.transientChanged++ }
func (r *recordingSink) Alert(_ *Session, level, text string) {
	r.alerts = append(r.alerts, level+":"+text)
}
func (r *recordingSink) PromptRequested(_ *Session, req PromptRequest) {
	r.prompts = append(r.prompts, req)
}
func (r *recordingSink) SessionBound(*Session) { r.bound++ }
func (r *recordingSink) RecordUsage(_ *Session, ev agentproc.Event) {
	r.usageEvents = append(r.usageEvents, ev)
}
func (r *recordingSink) PersistSnapshot(*Session) { r.snapshots++ }
func (r *recordingSink) SessionFinished(*Session) { r.finished++ }

func newTestProcessor() (*UnifiedEventProcessor, *recordingSink) {
	sink := &recordingSink{}
	p := NewUnifiedEventProcessor(
		NewMessageStore(),
		NewUsageDeduplicator(),
		NewTransientState(4*time.Second),
		sink,
	)
	return p, sink
}

func runningSession() *Session {
	return &Session{
		ID:        "s1",
		Status:    SessionRunning,
		CreatedAt: time.Now(),
	}
}

func TestProcessAssistantAppendsToBuffer(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindAssistantMessage, Text: "你好"}, true)

	if len(s.Buffer) != 1 || s.Buffer[0].Content != "你好" {
		t.Fatalf("buffer = %+v, want single assistant message", s.Buffer)
	}
	if sink.bufferChanged != 1 {
		t.Errorf("bufferChanged = %d, want 1", sink.bufferChanged)
	}
}

func TestProcessFinishIsIdempotent(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindTurnComplete}, true)
	p.Process(s, agentproc.Event{Kind: agentproc.KindIdle, SecondaryFinish: true}, true)

	if s.Status != SessionCompleted {
		t.Fatalf("status = %q, want completed", s.Status)
	}
	if sink.finished != 1 {
		t.Errorf("finished = %d, want 1 (duplicate finish must converge)", sink.finished)
	}
	banners := 0
	for _, m := range s.Buffer {
		if m.Type == MessageSystem && m.Terminal {
			banners++
		}
	}
	if banners != 1 {
		t.Errorf("terminal banners = %d, want 1", banners)
	}
}

func TestFinalizeClosesToolsAndTodos(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindToolCallBegin, ToolName: "grep", CallID: "c1"}, false)
	s.Buffer = append(s.Buffer, ConversationMessage{
		Type:  MessageTodo,
		Todos: []TodoItem{{ID: "1", Content: "x", Status: TodoInProgress}},
	})

	p.Process(s, agentproc.Event{Kind: agentproc.KindTurnComplete}, false)

	if s.Buffer[0].Status != StatusCompleted {
		t.Errorf("running tool = %q after finish, want completed", s.Buffer[0].Status)
	}
	if s.Buffer[1].Todos[0].Status != TodoCompleted {
		t.Errorf("todo = %q after finish, want completed", s.Buffer[1].Todos[0].Status)
	}
}

func TestErrorEventFailsSession(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindError, Text: "context limit"}, true)

	if s.Status != SessionFailed {
		t.Fatalf("status = %q, want failed", s.Status)
	}
	if sink.lastStatusErr != "context limit" {
		t.Errorf("status error = %q, want %q", sink.lastStatusErr, "context limit")
	}
	last := s.Buffer[len(s.Buffer)-1]
	if !strings.Contains(last.Content, "会话失败") {
		t.Errorf("banner = %q, want failure banner", last.Content)
	}
}

func TestInterruptThenLateEventsIgnored(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Interrupt(s, true)
	if s.Status != SessionInterrupted {
		t.Fatalf("status = %q, want interrupted", s.Status)
	}
	before := len(s.Buffer)
	finishedBefore := sink.finished

	// 中断后迟到的事件: 不进缓冲, 不翻状态
	p.Process(s, agentproc.Event{Kind: agentproc.KindAssistantMessage, Text: "尾巴"}, true)
	p.Process(s, agentproc.Event{Kind: agentproc.KindTurnComplete}, true)

	if len(s.Buffer) != before {
		t.Errorf("buffer grew after interrupt: %d -> %d", before, len(s.Buffer))
	}
	if s.Status != SessionInterrupted {
		t.Errorf("status = %q, late finish flipped interrupted", s.Status)
	}
	if sink.finished != finishedBefore {
		t.Errorf("finished fired again after interrupt")
	}
}

func TestInterruptMarksRunningToolsFailed(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindToolCallBegin, ToolName: "run_shell", CallID: "c1"}, false)
	p.Interrupt(s, false)

	if s.Buffer[0].Status != StatusFailed {
		t.Errorf("running tool = %q after interrupt, want failed", s.Buffer[0].Status)
	}
	last := s.Buffer[len(s.Buffer)-1]
	if last.Content != "已中断" {
		t.Errorf("banner = %q, want 已中断", last.Content)
	}
}

func TestInterruptNonRunningIsNoop(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()
	s.Status = SessionCompleted

	p.Interrupt(s, true)

	if s.Status != SessionCompleted {
		t.Errorf("status = %q, interrupt touched terminal session", s.Status)
	}
	if sink.finished != 0 {
		t.Errorf("finished = %d, want 0", sink.finished)
	}
}

func TestResumeAfterInterruptProcessesEvents(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Interrupt(s, false)
	p.ClearInterrupted(s)
	s.Status = SessionRunning

	p.Process(s, agentproc.Event{Kind: agentproc.KindAssistantMessage, Text: "继续"}, false)

	last := s.Buffer[len(s.Buffer)-1]
	if last.Type != MessageAssistant || last.Content != "继续" {
		t.Errorf("resume did not process events: %+v", last)
	}
}

func TestUsageDedupAtMostOnce(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	ev := agentproc.Event{
		Kind:      agentproc.KindTokenCount,
		MessageID: "m1",
		Usage:     &agentproc.Usage{InputTokens: 100, OutputTokens: 20},
	}
	p.Process(s, ev, false)
	p.Process(s, ev, false)

	if len(sink.usageEvents) != 1 {
		t.Fatalf("usage recorded %d times, want 1", len(sink.usageEvents))
	}
}

func TestUsageWithoutMessageIDAlwaysCounts(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	ev := agentproc.Event{
		Kind:  agentproc.KindTokenCount,
		Usage: &agentproc.Usage{InputTokens: 10},
	}
	p.Process(s, ev, false)
	p.Process(s, ev, false)

	if len(sink.usageEvents) != 2 {
		t.Fatalf("usage recorded %d times, want 2 (no message id, no dedup)", len(sink.usageEvents))
	}
}

func TestReasoningOnlyTouchesForeground(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindReasoningDelta, Text: "thinking"}, false)
	if sink.transientChanged != 0 {
		t.Fatalf("background reasoning changed transient state")
	}

	p.Process(s, agentproc.Event{Kind: agentproc.KindReasoningDelta, Text: "thinking"}, true)
	if sink.transientChanged != 1 {
		t.Fatalf("foreground reasoning did not change transient state")
	}
	if len(s.Buffer) != 0 {
		t.Errorf("reasoning leaked into buffer: %+v", s.Buffer)
	}
}

func TestPromptDivertAndResolve(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind:       agentproc.KindToolCallBegin,
		ToolName:   "apply_patch",
		ToolInput:  `{"file":"a.go"}`,
		CallID:     "c1",
		RequestID:  "req-1",
		PromptKind: "permission",
	}, true)

	if len(sink.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(sink.prompts))
	}
	req := sink.prompts[0]
	if req.RequestID != "req-1" || req.Kind != "permission" {
		t.Errorf("req = %+v", req)
	}
	if s.Buffer[0].Status != StatusRunning {
		t.Errorf("prompt message status = %q, want running", s.Buffer[0].Status)
	}

	resolved := p.ResolvePrompt(s, "allow")
	if resolved == nil || resolved.RequestID != "req-1" {
		t.Fatalf("ResolvePrompt = %+v, want req-1", resolved)
	}
	if s.Buffer[0].Status != StatusCompleted || s.Buffer[0].ToolOutput != "allow" {
		t.Errorf("resolved message = %+v, want completed with reply as output", s.Buffer[0])
	}
	if p.ResolvePrompt(s, "again") != nil {
		t.Error("second resolve returned a request, want nil")
	}
}

func TestDiffRendersAsAssistantCodeBlock(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindTurnDiff, Text: "+added line"}, false)

	if len(s.Buffer) != 1 || s.Buffer[0].Type != MessageAssistant {
		t.Fatalf("buffer = %+v, want assistant diff message", s.Buffer)
	}
	if !strings.Contains(s.Buffer[0].Content, "```diff") {
		t.Errorf("content = %q, want fenced diff block", s.Buffer[0].Content)
	}
}

func TestBindFillsMetadataOnce(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind: agentproc.KindSessionConfigured, Model: "gpt-5", AgentName: "codex",
	}, false)
	p.Process(s, agentproc.Event{
		Kind: agentproc.KindSessionConfigured, Model: "other-model",
	}, false)

	if s.Model != "gpt-5" || s.AgentName != "codex" {
		t.Errorf("metadata = %q/%q, first value must win", s.Model, s.AgentName)
	}
	if sink.bound != 2 {
		t.Errorf("bound = %d, want 2", sink.bound)
	}
}

func TestTodoWriteEndCreatesTodoMessage(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind:      agentproc.KindToolCallEnd,
		ToolName:  "TodoWrite",
		ToolInput: `{"todos":[{"id":"1","content":"读代码","status":"in_progress"},{"id":"2","content":"写测试","status":"pending"}]}`,
		CallID:    "c1",
	}, false)

	if len(s.Buffer) != 1 || s.Buffer[0].Type != MessageTodo {
		t.Fatalf("buffer = %+v, want single todo message", s.Buffer)
	}
	if len(s.Buffer[0].Todos) != 2 {
		t.Errorf("todos = %d, want 2", len(s.Buffer[0].Todos))
	}
}

func TestTodoWriteBeginIsSkipped(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind: agentproc.KindToolCallBegin, ToolName: "TodoWrite", CallID: "c1",
	}, false)

	if len(s.Buffer) != 0 {
		t.Fatalf("buffer = %+v, todo-write begin must not create a bubble", s.Buffer)
	}
	if sink.bufferChanged != 0 {
		t.Errorf("bufferChanged = %d, want 0", sink.bufferChanged)
	}
}

func TestTodoWriteUnparseablePayloadFallsBack(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind:     agentproc.KindToolCallEnd,
		ToolName: "TodoWrite",
		ToolOut:  "not json",
		CallID:   "c1",
	}, false)

	if len(s.Buffer) != 1 || s.Buffer[0].Type != MessageTool {
		t.Fatalf("buffer = %+v, want plain tool message fallback", s.Buffer)
	}
	if s.Buffer[0].Status != StatusCompleted {
		t.Errorf("fallback status = %q, want completed", s.Buffer[0].Status)
	}
}

func TestToolCallThenResultSingleCompletedMessage(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind: agentproc.KindToolCallBegin, ToolName: "Edit", CallID: "1",
	}, false)
	p.Process(s, agentproc.Event{
		Kind: agentproc.KindToolCallEnd, CallID: "1", ToolOut: "done",
	}, false)

	if len(s.Buffer) != 1 {
		t.Fatalf("buffer = %+v, want exactly one tool message", s.Buffer)
	}
	m := s.Buffer[0]
	if m.ToolName != "Edit" || m.ToolOutput != "done" || m.Status != StatusCompleted {
		t.Errorf("tool message = %+v, want completed Edit with output done", m)
	}
}

func TestTodoWriteMergeUpdatePreservesContent(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{
		Kind:      agentproc.KindToolCallEnd,
		ToolName:  "TodoWrite",
		ToolInput: `{"todos":[{"id":"1","content":"a","status":"pending"}]}`,
	}, false)
	p.Process(s, agentproc.Event{
		Kind:      agentproc.KindToolCallEnd,
		ToolName:  "TodoWrite",
		ToolInput: `{"todos":[{"id":"1","content":"","status":"completed"}],"merge":true}`,
	}, false)

	if len(s.Buffer) != 1 {
		t.Fatalf("buffer = %+v, want single todo message", s.Buffer)
	}
	item := s.Buffer[0].Todos[0]
	if item.Content != "a" || item.Status != TodoCompleted {
		t.Errorf("item = %+v, want {1 a completed}", item)
	}
}

func TestWarningEmitsAlert(t *testing.T) {
	p, sink := newTestProcessor()
	s := runningSession()

	p.Process(s, agentproc.Event{Kind: agentproc.KindWarning, Text: "rate limited"}, false)

	if len(sink.alerts) != 1 || sink.alerts[0] != "warning:rate limited" {
		t.Fatalf("alerts = %v", sink.alerts)
	}
	if s.Status != SessionRunning {
		t.Errorf("warning changed status to %q", s.Status)
	}
}

func TestProcessTouchesLastEventAt(t *testing.T) {
	p, _ := newTestProcessor()
	s := runningSession()
	s.watchdogFlagged = true

	p.Process(s, agentproc.Event{Kind: agentproc.KindAssistantDelta, Text: "x"}, false)

	if s.LastEventAt.IsZero() {
		t.Error("LastEventAt not set")
	}
	if s.watchdogFlagged {
		t.Error("watchdog flag not reset on activity")
	}
}
