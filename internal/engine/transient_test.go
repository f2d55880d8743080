package engine

import (
	"testing"
	"time"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
)

func usageOf(in, out int) agentproc.Usage {
	return agentproc.Usage{InputTokens: in, OutputTokens: out}
}

func TestTransientReasoningFadesAfterQuiet(t *testing.T) {
	tr := NewTransientState(4 * time.Second)
	now := time.Now()

	tr.AppendReasoning("s1", "正在分析", now)
	tr.AppendReasoning("s1", "依赖关系", now.Add(time.Second))

	if tr.ReasoningText != "正在分析依赖关系" {
		t.Fatalf("reasoning = %q", tr.ReasoningText)
	}

	// 静默不足 4s: 不消隐
	if tr.Tick(now.Add(4 * time.Second)) {
		t.Fatal("ticked before deadline")
	}
	// deadline 随最后一次 append 后移
	if !tr.Tick(now.Add(5*time.Second + time.Millisecond)) {
		t.Fatal("did not fade after deadline")
	}
	if tr.ReasoningText != "" {
		t.Errorf("reasoning = %q after fade, want empty", tr.ReasoningText)
	}
	// 已清空后再 tick 无变化
	if tr.Tick(now.Add(time.Minute)) {
		t.Error("tick reported change on empty state")
	}
}

func TestTransientDropsResidueOnSessionSwitch(t *testing.T) {
	tr := NewTransientState(4 * time.Second)
	now := time.Now()

	tr.AppendReasoning("s1", "旧会话残留", now)
	tr.AppendReasoning("s2", "新会话", now)

	if tr.SessionID != "s2" || tr.ReasoningText != "新会话" {
		t.Fatalf("state = %q/%q, residue leaked across sessions", tr.SessionID, tr.ReasoningText)
	}
}

func TestTransientClearScopedToSession(t *testing.T) {
	tr := NewTransientState(4 * time.Second)
	tr.AppendReasoning("s1", "x", time.Now())
	tr.SetCurrentTool("s1", "grep")

	tr.Clear("other")
	if tr.ReasoningText == "" && tr.CurrentTool == "" {
		t.Fatal("Clear for another session wiped state")
	}

	tr.Clear("s1")
	if tr.ReasoningText != "" || tr.CurrentTool != "" {
		t.Errorf("state = %q/%q after clear, want empty", tr.ReasoningText, tr.CurrentTool)
	}
}

func TestUsageDeduplicatorAccumulates(t *testing.T) {
	d := NewUsageDeduplicator()

	if !d.Record("s1", "m1", usageOf(100, 10)) {
		t.Fatal("first record = false, want true")
	}
	if d.Record("s1", "m1", usageOf(100, 10)) {
		t.Fatal("duplicate record = true, want false")
	}
	if !d.Record("s1", "m2", usageOf(50, 5)) {
		t.Fatal("new message record = false, want true")
	}
	if !d.Record("s2", "m1", usageOf(30, 3)) {
		t.Fatal("same message id in another session must count")
	}

	s1 := d.SessionTotals("s1")
	if s1.InputTokens != 150 || s1.OutputTokens != 15 || s1.Messages != 2 {
		t.Errorf("s1 totals = %+v", s1)
	}
	all := d.Totals()
	if all.InputTokens != 180 || all.Messages != 3 {
		t.Errorf("global totals = %+v", all)
	}
}

func TestUsageDeduplicatorReset(t *testing.T) {
	d := NewUsageDeduplicator()
	d.Record("s1", "m1", usageOf(100, 10))

	d.Reset()
	if got := d.Totals(); got.Messages != 0 {
		t.Fatalf("totals after reset = %+v", got)
	}
	// reset 后同一 (会话, 消息) 对可再计入
	if !d.Record("s1", "m1", usageOf(100, 10)) {
		t.Fatal("record after reset = false, want true")
	}
}
