// usage.go — token 用量去重与累计。
package engine

import (
	"github.com/agentdeck/go-deck-v2/internal/agentproc"
)

// usageKey (会话, 消息) 对。
type usageKey struct {
	sessionID string
	messageID string
}

// UsageTotals 累计用量。
type UsageTotals struct {
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	ReasoningTokens int64   `json:"reasoningTokens"`
	CostUSD         float64 `json:"costUsd"`
	Messages        int64   `json:"messages"`
}

// UsageDeduplicator 抑制同一 (会话, 消息) 对的重复用量上报。
//
// agent 可能重发相同的 token_count 事件, 只有首次观察计入;
// seen 集合仅在显式 Reset 时清空, 从不自动过期。
type UsageDeduplicator struct {
	seen      map[usageKey]struct{}
	bySession map[string]*UsageTotals
	total     UsageTotals
}

// NewUsageDeduplicator 创建。
func NewUsageDeduplicator() *UsageDeduplicator {
	return &UsageDeduplicator{
		seen:      make(map[usageKey]struct{}),
		bySession: make(map[string]*UsageTotals),
	}
}

// Record 记录一次用量上报。首次观察返回 true 并累计; 重复返回 false。
// messageID 为空时无法去重, 按独立上报计入。
func (d *UsageDeduplicator) Record(sessionID, messageID string, u agentproc.Usage) bool {
	if messageID != "" {
		key := usageKey{sessionID: sessionID, messageID: messageID}
		if _, dup := d.seen[key]; dup {
			return false
		}
		d.seen[key] = struct{}{}
	}

	st := d.bySession[sessionID]
	if st == nil {
		st = &UsageTotals{}
		d.bySession[sessionID] = st
	}
	for _, t := range []*UsageTotals{st, &d.total} {
		t.InputTokens += int64(u.InputTokens)
		t.OutputTokens += int64(u.OutputTokens)
		t.ReasoningTokens += int64(u.ReasoningTokens)
		t.CostUSD += u.CostUSD
		t.Messages++
	}
	return true
}

// SessionTotals 返回某会话累计 (拷贝)。
func (d *UsageDeduplicator) SessionTotals(sessionID string) UsageTotals {
	if st := d.bySession[sessionID]; st != nil {
		return *st
	}
	return UsageTotals{}
}

// Totals 返回全局累计。
func (d *UsageDeduplicator) Totals() UsageTotals { return d.total }

// Reset 显式全量重置 (用户清空数据时)。
func (d *UsageDeduplicator) Reset() {
	d.seen = make(map[usageKey]struct{})
	d.bySession = make(map[string]*UsageTotals)
	d.total = UsageTotals{}
}
