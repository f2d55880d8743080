// persist.go — Persistence 的 store 实现。
//
// 引擎假定持久层可能慢或暂时不可用: 每次写入带独立超时,
// 失败由调用方记日志后继续 (内存态为准, 快照写入幂等可重试)。
package engine

import (
	"context"
	"time"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
	"github.com/agentdeck/go-deck-v2/internal/store"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// StorePersistence 基于 Postgres store 的持久化实现。
type StorePersistence struct {
	sessions *store.SessionStore
	events   *store.EventLogStore
	usage    *store.UsageStore
	timeout  time.Duration
}

// NewStorePersistence 创建。timeout<=0 时默认 5s。
func NewStorePersistence(sessions *store.SessionStore, events *store.EventLogStore, usage *store.UsageStore, timeout time.Duration) *StorePersistence {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StorePersistence{
		sessions: sessions,
		events:   events,
		usage:    usage,
		timeout:  timeout,
	}
}

func (p *StorePersistence) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

// LoadSessions 读取最近会话并还原缓冲快照 (启动恢复)。
// 个别快照损坏时跳过该会话的缓冲, 不中断整体恢复。
func (p *StorePersistence) LoadSessions(limit int) ([]*Session, error) {
	ctx, cancel := p.ctx()
	defer cancel()
	recs, err := p.sessions.List(ctx, "", "", limit)
	if err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		buf, err := DecodeBuffer(rec.Snapshot)
		if err != nil {
			logger.Warn("persist: snapshot decode failed, buffer skipped",
				logger.FieldSessionID, rec.ID, logger.FieldError, err)
			buf = nil
		}
		s := &Session{
			ID:        rec.ID,
			Title:     rec.Title,
			Cwd:       rec.Cwd,
			Model:     rec.Model,
			AgentName: rec.AgentName,
			Status:    SessionStatus(rec.Status),
			Buffer:    buf,
			CreatedAt: rec.CreatedAt,
		}
		if rec.AgentSessionID != nil {
			s.AgentSessionID = *rec.AgentSessionID
		}
		if rec.LastEventAt != nil {
			s.LastEventAt = *rec.LastEventAt
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *StorePersistence) CreateSession(s *Session) error {
	ctx, cancel := p.ctx()
	defer cancel()
	rec := &store.Session{
		ID:        s.ID,
		Status:    string(s.Status),
		Title:     s.Title,
		Cwd:       s.Cwd,
		Model:     s.Model,
		AgentName: s.AgentName,
		CreatedAt: s.CreatedAt,
	}
	if s.AgentSessionID != "" {
		rec.AgentSessionID = &s.AgentSessionID
	}
	return p.sessions.Create(ctx, rec)
}

func (p *StorePersistence) BindAgentSession(id, agentSID string) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.sessions.BindAgentSession(ctx, id, agentSID)
}

func (p *StorePersistence) UpdateMeta(id, model, agentName string) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.sessions.UpdateMeta(ctx, id, model, agentName)
}

func (p *StorePersistence) UpdateStatus(id string, status SessionStatus, errMsg string) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.sessions.UpdateStatus(ctx, id, string(status), errMsg)
}

func (p *StorePersistence) SaveSnapshot(id string, snapshot []byte, lastEventAt time.Time) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.sessions.SaveSnapshot(ctx, id, snapshot, lastEventAt)
}

func (p *StorePersistence) AppendEvent(id, kind string, payload []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.events.Append(ctx, id, kind, payload)
}

func (p *StorePersistence) RecordUsage(sessionID, messageID, model string, u agentproc.Usage) error {
	ctx, cancel := p.ctx()
	defer cancel()
	_, err := p.usage.Insert(ctx, &store.UsageRecord{
		SessionID:       sessionID,
		MessageID:       messageID,
		Model:           model,
		InputTokens:     int64(u.InputTokens),
		OutputTokens:    int64(u.OutputTokens),
		ReasoningTokens: int64(u.ReasoningTokens),
		CostUSD:         u.CostUSD,
	})
	return err
}

// DeleteSession 连带删除事件日志与用量记录。
func (p *StorePersistence) DeleteSession(id string) error {
	ctx, cancel := p.ctx()
	defer cancel()
	if err := p.events.DeleteBySession(ctx, id); err != nil {
		return err
	}
	if err := p.usage.DeleteBySession(ctx, id); err != nil {
		return err
	}
	return p.sessions.Delete(ctx, id)
}
