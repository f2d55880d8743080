// usage.go — usage_records 表 (token 用量, 按 message_id 幂等去重)。
//
// agent 可能对同一条消息重复上报 token_count, 由 (session_id, message_id)
// 唯一约束 + ON CONFLICT DO NOTHING 保证每条消息只计一次。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRecord token 用量记录。
type UsageRecord struct {
	ID              int64     `db:"id" json:"id"`
	SessionID       string    `db:"session_id" json:"sessionId"`
	MessageID       string    `db:"message_id" json:"messageId"`
	Model           string    `db:"model" json:"model"`
	InputTokens     int64     `db:"input_tokens" json:"inputTokens"`
	OutputTokens    int64     `db:"output_tokens" json:"outputTokens"`
	ReasoningTokens int64     `db:"reasoning_tokens" json:"reasoningTokens"`
	CostUSD         float64   `db:"cost_usd" json:"costUsd"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// UsageTotals 聚合用量。
type UsageTotals struct {
	InputTokens     int64   `db:"input_tokens" json:"inputTokens"`
	OutputTokens    int64   `db:"output_tokens" json:"outputTokens"`
	ReasoningTokens int64   `db:"reasoning_tokens" json:"reasoningTokens"`
	CostUSD         float64 `db:"cost_usd" json:"costUsd"`
	Messages        int64   `db:"messages" json:"messages"`
}

// UsageStore usage_records 存储。
type UsageStore struct{ BaseStore }

// NewUsageStore 创建。
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{NewBaseStore(pool)}
}

// Insert 幂等写入一条用量记录。返回是否实际插入 (false = 重复上报被忽略)。
func (s *UsageStore) Insert(ctx context.Context, rec *UsageRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (session_id, message_id, model, input_tokens, output_tokens, reasoning_tokens, cost_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, message_id) DO NOTHING`,
		rec.SessionID, rec.MessageID, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.ReasoningTokens, rec.CostUSD)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const usageTotalsSQL = `
	SELECT
		COALESCE(SUM(input_tokens), 0)     AS input_tokens,
		COALESCE(SUM(output_tokens), 0)    AS output_tokens,
		COALESCE(SUM(reasoning_tokens), 0) AS reasoning_tokens,
		COALESCE(SUM(cost_usd), 0)         AS cost_usd,
		COUNT(*)                           AS messages
	FROM usage_records`

// TotalsBySession 聚合某会话的用量。
func (s *UsageStore) TotalsBySession(ctx context.Context, sessionID string) (*UsageTotals, error) {
	rows, err := s.pool.Query(ctx, usageTotalsSQL+" WHERE session_id=$1", sessionID)
	if err != nil {
		return nil, err
	}
	return collectOne[UsageTotals](rows)
}

// TotalsAll 聚合全部会话的用量。
func (s *UsageStore) TotalsAll(ctx context.Context) (*UsageTotals, error) {
	rows, err := s.pool.Query(ctx, usageTotalsSQL)
	if err != nil {
		return nil, err
	}
	return collectOne[UsageTotals](rows)
}

// ListBySession 按会话列出用量明细 (最新在前)。
func (s *UsageStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]UsageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, message_id, model, input_tokens, output_tokens, reasoning_tokens, cost_usd, created_at
		 FROM usage_records WHERE session_id=$1 ORDER BY id DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	return collectRows[UsageRecord](rows)
}

// DeleteBySession 删除某会话的用量记录。
func (s *UsageStore) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM usage_records WHERE session_id=$1", sessionID)
	return err
}
