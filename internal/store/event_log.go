// event_log.go — session_events 表 (原始事件日志, append-only)。
//
// 保留 agent 事件原始 payload, 用于回放与审计; 超大 payload 由调用方截断。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionEvent 原始事件记录。
type SessionEvent struct {
	ID        int64           `db:"id" json:"id"`
	SessionID string          `db:"session_id" json:"sessionId"`
	Kind      string          `db:"kind" json:"kind"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// EventLogStore session_events 存储。
type EventLogStore struct{ BaseStore }

// NewEventLogStore 创建。
func NewEventLogStore(pool *pgxpool.Pool) *EventLogStore {
	return &EventLogStore{NewBaseStore(pool)}
}

const eventCols = "id, session_id, kind, payload, created_at"

// Append 追加一条事件。
func (s *EventLogStore) Append(ctx context.Context, sessionID, kind string, payload json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, kind, payload) VALUES ($1, $2, $3)`,
		sessionID, kind, payload)
	return err
}

// ListBySession 按会话查询事件 (最新在前, 游标分页)。
//
//	before=0 → 从最新开始; before>0 → id < before
func (s *EventLogStore) ListBySession(ctx context.Context, sessionID string, limit int, before int64) ([]SessionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var sql string
	var args []any
	if before > 0 {
		sql = "SELECT " + eventCols + " FROM session_events WHERE session_id=$1 AND id < $2 ORDER BY id DESC LIMIT $3"
		args = []any{sessionID, before, limit}
	} else {
		sql = "SELECT " + eventCols + " FROM session_events WHERE session_id=$1 ORDER BY id DESC LIMIT $2"
		args = []any{sessionID, limit}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows[SessionEvent](rows)
}

// CountBySession 统计某会话的事件总数。
func (s *EventLogStore) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM session_events WHERE session_id=$1", sessionID).Scan(&count)
	return count, err
}

// DeleteBySession 删除某会话的所有事件。
func (s *EventLogStore) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM session_events WHERE session_id=$1", sessionID)
	return err
}
