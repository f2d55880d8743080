// session.go — sessions 表 CRUD (会话元信息 + 快照持久化)。
//
// snapshot 列保存完整消息缓冲 (幂等整体覆盖), 重启后恢复时间线。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/agentdeck/go-deck-v2/pkg/errors"
)

// Session 会话记录。
type Session struct {
	ID             string          `db:"id" json:"id"`
	AgentSessionID *string         `db:"agent_session_id" json:"agentSessionId,omitempty"`
	Status         string          `db:"status" json:"status"` // idle | running | completed | failed | interrupted
	Title          string          `db:"title" json:"title"`
	Cwd            string          `db:"cwd" json:"cwd"`
	Model          string          `db:"model" json:"model"`
	AgentName      string          `db:"agent_name" json:"agentName"`
	Snapshot       json.RawMessage `db:"snapshot" json:"snapshot,omitempty"`
	ErrorMessage   string          `db:"error_message" json:"errorMessage,omitempty"`
	LastEventAt    *time.Time      `db:"last_event_at" json:"lastEventAt,omitempty"`
	FinishedAt     *time.Time      `db:"finished_at" json:"finishedAt,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// SessionStore sessions 存储。
type SessionStore struct{ BaseStore }

// NewSessionStore 创建。
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{NewBaseStore(pool)}
}

const sessionCols = "id, agent_session_id, status, title, cwd, model, agent_name, snapshot, error_message, last_event_at, finished_at, created_at, updated_at"

// Create 写入新会话。
func (s *SessionStore) Create(ctx context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, agent_session_id, status, title, cwd, model, agent_name, snapshot, error_message, last_event_at, finished_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.AgentSessionID, sess.Status, sess.Title, sess.Cwd,
		sess.Model, sess.AgentName, sess.Snapshot, sess.ErrorMessage,
		sess.LastEventAt, sess.FinishedAt, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return apperrors.Wrapf(err, "SessionStore.Create", "insert session %s", sess.ID)
	}
	return nil
}

// Get 按引擎本地 ID 查询。无结果返回 (nil, nil)。
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+sessionCols+" FROM sessions WHERE id=$1", id)
	if err != nil {
		return nil, err
	}
	return collectOne[Session](rows)
}

// GetByAgentSession 按 agent 侧会话 ID 查询。
func (s *SessionStore) GetByAgentSession(ctx context.Context, agentSID string) (*Session, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+sessionCols+" FROM sessions WHERE agent_session_id=$1", agentSID)
	if err != nil {
		return nil, err
	}
	return collectOne[Session](rows)
}

// List 查询会话列表 (最近更新在前), 支持状态过滤与标题/目录关键词搜索。
func (s *SessionStore) List(ctx context.Context, status, keyword string, limit int) ([]Session, error) {
	qb := NewQueryBuilder().
		Eq("status", status).
		KeywordLike(keyword, "title", "cwd")
	sql, params := qb.Build("SELECT "+sessionCols+" FROM sessions", "updated_at DESC", limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	return collectRows[Session](rows)
}

// BindAgentSession 绑定 agent 侧会话 ID (bind 事件到达时调用)。
func (s *SessionStore) BindAgentSession(ctx context.Context, id, agentSID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET agent_session_id=$2, updated_at=NOW() WHERE id=$1`,
		id, agentSID)
	if err != nil {
		return apperrors.Wrapf(err, "SessionStore.BindAgentSession", "bind %s -> %s", id, agentSID)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrapf(apperrors.ErrNotFound, "SessionStore.BindAgentSession", "session %s", id)
	}
	return nil
}

// UpdateStatus 更新会话状态。终态同时落 finished_at 与错误文本。
func (s *SessionStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	terminal := status == "completed" || status == "failed" || status == "interrupted"
	if terminal {
		_, err := s.pool.Exec(ctx,
			`UPDATE sessions SET status=$2, error_message=$3, finished_at=NOW(), updated_at=NOW() WHERE id=$1`,
			id, status, errMsg)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status=$2, updated_at=NOW() WHERE id=$1`,
		id, status)
	return err
}

// UpdateMeta 更新模型/agent 名称等绑定时才可知的元信息。空值跳过对应列。
func (s *SessionStore) UpdateMeta(ctx context.Context, id, model, agentName string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET
			model = CASE WHEN $2 <> '' THEN $2 ELSE model END,
			agent_name = CASE WHEN $3 <> '' THEN $3 ELSE agent_name END,
			updated_at = NOW()
		 WHERE id=$1`,
		id, model, agentName)
	return err
}

// SaveSnapshot 整体覆盖快照与活动时间 (幂等, 快照调度器周期调用)。
func (s *SessionStore) SaveSnapshot(ctx context.Context, id string, snapshot json.RawMessage, lastEventAt time.Time) error {
	var last *time.Time
	if !lastEventAt.IsZero() {
		last = &lastEventAt
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET snapshot=$2, last_event_at=$3, updated_at=NOW() WHERE id=$1`,
		id, snapshot, last)
	if err != nil {
		return apperrors.Wrapf(err, "SessionStore.SaveSnapshot", "session %s", id)
	}
	return nil
}

// Delete 删除会话。
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id=$1", id)
	return err
}
