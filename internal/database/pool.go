// Package database 提供 PostgreSQL 连接池与 schema 迁移。
//
// 引擎的持久化 (会话快照 / 事件日志 / 用量记录) 全部走 pgxpool 裸 SQL,
// 不使用 ORM。
package database

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentdeck/go-deck-v2/internal/config"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// NewPool 创建 PostgreSQL 连接池并验证连通性。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.PostgresConnStr == "" {
		return nil, fmt.Errorf("POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MinConns = safeInt32(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	poolCfg.MaxConns = safeInt32(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")

	// 非 public schema 时在每条连接上设置 search_path (quote_ident 防注入)
	if schema := cfg.PostgresSchema; schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Infow("postgres pool created",
		"min_conns", cfg.PostgresPoolMinSize,
		"max_conns", cfg.PostgresPoolMaxSize,
		"schema", cfg.PostgresSchema,
	)
	return pool, nil
}

// safeInt32 将 int 安全转为 int32, 超出范围时 clamp 并记录警告。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("pool config overflow, clamped to MaxInt32", "field", name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("pool config negative, clamped to 0", "field", name, "value", v)
		return 0
	}
	return int32(v)
}
