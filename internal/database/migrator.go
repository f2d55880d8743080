package database

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/agentdeck/go-deck-v2/pkg/errors"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
)

// Migrate 按文件名顺序执行 migrations 目录下的 .sql 脚本。
// 已执行版本记录在 schema_version 表中, 每个脚本在独立事务内应用。
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) error {
	if pool == nil {
		return apperrors.New("Migrate", "pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return apperrors.Wrap(err, "Migrate", "create schema_version table")
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no migrations directory found, skipping")
			return nil
		}
		return apperrors.Wrap(err, "Migrate", "read migrations dir")
	}

	var sqlFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			sqlFiles = append(sqlFiles, e.Name())
		}
	}
	sort.Strings(sqlFiles)

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, name := range sqlFiles {
		if _, done := applied[name]; done {
			continue
		}
		if err := applyMigration(ctx, pool, filepath.Join(migrationsDir, name), name); err != nil {
			return err
		}
		logger.Infow("migration applied", logger.FieldVersion, name)
	}
	return nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, path, name string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "read migration %s", name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "Migrate", "begin tx for %s", name)
	}
	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.Wrapf(err, "Migrate", "exec migration %s", name)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, name); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.Wrapf(err, "Migrate", "record migration %s", name)
	}
	return tx.Commit(ctx)
}
