// helpers_test.go — QueryBuilder 表驱动测试 (无 DB 依赖)。
package store

import (
	"strings"
	"testing"
)

func TestQueryBuilderEq(t *testing.T) {
	t.Run("skips_empty", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("status", "")
		if clause := qb.WhereClause(); clause != "" {
			t.Errorf("expected empty WHERE, got %q", clause)
		}
	})

	t.Run("adds_condition", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("status", "running")
		clause := qb.WhereClause()
		if !strings.Contains(clause, "status = $1") {
			t.Errorf("expected 'status = $1' in WHERE, got %q", clause)
		}
		params := qb.Params()
		if len(params) != 1 || params[0] != "running" {
			t.Errorf("expected params [running], got %v", params)
		}
	})

	t.Run("multiple_conditions", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("status", "running").Eq("model", "gpt-5")
		clause := qb.WhereClause()
		if !strings.Contains(clause, "status = $1") || !strings.Contains(clause, "model = $2") {
			t.Errorf("expected both conditions, got %q", clause)
		}
	})
}

func TestQueryBuilderKeywordLike(t *testing.T) {
	t.Run("ESCAPE_clause", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.KeywordLike("fix", "title")
		if clause := qb.WhereClause(); !strings.Contains(clause, `ESCAPE E'\\'`) {
			t.Errorf("expected ESCAPE clause, got %q", clause)
		}
	})

	t.Run("escapes_percent", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.KeywordLike("100%", "title")
		params := qb.Params()
		if len(params) != 1 {
			t.Fatalf("expected 1 param, got %d", len(params))
		}
		if p := params[0].(string); !strings.Contains(p, `100\%`) {
			t.Errorf("expected escaped percent in param, got %q", p)
		}
	})

	t.Run("multi_column_or", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.KeywordLike("deck", "title", "cwd")
		clause := qb.WhereClause()
		if !strings.Contains(clause, "LOWER(title)") || !strings.Contains(clause, "LOWER(cwd)") {
			t.Errorf("expected both columns in LIKE, got %q", clause)
		}
		if !strings.Contains(clause, " OR ") {
			t.Errorf("expected OR between columns, got %q", clause)
		}
	})
}

func TestQueryBuilderBuild(t *testing.T) {
	t.Run("limit_clamped", func(t *testing.T) {
		qb := NewQueryBuilder()
		sql, params := qb.Build("SELECT * FROM sessions", "", 0)
		if !strings.Contains(sql, "LIMIT $1") {
			t.Errorf("expected LIMIT clause, got %q", sql)
		}
		if params[0] != 1 {
			t.Errorf("expected limit=1, got %v", params[0])
		}

		_, params = NewQueryBuilder().Build("SELECT * FROM sessions", "", 9999)
		if params[0] != 2000 {
			t.Errorf("expected limit=2000, got %v", params[0])
		}
	})

	t.Run("full_query", func(t *testing.T) {
		qb := NewQueryBuilder()
		qb.Eq("status", "completed")
		sql, params := qb.Build("SELECT * FROM sessions", "updated_at DESC", 10)
		if !strings.Contains(sql, "WHERE status = $1") {
			t.Errorf("expected WHERE clause, got %q", sql)
		}
		if !strings.Contains(sql, "ORDER BY updated_at DESC") {
			t.Errorf("expected ORDER BY clause, got %q", sql)
		}
		if !strings.Contains(sql, "LIMIT $2") {
			t.Errorf("expected LIMIT $2, got %q", sql)
		}
		if len(params) != 2 || params[0] != "completed" || params[1] != 10 {
			t.Errorf("expected params [completed, 10], got %v", params)
		}
	})
}
