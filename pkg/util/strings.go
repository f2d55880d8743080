package util

import "strings"

// FirstNonEmpty 返回第一个非空 (trim 后) 的字符串。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// CompactOneLine 折叠空白为单行, 超出 limit 截断并追加省略号。
func CompactOneLine(text string, limit int) string {
	cleaned := strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
	if cleaned == "" {
		return ""
	}
	if limit <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= limit {
		return cleaned
	}
	if limit == 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}
