package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// bracePattern 从第一个 { 到最后一个 } 的贪婪匹配
var bracePattern = regexp.MustCompile(`(?s)\{.*\}`)

// safeParseJSON 逐级修复并解析模型输出：直接解析、提取花括号片段、
// 单引号替换为双引号。全部失败时 ok 为 false。
func safeParseJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}

	candidate := bracePattern.FindString(text)
	if candidate == "" {
		return nil, false
	}
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), true
	}

	repaired := strings.ReplaceAll(candidate, "'", `"`)
	if json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired), true
	}
	return nil, false
}
