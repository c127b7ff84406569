package notes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"task-miner/app/config"
	"task-miner/app/extract"

	"gopkg.in/yaml.v3"
)

// dateLayout 日期占位符的输出格式
const dateLayout = "2006-01-02"

// resolveField 按字段定义取值：精确键、别名、默认值
func resolveField(task extract.ExtractedTask, field config.FieldConfig, now time.Time) any {
	if v, ok := task.Value(field.Key); ok {
		return v
	}
	if field.Default == "" {
		return ""
	}
	return strings.ReplaceAll(field.Default, config.DateToken, now.Format(dateLayout))
}

// renderFrontmatter 按字段顺序生成前置字段块
func renderFrontmatter(task extract.ExtractedTask, fields []config.FieldConfig, now time.Time) string {
	var b strings.Builder
	b.WriteString("---\n")
	for _, f := range fields {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(renderValue(resolveField(task, f, now)))
		b.WriteString("\n")
	}
	b.WriteString("---\n")
	return b.String()
}

// renderValue 标量按需加引号，序列输出为流式列表
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return `""`
	case string:
		return quoteScalar(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int, int64:
		return fmt.Sprint(val)
	case []string:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = quoteScalar(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = renderValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return quoteScalar(fmt.Sprint(val))
	}
}

// quoteScalar 值中含有 YAML 结构字符时使用双引号
func quoteScalar(s string) string {
	if needsQuote(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return true
	}
	if strings.ContainsAny(s, ":#[]{},&*!|>'\"%@`\n\r\t\\") {
		return true
	}
	if strings.ContainsAny(s[:1], "-?~") {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no", "on", "off", "null":
		return true
	}

	// 数字、空值等会被解析成非字符串类型
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return true
	}
	str, ok := v.(string)
	return !ok || str != s
}
