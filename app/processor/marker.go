package processor

import (
	"fmt"
	"regexp"
	"strings"

	"task-miner/app/vault"
)

// frontmatterBlock 文档开头的前置字段块，分组 1 为块内容（含末尾换行）
var frontmatterBlock = regexp.MustCompile(`\A\x{FEFF}?---[ \t]*\r?\n((?s:.*?\r?\n)?)---[ \t]*(?:\r?\n|\z)`)

// markProcessed 设置已处理标记，结构化修改失败时退回文本修改
func (p *Processor) markProcessed(path string) error {
	field := p.trigger.ProcessedField
	err := p.store.MutateFrontmatter(path, func(fm *vault.Frontmatter) error {
		return fm.Set(field, true)
	})
	if err == nil {
		return nil
	}

	p.logger.Warnf("修改前置字段失败，改用文本方式标记: %s, 错误: %v", path, err)
	content, readErr := p.store.Read(path)
	if readErr != nil {
		return fmt.Errorf("读取文档失败: %w", readErr)
	}

	updated, changed := patchProcessedMarker(content, field)
	if !changed {
		return nil
	}
	if err := p.store.Write(path, updated); err != nil {
		return fmt.Errorf("写入已处理标记失败: %w", err)
	}
	return nil
}

// patchProcessedMarker 以文本方式写入 field: true，已为 true 时不修改
func patchProcessedMarker(content, field string) (string, bool) {
	marker := field + ": true"

	loc := frontmatterBlock.FindStringSubmatchIndex(content)
	if loc == nil {
		return "---\n" + marker + "\n---\n" + content, true
	}

	block := content[loc[2]:loc[3]]
	line := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(field) + `[ \t]*:[^\r\n]*`)

	if existing := line.FindString(block); existing != "" {
		_, value, _ := strings.Cut(existing, ":")
		if strings.EqualFold(strings.Trim(strings.TrimSpace(value), `"'`), "true") {
			return content, false
		}
		replaced := false
		block = line.ReplaceAllStringFunc(block, func(s string) string {
			if replaced {
				return s
			}
			replaced = true
			return marker
		})
	} else {
		block += marker + "\n"
	}

	return content[:loc[2]] + block + content[loc[3]:], true
}
