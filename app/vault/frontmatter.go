package vault

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// Frontmatter 文档头部的 YAML 字段，保留原有键顺序
type Frontmatter struct {
	node *yaml.Node
}

// NewFrontmatter 创建空的前置字段
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{node: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// SplitFrontmatter 拆分文档为前置字段块与正文，没有前置字段时 ok 为 false
func SplitFrontmatter(content string) (block string, body string, ok bool) {
	normalized := strings.TrimPrefix(content, "\ufeff")
	first, rest, found := strings.Cut(normalized, "\n")
	if !found || strings.TrimRight(first, "\r ") != fence {
		return "", content, false
	}

	offset := 0
	for offset <= len(rest) {
		line, after, more := strings.Cut(rest[offset:], "\n")
		if strings.TrimRight(line, "\r ") == fence {
			return rest[:offset], after, true
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return "", content, false
}

// ParseFrontmatter 解析文档的前置字段，没有前置字段时返回 nil
func ParseFrontmatter(content string) (*Frontmatter, error) {
	block, _, ok := SplitFrontmatter(content)
	if !ok {
		return nil, nil
	}

	if strings.TrimSpace(block) == "" {
		return NewFrontmatter(), nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, fmt.Errorf("解析前置字段失败: %w", err)
	}
	if len(doc.Content) == 0 {
		return NewFrontmatter(), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("前置字段不是键值映射")
	}
	return &Frontmatter{node: root}, nil
}

// Keys 按出现顺序返回所有键
func (f *Frontmatter) Keys() []string {
	keys := make([]string, 0, len(f.node.Content)/2)
	for i := 0; i+1 < len(f.node.Content); i += 2 {
		keys = append(keys, f.node.Content[i].Value)
	}
	return keys
}

// Get 返回键对应的值
func (f *Frontmatter) Get(key string) (any, bool) {
	valueNode := f.lookup(key)
	if valueNode == nil {
		return nil, false
	}

	var value any
	if err := valueNode.Decode(&value); err != nil {
		return valueNode.Value, true
	}
	return value, true
}

// String 返回键对应的字符串值，序列取第一个元素
func (f *Frontmatter) String(key string) (string, bool) {
	value, ok := f.Get(key)
	if !ok || value == nil {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case []any:
		if len(v) == 0 {
			return "", false
		}
		return fmt.Sprint(v[0]), true
	default:
		return fmt.Sprint(v), true
	}
}

// Bool 判断键是否为真值（true、"true"、"yes"）
func (f *Frontmatter) Bool(key string) bool {
	value, ok := f.Get(key)
	if !ok {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

// Set 设置键值，已存在则原位替换
func (f *Frontmatter) Set(key string, value any) error {
	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("编码字段 %s 失败: %w", key, err)
	}

	if existing := f.lookup(key); existing != nil {
		*existing = valueNode
		return nil
	}

	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	f.node.Content = append(f.node.Content, keyNode, &valueNode)
	return nil
}

// Map 转换为普通 map
func (f *Frontmatter) Map() map[string]any {
	out := make(map[string]any, len(f.node.Content)/2)
	for _, key := range f.Keys() {
		value, _ := f.Get(key)
		out[key] = value
	}
	return out
}

// Marshal 序列化为 YAML 文本（不含分隔线）
func (f *Frontmatter) Marshal() (string, error) {
	if len(f.node.Content) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f.node); err != nil {
		return "", fmt.Errorf("序列化前置字段失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Apply 用当前字段替换文档原有的前置字段块
func (f *Frontmatter) Apply(content string) (string, error) {
	text, err := f.Marshal()
	if err != nil {
		return "", err
	}

	_, body, ok := SplitFrontmatter(content)
	if !ok {
		body = content
	}
	return fence + "\n" + text + fence + "\n" + body, nil
}

func (f *Frontmatter) lookup(key string) *yaml.Node {
	for i := 0; i+1 < len(f.node.Content); i += 2 {
		if f.node.Content[i].Value == key {
			return f.node.Content[i+1]
		}
	}
	return nil
}
