// Package extract 构建提示词、调用大模型并把输出规整为任务列表
package extract

// 置信度与优先级的取值
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// 字段长度限制（按字符计）
const (
	MinTitleLength   = 6
	MaxTitleLength   = 100
	MaxDetailsLength = 300
	MaxExcerptLength = 150
)

// ExtractedTask 模型识别出的一条任务，创建后不再修改
type ExtractedTask struct {
	Title         string   `json:"title"`
	Details       string   `json:"details,omitempty"`
	DueDate       string   `json:"due_date,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Project       string   `json:"project,omitempty"`
	Client        string   `json:"client,omitempty"`
	Contexts      []string `json:"contexts,omitempty"`
	Projects      []string `json:"projects,omitempty"`
	SourceExcerpt string   `json:"source_excerpt,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`

	// Fields 模型输出的全部字段，别名已归一到规范键
	Fields map[string]any `json:"-"`
}

// Value 按键读取字段值，先精确匹配再查别名
func (t ExtractedTask) Value(key string) (any, bool) {
	if v, ok := present(t.Fields, key); ok {
		return v, true
	}
	for _, alias := range Aliases(key) {
		if v, ok := present(t.Fields, alias); ok {
			return v, true
		}
	}
	return nil, false
}

// TaskExtractionResult 一次抽取的结果
type TaskExtractionResult struct {
	Found      bool            `json:"found"`
	Tasks      []ExtractedTask `json:"tasks"`
	Confidence string          `json:"confidence,omitempty"`
}

// NoTasks 没有识别到任务
func NoTasks() TaskExtractionResult {
	return TaskExtractionResult{Found: false, Tasks: []ExtractedTask{}}
}

// aliasGroups 同义字段，首个为规范键
var aliasGroups = [][]string{
	{"title", "task_title", "task"},
	{"details", "task_details", "description"},
	{"due_date", "due"},
	{"source_excerpt", "excerpt"},
}

// Aliases 返回与 key 同义的其他字段名
func Aliases(key string) []string {
	for _, group := range aliasGroups {
		for _, k := range group {
			if k != key {
				continue
			}
			out := make([]string, 0, len(group)-1)
			for _, other := range group {
				if other != key {
					out = append(out, other)
				}
			}
			return out
		}
	}
	return nil
}

func present(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return nil, false
	}
	return v, true
}
