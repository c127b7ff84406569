package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var dueDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// response 模型输出的解码结果，只会是以下三种之一
type response interface {
	isResponse()
}

// multiTaskResponse {found, tasks: [...]} 形式
type multiTaskResponse struct {
	Found      bool
	Tasks      []map[string]any
	Confidence any
}

// legacyResponse {found, task_title, ...} 单任务形式
type legacyResponse struct {
	Found bool
	Task  map[string]any
}

// unparseableResponse 无法识别的输出
type unparseableResponse struct {
	Reason string
}

func (multiTaskResponse) isResponse()   {}
func (legacyResponse) isResponse()      {}
func (unparseableResponse) isResponse() {}

// decodeResponse 先按多任务结构解码，再按旧版单任务结构，否则判为无法识别
func decodeResponse(text string) response {
	raw, ok := safeParseJSON(text)
	if !ok {
		return unparseableResponse{Reason: "输出不是有效的 JSON"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return unparseableResponse{Reason: "输出不是 JSON 对象"}
	}

	if multi, ok := decodeMultiTask(fields); ok {
		return multi
	}
	if legacy, ok := decodeLegacy(fields); ok {
		return legacy
	}
	if _, hasFound := fields["found"]; hasFound {
		return multiTaskResponse{Found: decodeBool(fields["found"])}
	}
	return unparseableResponse{Reason: "输出缺少 found/tasks 字段"}
}

func decodeMultiTask(fields map[string]json.RawMessage) (multiTaskResponse, bool) {
	rawTasks, ok := fields["tasks"]
	if !ok {
		return multiTaskResponse{}, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawTasks, &items); err != nil {
		return multiTaskResponse{}, false
	}

	out := multiTaskResponse{
		Found: decodeBool(fields["found"]),
		Tasks: make([]map[string]any, 0, len(items)),
	}
	if raw, ok := fields["confidence"]; ok {
		json.Unmarshal(raw, &out.Confidence)
	}
	for _, item := range items {
		var task map[string]any
		if err := json.Unmarshal(item, &task); err != nil || task == nil {
			// 非对象的任务条目交给校验阶段丢弃
			task = map[string]any{}
		}
		out.Tasks = append(out.Tasks, task)
	}
	return out, true
}

func decodeLegacy(fields map[string]json.RawMessage) (legacyResponse, bool) {
	if _, ok := fields["task_title"]; !ok {
		if _, ok := fields["title"]; !ok {
			return legacyResponse{}, false
		}
	}

	task := make(map[string]any, len(fields))
	for k, raw := range fields {
		if k == "found" {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			task[k] = v
		}
	}

	found := true
	if raw, ok := fields["found"]; ok {
		found = decodeBool(raw)
	}
	return legacyResponse{Found: found, Task: task}, true
}

func decodeBool(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

// Rejection 被丢弃的任务及原因
type Rejection struct {
	Index  int
	Reason string
}

// Normalize 把模型输出规整为抽取结果，无效任务逐条丢弃。
// 输出无法识别时返回 NoTasks，ok 为 false。
func Normalize(text string) (result TaskExtractionResult, rejected []Rejection, ok bool) {
	switch r := decodeResponse(text).(type) {
	case multiTaskResponse:
		result = TaskExtractionResult{Found: r.Found, Tasks: []ExtractedTask{}}
		if level, valid := enumValue(r.Confidence); valid {
			result.Confidence = level
		}
		for i, candidate := range r.Tasks {
			task, err := validateTask(candidate)
			if err != nil {
				rejected = append(rejected, Rejection{Index: i, Reason: err.Error()})
				continue
			}
			result.Tasks = append(result.Tasks, task)
		}
		return result, rejected, true

	case legacyResponse:
		result = TaskExtractionResult{Found: r.Found, Tasks: []ExtractedTask{}}
		if !r.Found {
			return result, nil, true
		}
		task, err := validateTask(r.Task)
		if err != nil {
			return result, []Rejection{{Index: 0, Reason: err.Error()}}, true
		}
		result.Tasks = append(result.Tasks, task)
		result.Confidence = task.Confidence
		return result, nil, true

	default:
		return NoTasks(), nil, false
	}
}

// validateTask 校验并构造单条任务
func validateTask(candidate map[string]any) (ExtractedTask, error) {
	fields := make(map[string]any, len(candidate))
	for k, v := range candidate {
		fields[k] = v
	}

	title, err := groupString(fields, "title")
	if err != nil {
		return ExtractedTask{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return ExtractedTask{}, fmt.Errorf("缺少任务标题")
	}
	if utf8.RuneCountInString(title) < MinTitleLength {
		return ExtractedTask{}, fmt.Errorf("任务标题过短: %q", title)
	}

	task := ExtractedTask{Title: clamp(title, MaxTitleLength)}

	if task.Details, err = groupString(fields, "details"); err != nil {
		return ExtractedTask{}, err
	}
	task.Details = clamp(strings.TrimSpace(task.Details), MaxDetailsLength)

	if task.SourceExcerpt, err = groupString(fields, "source_excerpt"); err != nil {
		return ExtractedTask{}, err
	}
	task.SourceExcerpt = clamp(strings.TrimSpace(task.SourceExcerpt), MaxExcerptLength)

	due, err := groupString(fields, "due_date")
	if err != nil {
		return ExtractedTask{}, err
	}
	due = strings.TrimSpace(due)
	if due != "" && !dueDatePattern.MatchString(due) {
		return ExtractedTask{}, fmt.Errorf("截止日期格式无效: %q", due)
	}
	task.DueDate = due

	for _, key := range []string{"priority", "confidence"} {
		v, ok := present(fields, key)
		if !ok {
			continue
		}
		level, valid := enumValue(v)
		if !valid {
			return ExtractedTask{}, fmt.Errorf("%s 取值无效: %v", key, v)
		}
		if key == "priority" {
			task.Priority = level
		} else {
			task.Confidence = level
		}
	}

	task.Project = optionalString(fields, "project")
	task.Client = optionalString(fields, "client")
	task.Contexts = stringList(fields["contexts"])
	task.Projects = stringList(fields["projects"])

	// 别名归一到规范键，值使用校验后的结果
	setCanonical(fields, "title", task.Title)
	setCanonical(fields, "details", task.Details)
	setCanonical(fields, "source_excerpt", task.SourceExcerpt)
	setCanonical(fields, "due_date", task.DueDate)
	if task.Priority != "" {
		fields["priority"] = task.Priority
	}
	if task.Confidence != "" {
		fields["confidence"] = task.Confidence
	}
	task.Fields = fields
	return task, nil
}

// groupString 读取同义字段组中第一个出现的字符串值
func groupString(fields map[string]any, canonical string) (string, error) {
	keys := append([]string{canonical}, Aliases(canonical)...)
	for _, key := range keys {
		v, ok := present(fields, key)
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			return "", fmt.Errorf("%s 不是字符串", key)
		}
		return s, nil
	}
	return "", nil
}

func setCanonical(fields map[string]any, canonical, value string) {
	for _, alias := range Aliases(canonical) {
		delete(fields, alias)
	}
	if value == "" {
		delete(fields, canonical)
		return
	}
	fields[canonical] = value
}

func optionalString(fields map[string]any, key string) string {
	v, ok := present(fields, key)
	if !ok {
		return ""
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}
		}
	}
	return nil
}

func enumValue(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch level := strings.ToLower(strings.TrimSpace(s)); level {
	case LevelHigh, LevelMedium, LevelLow:
		return level, true
	}
	return "", false
}

// clamp 按字符截断
func clamp(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}
