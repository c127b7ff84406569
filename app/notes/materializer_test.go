package notes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"task-miner/app/config"
	"task-miner/app/extract"
	"task-miner/app/logger"
	"task-miner/app/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Vault:  config.VaultConfig{TasksFolder: "Tasks", Extension: ".md"},
		Fields: config.DefaultFields(),
		Notes:  config.NotesConfig{LinkBack: true, IncludeExcerpt: true},
	}
}

func newTestMaterializer(t *testing.T) (*Materializer, *vault.FSStore) {
	t.Helper()
	store, err := vault.NewFSStore(t.TempDir(), ".md")
	require.NoError(t, err)
	m := NewMaterializer(store, testConfig(), logger.NewNop(), nil)
	m.now = func() time.Time { return time.Date(2024, 3, 9, 15, 4, 5, 0, time.Local) }
	return m, store
}

func TestMaterializeFilenameCollision(t *testing.T) {
	m, store := newTestMaterializer(t)
	tasks := []extract.ExtractedTask{
		{Title: "Follow up: budget?"},
		{Title: "Follow up  budget"},
	}

	summary := m.Materialize(context.Background(), "Inbox/mail.md", tasks)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []string{"Tasks/Follow up budget.md", "Tasks/Follow up budget-1.md"}, summary.Paths)
	assert.True(t, store.Exists("Tasks/Follow up budget.md"))
	assert.True(t, store.Exists("Tasks/Follow up budget-1.md"))

	// 再次写入时跳过已存在的文件
	summary = m.Materialize(context.Background(), "Inbox/mail.md", tasks[:1])
	assert.Equal(t, []string{"Tasks/Follow up budget-2.md"}, summary.Paths)
}

func TestMaterializeDateDefault(t *testing.T) {
	m, store := newTestMaterializer(t)

	summary := m.Materialize(context.Background(), "Inbox/mail.md", []extract.ExtractedTask{{Title: "Send invoice"}})
	require.Equal(t, 1, summary.Created)

	fm, err := store.Frontmatter(summary.Paths[0])
	require.NoError(t, err)
	require.NotNil(t, fm)
	created, ok := fm.String("created")
	require.True(t, ok)
	assert.Equal(t, "2024-03-09", created)
	status, _ := fm.String("status")
	assert.Equal(t, "inbox", status)
}

func TestRenderResolvesFieldsAndAliases(t *testing.T) {
	m, _ := newTestMaterializer(t)
	task := extract.ExtractedTask{
		Title:         "Call Dana: contract",
		Details:       "Confirm the renewal terms.",
		SourceExcerpt: "please call Dana\nabout the contract",
		Fields: map[string]any{
			"title":    "Call Dana: contract",
			"due_date": "2024-04-01",
			"priority": "high",
			"project":  "Renewals #2",
		},
	}

	content := m.Render("Inbox/mail.md", task)
	assert.Contains(t, content, "task: \"Call Dana: contract\"\n")
	assert.Contains(t, content, "due: 2024-04-01\n")
	assert.Contains(t, content, "priority: high\n")
	assert.Contains(t, content, "project: \"Renewals #2\"\n")
	assert.Contains(t, content, "client: \"\"\n")
	assert.Contains(t, content, "\n# Call Dana: contract\n")
	assert.Contains(t, content, "Source: [[Inbox/mail]]")
	assert.Contains(t, content, "> please call Dana\n> about the contract\n")

	fm, err := vault.ParseFrontmatter(content)
	require.NoError(t, err)
	assert.Equal(t, []string{"task", "status", "priority", "due", "project", "client", "created", "tags"}, fm.Keys())
}

type failingStore struct {
	vault.Store
	fail   string
	writes []string
}

func (f *failingStore) Create(path, content string) error {
	if strings.Contains(path, f.fail) {
		return errors.New("disk full")
	}
	f.writes = append(f.writes, path)
	return nil
}

func TestMaterializeFailureDoesNotAbortSiblings(t *testing.T) {
	store := &failingStore{fail: "Broken"}
	m := NewMaterializer(store, testConfig(), logger.NewNop(), nil)

	summary := m.Materialize(context.Background(), "a.md", []extract.ExtractedTask{
		{Title: "First"},
		{Title: "Broken"},
		{Title: "Third"},
	})
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, []string{"Tasks/First.md", "Tasks/Third.md"}, store.writes)
}

func TestMaterializeConcurrentSameTitle(t *testing.T) {
	m, store := newTestMaterializer(t)

	const runs = 5
	var wg sync.WaitGroup
	results := make([]Summary, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := fmt.Sprintf("Inbox/mail-%d.md", i)
			results[i] = m.Materialize(context.Background(), source, []extract.ExtractedTask{{Title: "Send invoice"}})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, summary := range results {
		require.Equal(t, 1, summary.Created)
		seen[summary.Paths[0]] = true
	}
	assert.Len(t, seen, runs)

	docs, err := store.List()
	require.NoError(t, err)
	assert.Len(t, docs, runs)
	for p := range seen {
		content, err := store.Read(p)
		require.NoError(t, err)
		assert.Contains(t, content, "# Send invoice")
	}
}

func TestMaterializeStopsWhenCancelled(t *testing.T) {
	store := &failingStore{}
	m := NewMaterializer(store, testConfig(), logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := m.Materialize(ctx, "a.md", []extract.ExtractedTask{{Title: "One"}, {Title: "Two"}})
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, store.writes)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Send   the report":     "Send the report",
		"a/b\\c:d*e?f":          "a b c d e f",
		"  ...trailing dots...": "trailing dots",
		"[[link]] #tag":         "link tag",
		"":                      "task",
		"???":                   "task",
		"Cafe\u0301":            "Caf\u00e9",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}

	long := strings.Repeat("x", 200)
	assert.Len(t, SanitizeFilename(long), maxFilenameLength)
}

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "plain", renderValue("plain"))
	assert.Equal(t, `"a: b"`, renderValue("a: b"))
	assert.Equal(t, `"yes"`, renderValue("yes"))
	assert.Equal(t, `"- item"`, renderValue("- item"))
	assert.Equal(t, `""`, renderValue(nil))
	assert.Equal(t, "[a, \"b,c\"]", renderValue([]any{"a", "b,c"}))
	assert.Equal(t, "3", renderValue(float64(3)))
	assert.Equal(t, "true", renderValue(true))
	assert.Equal(t, "2024-04-01", renderValue("2024-04-01"))
	assert.Equal(t, "[1, \"x\"]", renderValue([]any{float64(1), "x"}))

	for _, numeric := range []string{"2024", "1.5", "-3", "0x1F", "1e3", ".inf", "~", "Null"} {
		assert.Equal(t, strconv.Quote(numeric), renderValue(numeric), numeric)
	}
}

func TestNumericStringsRoundTripAsStrings(t *testing.T) {
	m, _ := newTestMaterializer(t)
	task := extract.ExtractedTask{
		Title:  "Close books",
		Fields: map[string]any{"title": "Close books", "project": "2024", "client": "1.5"},
	}

	fm, err := vault.ParseFrontmatter(m.Render("a.md", task))
	require.NoError(t, err)
	project, _ := fm.Get("project")
	client, _ := fm.Get("client")
	assert.Equal(t, "2024", project)
	assert.Equal(t, "1.5", client)
}
