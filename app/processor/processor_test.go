package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"task-miner/app/config"
	"task-miner/app/extract"
	"task-miner/app/llm"
	"task-miner/app/logger"
	"task-miner/app/model"
	"task-miner/app/notes"
	"task-miner/app/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	contents []string
	inFlight int32
	maxSeen  int32

	// hook 在返回前执行，可阻塞或 panic
	hook  func(ctx context.Context, call int) error
	tasks []extract.ExtractedTask
}

func (f *fakeExtractor) Extract(ctx context.Context, path, content string) (extract.TaskExtractionResult, llm.Provider, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.contents = append(f.contents, content)
	hook := f.hook
	tasks := f.tasks
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return extract.NoTasks(), llm.ProviderOllama, err
		}
	}
	if len(tasks) == 0 {
		return extract.NoTasks(), llm.ProviderOllama, nil
	}
	return extract.TaskExtractionResult{Found: true, Tasks: tasks}, llm.ProviderOllama, nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExtractor) LastContent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contents) == 0 {
		return ""
	}
	return f.contents[len(f.contents)-1]
}

type fakeNotes struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	sources []string
}

func (f *fakeNotes) Materialize(ctx context.Context, source string, tasks []extract.ExtractedTask) notes.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sources = append(f.sources, source)
	if f.fail {
		return notes.Summary{Failed: len(tasks), Errors: []error{errors.New("disk full")}}
	}
	summary := notes.Summary{Created: len(tasks)}
	for _, t := range tasks {
		summary.Paths = append(summary.Paths, "Tasks/"+t.Title+".md")
	}
	return summary
}

func (f *fakeNotes) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingRecorder struct {
	mu   sync.Mutex
	runs []model.ProcessingRun
}

func (r *recordingRecorder) RecordRun(run *model.ProcessingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

type harness struct {
	root      string
	store     *vault.FSStore
	extractor *fakeExtractor
	notes     *fakeNotes
	recorder  *recordingRecorder
	notified  *atomic.Int32
	proc      *Processor
}

func testConfig() *config.Config {
	return &config.Config{
		OwnerName: "Alex",
		Trigger: config.TriggerConfig{
			Field:          "type",
			Values:         []string{"email", "Meeting Note"},
			ProcessedField: "taskProcessed",
		},
		Processing: config.ProcessingConfig{
			Debounce:   30 * time.Millisecond,
			Timeout:    2 * time.Second,
			BatchSize:  5,
			BatchPause: time.Millisecond,
		},
	}
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	root := t.TempDir()
	store, err := vault.NewFSStore(root, ".md")
	require.NoError(t, err)

	h := &harness{
		root:      root,
		store:     store,
		extractor: &fakeExtractor{tasks: []extract.ExtractedTask{{Title: "Send invoice"}}},
		notes:     &fakeNotes{},
		recorder:  &recordingRecorder{},
		notified:  &atomic.Int32{},
	}
	h.proc = New(cfg, store, h.extractor, h.notes, logger.NewNop(),
		WithRecorder(h.recorder),
		WithNotifier(NotifierFunc(func(Outcome) { h.notified.Add(1) })),
	)
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(h.proc.Stop)
	return h
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

func emailDoc(body string) string {
	return "---\ntype: Email\nfrom: boss@example.com\n---\n" + body + "\n"
}

func TestProcessNowCompletesAndMarks(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "Inbox/mail.md", emailDoc("Please send the invoice."))

	outcome, err := h.proc.ProcessNow(context.Background(), "Inbox/mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, outcome.Status)
	assert.Equal(t, 1, outcome.TasksCreated)
	assert.Equal(t, llm.ProviderOllama, outcome.Provider)
	assert.NotEmpty(t, outcome.CorrelationID)

	fm, err := h.store.Frontmatter("Inbox/mail.md")
	require.NoError(t, err)
	assert.True(t, fm.Bool("taskProcessed"))
	assert.Equal(t, []string{"type", "from", "taskProcessed"}, fm.Keys())

	content, err := h.store.Read("Inbox/mail.md")
	require.NoError(t, err)
	assert.Contains(t, content, "Please send the invoice.")

	assert.Empty(t, h.proc.Entries())
	assert.Equal(t, int32(1), h.notified.Load())
	require.Len(t, h.recorder.runs, 1)
	assert.Equal(t, model.RunStatusCompleted, h.recorder.runs[0].Status)
}

func TestFilterReasons(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mutate  func(*config.Config)
		reason  string
	}{
		{"no frontmatter", "just text\n", nil, reasonNoFrontmatter},
		{"other type", "---\ntype: journal\n---\nbody\n", nil, reasonNotTriggered},
		{"missing trigger field", "---\ntitle: x\n---\nbody\n", nil, reasonNotTriggered},
		{"already processed", "---\ntype: email\ntaskProcessed: true\n---\nbody\n", nil, reasonProcessed},
		{"missing owner", emailDoc("body"), func(c *config.Config) { c.OwnerName = " " }, reasonInvalidOwner},
		{"placeholder owner", emailDoc("body"), func(c *config.Config) { c.OwnerName = "{ownerName}" }, reasonInvalidOwner},
		{"empty trigger field", emailDoc("body"), func(c *config.Config) { c.Trigger.Field = "" }, reasonInvalidTrigger},
		{"empty trigger values", emailDoc("body"), func(c *config.Config) { c.Trigger.Values = nil }, reasonInvalidTrigger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			h.write(t, "doc.md", tt.content)

			outcome, err := h.proc.ProcessNow(context.Background(), "doc.md")
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusSkipped, outcome.Status)
			assert.Equal(t, tt.reason, outcome.Reason)
			assert.Equal(t, 0, h.extractor.Calls())
			assert.Equal(t, int32(0), h.notified.Load())
		})
	}
}

func TestTriggerValueCaseInsensitive(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "meeting.md", "---\ntype: meeting note\n---\nnotes\n")

	outcome, err := h.proc.ProcessNow(context.Background(), "meeting.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, outcome.Status)
}

func TestAtMostOneConcurrentRun(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "mail.md", emailDoc("body"))

	release := make(chan struct{})
	h.extractor.hook = func(ctx context.Context, call int) error {
		<-release
		return nil
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := h.proc.ProcessNow(context.Background(), "mail.md")
		done <- outcome
	}()
	assert.Eventually(t, func() bool { return h.extractor.Calls() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := h.proc.ProcessNow(context.Background(), "mail.md")
		assert.ErrorIs(t, err, ErrBusy)
		h.proc.dispatch("mail.md")
	}
	entries := h.proc.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusProcessing, entries[0].Status)

	close(release)
	outcome := <-done
	assert.Equal(t, model.RunStatusCompleted, outcome.Status)
	assert.Equal(t, 1, h.extractor.Calls())
}

func TestEquivalentPathsShareOneEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "Inbox/mail.md", emailDoc("body"))

	release := make(chan struct{})
	h.extractor.hook = func(ctx context.Context, call int) error {
		<-release
		return nil
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := h.proc.ProcessNow(context.Background(), "Inbox/mail.md")
		done <- outcome
	}()
	assert.Eventually(t, func() bool { return h.extractor.Calls() == 1 }, time.Second, 5*time.Millisecond)

	for _, alias := range []string{"./Inbox/mail.md", "Inbox/x/../mail.md", "/Inbox/mail.md", "Inbox//mail.md"} {
		_, err := h.proc.ProcessNow(context.Background(), alias)
		assert.ErrorIs(t, err, ErrBusy, alias)
	}
	entries := h.proc.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Inbox/mail.md", entries[0].Path)

	close(release)
	<-done
	assert.Equal(t, 1, h.extractor.Calls())
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		err  bool
	}{
		{"mail.md", "mail.md", false},
		{"./a/b.md", "a/b.md", false},
		{"a/../b.md", "b.md", false},
		{"/a/b.md", "a/b.md", false},
		{" a/b.md ", "a/b.md", false},
		{"", "", true},
		{".", "", true},
		{"../outside.md", "", true},
		{"a/../../outside.md", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalPath(tt.raw)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalidPath, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestProcessNowRejectsEscapingPath(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.proc.ProcessNow(context.Background(), "../secret.md")
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Empty(t, h.proc.Entries())
	assert.Equal(t, 0, h.extractor.Calls())
}

func TestStopWhileRunsAreAdmitted(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 20; i++ {
		h.write(t, fmt.Sprintf("mail-%d.md", i), emailDoc("body"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.proc.ProcessNow(context.Background(), fmt.Sprintf("mail-%d.md", i))
			if err != nil {
				assert.ErrorIs(t, err, ErrNotRunning)
			}
		}(i)
	}
	h.proc.Stop()
	wg.Wait()

	_, err := h.proc.ProcessNow(context.Background(), "mail-0.md")
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Empty(t, h.proc.Entries())
}

func TestDebounceCoalescesToLastEvent(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Processing.Debounce = 80 * time.Millisecond })

	for i := 1; i <= 4; i++ {
		h.write(t, "mail.md", emailDoc(fmt.Sprintf("version %d", i)))
		h.proc.Trigger("mail.md")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, h.proc.Pending())

	assert.Eventually(t, func() bool { return h.extractor.Calls() == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, h.extractor.LastContent(), "version 4")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.extractor.Calls())
}

func TestRetriggerAfterCompletionIsAdmitted(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "mail.md", emailDoc("body"))

	first, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, first.Status)

	second, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSkipped, second.Status)
	assert.Equal(t, reasonProcessed, second.Reason)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
}

func TestCleanupOnPanic(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "mail.md", emailDoc("body"))
	h.extractor.hook = func(ctx context.Context, call int) error {
		if call == 1 {
			panic("boom")
		}
		return nil
	}

	outcome, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "boom")
	assert.Empty(t, h.proc.Entries())

	outcome, err = h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, outcome.Status)
	assert.Equal(t, 2, h.extractor.Calls())
}

func TestCleanupOnReadError(t *testing.T) {
	h := newHarness(t, nil)

	outcome, err := h.proc.ProcessNow(context.Background(), "missing.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Empty(t, h.proc.Entries())
}

func TestWatchdogCancelsAndDiscards(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Processing.Timeout = 50 * time.Millisecond })
	h.write(t, "mail.md", emailDoc("body"))
	h.extractor.hook = func(ctx context.Context, call int) error {
		<-ctx.Done()
		return ctx.Err()
	}

	outcome, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Equal(t, reasonTimeout, outcome.Reason)
	assert.Equal(t, 0, h.notes.Calls())

	fm, err := h.store.Frontmatter("mail.md")
	require.NoError(t, err)
	assert.False(t, fm.Bool("taskProcessed"))
}

func TestWatchdogReleasesEntryWhileCallHangs(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Processing.Timeout = 50 * time.Millisecond })
	h.write(t, "mail.md", emailDoc("body"))

	release := make(chan struct{})
	h.extractor.hook = func(ctx context.Context, call int) error {
		if call == 1 {
			<-release
		}
		return nil
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := h.proc.ProcessNow(context.Background(), "mail.md")
		done <- outcome
	}()

	assert.Eventually(t, func() bool {
		return h.extractor.Calls() == 1 && len(h.proc.Entries()) == 0
	}, time.Second, 5*time.Millisecond)

	// 条目释放后可以重新处理
	second, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, second.Status)

	close(release)
	first := <-done
	assert.Equal(t, model.RunStatusFailed, first.Status)
	assert.Equal(t, reasonTimeout, first.Reason)
	assert.Equal(t, 1, h.notes.Calls())
}

func TestNoTasksStillMarksProcessed(t *testing.T) {
	h := newHarness(t, nil)
	h.extractor.tasks = nil
	h.write(t, "mail.md", emailDoc("fyi only"))

	outcome, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, outcome.Status)
	assert.Equal(t, 0, outcome.TasksCreated)
	assert.Equal(t, 0, h.notes.Calls())

	fm, err := h.store.Frontmatter("mail.md")
	require.NoError(t, err)
	assert.True(t, fm.Bool("taskProcessed"))
}

func TestAllNotesFailedLeavesUnmarked(t *testing.T) {
	h := newHarness(t, nil)
	h.notes.fail = true
	h.write(t, "mail.md", emailDoc("body"))

	outcome, err := h.proc.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Equal(t, 1, outcome.TasksFailed)

	fm, err := h.store.Frontmatter("mail.md")
	require.NoError(t, err)
	assert.False(t, fm.Bool("taskProcessed"))
}

type brokenMutateStore struct {
	*vault.FSStore
}

func (s brokenMutateStore) MutateFrontmatter(path string, mutate func(fm *vault.Frontmatter) error) error {
	return errors.New("metadata cache busy")
}

func TestMarkProcessedTextFallback(t *testing.T) {
	root := t.TempDir()
	fs, err := vault.NewFSStore(root, ".md")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "mail.md"), []byte(emailDoc("body")), 0644))

	p := New(testConfig(), brokenMutateStore{fs}, &fakeExtractor{}, &fakeNotes{}, logger.NewNop())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	outcome, err := p.ProcessNow(context.Background(), "mail.md")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, outcome.Status)

	content, err := fs.Read("mail.md")
	require.NoError(t, err)
	assert.Equal(t, "---\ntype: Email\nfrom: boss@example.com\ntaskProcessed: true\n---\nbody\n", content)
}

func TestScanBatchesEligibleDocuments(t *testing.T) {
	h := newHarness(t, nil)
	h.extractor.hook = func(ctx context.Context, call int) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	for i := 0; i < 7; i++ {
		h.write(t, fmt.Sprintf("Inbox/mail-%d.md", i), emailDoc("body"))
	}
	h.write(t, "journal.md", "---\ntype: journal\n---\n")
	h.write(t, "done.md", "---\ntype: email\ntaskProcessed: true\n---\n")
	h.write(t, "plain.md", "no frontmatter")

	summary, err := h.proc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Documents)
	assert.Equal(t, 7, summary.Eligible)
	assert.Equal(t, 7, summary.Completed)
	assert.Equal(t, 7, summary.Tasks)
	assert.Equal(t, 7, h.extractor.Calls())
	assert.LessOrEqual(t, atomic.LoadInt32(&h.extractor.maxSeen), int32(5))

	again, err := h.proc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Eligible)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Processing.RescanSchedule = "not a cron"
	store, err := vault.NewFSStore(t.TempDir(), ".md")
	require.NoError(t, err)

	p := New(cfg, store, &fakeExtractor{}, &fakeNotes{}, logger.NewNop())
	assert.Error(t, p.Start(context.Background()))
}

func TestProcessNowRequiresStart(t *testing.T) {
	store, err := vault.NewFSStore(t.TempDir(), ".md")
	require.NoError(t, err)

	p := New(testConfig(), store, &fakeExtractor{}, &fakeNotes{}, logger.NewNop())
	_, err = p.ProcessNow(context.Background(), "a.md")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStopCancelsPendingTimers(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Processing.Debounce = 50 * time.Millisecond })
	h.write(t, "mail.md", emailDoc("body"))

	h.proc.Trigger("mail.md")
	h.proc.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.extractor.Calls())
	assert.Equal(t, 0, h.proc.Pending())
}

func TestPatchProcessedMarker(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{"insert", "---\ntype: email\n---\nbody", "---\ntype: email\ntaskProcessed: true\n---\nbody", true},
		{"replace false", "---\ntaskProcessed: false\ntype: email\n---\n", "---\ntaskProcessed: true\ntype: email\n---\n", true},
		{"already true", "---\ntaskProcessed: true\n---\nbody", "---\ntaskProcessed: true\n---\nbody", false},
		{"quoted true", "---\ntaskProcessed: \"true\"\n---\n", "---\ntaskProcessed: \"true\"\n---\n", false},
		{"empty block", "---\n---\nbody", "---\ntaskProcessed: true\n---\nbody", true},
		{"no frontmatter", "body", "---\ntaskProcessed: true\n---\nbody", true},
		{"dashes inside value", "---\ntitle: a---b\n---\nbody", "---\ntitle: a---b\ntaskProcessed: true\n---\nbody", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := patchProcessedMarker(tt.in, "taskProcessed")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
			assert.True(t, strings.Count(got, "taskProcessed") == 1)
		})
	}
}
