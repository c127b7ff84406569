package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"task-miner/app/config"
	"task-miner/app/llm"
	"task-miner/app/logger"
	"task-miner/app/model"
	"task-miner/app/processor"
	"task-miner/app/registry"
	"task-miner/app/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu      sync.Mutex
	paths   []string
	scanned chan struct{}
	err     error
}

func (f *fakeProcessor) Entries() []processor.Entry {
	return []processor.Entry{{Path: "Inbox/a.md", Status: processor.StatusProcessing}}
}

func (f *fakeProcessor) Pending() int { return 2 }

func (f *fakeProcessor) ProcessNow(ctx context.Context, path string) (processor.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if f.err != nil {
		return processor.Outcome{}, f.err
	}
	return processor.Outcome{Path: path, Status: model.RunStatusCompleted, TasksCreated: 2}, nil
}

func (f *fakeProcessor) Scan(ctx context.Context) (processor.ScanSummary, error) {
	close(f.scanned)
	return processor.ScanSummary{}, nil
}

type fakeServices struct{}

func (fakeServices) Get(ctx context.Context, p llm.Provider) registry.ServiceRecord {
	return registry.ServiceRecord{Provider: p, Available: p == llm.ProviderOllama, Models: []string{"llama3.2"}}
}

type fakeHistory struct{}

func (fakeHistory) Recent(path string, limit int) ([]model.ProcessingRun, error) {
	return []model.ProcessingRun{{ID: 1, Path: "Inbox/a.md", Status: model.RunStatusCompleted}}, nil
}

func (fakeHistory) CountByStatus() (map[string]int64, error) {
	return map[string]int64{"completed": 1}, nil
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, p *fakeProcessor) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := utils.HashPassword("password1")
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "0", Username: "admin", PasswordHash: hash},
		JWT:    config.JWTConfig{Secret: "test-secret", ExpireTime: 1, Issuer: "task-miner"},
	}
	return New(cfg, logger.NewNop(), Deps{Processor: p, Services: fakeServices{}, History: fakeHistory{}}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp apiResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, resp := do(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{})

	rec, _ := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "task_miner_")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{})

	rec, resp := do(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 401, resp.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"username": "root", "password": "password1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{})

	for _, path := range []string{"/api/status", "/api/services", "/api/runs"} {
		rec, _ := do(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec, _ = do(t, h, http.MethodGet, path, "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestStatusServicesAndRuns(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{})
	token := login(t, h)

	rec, resp := do(t, h, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), "Inbox/a.md")
	assert.Contains(t, string(resp.Data), `"pending":2`)

	rec, resp = do(t, h, http.MethodGet, "/api/services", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []registry.ServiceRecord
	require.NoError(t, json.Unmarshal(resp.Data, &records))
	require.Len(t, records, 2)
	assert.True(t, records[0].Available)
	assert.False(t, records[1].Available)

	rec, resp = do(t, h, http.MethodGet, "/api/runs?limit=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), `"completed":1`)
}

func TestProcessEndpoint(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestServer(t, p)
	token := login(t, h)

	rec, resp := do(t, h, http.MethodPost, "/api/process", token, gin.H{"path": "/Inbox/a.md"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), `"tasks_created":2`)
	assert.Equal(t, []string{"/Inbox/a.md"}, p.paths)

	rec, _ = do(t, h, http.MethodPost, "/api/process", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p.err = processor.ErrBusy
	rec, _ = do(t, h, http.MethodPost, "/api/process", token, gin.H{"path": "Inbox/a.md"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	p.err = processor.ErrInvalidPath
	rec, _ = do(t, h, http.MethodPost, "/api/process", token, gin.H{"path": "../a.md"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanEndpointRunsInBackground(t *testing.T) {
	p := &fakeProcessor{scanned: make(chan struct{})}
	h := newTestServer(t, p)
	token := login(t, h)

	rec, _ := do(t, h, http.MethodPost, "/api/scan", token, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-p.scanned:
	case <-time.After(time.Second):
		t.Fatal("scan was not started")
	}
}
