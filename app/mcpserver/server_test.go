package mcpserver

import (
	"context"
	"testing"

	"task-miner/app/extract"
	"task-miner/app/llm"
	"task-miner/app/logger"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	path    string
	content string
}

func (f *fakeExtractor) Extract(ctx context.Context, path, content string) (extract.TaskExtractionResult, llm.Provider, error) {
	f.path = path
	f.content = content
	return extract.TaskExtractionResult{
		Found: true,
		Tasks: []extract.ExtractedTask{{Title: "Send the deck", Priority: extract.LevelHigh}},
	}, llm.ProviderOllama, nil
}

func TestExtractHandler(t *testing.T) {
	fe := &fakeExtractor{}
	handler := extractHandler(fe, logger.NewNop())

	_, out, err := handler(context.Background(), nil, ExtractInput{Text: "please send the deck", Source: "Inbox/a.md"})
	require.NoError(t, err)
	assert.True(t, out.Found)
	require.Len(t, out.Tasks, 1)
	assert.Equal(t, "Send the deck", out.Tasks[0].Title)
	assert.Equal(t, "Inbox/a.md", fe.path)

	_, _, err = handler(context.Background(), nil, ExtractInput{Text: "  "})
	assert.Error(t, err)
}

func TestExtractToolOverInMemoryTransport(t *testing.T) {
	ctx := context.Background()
	fe := &fakeExtractor{}
	server := New(fe, logger.NewNop(), "test")

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"text": "call the vendor"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "mcp", fe.path)
	assert.Equal(t, "call the vendor", fe.content)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Send the deck")
}
