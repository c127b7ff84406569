// Package mcpserver 通过 MCP 协议对外提供任务抽取工具
package mcpserver

import (
	"context"
	"errors"
	"strings"

	"task-miner/app/extract"
	"task-miner/app/llm"
	"task-miner/app/logger"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolName 抽取工具名称
const ToolName = "extract_tasks"

// Extractor 任务抽取
type Extractor interface {
	Extract(ctx context.Context, path, content string) (extract.TaskExtractionResult, llm.Provider, error)
}

// ExtractInput 工具输入
type ExtractInput struct {
	Text   string `json:"text" jsonschema:"the email or meeting note to extract tasks from"`
	Source string `json:"source,omitempty" jsonschema:"optional source path or title of the document"`
}

// New 创建 MCP 服务并注册抽取工具
func New(extractor Extractor, log *logger.Logger, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "task-miner", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolName,
		Description: "Extract actionable tasks from an email or meeting note and return them as structured JSON.",
	}, extractHandler(extractor, log))

	return server
}

func extractHandler(extractor Extractor, log *logger.Logger) mcp.ToolHandlerFor[ExtractInput, extract.TaskExtractionResult] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in ExtractInput) (*mcp.CallToolResult, extract.TaskExtractionResult, error) {
		if strings.TrimSpace(in.Text) == "" {
			return nil, extract.TaskExtractionResult{}, errors.New("text is required")
		}
		source := in.Source
		if source == "" {
			source = "mcp"
		}

		result, provider, err := extractor.Extract(ctx, source, in.Text)
		if err != nil {
			return nil, extract.TaskExtractionResult{}, err
		}
		log.Infof("MCP 抽取完成: %s, 任务 %d 个, 提供方 %s", source, len(result.Tasks), provider)
		return nil, result, nil
	}
}

// Run 通过标准输入输出提供服务，直到上下文取消或客户端断开
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
