package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ragchat/internal/failure"
	"github.com/kalambet/ragchat/internal/search"
	"github.com/kalambet/ragchat/internal/storage"
)

// WebSearcher runs raw web searches for the MCP layer.
type WebSearcher interface {
	Search(ctx context.Context, query, lang string) ([]search.Result, failure.Kind)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *Service
	Store   *storage.Store
	Search  WebSearcher
	Version string
}

// NewMCPServer creates an MCP server with the ragchat tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ragchat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ragchat: chat with a local model grounded in conversation memory and live web search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the local model a question. The turn uses the conversation's memory and a live web search."),
			mcp.WithString("message", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Existing conversation to continue; omit to start a new one")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("web_search",
			mcp.WithDescription("Search the web and return the top results."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Result language (default from config)")),
		),
		mcpWebSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Return the entries of a conversation's memory nearest to a query."),
			mcp.WithString("conversation_id", mcp.Description("Conversation whose memory to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpRecall(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"conversations://recent",
			"Recent Conversations",
			mcp.WithResourceDescription("The 10 most recently active conversations"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		resp, err := deps.Service.Turn(ctx, TurnRequest{
			ConversationID: req.GetString("conversation_id", ""),
			Message:        message,
		})
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("conversation not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		if !resp.Succeeded {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(b)}},
				IsError: true,
			}, nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWebSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		results, kind := deps.Search.Search(ctx, query, req.GetString("language", ""))
		if kind != failure.None {
			return mcpError(fmt.Sprintf("%s: %s", kind, results[0].Content)), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 50 {
			limit = 50
		}

		store, ok := deps.Service.Memory(convID)
		if !ok {
			return mcpText("[]"), nil
		}
		matches, err := store.QueryScored(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		type match struct {
			Text     string  `json:"text"`
			Distance float64 `json:"distance"`
		}
		results := make([]match, len(matches))
		for i, m := range matches {
			results[i] = match{Text: m.Text, Distance: m.Distance}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		convs, err := deps.Store.ListConversations(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}

		type conversationSummary struct {
			ID           string `json:"id"`
			Title        string `json:"title"`
			LastActivity string `json:"last_activity"`
			Messages     int    `json:"messages"`
		}

		summaries := make([]conversationSummary, len(convs))
		for i, c := range convs {
			title := c.Title
			if utf8.RuneCountInString(title) > 200 {
				title = string([]rune(title)[:200]) + "..."
			}
			summaries[i] = conversationSummary{
				ID:           c.ID,
				Title:        title,
				LastActivity: c.LastActivity.Format(time.RFC3339),
				Messages:     c.MessageCount,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
