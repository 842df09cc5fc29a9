// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes depot tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hallvard/depot/internal/api"
	"github.com/hallvard/depot/internal/metadata"
	"github.com/hallvard/depot/internal/models"
)

// Server wraps the MCP server with depot tools.
type Server struct {
	mcp *server.MCPServer
	svc *api.Service
}

// New creates a new MCP server with all depot tools registered.
func New(svc *api.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Depot",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_components",
		mcp.WithDescription("Search components by coordinate fields. Filters are "+
			"property=value pairs; recognized properties include name, namespace, "+
			"group, version, checksum, format, and repository_name."),
		mcp.WithString("filters", mcp.Required(), mcp.Description("Filters as a JSON object, e.g. {\"name\":\"guava\",\"format\":\"maven2\"}")),
	), s.searchComponents)

	s.mcp.AddTool(mcp.NewTool("list_repositories",
		mcp.WithDescription("List all repositories."),
	), s.listRepositories)

	s.mcp.AddTool(mcp.NewTool("read_asset",
		mcp.WithDescription("Read the raw content of an asset."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Asset path, e.g. /com/acme/lib/1.0/lib-1.0.jar")),
	), s.readAsset)

	s.mcp.AddTool(mcp.NewTool("browse_changes",
		mcp.WithDescription("Page through assets updated since a cursor, oldest first. "+
			"Pass the returned cursor back to get the next page."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("since", mcp.Description("RFC 3339 cursor from the previous page (empty for the first page)")),
	), s.browseChanges)

	s.mcp.AddTool(mcp.NewTool("rebuild_metadata",
		mcp.WithDescription("Rebuild the metadata documents of a repository or a narrower coordinate scope."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("namespace", mcp.Description("Optional namespace scope")),
		mcp.WithString("name", mcp.Description("Optional name scope (requires namespace)")),
	), s.rebuildMetadata)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchComponents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("filters")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var pairs map[string]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid filters: %v", err)), nil
	}
	filters := make([]models.SearchFilter, 0, len(pairs))
	for property, value := range pairs {
		filters = append(filters, models.SearchFilter{Property: property, Value: value})
	}

	records, err := s.svc.Search(filters, 20, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(records, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRepositories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.svc.ListRepositories()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var names []string
	for _, repo := range repos {
		names = append(names, fmt.Sprintf("%s (%s)", repo.Name, repo.Format))
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) readAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repository, err := req.RequireString("repository")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetAsset(repository, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(detail.Content)), nil
}

func (s *Server) browseChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repository, err := req.RequireString("repository")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var since *time.Time
	if raw, err := req.RequireString("since"); err == nil && raw != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid cursor: %v", parseErr)), nil
		}
		since = &t
	}

	assets, err := s.svc.Changes(repository, since, nil, 50)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cursor := ""
	if len(assets) > 0 {
		cursor = assets[len(assets)-1].LastUpdated.Format(time.RFC3339Nano)
	}
	out, _ := json.MarshalIndent(map[string]any{"assets": assets, "cursor": cursor}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) rebuildMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repository, err := req.RequireString("repository")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	request := metadata.Request{Repository: repository}
	if v, err := req.RequireString("namespace"); err == nil {
		request.Namespace = v
	}
	if v, err := req.RequireString("name"); err == nil {
		request.Name = v
	}

	rebuilt, err := s.svc.RebuildMetadata(ctx, request, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !rebuilt {
		return mcp.NewToolResultText("nothing to rebuild"), nil
	}
	return mcp.NewToolResultText("metadata rebuilt"), nil
}
