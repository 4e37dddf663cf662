// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes unitlens tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/unitlens/internal/apperr"
	"github.com/starford/unitlens/internal/workspace"
)

// Resource URIs.
const (
	UnitsURI          = "unitlens://units"
	MarkupContractURI = "unitlens://markup-contract"
)

// Server wraps the MCP server with unitlens tools.
type Server struct {
	mcp *server.MCPServer
	svc *workspace.Service
}

// New creates a new MCP server with all unitlens tools registered.
func New(svc *workspace.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"unitlens",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_units",
		mcp.WithDescription("List the unit labels the engine recognises and what each converts to."),
	), s.listUnits)

	s.mcp.AddTool(mcp.NewTool("convert_value",
		mcp.WithDescription("Convert a bare value without touching any document."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Unit label, e.g. kilometers or minutes per mile")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Value text, e.g. 10, 1,500 or 5:00")),
	), s.convertValue)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the live documents with their ids and conversion counts."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("open_document",
		mcp.WithDescription("Open a document. Without content it is loaded from the documents directory."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path, e.g. races/marathon.xhtml")),
		mcp.WithString("content", mcp.Description("Optional XHTML markup")),
	), s.openDocument)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the current markup of a live document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id from list_documents")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("insert_markup",
		mcp.WithDescription("Append markup to every element matched by an XPath target. "+
			"Unit tags inside the markup are converted shortly after. Read the contract "+
			"via the "+MarkupContractURI+" resource first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("XPath selecting the parent elements")),
		mcp.WithString("markup", mcp.Required(), mcp.Description("XHTML fragment to append")),
	), s.insertMarkup)

	s.mcp.AddTool(mcp.NewTool("get_conversions",
		mcp.WithDescription("List the conversions recorded for a document, newest first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), s.getConversions)

	s.mcp.AddResource(
		mcp.NewResource(UnitsURI, "Unit Registry",
			mcp.WithResourceDescription("Every recognised label with its symbols and conversion direction."),
			mcp.WithMIMEType("application/json"),
		),
		s.readUnitsResource,
	)

	s.mcp.AddResource(
		mcp.NewResource(MarkupContractURI, "Unit Markup Contract",
			mcp.WithResourceDescription("How to write unit tags so they get converted."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMarkupContractResource,
	)

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

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// toolError turns a workspace error into a tool-level error result.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrAlreadyExists),
		errors.Is(err, apperr.ErrInvalidTarget),
		errors.Is(err, apperr.ErrInvalidMarkup),
		errors.Is(err, apperr.ErrUnknownUnit):
		return mcp.NewToolResultError(err.Error())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("internal error: %v", err))
	}
}

func (s *Server) listUnits(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Units()), nil
}

func (s *Server) convertValue(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.Convert(label, value)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(c), nil
}

func (s *Server) listDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs := s.svc.List(ctx)
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents open"), nil
	}
	lines := make([]string, len(docs))
	for i, d := range docs {
		lines[i] = fmt.Sprintf("%s\t%s\tconverted=%d", d.ID, d.Path, d.Converted)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) openDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var content []byte
	if c := req.GetString("content", ""); c != "" {
		content = []byte(c)
	}
	info, err := s.svc.Create(ctx, path, content, true)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(info), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.Render(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) insertMarkup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	markup, err := req.RequireString("markup")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Insert(ctx, id, target, markup)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("inserted into %d element(s)", n)), nil
}

func (s *Server) getConversions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 20)
	convs, err := s.svc.Conversions(ctx, id, limit)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(convs), nil
}

func (s *Server) readUnitsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.svc.Units(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      UnitsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func (s *Server) readMarkupContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      MarkupContractURI,
			MIMEType: "text/markdown",
			Text:     MarkupContract(s.svc.EngineOptions(), s.svc.Units()),
		},
	}, nil
}
