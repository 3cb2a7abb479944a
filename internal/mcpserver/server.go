// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes weavetex compile tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/jobservice"
)

const guideURI = "weavetex://magic-comments"

// Server wraps the MCP server with weavetex tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *jobservice.Service
	timeout time.Duration
	poll    time.Duration
}

// New creates a new MCP server with all tools registered. waitTimeout bounds
// how long the compile tool waits for a job to finish.
func New(svc *jobservice.Service, waitTimeout time.Duration) *Server {
	s := &Server{svc: svc, timeout: waitTimeout, poll: 100 * time.Millisecond}

	s.mcp = server.NewMCPServer(
		"weavetex",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("compile",
		mcp.WithDescription("Compile a .tex, .Rnw, .Snw or .nw document to PDF. "+
			"Literate sources are woven with Sweave or knitr first. By default the call waits "+
			"for the job and returns its result with errors mapped to source lines. "+
			"Read the magic comment guide (get_magic_comment_guide) to choose the engine."),
		mcp.WithString("target_file", mcp.Required(), mcp.Description("Absolute path of the document")),
		mcp.WithString("encoding", mcp.Description("Source encoding, default UTF-8")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the job to finish (default true)")),
	), s.compile)

	s.mcp.AddTool(mcp.NewTool("terminate",
		mcp.WithDescription("Stop the running compile job, if any."),
	), s.terminate)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report whether a compile job is running and its current phase."),
	), s.status)

	s.mcp.AddTool(mcp.NewTool("forward_search",
		mcp.WithDescription("Find where a source line appears in the compiled PDF."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Absolute path of the source file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
		mcp.WithString("pdf_path", mcp.Description("PDF path; defaults to the source's sibling")),
	), s.forwardSearch)

	s.mcp.AddTool(mcp.NewTool("inverse_search",
		mcp.WithDescription("Find the source line that produced a point in the PDF."),
		mcp.WithString("pdf_path", mcp.Required(), mcp.Description("Absolute path of the PDF")),
		mcp.WithNumber("page", mcp.Required(), mcp.Description("1-based page")),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("X in big points from the left")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Y in big points from the top")),
	), s.inverseSearch)

	s.mcp.AddTool(mcp.NewTool("history",
		mcp.WithDescription("List recent compile jobs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max jobs (default 20)")),
	), s.history)

	s.mcp.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Get one finished compile job with its errors and warnings."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id returned by compile")),
	), s.getJob)

	s.mcp.AddTool(mcp.NewTool("search_errors",
		mcp.WithDescription("Search errors and warnings recorded by earlier compiles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Words to look for in messages or file paths")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchErrors)

	s.mcp.AddTool(mcp.NewTool("get_magic_comment_guide",
		mcp.WithDescription("Returns the magic comment directives that select the TeX program, "+
			"encoding and weave engine."),
	), s.getGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Magic Comment Guide",
			mcp.WithResourceDescription("Document directives understood by weavetex."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
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
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) compile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target_file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.svc.Compile(ctx, jobservice.CompileRequest{
		TargetFile: target,
		Encoding:   req.GetString("encoding", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !req.GetBool("wait", true) {
		return jsonResult(map[string]string{"job_id": id}), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		job, err := s.svc.Job(waitCtx, id)
		switch {
		case err == nil:
			return jsonResult(job), nil
		case !errors.Is(err, apperr.ErrNotFound):
			return mcp.NewToolResultError(err.Error()), nil
		}
		select {
		case <-waitCtx.Done():
			return mcp.NewToolResultError(fmt.Sprintf("job %s still running after %s", id, s.timeout)), nil
		case <-ticker.C:
		}
	}
}

func (s *Server) terminate(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.svc.Terminate(ctx) {
		return mcp.NewToolResultText("terminated"), nil
	}
	return mcp.NewToolResultText("no job running"), nil
}

func (s *Server) status(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status(ctx)), nil
}

func (s *Server) forwardSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line, err := req.RequireInt("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	loc, err := s.svc.Forward(ctx, jobservice.ForwardRequest{
		PdfPath:   req.GetString("pdf_path", ""),
		File:      file,
		Line:      line,
		FromClick: true,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if loc.IsEmpty() {
		return mcp.NewToolResultText("no match"), nil
	}
	return jsonResult(loc), nil
}

func (s *Server) inverseSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pdf, err := req.RequireString("pdf_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := req.RequireInt("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	x, err := req.RequireFloat("x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := req.RequireFloat("y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	loc, err := s.svc.Inverse(ctx, jobservice.InverseRequest{PdfPath: pdf, Page: page, X: x, Y: y})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if loc.IsEmpty() {
		return mcp.NewToolResultText("no match"), nil
	}
	return jsonResult(loc), nil
}

func (s *Server) history(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.svc.History(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// Entries are available through get_job.
	for i := range jobs {
		jobs[i].Entries = nil
	}
	return jsonResult(jobs), nil
}

func (s *Server) getJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.Job(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job %s: %v", id, err)), nil
	}
	return jsonResult(job), nil
}

func (s *Server) searchErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	return jsonResult(hits), nil
}

func (s *Server) getGuide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MagicCommentGuide), nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     MagicCommentGuide,
		},
	}, nil
}
