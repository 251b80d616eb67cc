// Package mcp serves Switchboard over the Model Context Protocol: JSON-RPC
// 2.0, one message per line, on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/budget"
	"github.com/pario-ai/switchboard/pkg/cache/semantic"
	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/orchestrator"
)

const maxLineBytes = 4 << 20

// Deps are the collaborators of a Server. Semantic and Budget are optional.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       ledger.Ledger
	Semantic     *semantic.Cache
	Budget       *budget.Enforcer
	Logger       *zap.Logger
	Version      string
}

// Server answers MCP requests.
type Server struct {
	orch     *orchestrator.Orchestrator
	ledger   ledger.Ledger
	semantic *semantic.Cache
	budget   *budget.Enforcer
	logger   *zap.Logger
	version  string
}

// New creates a Server.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:     d.Orchestrator,
		ledger:   d.Ledger,
		semantic: d.Semantic,
		budget:   d.Budget,
		logger:   logger.Named("mcp"),
		version:  d.Version,
	}
}

// Run reads requests from r line by line and writes responses to w. It
// returns when r is exhausted or ctx is cancelled. Requests are handled one
// at a time.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		var resp *Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = errorFor(nil, CodeParseError, "parse error")
		} else {
			resp = s.dispatch(ctx, &req)
		}
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			return nil
		}
		return errorFor(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return resultFor(req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "switchboard", Version: s.version},
			Instructions:    "Route prompts through switchboard_ask to reuse cached answers and the cheapest available backend.",
		})
	case "ping":
		return resultFor(req, struct{}{})
	case "tools/list":
		return resultFor(req, ToolsListResult{Tools: tools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	}

	if req.IsNotification() {
		return nil
	}
	return errorFor(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorFor(req.ID, CodeInvalidParams, "invalid params")
	}

	h, ok := handlers[params.Name]
	if !ok {
		return resultFor(req, errorResult("unknown tool: "+params.Name))
	}
	s.logger.Debug("tool call", zap.String("tool", params.Name))
	return resultFor(req, h(ctx, s, params.Arguments))
}
