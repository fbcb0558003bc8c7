// Package tools exposes screen capture and input injection to agents as MCP
// tools over newline-delimited JSON-RPC 2.0.
package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"agentviewport/internal/capture"
	"agentviewport/internal/types"
)

// Router executes input commands and reports the primary screen size.
type Router interface {
	Route(ctx context.Context, cmd types.Command) error
	Metrics() (types.ScreenMetrics, error)
}

// Snapshotter produces one encoded frame on demand.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*types.Frame, error)
}

// Server handles one MCP session. Calls are executed one at a time in
// arrival order.
type Server struct {
	router    Router
	snapshots Snapshotter
	displays  capture.DisplayLister
	logger    *slog.Logger

	tools       []tool
	toolsByName map[string]*tool
	initialized bool
}

// Option configures a Server.
type Option func(*Server)

// WithDisplays lets list_monitors report every attached display.
func WithDisplays(d capture.DisplayLister) Option {
	return func(s *Server) { s.displays = d }
}

// WithLogger sets the server logger. It must not write to the MCP output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(router Router, snapshots Snapshotter, opts ...Option) *Server {
	s := &Server{
		router:    router,
		snapshots: snapshots,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	s.tools = s.catalog()
	s.toolsByName = make(map[string]*tool, len(s.tools))
	for i := range s.tools {
		s.toolsByName[s.tools[i].name] = &s.tools[i]
	}
	return s
}

// maxRequestLine bounds one request. Screenshots make responses large, but
// requests stay small.
const maxRequestLine = 1024 * 1024

// readLine returns the next newline-terminated line of r. A line longer than
// limit is consumed and reported as tooLong with no content.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				line, tooLong = nil, true
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

// Run reads requests from in and writes responses to out until in reaches
// EOF or ctx is done. Each message occupies one line.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	encoder := json.NewEncoder(out)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		raw, tooLong, readErr := readLine(reader, maxRequestLine)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}
		if tooLong {
			if err := writeError(encoder, json.RawMessage("null"), codeParseError,
				fmt.Sprintf("parse error: request exceeds %d bytes", maxRequestLine)); err != nil {
				return fmt.Errorf("writing parse error response: %w", err)
			}
		} else if err := s.handleLine(ctx, encoder, bytes.TrimSpace(raw)); err != nil {
			return err
		}
		if readErr != nil {
			return nil
		}
	}
}

// handleLine answers one request line. Only write failures are returned.
func (s *Server) handleLine(ctx context.Context, encoder *json.Encoder, line []byte) error {
	if len(line) == 0 {
		return nil
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		if err := writeError(encoder, json.RawMessage("null"), codeParseError, "parse error: "+err.Error()); err != nil {
			return fmt.Errorf("writing parse error response: %w", err)
		}
		return nil
	}
	if req.JSONRPC != "2.0" {
		if !req.isNotification() {
			if err := writeError(encoder, req.ID, codeInvalidRequest, "unsupported JSON-RPC version"); err != nil {
				return fmt.Errorf("writing version error response: %w", err)
			}
		}
		return nil
	}
	if req.isNotification() {
		return nil
	}
	return s.dispatch(ctx, encoder, &req)
}

func (s *Server) dispatch(ctx context.Context, encoder *json.Encoder, req *request) error {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(encoder, req)
	case "ping":
		return writeResult(encoder, req.ID, map[string]any{})
	case "tools/list", "tools/call":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		if req.Method == "tools/list" {
			return s.handleToolsList(encoder, req)
		}
		return s.handleToolsCall(ctx, encoder, req)
	default:
		return writeError(encoder, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleInitialize(encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for initialize")
	}
	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
	}
	s.initialized = true
	s.logger.Info("mcp session initialized", "client", params.ClientInfo.Name, "protocol", params.ProtocolVersion)

	return writeResult(encoder, req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolCapability{}},
		ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
	})
}

func (s *Server) handleToolsList(encoder *json.Encoder, req *request) error {
	descriptions := make([]toolDescription, 0, len(s.tools))
	for _, t := range s.tools {
		descriptions = append(descriptions, toolDescription{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.schema,
			Annotations: t.annotations,
		})
	}
	return writeResult(encoder, req.ID, toolsListResult{Tools: descriptions})
}

func (s *Server) handleToolsCall(ctx context.Context, encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for tools/call")
	}
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	t, ok := s.toolsByName[params.Name]
	if !ok {
		return writeResult(encoder, req.ID, buildToolResult(nil, notFound("unknown tool: %s", params.Name)))
	}

	content, err := s.execute(ctx, t, params.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", t.name, "error", err)
	}
	return writeResult(encoder, req.ID, buildToolResult(content, err))
}

// execute runs one tool, turning a panic into an internal error.
func (s *Server) execute(ctx context.Context, t *tool, args json.RawMessage) (content []contentBlock, err error) {
	defer func() {
		if p := recover(); p != nil {
			content, err = nil, &ToolError{Category: CategoryInternal, Err: fmt.Errorf("%s panicked: %v", t.name, p)}
		}
	}()
	return t.run(ctx, args)
}

func buildToolResult(content []contentBlock, err error) toolsCallResult {
	result := toolsCallResult{Content: content}
	if err != nil {
		result.IsError = true
		result.Content = append(result.Content, textBlock("Error: "+err.Error()))
		result.ErrorInfo = classify(err)
	}
	// MCP requires at least one content block.
	if len(result.Content) == 0 {
		result.Content = []contentBlock{textBlock("")}
	}
	return result
}

func writeResult(encoder *json.Encoder, id json.RawMessage, result any) error {
	return encoder.Encode(response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(encoder *json.Encoder, id json.RawMessage, code int, message string) error {
	return encoder.Encode(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
