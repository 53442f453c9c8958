// Package mcp serves the function registry over JSON-RPC 2.0 using the
// Model Context Protocol tool methods.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/functions"
)

// ProtocolVersion is reported by initialize
const ProtocolVersion = "2024-11-05"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC request or notification. A notification has no id.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification reports whether the request expects no response
func (r Request) Notification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Content is one item of a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the tools/call result
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Tools is the callable surface served by the endpoint
type Tools interface {
	List() []functions.Descriptor
	Call(ctx context.Context, name string, params map[string]interface{}) functions.FunctionResult
}

// Server answers MCP requests
type Server struct {
	tools   Tools
	name    string
	version string
	logger  *zap.Logger
}

// NewServer creates a server over tools
func NewServer(tools Tools, name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tools: tools, name: name, version: version, logger: logger}
}

// Handle answers one request. Notifications get a nil response.
func (s *Server) Handle(ctx context.Context, req Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.Notification() {
			return nil
		}
		return failure(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	s.logger.Debug("mcp request", zap.String("method", req.Method), zap.ByteString("id", req.ID))

	var (
		result interface{}
		rpcErr *Error
	)
	switch req.Method {
	case "initialize":
		result = s.initialize()
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = map[string]interface{}{"tools": s.list()}
	case "tools/call":
		result, rpcErr = s.call(ctx, req.Params)
	default:
		if isNotificationMethod(req.Method) {
			return nil
		}
		rpcErr = &Error{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
	}

	if req.Notification() {
		return nil
	}
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// HandlePayload decodes a raw body holding a single request or a batch and
// answers it. The second return is false when nothing should be written.
func (s *Server) HandlePayload(ctx context.Context, body []byte) (interface{}, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return failure(nil, CodeInvalidRequest, "Invalid Request"), true
	}

	if body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			return failure(nil, CodeParseError, "Parse error"), true
		}
		if len(batch) == 0 {
			return failure(nil, CodeInvalidRequest, "Invalid Request"), true
		}
		var out []*Response
		for _, raw := range batch {
			if resp := s.handleRaw(ctx, raw); resp != nil {
				out = append(out, resp)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	}

	if !json.Valid(body) {
		return failure(nil, CodeParseError, "Parse error"), true
	}
	resp := s.handleRaw(ctx, body)
	if resp == nil {
		return nil, false
	}
	return resp, true
}

func (s *Server) handleRaw(ctx context.Context, raw json.RawMessage) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(nil, CodeInvalidRequest, "Invalid Request")
	}
	return s.Handle(ctx, req)
}

// NewSessionID returns an identifier for the Mcp-Session-Id header
func NewSessionID() string {
	return uuid.NewString()
}

func (s *Server) initialize() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	}
}

func (s *Server) list() []functions.Descriptor {
	tools := s.tools.List()
	if tools == nil {
		tools = []functions.Descriptor{}
	}
	return tools
}

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) call(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var p callParams
	if len(raw) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: name is required"}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: " + err.Error()}
	}
	if p.Name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: name is required"}
	}

	out := s.tools.Call(ctx, p.Name, p.Arguments)
	text, err := json.Marshal(out.Result)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if !out.Result.Success {
		s.logger.Info("mcp tool failed", zap.String("tool", p.Name), zap.String("message", out.Result.Message))
	}
	return CallResult{
		Content: []Content{{Type: "text", Text: string(text)}},
		IsError: !out.Result.Success,
	}, nil
}

func isNotificationMethod(method string) bool {
	return strings.HasPrefix(method, "notifications/")
}

func failure(id json.RawMessage, code int, message string) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}
