// Package api - Chat and MCP handlers
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/chat"
	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/functions"
	"github.com/aethra/lowcode/internal/mcp"
)

// maxMCPBody bounds a JSON-RPC payload
const maxMCPBody = 4 << 20

// ChatHandler serves the chat endpoints
type ChatHandler struct {
	service  *chat.Service
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// deferred file-writing calls still running after their response
	finishing sync.WaitGroup
}

// NewChatHandler creates a chat handler. A nil service answers 503.
func NewChatHandler(service *chat.Service, origins []string, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigin(origins),
		},
	}
}

// ChatRequest is the body of a chat turn
type ChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

func (h *ChatHandler) available(c *gin.Context) bool {
	if h.service != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "chat is not configured"})
	return false
}

// Chat runs one turn, buffered or as server-sent events
// POST /api/chatia
func (h *ChatHandler) Chat(c *gin.Context) {
	if !h.available(c) {
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body"))
		return
	}
	id, _ := userID(c)
	ctx := functions.WithCaller(c.Request.Context(), id)

	if req.Stream || wantsStream(c) {
		h.stream(c, ctx, id, req.Message)
		return
	}

	reply, err := h.service.Respond(ctx, id, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"response":        reply.Response,
		"functionResults": reply.FunctionResults,
		"pending":         reply.Pending,
	})
	if len(reply.Pending) == 0 {
		return
	}

	// file-writing calls run once the reply has been delivered
	c.Writer.Flush()
	h.finishing.Add(1)
	go func() {
		defer h.finishing.Done()
		results := h.service.Finish(context.WithoutCancel(ctx), reply)
		h.logger.Info("deferred calls finished", zap.Uint("user", id), zap.Int("calls", len(results)))
	}()
}

func (h *ChatHandler) stream(c *gin.Context, ctx context.Context, id uint, message string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	err := h.service.Stream(ctx, id, message, func(e chat.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.SSEvent(e.Type, e.Data)
		c.Writer.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("chat stream ended with error", zap.Uint("user", id), zap.Error(err))
	}
}

// WebSocket carries chat turns over a websocket. Each text frame holds a
// ChatRequest; the stream events are sent back as JSON frames.
// GET /api/chatia/ws
func (h *ChatHandler) WebSocket(c *gin.Context) {
	if !h.available(c) {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, _ := userID(c)
	ctx, cancel := context.WithCancel(functions.WithCaller(c.Request.Context(), id))
	defer cancel()

	conn.SetReadLimit(1 << 20)
	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		err := h.service.Stream(ctx, id, req.Message, func(e chat.Event) error {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(e)
		})
		if err != nil {
			h.logger.Debug("websocket turn failed", zap.Uint("user", id), zap.Error(err))
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// History returns the stored conversation
// GET /api/chatia/session
func (h *ChatHandler) History(c *gin.Context) {
	if !h.available(c) {
		return
	}
	id, _ := userID(c)
	msgs, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": msgs})
}

// ClearSession forgets the stored conversation
// DELETE /api/chatia/session
func (h *ChatHandler) ClearSession(c *gin.Context) {
	if !h.available(c) {
		return
	}
	id, _ := userID(c)
	if err := h.service.Clear(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "conversation cleared"})
}

// Wait blocks until every deferred call started by Chat has finished
func (h *ChatHandler) Wait() {
	h.finishing.Wait()
}

func wantsStream(c *gin.Context) bool {
	if v := c.Query("stream"); v == "true" || v == "1" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

func allowOrigin(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// =============================================================================
// MCP
// =============================================================================

// MCPHandler serves the JSON-RPC tool endpoint
type MCPHandler struct {
	server *mcp.Server
}

// NewMCPHandler creates an MCP handler
func NewMCPHandler(server *mcp.Server) *MCPHandler {
	return &MCPHandler{server: server}
}

// Handle answers one JSON-RPC request or batch
// POST /api/mcp
func (h *MCPHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMCPBody))
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("unreadable body"))
		return
	}

	session := c.GetHeader("Mcp-Session-Id")
	if session == "" {
		session = mcp.NewSessionID()
	}
	c.Header("Mcp-Session-Id", session)

	id, _ := userID(c)
	out, ok := h.server.HandlePayload(functions.WithCaller(c.Request.Context(), id), body)
	if !ok {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, out)
}
