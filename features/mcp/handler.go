// Package mcp exposes PDF search and question answering as Model Context
// Protocol tools over plain JSON-RPC POSTs and over an SSE session stream.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pdfsearch/features/document"
	"pdfsearch/internal/apperr"
	"pdfsearch/internal/middleware"
	"pdfsearch/internal/retrieval"
)

const (
	protocolVersion   = "2024-11-05"
	keepaliveInterval = 15 * time.Second
)

// Backend is the slice of the document service exposed as MCP tools.
type Backend interface {
	Search(ctx context.Context, query string) ([]retrieval.SearchResult, error)
	Chat(ctx context.Context, fileName, query string) (string, error)
	List(ctx context.Context) ([]document.Summary, error)
}

type Handler struct {
	backend  Backend
	tools    []registeredTool
	sessions *sessionRegistry
}

func NewHandler(b Backend) *Handler {
	h := &Handler{backend: b, sessions: newSessionRegistry()}
	h.registerTools()
	return h
}

// processRequest returns nil when no response is owed.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch {
	case req.Method == "initialize":
		return success(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      map[string]interface{}{"name": "pdfsearch-mcp", "version": "1.0.0"},
		})
	case req.Method == "tools/list":
		return success(req.ID, ListToolsResult{Tools: h.catalog()})
	case req.Method == "tools/call":
		return h.callTool(ctx, req)
	case strings.HasPrefix(req.Method, "notifications/"):
		return nil
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	if req.IsNotification() {
		return nil
	}
	return failure(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		return failure(req.ID, ErrInvalidParams, "Invalid params")
	}

	run, ok := h.lookup(params.Name)
	if !ok {
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return failure(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
	}

	start := time.Now()
	text, err := run(ctx, params.Arguments)
	var bad argError
	switch {
	case errors.As(err, &bad):
		return failure(req.ID, ErrInvalidParams, bad.Error())
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound):
		slog.WarnContext(ctx, "tool rejected input", "tool", params.Name, "error", err)
		return textResult(req.ID, "Error: "+apperr.Message(err), true)
	case err != nil:
		// Failures go in the tool result so the calling model can read them.
		slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "error", err)
		return textResult(req.ID, "Error: "+apperr.Message(err), true)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", params.Name, "duration_ms", time.Since(start).Milliseconds())
	return textResult(req.ID, text, false)
}

// ServeHTTP answers a single JSON-RPC request in the response body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.DebugContext(ctx, "mcp request received", "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// JSON-RPC errors travel in a 200 response body.
		writeJSON(ctx, w, http.StatusOK, failure(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(ctx, req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleSSE opens a session stream; responses to messages posted for the
// session are delivered as "message" events.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID, queue := h.sessions.open()
	defer func() {
		h.sessions.close(sessionID)
		slog.Info("sse session ended", "session_id", sessionID)
	}()
	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	writeEvent(w, "endpoint", html.EscapeString(endpoint))
	writeEvent(w, "id", sessionID)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-queue:
			writeEvent(w, "message", msg)
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
		case <-r.Context().Done():
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

// HandleMessage accepts a JSON-RPC message for an open session, answers 202
// and processes it in the background.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.WarnContext(ctx, "missing sessionId in message request")
		writeHTTPError(ctx, w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId")
		return
	}
	if !h.sessions.exists(sessionID) {
		slog.WarnContext(ctx, "session not found", "session_id", sessionID)
		writeHTTPError(ctx, w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.WarnContext(ctx, "invalid json in message request", "error", err)
		writeHTTPError(ctx, w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// keeps the correlation id but outlives the request
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}
		body, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(body))
	}()
}

func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	delivered, found := h.sessions.send(sessionID, msg)
	switch {
	case !found:
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
	case !delivered:
		slog.WarnContext(ctx, "session queue full, dropping message", "session_id", sessionID)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeHTTPError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
