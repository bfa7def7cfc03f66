// Package errors writes error events back to clients. Errors are scoped
// to one connection or session; nothing here is fatal to the process.
package errors

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"pairquiz-backend/api"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Client-facing messages for transport-level rejections.
const (
	MsgInvalidPayload  = "Invalid payload"
	MsgUnknownEvent    = "Unknown event type"
	MsgTooManyRequests = "Too many requests"
)

// WriteWebsocketError logs the underlying error and writes an error
// event carrying only the client-facing message. No state is mutated on
// behalf of a rejected request.
func WriteWebsocketError(ctx context.Context, conn *websocket.Conn, err error, message string) {
	slog.ErrorContext(ctx, "ws error",
		slog.String("message", message),
		slog.Any("error", err))

	event, encodeErr := api.NewEvent(api.EventError, api.ErrorData{Message: message})
	if encodeErr != nil {
		slog.ErrorContext(ctx, "ws error: failed to encode response", slog.Any("error", encodeErr))
		return
	}
	if writeErr := wsjson.Write(ctx, conn, event); writeErr != nil {
		slog.ErrorContext(ctx, "ws error: failed to write response", slog.Any("error", writeErr))
	}
}

// WriteHTTPError answers a REST request with a JSON error body.
func WriteHTTPError(ctx context.Context, w http.ResponseWriter, statusCode int, err error, message string) {
	slog.ErrorContext(ctx, "http error",
		slog.Int("status_code", statusCode),
		slog.String("message", message),
		slog.Any("error", err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if encodeErr := json.NewEncoder(w).Encode(api.ErrorData{Message: message}); encodeErr != nil {
		slog.ErrorContext(ctx, "http error: failed to encode response", slog.Any("error", encodeErr))
	}
}
