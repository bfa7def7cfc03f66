package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"pairquiz-backend/api"
	errs "pairquiz-backend/internal/errors"
	"pairquiz-backend/internal/game"
	"pairquiz-backend/internal/rate"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	pingInterval  = 5 * time.Second
	handleTimeout = 5 * time.Second
	maxNameLength = 25

	// Per-connection inbound event budget. Legitimate clients send a
	// handful of events per second at most, chat included.
	eventRateWindow = time.Second
	eventRateLimit  = 15
)

type dispatchFunc func(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage)

// Handler upgrades requests to websockets, registers the connection and
// runs its read loop, dispatching each inbound event into the
// coordinator through an explicit event table.
type Handler struct {
	coord      *game.Coordinator
	registry   *Registry
	readLimit  int64
	acceptOpts websocket.AcceptOptions
	log        *slog.Logger
	dispatch   map[string]dispatchFunc
}

func NewHandler(coord *game.Coordinator, registry *Registry, readLimit int64, acceptOpts websocket.AcceptOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		coord:      coord,
		registry:   registry,
		readLimit:  readLimit,
		acceptOpts: acceptOpts,
		log:        logger,
	}
	h.dispatch = map[string]dispatchFunc{
		api.EventFindMatch:        h.handleFindMatch,
		api.EventCreateLobby:      h.handleCreateLobby,
		api.EventJoinLobby:        h.handleJoinLobby,
		api.EventRejoinLobby:      h.handleRejoinLobby,
		api.EventStartLobbyGame:   h.handleStartLobbyGame,
		api.EventQuestionAnswered: h.handleQuestionAnswered,
		api.EventChatMessage:      h.handleChatMessage,
		api.EventEndChat:          h.handleEndChat,
		api.EventRequestChat:      h.handleRequestChat,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &h.acceptOpts)
	if err != nil {
		// Accept already writes a status code and error message.
		h.log.Error("websocket accept", slog.Any("error", err))
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	connID := h.registry.Add(conn)
	h.log.Info("connection opened", slog.String("conn_id", connID))

	ctx := r.Context()
	go ping(ctx, conn, pingInterval) // Detect timed out connection.
	defer h.disconnect(connID, conn)

	if err := h.registry.BroadcastOnlineCount(ctx); err != nil {
		h.log.Error("broadcast online count", slog.Any("error", err))
	}

	limiter := rate.NewLimiter(eventRateWindow, eventRateLimit)

	for {
		event := api.Event{}
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if websocket.CloseStatus(err) == -1 { // -1 is considered as an err unrelated to closing.
				timeoutCtx, cancel := context.WithTimeout(ctx, handleTimeout)
				errs.WriteWebsocketError(timeoutCtx, conn, err, errs.MsgInvalidPayload)
				cancel()
			}
			return
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		if !limiter.Allow() {
			errs.WriteWebsocketError(timeoutCtx, conn, nil, errs.MsgTooManyRequests)
			cancel()
			continue
		}
		h.handleEvent(timeoutCtx, connID, conn, event)
		cancel()
	}
}

func (h *Handler) handleEvent(ctx context.Context, connID string, conn *websocket.Conn, event api.Event) {
	fn, ok := h.dispatch[event.Type]
	if !ok {
		errs.WriteWebsocketError(ctx, conn, nil, errs.MsgUnknownEvent)
		return
	}
	fn(ctx, connID, conn, event.Data)
}

// disconnect unwinds everything a closed connection occupied. A fresh
// context is used: the request context may already be done.
func (h *Handler) disconnect(connID string, conn *websocket.Conn) {
	conn.CloseNow()
	h.registry.Remove(connID)

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	h.coord.Disconnect(ctx, connID)

	if err := h.registry.BroadcastOnlineCount(ctx); err != nil {
		h.log.Error("broadcast online count", slog.Any("error", err))
	}

	h.log.Info("connection closed", slog.String("conn_id", connID))
}

func (h *Handler) handleFindMatch(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	user, err := api.DecodeJSON[api.FindMatchData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	if err := validateName(user.Name); err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.FindMatch(ctx, connID, user)
}

func (h *Handler) handleCreateLobby(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	user, err := api.DecodeJSON[api.CreateLobbyData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	if err := validateName(user.Name); err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.CreateLobby(ctx, connID, user)
}

func (h *Handler) handleJoinLobby(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.JoinLobbyData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	if req.Code == "" {
		errs.WriteWebsocketError(ctx, conn, nil, errs.MsgInvalidPayload)
		return
	}
	if err := validateName(req.UserData.Name); err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.JoinLobby(ctx, connID, req.Code, req.UserData)
}

func (h *Handler) handleRejoinLobby(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.RejoinLobbyData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	if req.Code == "" {
		errs.WriteWebsocketError(ctx, conn, nil, errs.MsgInvalidPayload)
		return
	}
	if err := validateName(req.UserData.Name); err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.RejoinLobby(ctx, connID, req.Code, req.UserData)
}

func (h *Handler) handleStartLobbyGame(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.StartLobbyGameData](data)
	if err != nil || req.Code == "" {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.StartLobbyGame(ctx, req.Code)
}

func (h *Handler) handleQuestionAnswered(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.QuestionAnsweredData](data)
	if err != nil || req.GameID == "" {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.QuestionAnswered(ctx, connID, req.GameID, req.Answer)
}

func (h *Handler) handleChatMessage(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.ChatMessageData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.RelayChatMessage(ctx, connID, req)
}

func (h *Handler) handleEndChat(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.EndChatData](data)
	if err != nil || req.GameID == "" {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.EndChat(ctx, connID, req)
}

func (h *Handler) handleRequestChat(ctx context.Context, connID string, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.RequestChatData](data)
	if err != nil || req.GameID == "" {
		errs.WriteWebsocketError(ctx, conn, err, errs.MsgInvalidPayload)
		return
	}
	h.coord.RequestChat(ctx, connID, req.GameID)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("missing name")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return errors.New("name too long")
	}
	return nil
}

func ping(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := conn.Ping(timeoutCtx); err != nil {
				conn.CloseNow()
				cancel()
				return
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
