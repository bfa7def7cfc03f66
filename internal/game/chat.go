package game

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"pairquiz-backend/api"
)

// RelayChatMessage appends the message to the game's chat buffer and
// forwards it to the recipient. The sending client renders its own copy
// optimistically, so no echo is delivered to the sender.
//
// The buffer must already exist from the all-matched handoff; a message
// for a game that never reached the chat phase is logged and dropped.
func (c *Coordinator) RelayChatMessage(ctx context.Context, connID string, data api.ChatMessageData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data.GameID == "" || data.Message == "" || data.To == "" {
		c.sendError(ctx, connID, msgInvalidChatMsg)
		return
	}
	if utf8.RuneCountInString(data.Message) > c.maxChatLen {
		c.sendError(ctx, connID, msgChatMsgTooLong)
		return
	}

	msg := api.ChatMessage{
		From:      data.From,
		Text:      data.Message,
		Timestamp: c.clock.Now(),
	}
	if err := c.store.AppendChatMessage(ctx, data.GameID, msg); err != nil {
		c.log.Warn("chat message dropped",
			slog.String("game_id", data.GameID),
			slog.String("conn_id", connID),
			slog.Any("error", err))
		return
	}

	c.send(ctx, data.To, api.EventChatMessage, api.ChatRelayData{
		Message: data.Message,
		From:    data.From,
	})
}

// RequestChat hands the buffered messages to a reconnecting client and
// deletes the buffer: delivery is single-shot, not a durable log. An
// unknown game id is a no-op.
func (c *Coordinator) RequestChat(ctx context.Context, connID, gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages, ok, err := c.store.TakeChat(ctx, gameID)
	if err != nil {
		c.log.Error("take chat buffer",
			slog.String("game_id", gameID),
			slog.Any("error", err))
		return
	}
	if !ok {
		return
	}

	c.send(ctx, connID, api.EventChatHistory, api.ChatHistoryData{Messages: messages})
}

// EndChat notifies both sides the chat is over. The buffer is kept: a
// history request issued right after ending must still retrieve what was
// buffered since the last delivery.
func (c *Coordinator) EndChat(ctx context.Context, connID string, data api.EndChatData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.send(ctx, connID, api.EventChatEnded, nil)
	if data.To != "" && data.To != connID {
		c.send(ctx, data.To, api.EventChatEnded, nil)
	}
}
