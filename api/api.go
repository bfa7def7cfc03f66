// Package api holds the wire contract shared by the coordinator and its
// clients: the event envelope and the payloads of every inbound and
// outbound event.
package api

import (
	"encoding/json"
	"time"
)

// Inbound event types (client to coordinator).
const (
	EventFindMatch        = "find_match"
	EventCreateLobby      = "create_lobby"
	EventJoinLobby        = "join_lobby"
	EventRejoinLobby      = "rejoin_lobby"
	EventStartLobbyGame   = "start_lobby_game"
	EventQuestionAnswered = "question_answered"
	EventChatMessage      = "chat_message"
	EventEndChat          = "end_chat"
	EventRequestChat      = "request_chat"
)

// Outbound event types (coordinator to client).
const (
	EventOnlineCount    = "online_count"
	EventLobbyCreated   = "lobby_created"
	EventLobbyJoined    = "lobby_joined"
	EventLobbyReady     = "lobby_ready"
	EventStartQuestions = "start_questions"
	EventQuestion       = "question"
	EventEndGame        = "end_game"
	EventAllMatched     = "all_matched"
	EventChatHistory    = "chat_history"
	EventChatEnded      = "chat_ended"
	EventError          = "error"
)

// Event is the envelope for every message exchanged over a websocket.
// The protocol is symmetric so one envelope serves both directions.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps a payload into an event envelope.
func NewEvent(eventType string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

// DecodeJSON decodes an event payload into a concrete type.
func DecodeJSON[T any](data json.RawMessage) (res T, err error) {
	if err := json.Unmarshal(data, &res); err != nil {
		return res, err
	}
	return res, nil
}

// UserData is the identity a client claims when entering matchmaking.
// It is trusted as-is; nothing in this process authenticates it.
type UserData struct {
	Name      string `json:"name"`
	Anonymous bool   `json:"anonymous"`
}

type FindMatchData = UserData

type CreateLobbyData = UserData

type JoinLobbyData struct {
	Code     string   `json:"code"`
	UserData UserData `json:"userData"`
}

type RejoinLobbyData struct {
	Code     string   `json:"code"`
	UserData UserData `json:"userData"`
}

type StartLobbyGameData struct {
	Code string `json:"code"`
}

type QuestionAnsweredData struct {
	GameID string `json:"gameId"`
	Answer Answer `json:"answer"`
}

type ChatMessageData struct {
	GameID  string `json:"gameId"`
	Message string `json:"message"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type EndChatData struct {
	GameID string `json:"gameId"`
	To     string `json:"to"`
}

type RequestChatData struct {
	GameID string `json:"gameId"`
}

type OnlineCountData struct {
	Count int `json:"count"`
}

type LobbyCreatedData struct {
	Code string `json:"code"`
}

type LobbyJoinedData struct {
	Code string `json:"code"`
}

// LobbyReadyData carries the full participant list in join order so
// clients can render the opponent before the game starts.
type LobbyReadyData struct {
	Code     string     `json:"code"`
	UserData []UserData `json:"userData"`
}

// StartQuestionsData announces a new game session. Identity fields are
// positionally correct per recipient: MyName is the recipient's own
// claimed name, OpponentName the other side's.
type StartQuestionsData struct {
	Questions         []Question `json:"questions"`
	GameID            string     `json:"gameId"`
	MyName            string     `json:"myName"`
	MyAnonymous       bool       `json:"myAnonymous"`
	OpponentName      string     `json:"opponentName"`
	OpponentAnonymous bool       `json:"opponentAnonymous"`
}

type QuestionData struct {
	Question Question `json:"question"`
	Index    int      `json:"index"`
}

// AllMatchedData unlocks the chat phase. OpponentSocketID is the relay
// address the client passes back in chat_message and end_chat.
type AllMatchedData struct {
	OpponentSocketID  string `json:"opponentSocketId"`
	GameID            string `json:"gameId"`
	MyName            string `json:"myName"`
	MyAnonymous       bool   `json:"myAnonymous"`
	OpponentName      string `json:"opponentName"`
	OpponentAnonymous bool   `json:"opponentAnonymous"`
}

// ChatRelayData is the outbound form of a relayed chat message.
type ChatRelayData struct {
	Message string `json:"message"`
	From    string `json:"from"`
}

type ChatMessage struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatHistoryData struct {
	Messages []ChatMessage `json:"messages"`
}

type ErrorData struct {
	Message string `json:"message"`
}
