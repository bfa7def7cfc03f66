// Package game implements the session coordinator: quick-match queueing,
// code-based lobbies, the per-game round state machine and the ephemeral
// chat handoff. All authoritative state lives in memory on a single
// Coordinator owned by the process.
package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pairquiz-backend/api"

	"github.com/benbjohnson/clock"
)

const (
	defaultQuestionsPerGame  = 5
	defaultRoundTimeout      = 20 * time.Second
	defaultLobbyCodeLength   = 6
	defaultMaxChatMessageLen = 20
)

// Client-facing error messages. Callers re-issue the request themselves;
// nothing here is retried.
const (
	msgLobbyNotFound  = "Lobby not found"
	msgLobbyFull      = "Lobby full"
	msgGameStart      = "Could not start game"
	msgInvalidChatMsg = "Invalid chat message"
	msgChatMsgTooLong = "Chat message too long"
)

// Sender delivers one event to one connection. The coordinator assumes a
// reliable addressed transport and never inspects delivery beyond errors.
type Sender interface {
	Send(ctx context.Context, connID string, event api.Event) error
}

// QuestionSampler provides n distinct questions in a random order that is
// then fixed for the lifetime of a session.
type QuestionSampler interface {
	SampleQuestions(ctx context.Context, n int) ([]api.Question, error)
}

// SessionStore is the durable collaborator for claimed identities and
// one-shot chat buffers. It holds no matchmaking logic.
type SessionStore interface {
	UpsertUserSession(ctx context.Context, connID, name string, anonymous bool) error
	DeleteUserSession(ctx context.Context, connID string) error
	CreateChat(ctx context.Context, gameID string) error
	AppendChatMessage(ctx context.Context, gameID string, msg api.ChatMessage) error
	TakeChat(ctx context.Context, gameID string) ([]api.ChatMessage, bool, error)
}

// Participant binds a live connection to the identity it claimed when
// entering matchmaking. The identity is fixed for the duration of one
// queue, lobby or game lifecycle.
type Participant struct {
	ConnID string
	User   api.UserData
}

type Options struct {
	Sender    Sender
	Questions QuestionSampler
	Store     SessionStore

	// Clock defaults to the wall clock; tests inject a mock.
	Clock  clock.Clock
	Logger *slog.Logger

	QuestionsPerGame  int
	RoundTimeout      time.Duration
	LobbyCodeLength   int
	MaxChatMessageLen int
}

// Coordinator owns every matchmaking registry. A single mutex guards them
// all: each inbound client event is one critical section, so pairing
// decisions, round resolutions and disconnect cleanups never interleave.
//
// Multiple goroutines may invoke methods on a Coordinator simultaneously.
type Coordinator struct {
	sender    Sender
	questions QuestionSampler
	store     SessionStore
	clock     clock.Clock
	log       *slog.Logger

	questionsPerGame int
	roundTimeout     time.Duration
	codeLen          int
	maxChatLen       int

	mu      sync.Mutex
	queue   []Participant
	lobbies map[string]*lobby
	games   map[string]*session
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QuestionsPerGame <= 0 {
		opts.QuestionsPerGame = defaultQuestionsPerGame
	}
	if opts.RoundTimeout <= 0 {
		opts.RoundTimeout = defaultRoundTimeout
	}
	if opts.LobbyCodeLength <= 0 {
		opts.LobbyCodeLength = defaultLobbyCodeLength
	}
	if opts.MaxChatMessageLen <= 0 {
		opts.MaxChatMessageLen = defaultMaxChatMessageLen
	}

	return &Coordinator{
		sender:           opts.Sender,
		questions:        opts.Questions,
		store:            opts.Store,
		clock:            opts.Clock,
		log:              opts.Logger,
		questionsPerGame: opts.QuestionsPerGame,
		roundTimeout:     opts.RoundTimeout,
		codeLen:          opts.LobbyCodeLength,
		maxChatLen:       opts.MaxChatMessageLen,
		lobbies:          map[string]*lobby{},
		games:            map[string]*session{},
	}
}

// Disconnect unwinds whichever registry the connection last occupied:
// its queue entry, its lobby membership or its active game. Exactly one
// of the three. The durable identity record is deleted unconditionally.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteUserSession(ctx, connID); err != nil {
		c.log.Error("delete user session",
			slog.String("conn_id", connID),
			slog.Any("error", err))
	}

	if c.removeFromQueue(connID) {
		return
	}
	if c.removeFromLobby(connID) {
		return
	}
	c.abortGameFor(ctx, connID)
}

// QueueLen returns the number of participants waiting for a quick match.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// HasLobby reports whether a lobby code is live.
func (c *Coordinator) HasLobby(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lobbies[code]
	return ok
}

// HasGame reports whether a game session is active.
func (c *Coordinator) HasGame(gameID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.games[gameID]
	return ok
}

func (c *Coordinator) send(ctx context.Context, connID, eventType string, payload any) {
	event, err := api.NewEvent(eventType, payload)
	if err != nil {
		c.log.Error("encode event",
			slog.String("event", eventType),
			slog.Any("error", err))
		return
	}
	if err := c.sender.Send(ctx, connID, event); err != nil {
		c.log.Error("send event",
			slog.String("event", eventType),
			slog.String("conn_id", connID),
			slog.Any("error", err))
	}
}

func (c *Coordinator) sendError(ctx context.Context, connID, message string) {
	c.send(ctx, connID, api.EventError, api.ErrorData{Message: message})
}
