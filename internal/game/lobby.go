package game

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"pairquiz-backend/api"

	"github.com/lithammer/shortuuid/v3"
)

const maxLobbyParticipants = 2

var errNoLobbyCodeAvailable = errors.New("no lobby code available")

// lobby is a private, code-addressed pairing of up to two participants.
// It is destroyed when it empties or when its game starts.
type lobby struct {
	code         string
	participants []Participant
}

func (l *lobby) userData() []api.UserData {
	users := make([]api.UserData, len(l.participants))
	for i, p := range l.participants {
		users[i] = p.User
	}
	return users
}

// newLobbyCode generates a short uppercase token unique among live
// lobbies, retrying on collision a bounded number of times.
func (c *Coordinator) newLobbyCode() (string, error) {
	retries := 50
	for retries > 0 {
		code := strings.ToUpper(shortuuid.New())
		if len(code) > c.codeLen {
			code = code[:c.codeLen]
		}
		if _, exists := c.lobbies[code]; !exists {
			return code, nil
		}
		retries--
	}
	return "", errNoLobbyCodeAvailable
}

// CreateLobby opens a new lobby with the caller as sole participant and
// replies with the join code.
func (c *Coordinator) CreateLobby(ctx context.Context, connID string, user api.UserData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.UpsertUserSession(ctx, connID, user.Name, user.Anonymous); err != nil {
		c.log.Error("upsert user session",
			slog.String("conn_id", connID),
			slog.Any("error", err))
	}

	code, err := c.newLobbyCode()
	if err != nil {
		c.log.Error("create lobby", slog.Any("error", err))
		c.sendError(ctx, connID, msgGameStart)
		return
	}

	c.lobbies[code] = &lobby{
		code:         code,
		participants: []Participant{{ConnID: connID, User: user}},
	}

	c.log.Info("lobby created",
		slog.String("code", code),
		slog.String("conn_id", connID))

	c.send(ctx, connID, api.EventLobbyCreated, api.LobbyCreatedData{Code: code})
}

// JoinLobby adds the caller to an existing lobby. The caller is answered
// synchronously: success, lobby not found or lobby full. Once two
// participants are present both sides are told the lobby is ready.
func (c *Coordinator) JoinLobby(ctx context.Context, connID, code string, user api.UserData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lb, ok := c.lobbies[code]
	if !ok {
		c.sendError(ctx, connID, msgLobbyNotFound)
		return
	}
	if len(lb.participants) >= maxLobbyParticipants {
		c.sendError(ctx, connID, msgLobbyFull)
		return
	}

	if err := c.store.UpsertUserSession(ctx, connID, user.Name, user.Anonymous); err != nil {
		c.log.Error("upsert user session",
			slog.String("conn_id", connID),
			slog.Any("error", err))
	}

	lb.participants = append(lb.participants, Participant{ConnID: connID, User: user})

	c.log.Info("lobby joined",
		slog.String("code", code),
		slog.String("conn_id", connID))

	c.send(ctx, connID, api.EventLobbyJoined, api.LobbyJoinedData{Code: code})

	if len(lb.participants) == maxLobbyParticipants {
		c.broadcastLobbyReady(ctx, lb)
	}
}

// RejoinLobby supports reconnect-after-navigation: a refreshed client has
// a new connection id but the same claimed name. Any prior entry for
// either is dropped before the caller is re-added at the tail. This is
// defensive bookkeeping, not authentication.
func (c *Coordinator) RejoinLobby(ctx context.Context, connID, code string, user api.UserData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lb, ok := c.lobbies[code]
	if !ok {
		c.sendError(ctx, connID, msgLobbyNotFound)
		return
	}

	kept := make([]Participant, 0, len(lb.participants))
	for _, p := range lb.participants {
		if p.ConnID == connID || p.User.Name == user.Name {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) >= maxLobbyParticipants {
		c.sendError(ctx, connID, msgLobbyFull)
		return
	}
	lb.participants = append(kept, Participant{ConnID: connID, User: user})

	if err := c.store.UpsertUserSession(ctx, connID, user.Name, user.Anonymous); err != nil {
		c.log.Error("upsert user session",
			slog.String("conn_id", connID),
			slog.Any("error", err))
	}

	c.log.Info("lobby rejoined",
		slog.String("code", code),
		slog.String("conn_id", connID))

	if len(lb.participants) == maxLobbyParticipants {
		c.broadcastLobbyReady(ctx, lb)
	}
}

// StartLobbyGame turns a full lobby into a running game session and
// destroys the lobby. Anything less than two participants is a no-op.
func (c *Coordinator) StartLobbyGame(ctx context.Context, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lb, ok := c.lobbies[code]
	if !ok || len(lb.participants) < maxLobbyParticipants {
		c.log.Debug("start ignored for lobby", slog.String("code", code))
		return
	}

	delete(c.lobbies, code)
	c.startSession(ctx, lb.participants[0], lb.participants[1])
}

func (c *Coordinator) broadcastLobbyReady(ctx context.Context, lb *lobby) {
	payload := api.LobbyReadyData{
		Code:     lb.code,
		UserData: lb.userData(),
	}
	for _, p := range lb.participants {
		c.send(ctx, p.ConnID, api.EventLobbyReady, payload)
	}
}

func (c *Coordinator) removeFromLobby(connID string) bool {
	for code, lb := range c.lobbies {
		for i, p := range lb.participants {
			if p.ConnID != connID {
				continue
			}
			lb.participants = append(lb.participants[:i], lb.participants[i+1:]...)
			if len(lb.participants) == 0 {
				delete(c.lobbies, code)
			}
			return true
		}
	}
	return false
}
