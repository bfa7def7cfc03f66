package game

import (
	"context"
	"log/slog"
	"time"

	"pairquiz-backend/api"

	"github.com/benbjohnson/clock"
)

// sendTimeout bounds writes initiated outside a request context, such as
// notifications fired from a round timer.
const sendTimeout = 5 * time.Second

// session drives one matched pair through the question rounds. The
// question list is sampled once and its order is fixed for the session.
//
// All fields are guarded by the coordinator mutex. gen counts round
// transitions: a timer that fires with a stale generation lost its race
// against resolution or teardown and must do nothing.
type session struct {
	id           string
	participants [2]Participant
	questions    []api.Question
	round        int
	answers      map[string]api.Answer
	timer        *clock.Timer
	gen          int
}

func (s *session) isParticipant(connID string) bool {
	return s.participants[0].ConnID == connID || s.participants[1].ConnID == connID
}

// gameID derives the session id from the pair, order-stable so both
// sides and later lookups agree regardless of who matched first.
func gameID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// startSession creates a session for a matched pair, announces it to both
// sides and opens round 0. Callers hold the coordinator lock.
func (c *Coordinator) startSession(ctx context.Context, p1, p2 Participant) {
	questions, err := c.questions.SampleQuestions(ctx, c.questionsPerGame)
	if err != nil {
		c.log.Error("sample questions", slog.Any("error", err))
		c.sendError(ctx, p1.ConnID, msgGameStart)
		c.sendError(ctx, p2.ConnID, msgGameStart)
		return
	}

	s := &session{
		id:           gameID(p1.ConnID, p2.ConnID),
		participants: [2]Participant{p1, p2},
		questions:    questions,
		answers:      map[string]api.Answer{},
	}
	c.games[s.id] = s

	// The full list goes out once so clients can render progress without
	// a round trip per question.
	for i, p := range s.participants {
		opp := s.participants[1-i]
		c.send(ctx, p.ConnID, api.EventStartQuestions, api.StartQuestionsData{
			Questions:         questions,
			GameID:            s.id,
			MyName:            p.User.Name,
			MyAnonymous:       p.User.Anonymous,
			OpponentName:      opp.User.Name,
			OpponentAnonymous: opp.User.Anonymous,
		})
	}

	c.log.Info("game started",
		slog.String("game_id", s.id),
		slog.Int("questions", len(questions)))

	c.openRound(ctx, s)
}

// openRound broadcasts the question at the current round index and arms
// the round timeout. Callers hold the coordinator lock.
func (c *Coordinator) openRound(ctx context.Context, s *session) {
	payload := api.QuestionData{
		Question: s.questions[s.round],
		Index:    s.round,
	}
	for _, p := range s.participants {
		c.send(ctx, p.ConnID, api.EventQuestion, payload)
	}

	s.gen++
	gen := s.gen
	id := s.id
	s.timer = c.clock.AfterFunc(c.roundTimeout, func() {
		c.expireRound(id, gen)
	})
}

// expireRound is the round timer callback. Partial answers are discarded;
// a stale generation means resolution or a disconnect won the race.
func (c *Coordinator) expireRound(gameID string, gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.games[gameID]
	if !ok || s.gen != gen {
		return
	}

	c.log.Info("round timed out",
		slog.String("game_id", gameID),
		slog.Int("round", s.round))

	c.endSession(ctx, s, "")
}

// QuestionAnswered records one participant's answer for the current
// round; a second answer from the same connection before resolution
// overwrites the first. Once both answers are present the round resolves
// synchronously.
func (c *Coordinator) QuestionAnswered(ctx context.Context, connID, gameID string, answer api.Answer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.games[gameID]
	if !ok {
		// The session already ended; the client's own state is corrected
		// by the authoritative event it is about to process.
		c.log.Debug("answer for unknown game",
			slog.String("game_id", gameID),
			slog.String("conn_id", connID))
		return
	}
	if !s.isParticipant(connID) {
		c.log.Warn("answer from non-participant",
			slog.String("game_id", gameID),
			slog.String("conn_id", connID))
		return
	}

	s.answers[connID] = answer
	if len(s.answers) < 2 {
		return
	}

	c.stopRoundTimer(s)

	a1 := s.answers[s.participants[0].ConnID]
	a2 := s.answers[s.participants[1].ConnID]
	if a1 != a2 {
		c.log.Info("answers diverged",
			slog.String("game_id", gameID),
			slog.Int("round", s.round))
		c.endSession(ctx, s, "")
		return
	}

	s.answers = map[string]api.Answer{}
	s.round++
	if s.round < len(s.questions) {
		c.openRound(ctx, s)
		return
	}
	c.completeSession(ctx, s)
}

// completeSession handles the all-matched terminal state: each side
// learns the opponent's identity and relay address, the chat buffer is
// opened, and the session is torn down.
func (c *Coordinator) completeSession(ctx context.Context, s *session) {
	for i, p := range s.participants {
		opp := s.participants[1-i]
		c.send(ctx, p.ConnID, api.EventAllMatched, api.AllMatchedData{
			OpponentSocketID:  opp.ConnID,
			GameID:            s.id,
			MyName:            p.User.Name,
			MyAnonymous:       p.User.Anonymous,
			OpponentName:      opp.User.Name,
			OpponentAnonymous: opp.User.Anonymous,
		})
	}

	if err := c.store.CreateChat(ctx, s.id); err != nil {
		c.log.Error("create chat buffer",
			slog.String("game_id", s.id),
			slog.Any("error", err))
	}

	delete(c.games, s.id)

	c.log.Info("all rounds matched", slog.String("game_id", s.id))
}

// endSession emits end_game to both sides and removes the session.
// skipConnID suppresses the notification for a participant that already
// disconnected. Callers hold the coordinator lock.
func (c *Coordinator) endSession(ctx context.Context, s *session, skipConnID string) {
	c.stopRoundTimer(s)
	for _, p := range s.participants {
		if p.ConnID == skipConnID {
			continue
		}
		c.send(ctx, p.ConnID, api.EventEndGame, nil)
	}
	delete(c.games, s.id)
}

// stopRoundTimer cancels the pending round timeout. Bumping the
// generation first makes cancellation safe against a callback that is
// already waiting on the coordinator mutex.
func (c *Coordinator) stopRoundTimer(s *session) {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (c *Coordinator) abortGameFor(ctx context.Context, connID string) {
	for _, s := range c.games {
		if !s.isParticipant(connID) {
			continue
		}
		c.log.Info("participant disconnected mid-game",
			slog.String("game_id", s.id),
			slog.String("conn_id", connID))
		c.endSession(ctx, s, connID)
		return
	}
}
