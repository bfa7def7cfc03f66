package game_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"pairquiz-backend/api"
	"pairquiz-backend/internal/game"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSender records every event per connection id.
type fakeSender struct {
	mu     sync.Mutex
	events map[string][]api.Event
}

func newFakeSender() *fakeSender {
	return &fakeSender{events: map[string][]api.Event{}}
}

func (f *fakeSender) Send(_ context.Context, connID string, event api.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connID] = append(f.events[connID], event)
	return nil
}

func (f *fakeSender) eventsFor(connID string) []api.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Event(nil), f.events[connID]...)
}

func (f *fakeSender) lastEvent(t *testing.T, connID string) api.Event {
	t.Helper()
	events := f.eventsFor(connID)
	if len(events) == 0 {
		t.Fatalf("no events recorded for %q", connID)
	}
	return events[len(events)-1]
}

func (f *fakeSender) lastOfType(t *testing.T, connID, eventType string) api.Event {
	t.Helper()
	events := f.eventsFor(connID)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i]
		}
	}
	t.Fatalf("no %q event recorded for %q", eventType, connID)
	return api.Event{}
}

func (f *fakeSender) countType(connID, eventType string) int {
	n := 0
	for _, ev := range f.eventsFor(connID) {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// fakeStore is an in-memory SessionStore and QuestionSampler.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]api.UserData
	chats    map[string][]api.ChatMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]api.UserData{},
		chats:    map[string][]api.ChatMessage{},
	}
}

func (f *fakeStore) UpsertUserSession(_ context.Context, connID, name string, anonymous bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[connID] = api.UserData{Name: name, Anonymous: anonymous}
	return nil
}

func (f *fakeStore) DeleteUserSession(_ context.Context, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, connID)
	return nil
}

func (f *fakeStore) CreateChat(_ context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[gameID]; !ok {
		f.chats[gameID] = []api.ChatMessage{}
	}
	return nil
}

func (f *fakeStore) AppendChatMessage(_ context.Context, gameID string, msg api.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.chats[gameID]
	if !ok {
		return fmt.Errorf("chat %q: not found", gameID)
	}
	f.chats[gameID] = append(msgs, msg)
	return nil
}

func (f *fakeStore) TakeChat(_ context.Context, gameID string) ([]api.ChatMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.chats[gameID]
	if !ok {
		return nil, false, nil
	}
	delete(f.chats, gameID)
	return msgs, true, nil
}

func (f *fakeStore) hasChat(gameID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.chats[gameID]
	return ok
}

func (f *fakeStore) hasSession(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[connID]
	return ok
}

func (f *fakeStore) SampleQuestions(_ context.Context, n int) ([]api.Question, error) {
	questions := make([]api.Question, n)
	for i := range questions {
		questions[i] = api.Question{
			ID:       int64(i + 1),
			Question: fmt.Sprintf("Would you rather #%d?", i+1),
			OptionA:  "A",
			OptionB:  "B",
		}
	}
	return questions, nil
}

type testEnv struct {
	coord  *game.Coordinator
	sender *fakeSender
	store  *fakeStore
	clock  *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sender := newFakeSender()
	store := newFakeStore()
	mock := clock.NewMock()
	coord := game.NewCoordinator(game.Options{
		Sender:    sender,
		Questions: store,
		Store:     store,
		Clock:     mock,
		Logger:    discardLogger,
	})
	return &testEnv{coord: coord, sender: sender, store: store, clock: mock}
}

// matchPair queues both connections and returns the started game's id.
func (e *testEnv) matchPair(t *testing.T, conn1, conn2 string) string {
	t.Helper()
	ctx := context.Background()
	e.coord.FindMatch(ctx, conn1, api.UserData{Name: "u-" + conn1})
	e.coord.FindMatch(ctx, conn2, api.UserData{Name: "u-" + conn2})

	start := decodePayload[api.StartQuestionsData](t, e.sender.lastOfType(t, conn1, api.EventStartQuestions))
	return start.GameID
}

// answerRound submits the same answer from both sides of a game.
func (e *testEnv) answerRound(conn1, conn2, gameID string, answer api.Answer) {
	ctx := context.Background()
	e.coord.QuestionAnswered(ctx, conn1, gameID, answer)
	e.coord.QuestionAnswered(ctx, conn2, gameID, answer)
}

func decodePayload[T any](t *testing.T, event api.Event) T {
	t.Helper()
	res, err := api.DecodeJSON[T](event.Data)
	assertNil(t, err)
	return res
}

func TestFindMatchPairsInArrivalOrder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.FindMatch(ctx, "a", api.UserData{Name: "alice"})
	assertEqual(t, 1, env.coord.QueueLen())

	env.coord.FindMatch(ctx, "b", api.UserData{Name: "bob", Anonymous: true})
	assertEqual(t, 0, env.coord.QueueLen())

	startA := decodePayload[api.StartQuestionsData](t, env.sender.eventsFor("a")[0])
	startB := decodePayload[api.StartQuestionsData](t, env.sender.eventsFor("b")[0])

	assertEqual(t, startA.GameID, startB.GameID)
	assertEqual(t, "alice", startA.MyName)
	assertEqual(t, "bob", startA.OpponentName)
	assertEqual(t, true, startA.OpponentAnonymous)
	assertEqual(t, "bob", startB.MyName)
	assertEqual(t, "alice", startB.OpponentName)
	assertEqual(t, 5, len(startA.Questions))

	// Identical question lists on both sides.
	if diff := cmp.Diff(startA.Questions, startB.Questions); diff != "" {
		t.Errorf("question lists differ (-a +b):\n%s", diff)
	}

	// Both sides also received round 0.
	question := decodePayload[api.QuestionData](t, env.sender.eventsFor("a")[1])
	assertEqual(t, 0, question.Index)
	assertEqual(t, startA.Questions[0], question.Question)
}

func TestFindMatchThirdParticipantWaits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.FindMatch(ctx, "a", api.UserData{Name: "alice"})
	env.coord.FindMatch(ctx, "b", api.UserData{Name: "bob"})
	env.coord.FindMatch(ctx, "c", api.UserData{Name: "carol"})

	assertEqual(t, 1, env.coord.QueueLen())
	assertEqual(t, 0, len(env.sender.eventsFor("c")))
}

func TestFindMatchDiscardsDuplicateEntry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.FindMatch(ctx, "a", api.UserData{Name: "alice"})
	env.coord.FindMatch(ctx, "a", api.UserData{Name: "alice"})

	// Never paired against itself, still waiting.
	assertEqual(t, 1, env.coord.QueueLen())
	assertEqual(t, 0, env.sender.countType("a", api.EventStartQuestions))

	env.coord.FindMatch(ctx, "b", api.UserData{Name: "bob"})
	assertEqual(t, 1, env.sender.countType("a", api.EventStartQuestions))
}

func TestCreateAndJoinLobby(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.CreateLobby(ctx, "a", api.UserData{Name: "alice"})
	created := decodePayload[api.LobbyCreatedData](t, env.sender.lastEvent(t, "a"))
	assertNotEqual(t, "", created.Code)
	assertEqual(t, true, env.coord.HasLobby(created.Code))

	env.coord.JoinLobby(ctx, "b", created.Code, api.UserData{Name: "bob"})

	joined := decodePayload[api.LobbyJoinedData](t, env.sender.eventsFor("b")[0])
	assertEqual(t, created.Code, joined.Code)

	readyA := decodePayload[api.LobbyReadyData](t, env.sender.lastEvent(t, "a"))
	readyB := decodePayload[api.LobbyReadyData](t, env.sender.lastEvent(t, "b"))
	assertEqual(t, created.Code, readyA.Code)
	assertEqual(t, 2, len(readyA.UserData))
	assertEqual(t, "alice", readyA.UserData[0].Name)
	assertEqual(t, "bob", readyA.UserData[1].Name)
	if diff := cmp.Diff(readyA, readyB); diff != "" {
		t.Errorf("ready payloads differ (-a +b):\n%s", diff)
	}
}

func TestJoinLobbyErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.JoinLobby(ctx, "x", "NOPE42", api.UserData{Name: "xavier"})
	errData := decodePayload[api.ErrorData](t, env.sender.lastEvent(t, "x"))
	assertEqual(t, "Lobby not found", errData.Message)

	env.coord.CreateLobby(ctx, "a", api.UserData{Name: "alice"})
	code := decodePayload[api.LobbyCreatedData](t, env.sender.lastEvent(t, "a")).Code
	env.coord.JoinLobby(ctx, "b", code, api.UserData{Name: "bob"})
	env.coord.JoinLobby(ctx, "c", code, api.UserData{Name: "carol"})

	errData = decodePayload[api.ErrorData](t, env.sender.lastEvent(t, "c"))
	assertEqual(t, "Lobby full", errData.Message)
}

func TestRejoinLobbyReplacesStaleEntry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.CreateLobby(ctx, "a", api.UserData{Name: "alice"})
	code := decodePayload[api.LobbyCreatedData](t, env.sender.lastEvent(t, "a")).Code
	env.coord.JoinLobby(ctx, "b1", code, api.UserData{Name: "bob"})

	// Refresh: same name, new connection id.
	env.coord.RejoinLobby(ctx, "b2", code, api.UserData{Name: "bob"})

	readyA := decodePayload[api.LobbyReadyData](t, env.sender.lastEvent(t, "a"))
	assertEqual(t, 2, len(readyA.UserData))
	assertEqual(t, 1, env.sender.countType("b2", api.EventLobbyReady))

	// The stale connection takes no part in the started game.
	env.coord.StartLobbyGame(ctx, code)
	assertEqual(t, 1, env.sender.countType("a", api.EventStartQuestions))
	assertEqual(t, 1, env.sender.countType("b2", api.EventStartQuestions))
	assertEqual(t, 0, env.sender.countType("b1", api.EventStartQuestions))
}

func TestStartLobbyGame(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.CreateLobby(ctx, "a", api.UserData{Name: "alice"})
	code := decodePayload[api.LobbyCreatedData](t, env.sender.lastEvent(t, "a")).Code

	// Starting a half-empty lobby does nothing.
	env.coord.StartLobbyGame(ctx, code)
	assertEqual(t, 0, env.sender.countType("a", api.EventStartQuestions))
	assertEqual(t, true, env.coord.HasLobby(code))

	env.coord.JoinLobby(ctx, "b", code, api.UserData{Name: "bob"})
	env.coord.StartLobbyGame(ctx, code)

	assertEqual(t, false, env.coord.HasLobby(code))
	start := decodePayload[api.StartQuestionsData](t, env.sender.lastOfType(t, "b", api.EventStartQuestions))
	assertEqual(t, true, env.coord.HasGame(start.GameID))
}

func TestMatchingAnswersAdvanceRounds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	gameID := env.matchPair(t, "a", "b")

	env.answerRound("a", "b", gameID, "A")

	questionA := decodePayload[api.QuestionData](t, env.sender.lastEvent(t, "a"))
	questionB := decodePayload[api.QuestionData](t, env.sender.lastEvent(t, "b"))
	assertEqual(t, 1, questionA.Index)
	assertEqual(t, 1, questionB.Index)
	assertEqual(t, true, env.coord.HasGame(gameID))
}

func TestDivergedAnswersEndGame(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")

	env.coord.QuestionAnswered(ctx, "a", gameID, "A")
	env.coord.QuestionAnswered(ctx, "b", gameID, "B")

	assertEqual(t, api.EventEndGame, env.sender.lastEvent(t, "a").Type)
	assertEqual(t, api.EventEndGame, env.sender.lastEvent(t, "b").Type)
	assertEqual(t, false, env.coord.HasGame(gameID))
	assertEqual(t, false, env.store.hasChat(gameID))
}

func TestAnswerOverwriteBeforeResolution(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")

	env.coord.QuestionAnswered(ctx, "a", gameID, "A")
	env.coord.QuestionAnswered(ctx, "a", gameID, "B")
	env.coord.QuestionAnswered(ctx, "b", gameID, "B")

	// The overwrite counts: both said B, round advances.
	question := decodePayload[api.QuestionData](t, env.sender.lastEvent(t, "a"))
	assertEqual(t, 1, question.Index)
}

func TestAllRoundsMatchedOpensChat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	gameID := env.matchPair(t, "a", "b")

	for range 5 {
		env.answerRound("a", "b", gameID, "A")
	}

	matchedA := decodePayload[api.AllMatchedData](t, env.sender.lastEvent(t, "a"))
	matchedB := decodePayload[api.AllMatchedData](t, env.sender.lastEvent(t, "b"))
	assertEqual(t, "b", matchedA.OpponentSocketID)
	assertEqual(t, "a", matchedB.OpponentSocketID)
	assertEqual(t, gameID, matchedA.GameID)
	assertEqual(t, "u-b", matchedA.OpponentName)

	assertEqual(t, false, env.coord.HasGame(gameID))
	assertEqual(t, true, env.store.hasChat(gameID))
}

func TestRoundTimeoutEndsGame(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")

	// One answer is not enough to survive the deadline.
	env.coord.QuestionAnswered(ctx, "a", gameID, "A")
	env.clock.Add(20 * time.Second)

	assertEqual(t, api.EventEndGame, env.sender.lastEvent(t, "a").Type)
	assertEqual(t, api.EventEndGame, env.sender.lastEvent(t, "b").Type)
	assertEqual(t, false, env.coord.HasGame(gameID))
}

func TestResolvedRoundCancelsTimeout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	gameID := env.matchPair(t, "a", "b")

	env.answerRound("a", "b", gameID, "A")
	env.clock.Add(19 * time.Second)

	// The old deadline passed; only the new round's timer is live.
	assertEqual(t, 0, env.sender.countType("a", api.EventEndGame))
	assertEqual(t, true, env.coord.HasGame(gameID))

	env.clock.Add(1 * time.Second)
	assertEqual(t, 1, env.sender.countType("a", api.EventEndGame))
	assertEqual(t, false, env.coord.HasGame(gameID))
}

func TestLateAnswerAfterEndIsNoop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")

	env.clock.Add(20 * time.Second)
	before := len(env.sender.eventsFor("b"))

	env.coord.QuestionAnswered(ctx, "a", gameID, "A")
	assertEqual(t, before, len(env.sender.eventsFor("b")))
}

func TestAnswerFromNonParticipantIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")

	env.coord.QuestionAnswered(ctx, "a", gameID, "A")
	env.coord.QuestionAnswered(ctx, "intruder", gameID, "A")

	// Still waiting on b.
	assertEqual(t, 1, env.sender.countType("a", api.EventQuestion))
	assertEqual(t, true, env.coord.HasGame(gameID))
}

func TestDisconnectFromQueue(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.FindMatch(ctx, "a", api.UserData{Name: "alice"})
	env.coord.Disconnect(ctx, "a")
	assertEqual(t, 0, env.coord.QueueLen())
	assertEqual(t, false, env.store.hasSession("a"))

	// The departed entry forms no pair.
	env.coord.FindMatch(ctx, "b", api.UserData{Name: "bob"})
	assertEqual(t, 1, env.coord.QueueLen())
}

func TestDisconnectFromLobby(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.CreateLobby(ctx, "a", api.UserData{Name: "alice"})
	code := decodePayload[api.LobbyCreatedData](t, env.sender.lastEvent(t, "a")).Code

	env.coord.Disconnect(ctx, "a")
	assertEqual(t, false, env.coord.HasLobby(code))
}

func TestDisconnectMidGame(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")

	beforeA := len(env.sender.eventsFor("a"))
	env.coord.Disconnect(ctx, "a")

	assertEqual(t, false, env.coord.HasGame(gameID))
	assertEqual(t, api.EventEndGame, env.sender.lastEvent(t, "b").Type)
	// The leaver gets nothing.
	assertEqual(t, beforeA, len(env.sender.eventsFor("a")))

	// And the round timer is dead.
	env.clock.Add(20 * time.Second)
	assertEqual(t, 1, env.sender.countType("b", api.EventEndGame))
}

func TestChatRelay(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")
	for range 5 {
		env.answerRound("a", "b", gameID, "A")
	}

	env.coord.RelayChatMessage(ctx, "a", api.ChatMessageData{
		GameID:  gameID,
		Message: "hi there",
		From:    "u-a",
		To:      "b",
	})

	relay := decodePayload[api.ChatRelayData](t, env.sender.lastEvent(t, "b"))
	assertEqual(t, "hi there", relay.Message)
	assertEqual(t, "u-a", relay.From)
	// No echo to the sender.
	assertEqual(t, 0, env.sender.countType("a", api.EventChatMessage))
}

func TestChatRelayValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")
	for range 5 {
		env.answerRound("a", "b", gameID, "A")
	}

	tests := []struct {
		name    string
		data    api.ChatMessageData
		wantMsg string
	}{
		{
			name:    "empty message",
			data:    api.ChatMessageData{GameID: gameID, To: "b"},
			wantMsg: "Invalid chat message",
		},
		{
			name:    "missing recipient",
			data:    api.ChatMessageData{GameID: gameID, Message: "hi"},
			wantMsg: "Invalid chat message",
		},
		{
			name:    "too long",
			data:    api.ChatMessageData{GameID: gameID, Message: "this message is way over the cap", To: "b"},
			wantMsg: "Chat message too long",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.coord.RelayChatMessage(ctx, "a", tt.data)
			errData := decodePayload[api.ErrorData](t, env.sender.lastEvent(t, "a"))
			assertEqual(t, tt.wantMsg, errData.Message)
		})
	}
	assertEqual(t, 0, env.sender.countType("b", api.EventChatMessage))
}

func TestChatRelayWithoutBufferDropped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.RelayChatMessage(ctx, "a", api.ChatMessageData{
		GameID:  "ghost_game",
		Message: "hello?",
		From:    "u-a",
		To:      "b",
	})
	assertEqual(t, 0, len(env.sender.eventsFor("b")))
	assertEqual(t, 0, len(env.sender.eventsFor("a")))
}

func TestRequestChatDeliversOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	gameID := env.matchPair(t, "a", "b")
	for range 5 {
		env.answerRound("a", "b", gameID, "A")
	}

	env.coord.RelayChatMessage(ctx, "a", api.ChatMessageData{
		GameID: gameID, Message: "one", From: "u-a", To: "b",
	})
	env.coord.RelayChatMessage(ctx, "b", api.ChatMessageData{
		GameID: gameID, Message: "two", From: "u-b", To: "a",
	})

	env.coord.RequestChat(ctx, "b", gameID)
	history := decodePayload[api.ChatHistoryData](t, env.sender.lastEvent(t, "b"))
	assertEqual(t, 2, len(history.Messages))
	assertEqual(t, "one", history.Messages[0].Text)
	assertEqual(t, "u-b", history.Messages[1].From)

	// Second request finds nothing and stays silent.
	before := len(env.sender.eventsFor("b"))
	env.coord.RequestChat(ctx, "b", gameID)
	assertEqual(t, before, len(env.sender.eventsFor("b")))
}

func TestEndChatNotifiesBothSides(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.EndChat(ctx, "a", api.EndChatData{GameID: "g", To: "b"})
	assertEqual(t, api.EventChatEnded, env.sender.lastEvent(t, "a").Type)
	assertEqual(t, api.EventChatEnded, env.sender.lastEvent(t, "b").Type)
}

func assertEqual(t *testing.T, want, got interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Errorf("assert equal: got %v (type %v), want %v (type %v)",
			got, reflect.TypeOf(got), want, reflect.TypeOf(want))
	}
}

func assertNotEqual(t *testing.T, notWant, got interface{}) {
	t.Helper()
	if reflect.DeepEqual(notWant, got) {
		t.Errorf("assert not equal: got %v", got)
	}
}

func assertNil(t *testing.T, got interface{}) {
	t.Helper()
	if got != nil {
		t.Fatalf("assert nil: got %v", got)
	}
}
