package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/db"
	"github.com/stupiduntilnot/tgrelay/internal/dummy"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/openai"
)

const testPrompt = "You are a helpful assistant."

func newService(t *testing.T, script string, opts ...Option) (*Service, *dummy.Provider, *ctxpkg.Store) {
	t.Helper()
	p, err := dummy.NewProvider("test-model", script)
	require.NoError(t, err)
	store := ctxpkg.NewStore()
	svc := NewService(p, store, Config{SystemPrompt: testPrompt, Model: "gpt://folder/yandexgpt-lite"}, nil, opts...)
	return svc, p, store
}

func TestRespond_FirstAndSecondExchange(t *testing.T) {
	svc, p, _ := newService(t, "msg:Hi there,msg:Fine")
	history := &ctxpkg.History{}
	ctx := context.Background()

	reply := svc.Respond(ctx, "Hello", history)
	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, []ctxpkg.Turn{ctxpkg.UserTurn("Hello"), ctxpkg.AssistantTurn("Hi there")}, history.Turns())

	reply = svc.Respond(ctx, "How are you?", history)
	assert.Equal(t, "Fine", reply)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []ctxpkg.Turn{
		ctxpkg.SystemTurn(testPrompt),
		ctxpkg.UserTurn("Hello"),
	}, calls[0].Messages)
	assert.Equal(t, []ctxpkg.Turn{
		ctxpkg.SystemTurn(testPrompt),
		ctxpkg.UserTurn("Hello"),
		ctxpkg.AssistantTurn("Hi there"),
		ctxpkg.UserTurn("How are you?"),
	}, calls[1].Messages)
}

func TestRespond_SendsFixedSamplingParams(t *testing.T) {
	svc, p, _ := newService(t, "ok")
	svc.Respond(context.Background(), "Hello", &ctxpkg.History{})

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, modelpkg.Params{
		Model:       "gpt://folder/yandexgpt-lite",
		Temperature: 0.3,
		MaxTokens:   256,
	}, calls[0].Params)
}

func TestRespond_WindowIsBounded(t *testing.T) {
	svc, p, _ := newService(t, "ok")
	history := &ctxpkg.History{}
	ctx := context.Background()

	const exchanges = 6
	for i := 0; i < exchanges; i++ {
		svc.Respond(ctx, fmt.Sprintf("q%d", i), history)
	}

	calls := p.Calls()
	require.Len(t, calls, exchanges)
	for n, call := range calls {
		prior := min(2*n, WindowTurns)
		require.Len(t, call.Messages, prior+2, "call %d", n)
		assert.Equal(t, ctxpkg.RoleSystem, call.Messages[0].Role)
		last := call.Messages[len(call.Messages)-1]
		assert.Equal(t, ctxpkg.UserTurn(fmt.Sprintf("q%d", n)), last)
		if prior > 0 {
			// The window always starts on a user turn of an earlier exchange.
			assert.Equal(t, fmt.Sprintf("q%d", n-prior/2), call.Messages[1].Content)
		}
	}

	turns := history.Turns()
	require.Len(t, turns, 2*exchanges, "stored history is never truncated")
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, ctxpkg.UserTurn(fmt.Sprintf("q%d", i/2)), turn)
		} else {
			assert.Equal(t, ctxpkg.RoleAssistant, turn.Role)
		}
	}
}

func TestRespond_FailureBecomesReplyAndIsStored(t *testing.T) {
	svc, p, _ := newService(t, "err:quota_exceeded,ok")
	history := &ctxpkg.History{}
	ctx := context.Background()

	reply := svc.Respond(ctx, "Hello", history)
	assert.Equal(t, ErrorReplyPrefix+"dummy provider error class=quota_exceeded", reply)
	assert.Equal(t, []ctxpkg.Turn{ctxpkg.UserTurn("Hello"), ctxpkg.AssistantTurn(reply)}, history.Turns())

	// The stored failure text is part of the next window.
	svc.Respond(ctx, "again", history)
	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ctxpkg.AssistantTurn(reply), calls[1].Messages[2])
}

func TestRespond_UnavailableProvider(t *testing.T) {
	store := ctxpkg.NewStore()
	cause := errors.New("openai client: api key is empty")
	svc := NewService(modelpkg.Unavailable{Err: cause}, store, Config{SystemPrompt: testPrompt}, nil)

	reply := svc.Chat(context.Background(), 1, "Hello")
	assert.Contains(t, reply, cause.Error())
	assert.Equal(t, 2, store.Get(1).Len())
}

type panickyProvider struct{}

func (panickyProvider) ChatCompletion(context.Context, []ctxpkg.Turn, modelpkg.Params) (modelpkg.CompletionResponse, error) {
	panic("boom")
}

func TestRespond_ProviderPanicDoesNotEscape(t *testing.T) {
	svc := NewService(panickyProvider{}, ctxpkg.NewStore(), Config{}, nil)
	var reply string
	require.NotPanics(t, func() {
		reply = svc.Respond(context.Background(), "Hello", &ctxpkg.History{})
	})
	assert.Contains(t, reply, "boom")
}

func TestChat_UsesSessionHistory(t *testing.T) {
	svc, p, store := newService(t, "msg:one,msg:two,msg:three")
	ctx := context.Background()

	assert.Equal(t, "one", svc.Chat(ctx, 10, "a"))
	assert.Equal(t, "two", svc.Chat(ctx, 20, "b"))
	assert.Equal(t, "three", svc.Chat(ctx, 10, "c"))

	assert.Equal(t, 2, store.Sessions())
	assert.Len(t, store.Get(10).Turns(), 4)
	assert.Len(t, store.Get(20).Turns(), 2)

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[1].Messages, 2, "session 20 starts without context")
	assert.Len(t, calls[2].Messages, 4, "session 10 sees its own earlier exchange")
}

func TestChat_ConcurrentSameSessionKeepsPairs(t *testing.T) {
	svc, _, store := newService(t, "ok")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.Chat(ctx, 5, fmt.Sprintf("m%d", i))
		}(i)
	}
	wg.Wait()

	turns := store.Get(5).Turns()
	require.Len(t, turns, 40)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, ctxpkg.RoleUser, turns[i].Role)
		assert.Equal(t, ctxpkg.AssistantTurn("dummy-ok"), turns[i+1])
	}
}

func TestRespond_JournalsTurns(t *testing.T) {
	database, err := db.OpenDB(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.InitSchema(database))

	svc, _, _ := newService(t, "ok,err:network", WithJournal(&db.Journal{DB: database}))
	parent, err := db.LogEvent(database, nil, db.EventMessageReceived, nil)
	require.NoError(t, err)
	ctx := WithExchange(context.Background(), Exchange{ID: "ex-1", ParentEventID: &parent})

	history := &ctxpkg.History{}
	svc.Respond(ctx, "Hello", history)
	svc.Respond(ctx, "Again", history)

	started, err := db.EventsByType(database, db.EventTurnStarted)
	require.NoError(t, err)
	require.Len(t, started, 2)
	require.NotNil(t, started[0].ParentID)
	assert.Equal(t, parent, *started[0].ParentID)
	assert.Equal(t, "ex-1", started[0].Payload["exchange_id"])

	completed, err := db.EventsByType(database, db.EventTurnCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, started[0].ID, *completed[0].ParentID)

	failed, err := db.EventsByType(database, db.EventTurnFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload["error"], "network")
}

func TestRespond_ResponseWithoutChoicesIsErrorReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()
	client, err := openai.NewClient("key", server.URL, 5*time.Second)
	require.NoError(t, err)

	svc := NewService(client, ctxpkg.NewStore(), Config{SystemPrompt: testPrompt, Model: "m"}, nil)
	history := &ctxpkg.History{}
	reply := svc.Respond(context.Background(), "Hello", history)

	assert.True(t, strings.HasPrefix(reply, ErrorReplyPrefix), reply)
	assert.Contains(t, reply, "no choices")
	assert.Equal(t, ctxpkg.AssistantTurn(reply), history.Turns()[1])
}

// flakyJournal fails to record turn.started and remembers the parents of
// everything else.
type flakyJournal struct {
	mu      sync.Mutex
	parents map[string]*int64
}

func (j *flakyJournal) LogEvent(parentID *int64, eventType string, _ map[string]any) (int64, error) {
	if eventType == db.EventTurnStarted {
		return 0, errors.New("disk I/O error")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.parents[eventType] = parentID
	return 9, nil
}

func TestRespond_TurnStartJournalFailureKeepsExchangeParent(t *testing.T) {
	journal := &flakyJournal{parents: map[string]*int64{}}
	svc, _, _ := newService(t, "ok,err:network", WithJournal(journal))
	parent := int64(5)
	ctx := WithExchange(context.Background(), Exchange{ID: "ex-1", ParentEventID: &parent})

	history := &ctxpkg.History{}
	assert.Equal(t, "dummy-ok", svc.Respond(ctx, "Hello", history))
	svc.Respond(ctx, "Again", history)

	for _, eventType := range []string{db.EventTurnCompleted, db.EventTurnFailed} {
		got := journal.parents[eventType]
		require.NotNil(t, got, eventType)
		assert.Equal(t, parent, *got, eventType)
	}
	assert.Equal(t, 4, history.Len())
}

func TestExchangeFrom_Empty(t *testing.T) {
	assert.Equal(t, Exchange{}, ExchangeFrom(context.Background()))
}
