// Package conversation turns a user message plus a session's history into a
// model reply, and records the exchange in that history.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/db"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
)

const (
	Temperature = 0.3
	MaxTokens   = 256
	// WindowTurns is how many stored turns (two exchanges) accompany a request.
	WindowTurns = 4
	// ErrorReplyPrefix starts the reply returned when the model call fails.
	ErrorReplyPrefix = "An error occurred: "
)

// Config carries what the service needs from startup configuration.
type Config struct {
	SystemPrompt string
	Model        string
}

// Service produces replies for chat sessions.
type Service struct {
	provider     modelpkg.Provider
	store        *ctxpkg.Store
	systemPrompt string
	params       modelpkg.Params
	window       ctxpkg.Window
	assembler    ctxpkg.Assembler
	journal      Journal
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

type Option func(*Service)

func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = OrNop(j) }
}

func WithWindow(w ctxpkg.Window) Option {
	return func(s *Service) { s.window = w }
}

func NewService(provider modelpkg.Provider, store *ctxpkg.Store, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		provider:     provider,
		store:        store,
		systemPrompt: cfg.SystemPrompt,
		params: modelpkg.Params{
			Model:       cfg.Model,
			Temperature: Temperature,
			MaxTokens:   MaxTokens,
		},
		window:    &ctxpkg.SuffixWindow{MaxTurns: WindowTurns},
		assembler: &ctxpkg.StandardAssembler{},
		journal:   nopJournal{},
		logger:    logger,
		locks:     map[int64]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat answers userMessage within the given session. Exchanges on the same
// session are serialized; different sessions proceed independently.
func (s *Service) Chat(ctx context.Context, sessionID int64, userMessage string) string {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.Respond(ctx, userMessage, s.store.Get(sessionID))
}

// Respond sends the system prompt, the tail of history and userMessage to the
// model and returns its reply. A failed call yields ErrorReplyPrefix followed
// by the failure detail. In both cases the user message and the reply are
// appended to history as one exchange.
func (s *Service) Respond(ctx context.Context, userMessage string, history *ctxpkg.History) string {
	ex := ExchangeFrom(ctx)
	log := s.logger.With(zap.String("exchange_id", ex.ID))

	window := s.window.Select(history)
	messages := s.assembler.Assemble(s.systemPrompt, window, userMessage)
	log.Debug("request assembled",
		zap.Int("history_turns", history.Len()),
		zap.Int("window_turns", len(window)),
		zap.Int("messages", len(messages)),
	)

	// Outcome events hang under turn.started, or under the exchange's parent
	// when turn.started could not be recorded.
	outcomeParent := ex.ParentEventID
	turnEventID, err := s.journal.LogEvent(ex.ParentEventID, db.EventTurnStarted, map[string]any{
		"exchange_id":  ex.ID,
		"model":        s.params.Model,
		"window_turns": len(window),
	})
	if err != nil {
		log.Warn("failed to journal turn start", zap.Error(err))
	} else {
		outcomeParent = &turnEventID
	}

	started := time.Now()
	resp, err := s.complete(ctx, messages)
	latency := time.Since(started)

	var reply string
	if err != nil {
		reply = ErrorReplyPrefix + err.Error()
		log.Warn("model call failed", zap.Error(err), zap.Duration("latency", latency))
		s.journal.LogEvent(outcomeParent, db.EventTurnFailed, map[string]any{
			"exchange_id": ex.ID,
			"error":       truncate(err.Error(), 1000),
			"latency_ms":  latency.Milliseconds(),
		})
	} else {
		reply = resp.Content
		log.Debug("model replied",
			zap.Duration("latency", latency),
			zap.Int("input_tokens", resp.InputTokens),
			zap.Int("output_tokens", resp.OutputTokens),
		)
		s.journal.LogEvent(outcomeParent, db.EventTurnCompleted, map[string]any{
			"exchange_id":   ex.ID,
			"latency_ms":    latency.Milliseconds(),
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		})
	}

	// The failure text is stored like any other reply and will show up in
	// later windows.
	history.Append(ctxpkg.UserTurn(userMessage), ctxpkg.AssistantTurn(reply))
	return reply
}

func (s *Service) complete(ctx context.Context, messages []ctxpkg.Turn) (resp modelpkg.CompletionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model provider panic: %v", r)
		}
	}()
	if s.provider == nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("model provider is not configured")
	}
	return s.provider.ChatCompletion(ctx, messages, s.params)
}

func (s *Service) sessionLock(sessionID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
