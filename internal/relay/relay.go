// Package relay runs the chat event loop: it polls the transport, answers
// /start with a greeting and routes text messages to the conversation service.
package relay

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	"github.com/stupiduntilnot/tgrelay/internal/control"
	"github.com/stupiduntilnot/tgrelay/internal/conversation"
	"github.com/stupiduntilnot/tgrelay/internal/db"
)

const errClassCommandSource = "command_source_api"

// Options tune the polling loop.
type Options struct {
	// PollTimeout is the long-poll timeout in seconds passed to GetUpdates.
	PollTimeout int
	// Sleep is the pause after a failed or empty poll.
	Sleep time.Duration
	// Offset is the first update id to request.
	Offset int64
	// ProcessEventID parents the journal events of this run.
	ProcessEventID *int64
}

// Bot owns the event loop and one worker goroutine per session with pending
// messages. A worker exits once its session's queue is empty.
type Bot struct {
	commander cmdpkg.Commander
	service   *conversation.Service
	journal   conversation.Journal
	logger    *zap.Logger
	circuit   *control.CircuitBreaker
	opts      Options

	offset int64

	mu      sync.Mutex
	queues  map[int64]*sessionQueue
	closed  bool
	workers conc.WaitGroup
}

func New(commander cmdpkg.Commander, service *conversation.Service, journal conversation.Journal, logger *zap.Logger, opts Options) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Sleep <= 0 {
		opts.Sleep = time.Second
	}
	return &Bot{
		commander: commander,
		service:   service,
		journal:   conversation.OrNop(journal),
		logger:    logger,
		circuit:   control.NewCircuitBreaker(5, 30*time.Second),
		opts:      opts,
		offset:    opts.Offset,
		queues:    map[int64]*sessionQueue{},
	}
}

// Run polls for updates until ctx is cancelled. Messages already queued are
// still answered before Run returns.
func (b *Bot) Run(ctx context.Context) error {
	defer b.drain()

	for ctx.Err() == nil {
		if !b.pollOnce(ctx) {
			b.pause(ctx)
		}
	}
	return nil
}

// pollOnce fetches and dispatches one batch. It reports false when the caller
// should back off before polling again.
func (b *Bot) pollOnce(ctx context.Context) bool {
	prevState := b.circuit.State()
	if !b.circuit.Allow(time.Now()) {
		return false
	}
	if prevState == control.CircuitOpen && b.circuit.State() == control.CircuitHalfOpen {
		b.logger.Info("polling circuit half-open, probing")
	}

	updates, err := b.commander.GetUpdates(ctx, b.offset, b.opts.PollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		b.logger.Warn("getUpdates failed", zap.Error(err), zap.Int64("offset", b.offset))
		prev := b.circuit.State()
		b.circuit.RecordFailure(errClassCommandSource, time.Now())
		if prev != control.CircuitOpen && b.circuit.State() == control.CircuitOpen {
			b.logger.Error("polling circuit opened",
				zap.Int("threshold", b.circuit.Threshold),
				zap.Duration("cooldown", b.circuit.Cooldown),
			)
			b.journal.LogEvent(b.opts.ProcessEventID, db.EventCircuitOpened, map[string]any{
				"error_class":      errClassCommandSource,
				"threshold":        b.circuit.Threshold,
				"cooldown_seconds": int(b.circuit.Cooldown.Seconds()),
			})
		}
		return false
	}
	wasClosed := b.circuit.State() == control.CircuitClosed
	b.circuit.RecordSuccess()
	if !wasClosed {
		b.logger.Info("polling circuit closed")
		b.journal.LogEvent(b.opts.ProcessEventID, db.EventCircuitClosed, map[string]any{"recovered": true})
	}

	for _, update := range updates {
		b.offset = update.UpdateID + 1
		msg := update.Message
		if msg == nil || msg.Text == nil || *msg.Text == "" {
			continue
		}
		b.enqueue(ctx, update.UpdateID, *msg)
	}
	return len(updates) > 0
}

// inbound is a queued message with the journal event that recorded its arrival.
type inbound struct {
	msg     cmdpkg.Message
	eventID *int64
}

// sessionQueue holds the messages of one session not yet handed to its worker.
// Guarded by Bot.mu.
type sessionQueue struct {
	pending []inbound
}

// enqueue never blocks: messages are appended to the session's queue and a
// worker is started if the session has none.
func (b *Bot) enqueue(ctx context.Context, updateID int64, msg cmdpkg.Message) {
	in := inbound{msg: msg}
	eventID, err := b.journal.LogEvent(b.opts.ProcessEventID, db.EventMessageReceived, map[string]any{
		"update_id": updateID,
		"chat_id":   msg.Chat.ID,
		"text":      truncate(*msg.Text, 1000),
	})
	if err != nil {
		b.logger.Warn("failed to journal message", zap.Error(err), zap.Int64("update_id", updateID))
	} else if eventID > 0 {
		in.eventID = &eventID
	}

	sessionID := msg.Chat.ID
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warn("relay stopped, message dropped", zap.Int64("chat_id", sessionID), zap.Int64("update_id", updateID))
		return
	}
	if q, ok := b.queues[sessionID]; ok {
		q.pending = append(q.pending, in)
		return
	}
	q := &sessionQueue{pending: []inbound{in}}
	b.queues[sessionID] = q
	// In-flight exchanges outlive the poll loop so that shutdown does not
	// abort a model call halfway.
	workerCtx := context.WithoutCancel(ctx)
	b.workers.Go(func() { b.work(workerCtx, sessionID, q) })
	b.logger.Debug("session worker started", zap.Int64("chat_id", sessionID))
}

// work handles the session's messages in arrival order and unregisters the
// queue once it runs dry.
func (b *Bot) work(ctx context.Context, sessionID int64, q *sessionQueue) {
	for {
		b.mu.Lock()
		if len(q.pending) == 0 {
			delete(b.queues, sessionID)
			b.mu.Unlock()
			b.logger.Debug("session worker idle, exiting", zap.Int64("chat_id", sessionID))
			return
		}
		in := q.pending[0]
		q.pending[0] = inbound{}
		q.pending = q.pending[1:]
		b.mu.Unlock()

		b.handle(ctx, in)
	}
}

// pendingSessions is the number of sessions with a running worker.
func (b *Bot) pendingSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}

// drain stops accepting messages and waits for queued ones to be answered.
func (b *Bot) drain() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.workers.Wait()
}

func (b *Bot) handle(ctx context.Context, in inbound) {
	msg := in.msg
	text := *msg.Text
	if name, ok := cmdpkg.CommandName(text); ok {
		if name == "start" {
			b.greet(ctx, in)
			return
		}
		b.logger.Debug("ignoring command", zap.String("command", name), zap.Int64("chat_id", msg.Chat.ID))
		return
	}

	ex := conversation.Exchange{ID: uuid.NewString(), ParentEventID: in.eventID}
	log := b.logger.With(zap.String("exchange_id", ex.ID), zap.Int64("chat_id", msg.Chat.ID))
	log.Info("message received", zap.String("text", truncate(text, 200)))

	reply := b.service.Chat(conversation.WithExchange(ctx, ex), msg.Chat.ID, text)

	out := cmdpkg.Outgoing{ChatID: msg.Chat.ID, Text: reply, ReplyTo: msg.MessageID}
	if err := b.commander.SendMessage(ctx, out); err != nil {
		log.Error("failed to send reply", zap.Error(err))
		b.journal.LogEvent(in.eventID, db.EventReplyFailed, map[string]any{
			"exchange_id": ex.ID,
			"chat_id":     msg.Chat.ID,
			"error":       truncate(err.Error(), 1000),
		})
		return
	}
	log.Info("reply sent", zap.Int("chars", len([]rune(reply))))
	b.journal.LogEvent(in.eventID, db.EventReplySent, map[string]any{
		"exchange_id": ex.ID,
		"chat_id":     msg.Chat.ID,
	})
}

func (b *Bot) greet(ctx context.Context, in inbound) {
	msg := in.msg
	out := cmdpkg.Outgoing{
		ChatID:     msg.Chat.ID,
		Text:       Greeting(msg.From),
		ReplyTo:    msg.MessageID,
		ParseMode:  cmdpkg.ParseModeHTML,
		ForceReply: true,
	}
	if err := b.commander.SendMessage(ctx, out); err != nil {
		b.logger.Error("failed to send greeting", zap.Error(err), zap.Int64("chat_id", msg.Chat.ID))
		return
	}
	b.journal.LogEvent(in.eventID, db.EventGreetingSent, map[string]any{"chat_id": msg.Chat.ID})
}

// Greeting is the HTML reply to /start, addressed to the invoking user.
func Greeting(user *cmdpkg.User) string {
	if user == nil {
		return "Hi!"
	}
	return fmt.Sprintf("Hi %s!", Mention(user))
}

// Mention renders an HTML link that notifies the user.
func Mention(user *cmdpkg.User) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID, html.EscapeString(user.FullName()))
}

func (b *Bot) pause(ctx context.Context) {
	select {
	case <-time.After(b.opts.Sleep):
	case <-ctx.Done():
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
