// Package dummy provides scripted stand-ins for the chat transport and the
// model provider. A script is a comma-separated list of actions: ok, err:<class>,
// sleep:<ms>, msg:<text>, msgb64:<base64 text>. The last action repeats once
// the script is exhausted.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
)

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		if strings.HasPrefix(token, "err:") {
			actions = append(actions, action{kind: "err", arg: strings.TrimPrefix(token, "err:")})
			continue
		}
		if strings.HasPrefix(token, "sleep:") {
			actions = append(actions, action{kind: "sleep", arg: strings.TrimPrefix(token, "sleep:")})
			continue
		}
		if strings.HasPrefix(token, "msg:") {
			actions = append(actions, action{kind: "msg", arg: strings.TrimPrefix(token, "msg:")})
			continue
		}
		if strings.HasPrefix(token, "msgb64:") {
			actions = append(actions, action{kind: "msgb64", arg: strings.TrimPrefix(token, "msgb64:")})
			continue
		}
		return nil, fmt.Errorf("invalid dummy action: %s", token)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Commander replays scripted updates and records every outgoing message.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	chatID   int64
	sent     []cmdpkg.Outgoing
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1, chatID: 1}, nil
}

var _ cmdpkg.Commander = (*Commander)(nil)

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.poll.next()
	switch a.kind {
	case "ok":
		return nil, nil
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg":
		return []cmdpkg.Update{c.nextUpdate(a.arg)}, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return []cmdpkg.Update{c.nextUpdate(string(raw))}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) nextUpdate(text string) cmdpkg.Update {
	c.updateID++
	return cmdpkg.Update{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			MessageID: c.updateID,
			Chat:      cmdpkg.Chat{ID: c.chatID},
			From:      &cmdpkg.User{ID: c.chatID, FirstName: "Dummy"},
			Text:      &text,
			Date:      time.Now().Unix(),
		},
	}
}

func (c *Commander) SendMessage(ctx context.Context, msg cmdpkg.Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Sent returns a copy of the messages delivered so far.
func (c *Commander) Sent() []cmdpkg.Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cmdpkg.Outgoing, len(c.sent))
	copy(out, c.sent)
	return out
}

// Call is one recorded completion request.
type Call struct {
	Messages []ctxpkg.Turn
	Params   modelpkg.Params
}

// Provider answers completion requests from a script and records each request.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  []Call
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

var _ modelpkg.Provider = (*Provider)(nil)

func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Turn, params modelpkg.Params) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	recorded := make([]ctxpkg.Turn, len(messages))
	copy(recorded, messages)
	p.calls = append(p.calls, Call{Messages: recorded, Params: params})

	a := p.script.next()
	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return reply("dummy-after-sleep"), nil
	case "msg":
		return reply(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return reply(string(raw)), nil
	default:
		return reply(emptyAs(a.arg, "dummy-ok")), nil
	}
}

// Calls returns a copy of the requests received so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

func reply(content string) modelpkg.CompletionResponse {
	return modelpkg.CompletionResponse{Content: content, InputTokens: 1, OutputTokens: 1}
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
