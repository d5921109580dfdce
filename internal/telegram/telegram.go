package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
)

// maxMessageRunes keeps replies under the Bot API limit of 4096 characters.
const maxMessageRunes = 3900

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

var _ cmdpkg.Commander = (*Client)(nil)

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>"). requestTimeout must exceed
// the long-poll timeout passed to GetUpdates.
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Update = cmdpkg.Update

type sendMessageRequest struct {
	ChatID           int64       `json:"chat_id"`
	Text             string      `json:"text"`
	ParseMode        string      `json:"parse_mode,omitempty"`
	ReplyToMessageID int64       `json:"reply_to_message_id,omitempty"`
	ReplyMarkup      *forceReply `json:"reply_markup,omitempty"`
}

type forceReply struct {
	ForceReply bool `json:"force_reply"`
	Selective  bool `json:"selective"`
}

// GetUpdates calls the getUpdates API, long-polling for up to timeout seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request build failed: %w", err)
	}
	tgResp, err := c.do(req, "getUpdates")
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(tgResp.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram failed to parse getUpdates result: %w", err)
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat.
func (c *Client) SendMessage(ctx context.Context, msg cmdpkg.Outgoing) error {
	body := sendMessageRequest{
		ChatID:           msg.ChatID,
		Text:             truncate(msg.Text, maxMessageRunes),
		ParseMode:        msg.ParseMode,
		ReplyToMessageID: msg.ReplyTo,
	}
	if msg.ForceReply {
		body.ReplyMarkup = &forceReply{ForceReply: true, Selective: true}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram failed to marshal sendMessage: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram sendMessage request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, "sendMessage")
	return err
}

func (c *Client) do(req *http.Request, method string) (Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("telegram failed to read %s response: %w", method, err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return Response{}, fmt.Errorf("telegram failed to parse %s response: %w", method, err)
	}
	if !tgResp.OK {
		return Response{}, fmt.Errorf("telegram %s rejected code=%d: %s", method, tgResp.ErrorCode, tgResp.Description)
	}
	return tgResp, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
