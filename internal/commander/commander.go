package commander

import (
	"context"
	"strings"
)

// Commander is the chat transport abstraction used by the relay.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, msg Outgoing) error
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64   `json:"message_id"`
	Chat      Chat    `json:"chat"`
	From      *User   `json:"from,omitempty"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// FullName joins first and last name the way chat clients display them.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

const ParseModeHTML = "HTML"

// Outgoing is a reply to be delivered to a chat.
type Outgoing struct {
	ChatID     int64
	Text       string
	ReplyTo    int64
	ParseMode  string
	ForceReply bool
}

// CommandName reports the bot command a message starts with, without the
// leading slash and any @botname suffix. "/start@relay_bot now" yields "start".
func CommandName(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := strings.TrimPrefix(strings.Fields(text + " ")[0], "/")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	if word == "" {
		return "", false
	}
	for _, r := range word {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	return strings.ToLower(word), true
}
