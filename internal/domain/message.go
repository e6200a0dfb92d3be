// Package domain contains core domain types for the reply bot.
package domain

import (
	"time"
)

// Direction tells whether a message was received or sent by the bot.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message kinds as reported by the transport.
const (
	KindText   = "text"
	KindStatus = "status"
)

// StatusBroadcastChat is the pseudo chat that carries status updates.
const StatusBroadcastChat = "status@broadcast"

// Message is a single chat message. SenderID always identifies the remote
// party of the conversation, for outbound messages too.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Body        string    `json:"body"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	ChatID      string    `json:"chat_id"`
	Direction   Direction `json:"direction"`
	Generated   bool      `json:"generated"`
	Group       bool      `json:"group,omitempty"`
	FromMe      bool      `json:"from_me,omitempty"`
}

// IsDirectText reports whether the message is a one-to-one text message from
// someone other than the bot itself.
func (m Message) IsDirectText() bool {
	if m.Group || m.FromMe {
		return false
	}
	if m.ChatID == StatusBroadcastChat || m.Kind == KindStatus {
		return false
	}
	return m.Kind == KindText
}

// Exchange is one user message and the reply the bot gave to it.
type Exchange struct {
	UserText  string    `json:"user"`
	ReplyText string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}
