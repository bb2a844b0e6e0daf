// Package chat holds the Connexa domain model and its persistence
// boundary: users (with durable presence state), conversations, and
// messages. The realtime gateway and the REST collaborator API both
// sit on top of the Store interfaces defined here.
package chat

import "time"

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
	MessageTypeAudio MessageType = "AUDIO"
	MessageTypeFile  MessageType = "FILE"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// User is the account row as seen by the realtime core.
//
// Online and LastSeen are mutated exclusively by the connection
// lifecycle: Online == true must imply a live registry entry for this
// user, and vice versa.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Verified     bool       `json:"verified"`
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
	AvatarURL    string     `json:"avatarUrl,omitempty"`
	PasswordHash string     `json:"-"`
}

// Conversation membership is immutable after creation in this core.
// A one-to-one conversation has exactly 2 participants, and at most one
// such conversation exists per unordered user pair.
type Conversation struct {
	ID           string    `json:"id"`
	IsGroup      bool      `json:"isGroup"`
	Name         string    `json:"name,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	OwnerID      string    `json:"ownerId"`
	Participants []string  `json:"participants"`
	Admins       []string  `json:"admins,omitempty"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Message is immutable once created. Content is empty for non-text
// types, which carry MediaURL instead.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content,omitempty"`
	Type           MessageType `json:"type"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Status         string      `json:"status,omitempty"`
}

// PageMeta is the pagination envelope shared by the history endpoints.
// Pages is ceil(Total / pageSize); requesting beyond Pages yields an
// empty data slice, never an error.
type PageMeta struct {
	Total    int `json:"total"`
	Pages    int `json:"pages"`
	CurrPage int `json:"currPage"`
}

// MessagePage is one page of conversation history. Page 1 holds the
// most recent messages; Data is ordered ascending by creation time
// within the page.
type MessagePage struct {
	Data []Message `json:"data"`
	Meta PageMeta  `json:"meta"`
}
