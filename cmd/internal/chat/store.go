package chat

import (
	"context"
	"time"
)

// DefaultPageSize is the page size for message history and
// conversation listings.
const DefaultPageSize = 20

// UserStore persists account and durable presence state.
//
// SetOnline / SetOffline are written only by the connection lifecycle;
// both must be idempotent so duplicate close events from the transport
// cannot corrupt state.
type UserStore interface {
	// CreateUser inserts a new account. A user with the same email yields
	// ErrDuplicateEmail.
	CreateUser(ctx context.Context, u User) error

	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	SetOnline(ctx context.Context, id string, now time.Time) error
	SetOffline(ctx context.Context, id string, lastSeen time.Time) error
	ExistAll(ctx context.Context, ids []string) (bool, error)
}

// CreateConversationInput describes a conversation-create request.
type CreateConversationInput struct {
	IsGroup      bool
	Name         string
	AvatarURL    string
	OwnerID      string
	Participants []string
	Admins       []string
	Now          time.Time
}

// ConversationStore persists conversations and their membership.
type ConversationStore interface {
	CreateConversation(ctx context.Context, in CreateConversationInput) (Conversation, error)
	ConversationByID(ctx context.Context, id string) (Conversation, error)

	// Participants returns the conversation's member ids, the recipient
	// set for fan-out.
	Participants(ctx context.Context, conversationID string) ([]string, error)

	// ListByUser returns the user's conversations with participants and
	// the denormalized lastMessage, newest activity first.
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]Conversation, PageMeta, error)

	// DirectExists reports whether a one-to-one conversation already
	// exists for the unordered pair (a, b).
	DirectExists(ctx context.Context, a, b string) (bool, error)

	// AddParticipant joins a user to a group conversation. Adding an
	// existing member is a no-op.
	AddParticipant(ctx context.Context, conversationID, userID string) error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	MediaURL       string
	Now            time.Time
}

// MessageStore persists and pages messages.
type MessageStore interface {
	Append(ctx context.Context, in AppendMessageInput) (Message, error)

	// HistoryPage returns page N of a conversation's history.
	// Page 1 is the most recent window; a page beyond Meta.Pages yields
	// empty Data with Meta.CurrPage set to the requested page.
	HistoryPage(ctx context.Context, conversationID string, page, pageSize int) (MessagePage, error)

	// Latest returns the newest message of a conversation, used for the
	// on-demand lastMessage denormalization.
	Latest(ctx context.Context, conversationID string) (Message, bool, error)
}
