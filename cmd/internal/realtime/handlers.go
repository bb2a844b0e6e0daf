package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"connexa/cmd/internal/chat"
	v1 "connexa/contracts/realtime/v1"
)

// Handlers implements the per-event business logic: message creation
// with fan-out, and typing indicators.
type Handlers struct {
	log      *slog.Logger
	convs    chat.ConversationStore
	msgs     chat.MessageStore
	registry *Registry
	metrics  *Metrics
}

// NewHandlers constructs the Handlers set.
func NewHandlers(log *slog.Logger, convs chat.ConversationStore, msgs chat.MessageStore, registry *Registry, m *Metrics) *Handlers {
	return &Handlers{log: log, convs: convs, msgs: msgs, registry: registry, metrics: m}
}

// Table returns the event dispatch table for the router.
func (h *Handlers) Table() Table {
	return Table{
		v1.EventNewMessage:  h.NewMessage,
		v1.EventTypingStart: h.typingHandler(v1.EventTypingStart),
		v1.EventTypingStop:  h.typingHandler(v1.EventTypingStop),
	}
}

// NewMessage validates, persists and fans out a chat message.
//
// Broadcast policy: the created message is delivered to ALL current
// participants, sender included. Echoing the sender keeps the protocol
// symmetric and keeps a user's other active sessions consistent; the
// client reconciles the echo against its optimistic local entry.
func (h *Handlers) NewMessage(ctx context.Context, from *Client, content json.RawMessage) {
	var p v1.NewMessagePayload
	if err := json.Unmarshal(content, &p); err != nil {
		SendError(from, "Malformed message payload")
		return
	}

	if strings.TrimSpace(p.ConversationID) == "" {
		SendError(from, "Conversation Id is required")
		return
	}

	msgType := chat.MessageType(p.Type)
	if p.Type == "" {
		msgType = chat.MessageTypeText
	}
	if !msgType.Valid() {
		SendError(from, "Invalid message type")
		return
	}
	if msgType == chat.MessageTypeText && strings.TrimSpace(p.Content) == "" {
		SendError(from, "Content is required in case of text messages")
		return
	}
	if msgType != chat.MessageTypeText && strings.TrimSpace(p.MediaURL) == "" {
		SendError(from, "Media URL is required in case of non-text messages")
		return
	}
	if len([]rune(p.Content)) > maxMessageChars {
		SendError(from, "Message too long")
		return
	}

	participants, err := h.participantsOf(ctx, from, p.ConversationID)
	if err != nil {
		return
	}

	msg, err := h.msgs.Append(ctx, chat.AppendMessageInput{
		ConversationID: p.ConversationID,
		SenderID:       from.UserID,
		Content:        p.Content,
		Type:           msgType,
		MediaURL:       p.MediaURL,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("handler.new_message.persist.fail", "conversation_id", p.ConversationID, "user_id", from.UserID, "err", err)
		SendError(from, "Internal Server Error")
		return
	}

	frame, err := v1.NewFrame(v1.EventNewMessage, msg)
	if err != nil {
		SendError(from, "Internal Server Error")
		return
	}

	delivered, dropped := h.registry.Broadcast(participants, frame)
	h.metrics.FanoutDelivered.Add(float64(delivered))
	h.metrics.FanoutDropped.Add(float64(dropped))

	h.log.Debug("handler.new_message.fanout",
		"conversation_id", p.ConversationID,
		"message_id", msg.ID,
		"delivered", delivered,
		"dropped", dropped,
	)
}

// typingHandler relays TYPING_START / TYPING_STOP to every other
// participant. Best-effort and lossy: nothing is persisted and the
// server does not time typing state out on its own.
func (h *Handlers) typingHandler(event string) HandlerFunc {
	return func(ctx context.Context, from *Client, content json.RawMessage) {
		var p v1.TypingPayload
		if err := json.Unmarshal(content, &p); err != nil {
			SendError(from, "Malformed typing payload")
			return
		}
		if strings.TrimSpace(p.ConversationID) == "" {
			SendError(from, "Conversation Id is required")
			return
		}

		participants, err := h.participantsOf(ctx, from, p.ConversationID)
		if err != nil {
			return
		}

		// Self-notifications about one's own typing state are useless.
		recipients := participants[:0:0]
		for _, id := range participants {
			if id != from.UserID {
				recipients = append(recipients, id)
			}
		}

		frame, err := v1.NewFrame(event, v1.TypingEventPayload{
			ConversationID: p.ConversationID,
			UserID:         from.UserID,
		})
		if err != nil {
			return
		}

		delivered, dropped := h.registry.Broadcast(recipients, frame)
		h.metrics.FanoutDelivered.Add(float64(delivered))
		h.metrics.FanoutDropped.Add(float64(dropped))
	}
}

// participantsOf loads the recipient set and enforces that the sender
// is a member. Failures are reported to the sender only.
func (h *Handlers) participantsOf(ctx context.Context, from *Client, conversationID string) ([]string, error) {
	participants, err := h.convs.Participants(ctx, conversationID)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			SendError(from, "Conversation not found")
		} else {
			h.log.Error("handler.participants.fail", "conversation_id", conversationID, "err", err)
			SendError(from, "Internal Server Error")
		}
		return nil, err
	}

	for _, id := range participants {
		if id == from.UserID {
			return participants, nil
		}
	}
	SendError(from, "Not a participant of this conversation")
	return nil, chat.ErrValidation
}
