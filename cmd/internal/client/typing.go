package client

import (
	"sync"
	"time"

	v1 "connexa/contracts/realtime/v1"
)

// DefaultTypingIdle is how long after the last keystroke the typing
// indicator drops.
const DefaultTypingIdle = 3 * time.Second

// TypingEmitter debounces typing notifications: the first keystroke in
// a conversation emits TYPING_START, further keystrokes only re-arm
// the idle timer, and TYPING_STOP fires once on idle, on send, or on
// leaving the conversation.
type TypingEmitter struct {
	send func(typ string, content any) error
	idle time.Duration

	mu             sync.Mutex
	typing         bool
	conversationID string
	timer          *time.Timer
}

// NewTypingEmitter wires an emitter to a send function, typically
// (*Manager).Send. idle <= 0 uses DefaultTypingIdle.
func NewTypingEmitter(send func(typ string, content any) error, idle time.Duration) *TypingEmitter {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingEmitter{send: send, idle: idle}
}

// Keystroke reports input activity in a conversation. Switching
// conversations mid-typing stops the old indicator first.
func (e *TypingEmitter) Keystroke(conversationID string) {
	e.mu.Lock()

	var stopped string
	if e.typing && e.conversationID != conversationID {
		stopped = e.stopLocked()
	}

	if e.typing {
		e.timer.Reset(e.idle)
		e.mu.Unlock()
		return
	}

	e.typing = true
	e.conversationID = conversationID
	e.timer = time.AfterFunc(e.idle, e.onIdle)
	e.mu.Unlock()

	if stopped != "" {
		e.emit(v1.EventTypingStop, stopped)
	}
	e.emit(v1.EventTypingStart, conversationID)
}

// Sent reports that the draft was submitted; the indicator stops
// immediately instead of waiting out the idle timer.
func (e *TypingEmitter) Sent() {
	e.mu.Lock()
	if !e.typing {
		e.mu.Unlock()
		return
	}
	stopped := e.stopLocked()
	e.mu.Unlock()

	e.emit(v1.EventTypingStop, stopped)
}

// Stop force-stops the indicator, for leaving the conversation view.
func (e *TypingEmitter) Stop() {
	e.mu.Lock()
	if !e.typing {
		e.mu.Unlock()
		return
	}
	stopped := e.stopLocked()
	e.mu.Unlock()

	e.emit(v1.EventTypingStop, stopped)
}

func (e *TypingEmitter) onIdle() {
	e.mu.Lock()
	if !e.typing {
		e.mu.Unlock()
		return
	}
	stopped := e.stopLocked()
	e.mu.Unlock()

	e.emit(v1.EventTypingStop, stopped)
}

// stopLocked clears state and returns the conversation whose indicator
// ended; the caller holds e.mu and emits TYPING_STOP after unlocking,
// so a slow send never stalls the other emitter methods.
func (e *TypingEmitter) stopLocked() (conversationID string) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.typing = false
	conversationID = e.conversationID
	e.conversationID = ""
	return conversationID
}

func (e *TypingEmitter) emit(typ, conversationID string) {
	// A failed send only means the server misses one indicator
	// transition; the UI state machine stays consistent regardless.
	_ = e.send(typ, v1.TypingPayload{ConversationID: conversationID})
}
