package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	v1 "connexa/contracts/realtime/v1"
)

type typingRecorder struct {
	mu     sync.Mutex
	events []recordedTyping
}

type recordedTyping struct {
	typ  string
	conv string
}

func (r *typingRecorder) send(typ string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	var p v1.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedTyping{typ: typ, conv: p.ConversationID})
	return nil
}

func (r *typingRecorder) snapshot() []recordedTyping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedTyping(nil), r.events...)
}

func (r *typingRecorder) waitFor(t *testing.T, n int) []recordedTyping {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %v", n, r.snapshot())
	return nil
}

func TestTypingEmitter_StartOncePerBurst(t *testing.T) {
	t.Parallel()

	rec := &typingRecorder{}
	e := NewTypingEmitter(rec.send, time.Hour)

	e.Keystroke("c1")
	e.Keystroke("c1")
	e.Keystroke("c1")

	got := rec.snapshot()
	if len(got) != 1 || got[0] != (recordedTyping{v1.EventTypingStart, "c1"}) {
		t.Fatalf("events=%v", got)
	}

	e.Sent()
	got = rec.snapshot()
	if len(got) != 2 || got[1] != (recordedTyping{v1.EventTypingStop, "c1"}) {
		t.Fatalf("events=%v", got)
	}

	// Sent with no active indicator is a no-op.
	e.Sent()
	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("events=%v", got)
	}
}

func TestTypingEmitter_StopsOnIdle(t *testing.T) {
	t.Parallel()

	rec := &typingRecorder{}
	e := NewTypingEmitter(rec.send, 20*time.Millisecond)

	e.Keystroke("c1")

	got := rec.waitFor(t, 2)
	if got[0].typ != v1.EventTypingStart || got[1].typ != v1.EventTypingStop {
		t.Fatalf("events=%v", got)
	}

	// A fresh burst after idling starts again.
	e.Keystroke("c1")
	got = rec.waitFor(t, 3)
	if got[2].typ != v1.EventTypingStart {
		t.Fatalf("events=%v", got)
	}
}

func TestTypingEmitter_KeystrokeReArmsTimer(t *testing.T) {
	t.Parallel()

	rec := &typingRecorder{}
	e := NewTypingEmitter(rec.send, 60*time.Millisecond)

	e.Keystroke("c1")
	// Keep typing faster than the idle window.
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		e.Keystroke("c1")
	}

	// Still only the initial START, no STOP yet.
	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("events during burst=%v", got)
	}

	rec.waitFor(t, 2)
}

func TestTypingEmitter_SendMayReenter(t *testing.T) {
	t.Parallel()

	rec := &typingRecorder{}
	var e *TypingEmitter
	send := func(typ string, content any) error {
		if err := rec.send(typ, content); err != nil {
			return err
		}
		// Start composing in the next conversation as soon as the
		// previous indicator drops, from inside the send callback.
		if typ == v1.EventTypingStop {
			e.Keystroke("c2")
		}
		return nil
	}
	e = NewTypingEmitter(send, time.Hour)

	e.Keystroke("c1")
	e.Sent()

	got := rec.snapshot()
	want := []recordedTyping{
		{v1.EventTypingStart, "c1"},
		{v1.EventTypingStop, "c1"},
		{v1.EventTypingStart, "c2"},
	}
	if len(got) != len(want) {
		t.Fatalf("events=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v want=%v", got, want)
		}
	}
}

func TestTypingEmitter_ConversationSwitch(t *testing.T) {
	t.Parallel()

	rec := &typingRecorder{}
	e := NewTypingEmitter(rec.send, time.Hour)

	e.Keystroke("c1")
	e.Keystroke("c2")

	got := rec.snapshot()
	want := []recordedTyping{
		{v1.EventTypingStart, "c1"},
		{v1.EventTypingStop, "c1"},
		{v1.EventTypingStart, "c2"},
	}
	if len(got) != len(want) {
		t.Fatalf("events=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v want=%v", got, want)
		}
	}

	e.Stop()
	got = rec.snapshot()
	if got[len(got)-1] != (recordedTyping{v1.EventTypingStop, "c2"}) {
		t.Fatalf("events=%v", got)
	}
}
