// Package typing converts bursts of local input changes into at most one
// "started typing" and exactly one "stopped typing" wire signal per burst.
// State is tracked per room so one debouncer serves every open chat surface.
package typing

import (
	"sync"
	"time"
)

// DefaultQuiet is the inactivity window after the last input change before
// the "stopped typing" signal is emitted.
const DefaultQuiet = 1000 * time.Millisecond

// SendFunc emits a typing signal for a room over the active transport.
type SendFunc func(roomID string, isTyping bool)

type roomState struct {
	typing bool
	timer  *time.Timer
	gen    uint64 // invalidates timers that fire after a reset
}

// Debouncer implements the per-room typing state machine. Transitions:
//
//	idle   --input(non-empty)--> typing   (emits "started")
//	typing --quiet window------> idle     (emits "stopped")
//	typing --submit------------> idle     (emits "stopped" synchronously)
//
// Re-entering typing while already typing resets the quiet window without
// re-emitting "started". Clearing the input to empty does not by itself end
// the typing state; only the quiet window or an explicit submit does.
type Debouncer struct {
	mu    sync.Mutex
	quiet time.Duration
	send  SendFunc
	rooms map[string]*roomState
}

// New creates a Debouncer with the given quiet window. A non-positive quiet
// falls back to DefaultQuiet.
func New(quiet time.Duration, send SendFunc) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Debouncer{
		quiet: quiet,
		send:  send,
		rooms: make(map[string]*roomState),
	}
}

// InputChanged records a local input change for a room. The first non-empty
// change while idle emits "started"; every change while typing (including a
// change that empties the input) resets the quiet window.
func (d *Debouncer) InputChanged(roomID string, value string) {
	d.mu.Lock()

	st := d.rooms[roomID]
	if st == nil {
		st = &roomState{}
		d.rooms[roomID] = st
	}

	started := false
	if !st.typing && value != "" {
		st.typing = true
		started = true
	}

	if st.typing {
		if st.timer != nil {
			st.timer.Stop()
		}
		st.gen++
		gen := st.gen
		st.timer = time.AfterFunc(d.quiet, func() { d.expire(roomID, gen) })
	}
	d.mu.Unlock()

	if started {
		d.send(roomID, true)
	}
}

// Submit ends the typing state for a room before a message send. If the room
// was typing, the pending timer is cancelled and "stopped" is emitted
// synchronously so it reaches the wire ahead of the message itself.
func (d *Debouncer) Submit(roomID string) {
	d.mu.Lock()
	stopped := d.stopLocked(roomID)
	d.mu.Unlock()

	if stopped {
		d.send(roomID, false)
	}
}

// Cancel discards the room's typing state without emitting a signal. Used on
// consumer teardown; the gateway expires stale indicators on its own.
func (d *Debouncer) Cancel(roomID string) {
	d.mu.Lock()
	d.stopLocked(roomID)
	delete(d.rooms, roomID)
	d.mu.Unlock()
}

// Typing reports whether the room is currently in the typing state.
func (d *Debouncer) Typing(roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.rooms[roomID]
	return st != nil && st.typing
}

// stopLocked clears the typing state and cancels the pending timer. Returns
// true if the room was in the typing state. Caller holds d.mu.
func (d *Debouncer) stopLocked(roomID string) bool {
	st := d.rooms[roomID]
	if st == nil || !st.typing {
		return false
	}
	st.typing = false
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	return true
}

// expire is the quiet-window timer callback.
func (d *Debouncer) expire(roomID string, gen uint64) {
	d.mu.Lock()
	st := d.rooms[roomID]
	if st == nil || !st.typing || st.gen != gen {
		// Reset or stopped after this timer was armed.
		d.mu.Unlock()
		return
	}
	st.typing = false
	st.timer = nil
	d.mu.Unlock()

	d.send(roomID, false)
}
