// Package debounce coalesces rapid successive inbound fragments per sender
// into one logical message. The upstream chat network often delivers a
// human's multi-part message as several events within seconds; flushing
// after a quiet window avoids fragmented, redundant automated replies.
//
// State is in-process only. A restart loses unflushed buffers, which is
// acceptable: the customer simply gets no reply to the lost fragments.
package debounce

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Flush receives the coalesced message for one sender. Errors are logged
// and the batch is dropped; the buffer has already been cleared.
type Flush func(senderID, senderName, chatID, content string) error

type entry struct {
	senderName string
	chatID     string
	fragments  []string
	timer      *time.Timer
}

// Buffer coalesces fragments per sender id. Safe for concurrent use.
type Buffer struct {
	window time.Duration
	flush  Flush

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

// New creates a Buffer that flushes after window of quiet per sender.
func New(window time.Duration, flush Flush) *Buffer {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Buffer{
		window:  window,
		flush:   flush,
		entries: make(map[string]*entry),
	}
}

// Add appends a fragment to the sender's buffer and resets the timer.
func (b *Buffer) Add(senderID, senderName, chatID, fragment string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	e, ok := b.entries[senderID]
	if ok {
		e.timer.Stop()
		e.fragments = append(e.fragments, fragment)
		e.senderName = senderName
		e.chatID = chatID
	} else {
		e = &entry{senderName: senderName, chatID: chatID, fragments: []string{fragment}}
		b.entries[senderID] = e
	}

	e.timer = time.AfterFunc(b.window, func() { b.fire(senderID) })
}

// fire flushes the sender's buffer on timer expiry.
func (b *Buffer) fire(senderID string) {
	b.mu.Lock()
	e, ok := b.entries[senderID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.entries, senderID)
	b.mu.Unlock()

	b.dispatch(senderID, e)
}

// dispatch runs the flush callback outside the lock.
func (b *Buffer) dispatch(senderID string, e *entry) {
	content := strings.Join(e.fragments, " ")
	if err := b.flush(senderID, e.senderName, e.chatID, content); err != nil {
		// The buffer is already cleared; the batch is not retried.
		slog.Error("debounce flush failed", "sender", senderID, "fragments", len(e.fragments), "error", err)
	}
}

// Pending returns the number of senders with unflushed fragments.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stop cancels all timers. When drain is true, buffered fragments are
// flushed synchronously before returning (used on graceful shutdown).
func (b *Buffer) Stop(drain bool) {
	b.mu.Lock()
	b.stopped = true
	remaining := b.entries
	b.entries = make(map[string]*entry)
	for _, e := range remaining {
		e.timer.Stop()
	}
	b.mu.Unlock()

	if !drain {
		return
	}
	for senderID, e := range remaining {
		b.dispatch(senderID, e)
	}
}
