package debounce

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu     sync.Mutex
	events []flushed
}

type flushed struct {
	senderID string
	chatID   string
	content  string
}

func (c *capture) flush(senderID, _, chatID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, flushed{senderID, chatID, content})
	return nil
}

func (c *capture) snapshot() []flushed {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]flushed, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestCoalescesFragmentsInArrivalOrder(t *testing.T) {
	c := &capture{}
	b := New(50*time.Millisecond, c.flush)
	defer b.Stop(false)

	b.Add("x", "X", "chat1", "Hi")
	b.Add("x", "X", "chat1", "are")
	b.Add("x", "X", "chat1", "you open?")

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })

	got := c.snapshot()[0]
	if got.content != "Hi are you open?" {
		t.Fatalf("expected coalesced content, got %q", got.content)
	}
	if got.senderID != "x" || got.chatID != "chat1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestFragmentsAfterWindowProduceSeparateEvents(t *testing.T) {
	c := &capture{}
	b := New(30*time.Millisecond, c.flush)
	defer b.Stop(false)

	b.Add("x", "X", "chat1", "first")
	waitFor(t, func() bool { return len(c.snapshot()) == 1 })

	b.Add("x", "X", "chat1", "second")
	waitFor(t, func() bool { return len(c.snapshot()) == 2 })

	events := c.snapshot()
	if events[0].content != "first" || events[1].content != "second" {
		t.Fatalf("expected two separate events, got %+v", events)
	}
}

func TestSendersAreIndependent(t *testing.T) {
	c := &capture{}
	b := New(50*time.Millisecond, c.flush)
	defer b.Stop(false)

	b.Add("a", "A", "chat-a", "hello")
	b.Add("b", "B", "chat-b", "world")

	waitFor(t, func() bool { return len(c.snapshot()) == 2 })

	seen := map[string]string{}
	for _, e := range c.snapshot() {
		seen[e.senderID] = e.content
	}
	if seen["a"] != "hello" || seen["b"] != "world" {
		t.Fatalf("expected per-sender events, got %v", seen)
	}
}

func TestNewFragmentResetsTimer(t *testing.T) {
	c := &capture{}
	b := New(60*time.Millisecond, c.flush)
	defer b.Stop(false)

	b.Add("x", "X", "chat1", "one")
	time.Sleep(35 * time.Millisecond)
	b.Add("x", "X", "chat1", "two")
	time.Sleep(35 * time.Millisecond)

	// 70ms elapsed but the timer was reset at 35ms; nothing flushed yet.
	if n := len(c.snapshot()); n != 0 {
		t.Fatalf("expected no flush before reset window elapsed, got %d", n)
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	if got := c.snapshot()[0].content; got != "one two" {
		t.Fatalf("expected %q, got %q", "one two", got)
	}
}

func TestFlushErrorDropsBatch(t *testing.T) {
	var calls int
	var mu sync.Mutex
	b := New(20*time.Millisecond, func(_, _, _, _ string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("handoff failed")
	})
	defer b.Stop(false)

	b.Add("x", "X", "chat1", "lost")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	// The batch is gone; no retry follows.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one flush attempt, got %d", calls)
	}
	if b.Pending() != 0 {
		t.Fatalf("expected empty buffer, got %d pending", b.Pending())
	}
}

func TestStopWithDrainFlushesSynchronously(t *testing.T) {
	c := &capture{}
	b := New(time.Hour, c.flush)

	b.Add("x", "X", "chat1", "pending")
	b.Stop(true)

	events := c.snapshot()
	if len(events) != 1 || events[0].content != "pending" {
		t.Fatalf("expected drained flush, got %+v", events)
	}

	// After Stop, Add is a no-op.
	b.Add("x", "X", "chat1", "late")
	if b.Pending() != 0 {
		t.Fatal("expected Add after Stop to be ignored")
	}
}
