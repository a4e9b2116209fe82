package embed

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const embedOrigin = "https://video-host.example"

type recordingTarget struct {
	mu       sync.Mutex
	posts    []string
	origins  []string
	failures int
}

func (r *recordingTarget) PostMessage(data []byte, targetOrigin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("port closed")
	}
	r.posts = append(r.posts, string(data))
	r.origins = append(r.origins, targetOrigin)
	return nil
}

func (r *recordingTarget) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.posts {
		var cmd Command
		if err := json.Unmarshal([]byte(p), &cmd); err == nil && cmd.Event == "command" {
			out = append(out, string(cmd.Func))
		}
	}
	return out
}

func (r *recordingTarget) handshakes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.posts {
		var hs handshake
		if err := json.Unmarshal([]byte(p), &hs); err == nil && hs.Event == "listening" {
			n++
		}
	}
	return n
}

func newTestChannel(t *testing.T, target *recordingTarget, clock clockwork.Clock) *Channel {
	t.Helper()
	ch, err := New(Config{Target: target, TargetOrigin: embedOrigin + "/embed/abc", ID: "player-1", Clock: clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func ready() Message {
	return Message{Origin: embedOrigin, Data: []byte(`{"event":"onReady"}`)}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{TargetOrigin: embedOrigin}); err == nil {
		t.Error("expected error without target")
	}
	if _, err := New(Config{Target: &recordingTarget{}, TargetOrigin: "not a url"}); err == nil {
		t.Error("expected error for bad origin")
	}
}

func TestChannel_QueuesUntilReady(t *testing.T) {
	target := &recordingTarget{}
	ch := newTestChannel(t, target, clockwork.NewFakeClock())

	ch.Send(FuncSeek, 10)
	ch.Send(FuncPlay)
	if got := target.commands(); len(got) != 0 {
		t.Fatalf("expected no commands before ready, got %v", got)
	}

	ch.Deliver(ready())
	require.Equal(t, []string{"seekTo", "playVideo"}, target.commands())

	ch.Send(FuncPause)
	require.Equal(t, []string{"seekTo", "playVideo", "pauseVideo"}, target.commands())

	target.mu.Lock()
	for _, o := range target.origins {
		if o != embedOrigin {
			t.Errorf("posted with target origin %q, want %q", o, embedOrigin)
		}
	}
	target.mu.Unlock()
}

func TestChannel_QueueDropsOldest(t *testing.T) {
	target := &recordingTarget{}
	ch, err := New(Config{Target: target, TargetOrigin: embedOrigin, Clock: clockwork.NewFakeClock(), QueueSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	ch.Send(FuncMute)
	ch.Send(FuncSeek, 1)
	ch.Send(FuncPlay)
	ch.Deliver(ready())

	require.Equal(t, []string{"seekTo", "playVideo"}, target.commands())
}

func TestChannel_HandshakeRetriedOnce(t *testing.T) {
	target := &recordingTarget{}
	clock := clockwork.NewFakeClock()
	newTestChannel(t, target, clock)

	require.Equal(t, 1, target.handshakes())
	clock.Advance(DefaultRetryDelay)
	require.Eventually(t, func() bool { return target.handshakes() == 2 }, time.Second, 5*time.Millisecond)

	clock.Advance(10 * DefaultRetryDelay)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, target.handshakes())
}

func TestChannel_NoHandshakeRetryAfterReady(t *testing.T) {
	target := &recordingTarget{}
	clock := clockwork.NewFakeClock()
	ch := newTestChannel(t, target, clock)

	ch.Deliver(ready())
	clock.Advance(DefaultRetryDelay)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, target.handshakes())
}

func TestChannel_FailedPostRetriedOnce(t *testing.T) {
	target := &recordingTarget{}
	clock := clockwork.NewFakeClock()
	ch := newTestChannel(t, target, clock)
	ch.Deliver(ready())

	target.mu.Lock()
	target.failures = 1
	target.mu.Unlock()
	ch.Send(FuncPlay)
	require.Empty(t, target.commands())

	clock.Advance(DefaultRetryDelay)
	require.Eventually(t, func() bool { return len(target.commands()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestChannel_FailedRetryIsDropped(t *testing.T) {
	target := &recordingTarget{}
	clock := clockwork.NewFakeClock()
	ch := newTestChannel(t, target, clock)
	ch.Deliver(ready())

	target.mu.Lock()
	target.failures = 2
	target.mu.Unlock()
	ch.Send(FuncPlay)
	clock.Advance(DefaultRetryDelay)
	clock.Advance(DefaultRetryDelay)
	time.Sleep(20 * time.Millisecond)

	require.Empty(t, target.commands())
}

func TestChannel_DropsUnexpectedOrigins(t *testing.T) {
	target := &recordingTarget{}
	ch := newTestChannel(t, target, clockwork.NewFakeClock())

	var events []Event
	ch.OnEvent(func(ev Event) { events = append(events, ev) })

	ch.Deliver(Message{Origin: "https://evil.example", Data: []byte(`{"event":"onReady"}`)})
	ch.Deliver(Message{Origin: "", Data: []byte(`5`)})
	if ch.Ready() || len(events) != 0 {
		t.Fatalf("expected foreign messages to be ignored, ready=%v events=%v", ch.Ready(), events)
	}

	ch.Deliver(Message{Origin: "HTTPS://VIDEO-HOST.EXAMPLE", Data: []byte(`5`)})
	if len(events) != 1 || events[0].CurrentTime != 5 {
		t.Fatalf("expected one progress event, got %+v", events)
	}
}

func TestChannel_Unsubscribe(t *testing.T) {
	ch := newTestChannel(t, &recordingTarget{}, clockwork.NewFakeClock())

	var a, b int
	unsubA := ch.OnEvent(func(Event) { a++ })
	ch.OnEvent(func(Event) { b++ })

	ch.Deliver(ready())
	unsubA()
	ch.Deliver(Message{Origin: embedOrigin, Data: []byte(`1`)})

	if a != 1 || b != 2 {
		t.Errorf("expected a=1 b=2, got a=%d b=%d", a, b)
	}
}

func TestChannel_CloseCancelsEverything(t *testing.T) {
	target := &recordingTarget{}
	clock := clockwork.NewFakeClock()
	ch := newTestChannel(t, target, clock)

	calls := 0
	ch.OnEvent(func(Event) { calls++ })
	ch.Send(FuncPlay)
	ch.Close()
	ch.Close()

	clock.Advance(DefaultRetryDelay)
	ch.Deliver(ready())
	ch.Send(FuncPause)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 1, target.handshakes())
	require.Empty(t, target.commands())
	require.Zero(t, calls)
}
