package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeUtterance lets tests finish or fail playout on demand and counts
// stop calls.
type fakeUtterance struct {
	mu       sync.Mutex
	done     chan struct{}
	stops    int
	finished bool
}

func newFakeUtterance() *fakeUtterance {
	return &fakeUtterance{done: make(chan struct{})}
}

func (u *fakeUtterance) Done() <-chan struct{} {
	return u.done
}

func (u *fakeUtterance) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stops++
	if !u.finished {
		u.finished = true
		close(u.done)
	}
}

func (u *fakeUtterance) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.finished {
		u.finished = true
		close(u.done)
	}
}

func (u *fakeUtterance) stopCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stops
}

// scriptedSpeaker hands out one utterance per Speak call, in order.
type scriptedSpeaker struct {
	mu         sync.Mutex
	utterances []*fakeUtterance
	spoken     []string
	err        error
}

func (s *scriptedSpeaker) Speak(_ context.Context, text string) (Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.spoken = append(s.spoken, text)
	u := newFakeUtterance()
	s.utterances = append(s.utterances, u)
	return u, nil
}

// notifyRecorder captures speaking transitions in order.
type notifyRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *notifyRecorder) notify(messageID string, speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "stop"
	if speaking {
		state = "start"
	}
	r.events = append(r.events, messageID+":"+state)
}

func (r *notifyRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestPlay_ToggleSameIDStopsOnce(t *testing.T) {
	speaker := &scriptedSpeaker{}
	rec := &notifyRecorder{}
	c := NewController(speaker, rec.notify, nil)

	if err := c.Play(context.Background(), "m1", "text"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if id, ok := c.Playing(); !ok || id != "m1" {
		t.Fatalf("expected Playing(m1), got %q ok=%v", id, ok)
	}

	if err := c.Play(context.Background(), "m1", "text"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, ok := c.Playing(); ok {
		t.Fatalf("expected Idle after toggle")
	}
	if got := speaker.utterances[0].stopCount(); got != 1 {
		t.Fatalf("expected exactly one stop call, got %d", got)
	}
	if len(speaker.spoken) != 1 {
		t.Fatalf("toggle must not synthesize again, spoke %v", speaker.spoken)
	}
}

func TestPlay_NewMessageSupersedesCurrent(t *testing.T) {
	speaker := &scriptedSpeaker{}
	rec := &notifyRecorder{}
	c := NewController(speaker, rec.notify, nil)

	if err := c.Play(context.Background(), "y", "first"); err != nil {
		t.Fatalf("play y: %v", err)
	}
	if err := c.Play(context.Background(), "x", "second"); err != nil {
		t.Fatalf("play x: %v", err)
	}

	if speaker.utterances[0].stopCount() != 1 {
		t.Fatalf("y must be stopped when x starts")
	}
	if id, ok := c.Playing(); !ok || id != "x" {
		t.Fatalf("expected Playing(x), got %q", id)
	}
	// Stop for y must be observed before the start of x.
	events := rec.list()
	yStop, xStart := -1, -1
	for i, e := range events {
		switch e {
		case "y:stop":
			yStop = i
		case "x:start":
			xStart = i
		}
	}
	if yStop == -1 || xStart == -1 || yStop > xStart {
		t.Fatalf("expected y:stop before x:start, got %v", events)
	}
	if speaker.spoken[1] != "second" {
		t.Fatalf("expected x text to be synthesized second, got %v", speaker.spoken)
	}
}

func TestPlay_NaturalCompletionReturnsToIdle(t *testing.T) {
	speaker := &scriptedSpeaker{}
	rec := &notifyRecorder{}
	c := NewController(speaker, rec.notify, nil)

	if err := c.Play(context.Background(), "m1", "text"); err != nil {
		t.Fatalf("play: %v", err)
	}
	speaker.utterances[0].finish()

	deadline := time.After(time.Second)
	for {
		if _, ok := c.Playing(); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("controller did not return to Idle after natural completion")
		case <-time.After(time.Millisecond):
		}
	}
	if speaker.utterances[0].stopCount() != 0 {
		t.Fatalf("natural completion must not call Stop")
	}
}

func TestPlay_SpeakerFailureReturnsToIdle(t *testing.T) {
	speaker := &scriptedSpeaker{err: errors.New("synth down")}
	c := NewController(speaker, nil, nil)

	err := c.Play(context.Background(), "m1", "text")
	if err == nil {
		t.Fatalf("expected surfaced failure")
	}
	if _, ok := c.Playing(); ok {
		t.Fatalf("expected Idle after failure")
	}
}

func TestStop_Idempotent(t *testing.T) {
	speaker := &scriptedSpeaker{}
	c := NewController(speaker, nil, nil)

	c.Stop() // stopping Idle must not panic

	if err := c.Play(context.Background(), "m1", "text"); err != nil {
		t.Fatalf("play: %v", err)
	}
	c.Stop()
	c.Stop()
	if _, ok := c.Playing(); ok {
		t.Fatalf("expected Idle after stop")
	}
	// The utterance's own Stop must tolerate the repeat too.
	if got := speaker.utterances[0].stopCount(); got != 1 {
		t.Fatalf("controller must not re-stop a stopped utterance, got %d stops", got)
	}
}

func TestPlay_RestartAfterToggleSynthesizesAgain(t *testing.T) {
	speaker := &scriptedSpeaker{}
	c := NewController(speaker, nil, nil)
	ctx := context.Background()

	if err := c.Play(ctx, "m1", "text"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := c.Play(ctx, "m1", "text"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := c.Play(ctx, "m1", "text"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if id, ok := c.Playing(); !ok || id != "m1" {
		t.Fatalf("expected Playing(m1) after replay")
	}
	if len(speaker.spoken) != 2 {
		t.Fatalf("expected two synthesis calls, got %d", len(speaker.spoken))
	}
}
