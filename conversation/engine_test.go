package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kaiwa/core"
	"kaiwa/session"
	"kaiwa/store"
)

type fakeTutor struct {
	mu           sync.Mutex
	gotHistory   []core.Message
	gotUtterance string
	calls        int

	reply core.TutorReply
	err   error

	entered chan struct{} // closed on first Reply entry, if set
	release chan struct{} // Reply blocks until closed, if set
}

func (f *fakeTutor) Reply(ctx context.Context, history []core.Message, utterance string) (core.TutorReply, error) {
	f.mu.Lock()
	f.calls++
	f.gotHistory = append([]core.Message(nil), history...)
	f.gotUtterance = utterance
	entered := f.entered
	f.entered = nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.err
}

type fakePlayer struct {
	mu      sync.Mutex
	calls   []string
	playErr error
}

func (p *fakePlayer) Play(ctx context.Context, messageID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "play:"+messageID)
	return p.playErr
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "stop")
}

func (p *fakePlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func newTestEngine(t *testing.T, tutor Tutor, player Player) (*Engine, *session.Store) {
	t.Helper()
	sessions := session.NewStore(session.DefaultConfig(), store.NewMemoryStore(), nil)
	sessions.Load(context.Background())
	return NewEngine(DefaultConfig(), sessions, tutor, player, nil), sessions
}

func TestSend_FullTurn(t *testing.T) {
	tutor := &fakeTutor{
		reply: core.TutorReply{
			Text:        "こんにちは！",
			Translation: "你好！",
			Feedback: core.Feedback{
				Original:    "こんにちは",
				Corrected:   "こんにちは",
				Explanation: "完美",
				Naturalness: 100,
			},
		},
	}
	player := &fakePlayer{}
	engine, sessions := newTestEngine(t, tutor, player)

	if err := engine.Send(context.Background(), "こんにちは"); err != nil {
		t.Fatalf("send: %v", err)
	}

	active, _ := sessions.Active()
	if len(active.Messages) != 3 {
		t.Fatalf("expected welcome + user + reply, got %d messages", len(active.Messages))
	}
	user := active.Messages[1]
	if user.Sender != core.SenderUser || user.Feedback == nil {
		t.Fatalf("user message missing feedback: %+v", user)
	}
	if user.Feedback.Naturalness != 100 || user.Feedback.Explanation != "完美" {
		t.Fatalf("unexpected feedback: %+v", user.Feedback)
	}
	ai := active.Messages[2]
	if ai.Sender != core.SenderAI || ai.Translation != "你好！" {
		t.Fatalf("unexpected tutor message: %+v", ai)
	}

	calls := player.snapshot()
	if len(calls) != 2 || calls[0] != "stop" || calls[1] != "play:"+ai.ID {
		t.Fatalf("expected stop then playback of the reply, got %v", calls)
	}
	if engine.Loading() {
		t.Fatalf("loading must clear after the turn")
	}
}

func TestSend_TutorFailureInsertsFallback(t *testing.T) {
	tutor := &fakeTutor{err: errors.New("network down")}
	player := &fakePlayer{}
	engine, sessions := newTestEngine(t, tutor, player)

	if err := engine.Send(context.Background(), "テスト"); err != nil {
		t.Fatalf("send must recover from tutor failure, got %v", err)
	}

	active, _ := sessions.Active()
	if len(active.Messages) != 3 {
		t.Fatalf("expected welcome + user + fallback, got %d", len(active.Messages))
	}
	if active.Messages[1].Feedback != nil {
		t.Fatalf("no feedback must attach on failure")
	}
	fallback := active.Messages[2]
	if fallback.Sender != core.SenderAI || fallback.Text != DefaultConfig().FallbackText {
		t.Fatalf("unexpected fallback message: %+v", fallback)
	}
	for _, call := range player.snapshot() {
		if strings.HasPrefix(call, "play:") {
			t.Fatalf("no playback on failure, got %v", player.snapshot())
		}
	}
	if engine.Loading() {
		t.Fatalf("loading must clear after a failed turn")
	}
}

func TestSend_HistoryBounding(t *testing.T) {
	tutor := &fakeTutor{reply: testReply("ok")}
	engine, sessions := newTestEngine(t, tutor, &fakePlayer{})
	ctx := context.Background()

	// Seed 20 exchanged messages after the welcome.
	id := sessions.ActiveID()
	var seeded []string
	for i := 0; i < 10; i++ {
		u := core.NewUserMessage(fmt.Sprintf("user %d", i))
		a := core.NewAIMessage(fmt.Sprintf("ai %d", i), "")
		if err := sessions.AppendUser(ctx, id, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
		if err := sessions.AppendAI(ctx, id, a); err != nil {
			t.Fatalf("seed ai: %v", err)
		}
		seeded = append(seeded, u.Text, a.Text)
	}

	if err := engine.Send(ctx, "new input"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(tutor.gotHistory) != 12 {
		t.Fatalf("expected exactly 12 history messages, got %d", len(tutor.gotHistory))
	}
	want := seeded[len(seeded)-12:]
	for i, m := range tutor.gotHistory {
		if m.Text != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, m.Text, want[i])
		}
		if m.Text == session.DefaultConfig().WelcomeText {
			t.Fatalf("welcome message leaked into history")
		}
	}
	if tutor.gotUtterance != "new input" {
		t.Fatalf("utterance = %q", tutor.gotUtterance)
	}
}

func TestSend_RefusesOverlappingTurns(t *testing.T) {
	tutor := &fakeTutor{
		reply:   testReply("ok"),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine, _ := newTestEngine(t, tutor, &fakePlayer{})

	entered := tutor.entered
	done := make(chan error, 1)
	go func() { done <- engine.Send(context.Background(), "first") }()
	<-entered

	if err := engine.Send(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping send, got %v", err)
	}

	close(tutor.release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if tutor.calls != 1 {
		t.Fatalf("second send must not reach the tutor, got %d calls", tutor.calls)
	}

	// The gate reopens once the turn finishes.
	if err := engine.Send(context.Background(), "third"); err != nil {
		t.Fatalf("send after turn completed: %v", err)
	}
}

func TestSend_StaleReplyLandsInOriginSession(t *testing.T) {
	tutor := &fakeTutor{
		reply:   testReply("遅い返事"),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	player := &fakePlayer{}
	engine, sessions := newTestEngine(t, tutor, player)
	ctx := context.Background()

	originID := sessions.ActiveID()
	entered := tutor.entered
	done := make(chan error, 1)
	go func() { done <- engine.Send(ctx, "質問") }()
	<-entered

	// Switch away while the tutor call is in flight.
	other := engine.NewSession(ctx)
	close(tutor.release)
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}

	origin, _ := sessions.Get(originID)
	if len(origin.Messages) != 3 {
		t.Fatalf("reply must land in the originating session, got %d messages", len(origin.Messages))
	}
	current, _ := sessions.Get(other.ID)
	if len(current.Messages) != 1 {
		t.Fatalf("the new session must stay untouched, got %d messages", len(current.Messages))
	}
	for _, call := range player.snapshot() {
		if strings.HasPrefix(call, "play:") {
			t.Fatalf("no playback for an inactive session, got %v", player.snapshot())
		}
	}
}

func TestSend_BlankInputIsNoop(t *testing.T) {
	tutor := &fakeTutor{reply: testReply("ok")}
	engine, sessions := newTestEngine(t, tutor, &fakePlayer{})

	if err := engine.Send(context.Background(), "   "); err != nil {
		t.Fatalf("send: %v", err)
	}
	active, _ := sessions.Active()
	if len(active.Messages) != 1 || tutor.calls != 0 {
		t.Fatalf("blank input must not produce a turn")
	}
}

func TestSend_PlaybackFailureKeepsTranscript(t *testing.T) {
	tutor := &fakeTutor{reply: testReply("こんにちは！")}
	player := &fakePlayer{playErr: errors.New("synthesis failed")}
	engine, sessions := newTestEngine(t, tutor, player)

	if err := engine.Send(context.Background(), "こんにちは"); err != nil {
		t.Fatalf("playback failure must not fail the turn, got %v", err)
	}
	active, _ := sessions.Active()
	if len(active.Messages) != 3 {
		t.Fatalf("transcript must keep the reply, got %d messages", len(active.Messages))
	}
}

func TestToggleSpeak(t *testing.T) {
	player := &fakePlayer{}
	engine, sessions := newTestEngine(t, &fakeTutor{reply: testReply("ok")}, player)

	active, _ := sessions.Active()
	welcome := active.Messages[0]
	if err := engine.ToggleSpeak(context.Background(), welcome.ID); err != nil {
		t.Fatalf("toggle speak: %v", err)
	}
	calls := player.snapshot()
	if len(calls) != 1 || calls[0] != "play:"+welcome.ID {
		t.Fatalf("expected playback request for the welcome message, got %v", calls)
	}

	if err := engine.ToggleSpeak(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for a message outside the active session")
	}
}

func TestClearAll_StopsPlaybackAndReseeds(t *testing.T) {
	player := &fakePlayer{}
	engine, sessions := newTestEngine(t, &fakeTutor{reply: testReply("ok")}, player)
	ctx := context.Background()

	engine.NewSession(ctx)
	engine.NewSession(ctx)
	fresh := engine.ClearAll(ctx)

	all := sessions.Sessions()
	if len(all) != 1 || all[0].ID != fresh.ID {
		t.Fatalf("expected exactly one fresh session, got %d", len(all))
	}
	if len(all[0].Messages) != 1 || all[0].Messages[0].Sender != core.SenderAI {
		t.Fatalf("fresh session must hold only the welcome message")
	}
	found := false
	for _, call := range player.snapshot() {
		if call == "stop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("clear must stop playback, got %v", player.snapshot())
	}
}

func TestSelectSession_UnknownIsSilentNoop(t *testing.T) {
	engine, sessions := newTestEngine(t, &fakeTutor{reply: testReply("ok")}, &fakePlayer{})
	before := sessions.ActiveID()
	if engine.SelectSession(context.Background(), "no-such-id") {
		t.Fatalf("unknown id must not switch")
	}
	if sessions.ActiveID() != before {
		t.Fatalf("active session changed on unknown id")
	}
}

func TestEvents_TurnSequence(t *testing.T) {
	tutor := &fakeTutor{reply: testReply("ok")}
	engine, _ := newTestEngine(t, tutor, &fakePlayer{})

	if err := engine.Send(context.Background(), "こんにちは"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var ids []string
	deadline := time.After(time.Second)
	for len(ids) < 5 {
		select {
		case ev := <-engine.Events():
			ids = append(ids, ev.GetId())
		case <-deadline:
			t.Fatalf("timed out collecting events, got %v", ids)
		}
	}
	want := []string{
		"chat.message_appended",
		"chat.turn_started",
		"chat.feedback_attached",
		"chat.message_appended",
		"chat.turn_ended",
	}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("event[%d] = %s, want %s (all: %v)", i, ids[i], id, ids)
		}
	}
}

func testReply(text string) core.TutorReply {
	return core.TutorReply{
		Text:        text,
		Translation: "翻訳",
		Feedback: core.Feedback{
			Original:    text,
			Corrected:   text,
			Explanation: "よくできました",
			Naturalness: 90,
		},
	}
}
