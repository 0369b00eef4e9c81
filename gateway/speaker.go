package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kaiwa/audio"
	"kaiwa/core"
	"kaiwa/playback"
	"kaiwa/protocol"
	gemini "kaiwa/services/gemini/tts"
)

const (
	// ackGracePeriod pads the estimated playout duration before an
	// unacknowledged cloud utterance is considered finished.
	ackGracePeriod = 2 * time.Second
	// clientSpeakTimeout caps how long a browser-side utterance may stay
	// pending without an ack.
	clientSpeakTimeout = 60 * time.Second
)

// utterance tracks one piece of speech handed to clients for playout.
type utterance struct {
	id     string
	done   chan struct{}
	once   sync.Once
	timer  *time.Timer
	onStop func()
}

func (u *utterance) Done() <-chan struct{} {
	return u.done
}

// finish marks natural completion (ack received or playout window elapsed).
func (u *utterance) finish() {
	u.once.Do(func() {
		close(u.done)
	})
}

// Stop halts playout early and tells clients to drop the audio.
func (u *utterance) Stop() {
	u.once.Do(func() {
		if u.timer != nil {
			u.timer.Stop()
		}
		if u.onStop != nil {
			u.onStop()
		}
		close(u.done)
	})
}

// ackTable maps in-flight utterance ids to their completion handles. Both
// speakers embed it, which also gives them the Acker surface the gateway
// routes speak_done messages to.
type ackTable struct {
	mu      sync.Mutex
	pending map[string]*utterance
}

func (t *ackTable) track(u *utterance) {
	t.mu.Lock()
	if t.pending == nil {
		t.pending = make(map[string]*utterance)
	}
	t.pending[u.id] = u
	t.mu.Unlock()
}

// settle completes an utterance and drops it from the table.
func (t *ackTable) settle(id string) {
	t.mu.Lock()
	u, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ok {
		u.finish()
	}
}

func (t *ackTable) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Ack marks an utterance as played out on the client.
func (t *ackTable) Ack(utteranceID string) {
	t.settle(utteranceID)
}

// ── Cloud speaker ─────────────────────────────────────────────────────────────

// CloudSpeaker synthesizes replies with the hosted voice service and pushes
// the audio to connected clients. Playout happens on the client; completion
// is signalled by a speak_done ack, with the audio duration plus a grace
// period as the fallback for clients that never ack.
type CloudSpeaker struct {
	ackTable
	tts    *gemini.Service
	hub    *Hub
	logger *zap.Logger
}

func NewCloudSpeaker(tts *gemini.Service, hub *Hub, logger *zap.Logger) *CloudSpeaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudSpeaker{tts: tts, hub: hub, logger: logger}
}

func (s *CloudSpeaker) Speak(ctx context.Context, text string) (playback.Utterance, error) {
	chunk, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("speaker: synthesis failed: %w", err)
	}
	if chunk.Data != nil {
		stripped, err := audio.StripWAVHeaderIfPresent(*chunk.Data)
		if err != nil {
			return nil, fmt.Errorf("speaker: malformed synthesis audio: %w", err)
		}
		chunk.Data = &stripped
	}

	u := &utterance{id: core.NewID(), done: make(chan struct{})}
	u.onStop = func() {
		s.hub.Broadcast(protocol.MsgCancelSpeak, protocol.CancelSpeakPayload{UtteranceID: u.id})
		s.forget(u.id)
	}
	s.track(u)

	s.hub.SendAudio(u.id, chunk)
	s.logger.Debug("utterance dispatched",
		zap.String("utterance_id", u.id),
		zap.Float64("duration_sec", chunk.GetDurationInSeconds()))

	wait := time.Duration(chunk.GetDurationInSeconds()*float64(time.Second)) + ackGracePeriod
	u.timer = time.AfterFunc(wait, func() {
		s.settle(u.id)
	})
	return u, nil
}

// ── Client speaker ────────────────────────────────────────────────────────────

// ClientSpeaker delegates synthesis to the browser's own speech facility
// when no cloud voice is configured. The server only brokers directives and
// acks; it never sees audio bytes.
type ClientSpeaker struct {
	ackTable
	hub    *Hub
	logger *zap.Logger
}

func NewClientSpeaker(hub *Hub, logger *zap.Logger) *ClientSpeaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientSpeaker{hub: hub, logger: logger}
}

func (s *ClientSpeaker) Speak(ctx context.Context, text string) (playback.Utterance, error) {
	u := &utterance{id: core.NewID(), done: make(chan struct{})}
	u.onStop = func() {
		s.hub.Broadcast(protocol.MsgCancelSpeak, protocol.CancelSpeakPayload{UtteranceID: u.id})
		s.forget(u.id)
	}
	s.track(u)

	s.hub.Broadcast(protocol.MsgSpeakDirective, protocol.SpeakDirectivePayload{
		UtteranceID: u.id,
		Text:        text,
	})
	u.timer = time.AfterFunc(clientSpeakTimeout, func() {
		s.settle(u.id)
	})
	return u, nil
}
