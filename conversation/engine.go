package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kaiwa/core"
	"kaiwa/events/chat"
	"kaiwa/session"
)

// ErrBusy is returned when a send is attempted while a tutor turn is
// already in flight.
var ErrBusy = errors.New("conversation: turn already in flight")

const eventBufferSize = 64

// Tutor produces a conversational reply plus correction feedback for one
// user utterance, given bounded prior history.
type Tutor interface {
	Reply(ctx context.Context, history []core.Message, utterance string) (core.TutorReply, error)
}

// Player serializes tutor speech. The playback controller satisfies this;
// tests inject fakes.
type Player interface {
	Play(ctx context.Context, messageID, text string) error
	Stop()
}

// Config carries the turn-cycle settings.
type Config struct {
	// HistoryLimit bounds how many exchanged messages precede the new
	// utterance in a tutor request.
	HistoryLimit int `json:"history_limit"`
	// FallbackText is appended as a tutor message when the tutor request
	// fails, keeping the conversation usable.
	FallbackText        string `json:"fallback_text"`
	FallbackTranslation string `json:"fallback_translation"`
}

// DefaultConfig returns the stock turn-cycle configuration.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:        12,
		FallbackText:        "すみません、うまく返事ができませんでした。もう一度送ってください。",
		FallbackTranslation: "（抱歉，我没能回复你，请再发送一次。）",
	}
}

// Engine drives one request/response cycle per user turn: append the user
// message, call the tutor, attach feedback, append the reply, trigger
// playback. A loading flag refuses overlapping turns. Each turn is tagged
// with its originating session so a reply landing after a session switch is
// written to the session that asked for it; playback fires only when that
// session is still active.
type Engine struct {
	config   Config
	logger   *zap.Logger
	sessions *session.Store
	tutor    Tutor
	player   Player

	events chan core.IEvent

	mu      sync.Mutex
	loading bool
}

func NewEngine(config Config, sessions *session.Store, tutor Tutor, player Player, logger *zap.Logger) *Engine {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if config.FallbackText == "" {
		def := DefaultConfig()
		config.FallbackText = def.FallbackText
		config.FallbackTranslation = def.FallbackTranslation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:   config,
		logger:   logger,
		sessions: sessions,
		tutor:    tutor,
		player:   player,
		events:   make(chan core.IEvent, eventBufferSize),
	}
}

// Events exposes the engine's event stream. The channel is buffered; slow
// consumers lose events rather than stalling a turn.
func (e *Engine) Events() <-chan core.IEvent {
	return e.events
}

// Loading reports whether a tutor turn is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Send runs one full turn for the active session. Blank input is a no-op.
// Returns ErrBusy while a previous turn is outstanding. A tutor failure is
// not an error here: the fallback message keeps the conversation usable.
func (e *Engine) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return ErrBusy
	}
	e.loading = true
	e.mu.Unlock()

	originID := e.sessions.ActiveID()
	defer func() {
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
		e.publish(&chat.TurnEndedEvent{SessionID: originID})
	}()

	// New user input always interrupts audio.
	e.player.Stop()

	history, err := e.boundedHistory(originID)
	if err != nil {
		return err
	}

	userMsg := core.NewUserMessage(trimmed)
	if err := e.sessions.AppendUser(ctx, originID, userMsg); err != nil {
		return fmt.Errorf("conversation: append user message: %w", err)
	}
	e.publish(&chat.MessageAppendedEvent{SessionID: originID, Message: userMsg})
	e.publish(&chat.TurnStartedEvent{SessionID: originID})

	reply, err := e.tutor.Reply(ctx, history, trimmed)
	if err != nil {
		e.logger.Warn("tutor request failed, inserting fallback",
			zap.String("session_id", originID), zap.Error(err))
		e.appendFallback(ctx, originID)
		return nil
	}

	// Feedback lands on the user message before the reply appears.
	if err := e.sessions.AttachFeedback(ctx, originID, userMsg.ID, reply.Feedback); err != nil {
		e.logger.Warn("feedback attach failed", zap.String("message_id", userMsg.ID), zap.Error(err))
	} else {
		e.publish(&chat.FeedbackAttachedEvent{
			SessionID: originID,
			MessageID: userMsg.ID,
			Feedback:  reply.Feedback,
		})
	}

	aiMsg := core.NewAIMessage(reply.Text, reply.Translation)
	if err := e.sessions.AppendAI(ctx, originID, aiMsg); err != nil {
		return fmt.Errorf("conversation: append tutor message: %w", err)
	}
	e.publish(&chat.MessageAppendedEvent{SessionID: originID, Message: aiMsg})

	// Speak the reply only when its session is still the one on screen.
	if e.sessions.ActiveID() == originID {
		if err := e.player.Play(ctx, aiMsg.ID, aiMsg.Text); err != nil {
			e.logger.Warn("playback failed", zap.String("message_id", aiMsg.ID), zap.Error(err))
		}
	}
	return nil
}

// appendFallback inserts the apology message after a tutor failure. No
// feedback, no playback.
func (e *Engine) appendFallback(ctx context.Context, sessionID string) {
	fallback := core.NewAIMessage(e.config.FallbackText, e.config.FallbackTranslation)
	if err := e.sessions.AppendAI(ctx, sessionID, fallback); err != nil {
		e.logger.Warn("fallback append failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	e.publish(&chat.MessageAppendedEvent{SessionID: sessionID, Message: fallback})
}

// boundedHistory returns the last HistoryLimit exchanged messages of a
// session in chronological order, excluding the synthetic welcome message.
func (e *Engine) boundedHistory(sessionID string) ([]core.Message, error) {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("conversation: %w", session.ErrSessionNotFound)
	}
	exchanged := sess.Exchanged()
	if len(exchanged) > e.config.HistoryLimit {
		exchanged = exchanged[len(exchanged)-e.config.HistoryLimit:]
	}
	return exchanged, nil
}

// ── Session control ───────────────────────────────────────────────────────────

// NewSession creates a fresh session and makes it active.
func (e *Engine) NewSession(ctx context.Context) core.ChatSession {
	sess := e.sessions.Create(ctx)
	e.publish(&chat.SessionChangedEvent{ActiveID: sess.ID})
	return sess
}

// SelectSession switches the active session. Unknown ids are a silent
// no-op.
func (e *Engine) SelectSession(ctx context.Context, id string) bool {
	if !e.sessions.Select(ctx, id) {
		return false
	}
	e.publish(&chat.SessionChangedEvent{ActiveID: id})
	return true
}

// ClearAll stops playback, discards every session and starts over with a
// single fresh one. Bookmarks are untouched.
func (e *Engine) ClearAll(ctx context.Context) core.ChatSession {
	e.player.Stop()
	sess := e.sessions.ClearAll(ctx)
	e.publish(&chat.SessionChangedEvent{ActiveID: sess.ID})
	return sess
}

// ── Playback control ──────────────────────────────────────────────────────────

// ToggleSpeak requests playback for one message of the active session. The
// controller applies toggle semantics for the message already speaking.
func (e *Engine) ToggleSpeak(ctx context.Context, messageID string) error {
	msg, ok := e.sessions.Message(e.sessions.ActiveID(), messageID)
	if !ok {
		return fmt.Errorf("conversation: message %s not in active session", messageID)
	}
	return e.player.Play(ctx, msg.ID, msg.Text)
}

// StopSpeaking halts any current playback.
func (e *Engine) StopSpeaking() {
	e.player.Stop()
}

// publish emits an event without ever blocking a turn.
func (e *Engine) publish(ev core.IEvent) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event buffer full, dropping event", zap.String("event", ev.GetId()))
	}
}
