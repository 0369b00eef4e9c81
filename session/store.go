package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"kaiwa/core"
	"kaiwa/store"
)

// documentName is the persistent record holding the whole session
// collection.
const documentName = "sessions"

var ErrSessionNotFound = errors.New("session: not found")

// Config carries the seeded-welcome and title settings for new sessions.
type Config struct {
	WelcomeText        string `json:"welcome_text"`
	WelcomeTranslation string `json:"welcome_translation"`
	DefaultTitle       string `json:"default_title"`
	TitleRunes         int    `json:"title_runes"`
}

// DefaultConfig returns the stock Japanese-practice configuration.
func DefaultConfig() Config {
	return Config{
		WelcomeText:        "こんにちは！今日は何について話しましょうか？",
		WelcomeTranslation: "你好！今天我们聊点什么呢？",
		DefaultTitle:       "新しい会話",
		TitleRunes:         10,
	}
}

// document is the persisted shape: the full collection plus the active
// session pointer, always written as one unit.
type document struct {
	ActiveID string             `json:"active_id"`
	Sessions []core.ChatSession `json:"sessions"`
}

// Store owns the ordered session collection. Every mutation rewrites the
// whole persisted document; persistence is best-effort and never fails a
// mutation.
type Store struct {
	config  Config
	logger  *zap.Logger
	backend store.Store

	mu  sync.RWMutex
	doc document
}

func NewStore(config Config, backend store.Store, logger *zap.Logger) *Store {
	if config.TitleRunes <= 0 {
		config.TitleRunes = DefaultConfig().TitleRunes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{config: config, logger: logger, backend: backend}
}

// Load rehydrates the collection from the backend. A missing or corrupt
// document silently yields a single fresh session; corruption is never
// fatal.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Load(ctx, documentName)
	if errors.Is(err, store.ErrNotFound) {
		s.resetLocked(ctx)
		return
	}
	if err != nil {
		s.logger.Warn("session load failed, starting fresh", zap.Error(err))
		s.resetLocked(ctx)
		return
	}

	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("session document corrupt, starting fresh", zap.Error(err))
		s.resetLocked(ctx)
		return
	}
	if err := validateDocument(&doc); err != nil {
		s.logger.Warn("session document invalid, starting fresh", zap.Error(err))
		s.resetLocked(ctx)
		return
	}

	// Repair a dangling active pointer; it must reference an existing
	// session whenever any session exists.
	if _, ok := findSession(doc.Sessions, doc.ActiveID); !ok {
		doc.ActiveID = doc.Sessions[len(doc.Sessions)-1].ID
	}
	s.doc = doc
}

func validateDocument(doc *document) error {
	if len(doc.Sessions) == 0 {
		return errors.New("session: empty collection")
	}
	seenSessions := map[string]bool{}
	for i := range doc.Sessions {
		sess := &doc.Sessions[i]
		if sess.ID == "" || seenSessions[sess.ID] {
			return fmt.Errorf("session: duplicate or missing session id %q", sess.ID)
		}
		seenSessions[sess.ID] = true
		seenMessages := map[string]bool{}
		for j := range sess.Messages {
			m := &sess.Messages[j]
			if err := m.Validate(); err != nil {
				return err
			}
			if seenMessages[m.ID] {
				return fmt.Errorf("session: duplicate message id %s", m.ID)
			}
			seenMessages[m.ID] = true
		}
	}
	return nil
}

// Create starts a new session seeded with the welcome message and makes it
// the active one.
func (s *Store) Create(ctx context.Context) core.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.newSessionLocked()
	s.doc.Sessions = append(s.doc.Sessions, sess)
	s.doc.ActiveID = sess.ID
	s.persistLocked(ctx)
	return copySession(&sess)
}

func (s *Store) newSessionLocked() core.ChatSession {
	welcome := core.NewAIMessage(s.config.WelcomeText, s.config.WelcomeTranslation)
	return core.ChatSession{
		ID:        core.NewID(),
		Title:     s.config.DefaultTitle,
		CreatedAt: time.Now(),
		Messages:  []core.Message{welcome},
	}
}

// Select switches the active session. Unknown ids are a silent no-op; the
// returned flag reports whether a switch happened.
func (s *Store) Select(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := findSession(s.doc.Sessions, id); !ok {
		return false
	}
	if s.doc.ActiveID == id {
		return true
	}
	s.doc.ActiveID = id
	s.persistLocked(ctx)
	return true
}

// AppendUser appends a user message. The session title is derived from the
// first user utterance while the title still holds the default placeholder.
func (s *Store) AppendUser(ctx context.Context, sessionID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Sender != core.SenderUser {
		return fmt.Errorf("session: AppendUser called with %q message", msg.Sender)
	}
	sess, ok := findSession(s.doc.Sessions, sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Title == s.config.DefaultTitle && !hasUserMessage(sess) {
		if title := deriveTitle(msg.Text, s.config.TitleRunes); title != "" {
			sess.Title = title
		}
	}
	sess.Messages = append(sess.Messages, msg)
	s.persistLocked(ctx)
	return nil
}

// AttachFeedback sets feedback on an existing user message. Re-attaching
// overwrites: last write wins.
func (s *Store) AttachFeedback(ctx context.Context, sessionID, messageID string, fb core.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := findSession(s.doc.Sessions, sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	for i := range sess.Messages {
		m := &sess.Messages[i]
		if m.ID != messageID {
			continue
		}
		if m.Sender != core.SenderUser {
			return fmt.Errorf("session: feedback targets non-user message %s", messageID)
		}
		fb.Naturalness = core.ClampScore(fb.Naturalness)
		m.Feedback = &fb
		s.persistLocked(ctx)
		return nil
	}
	return fmt.Errorf("session: message %s not found", messageID)
}

// AppendAI appends a tutor message.
func (s *Store) AppendAI(ctx context.Context, sessionID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Sender != core.SenderAI {
		return fmt.Errorf("session: AppendAI called with %q message", msg.Sender)
	}
	sess, ok := findSession(s.doc.Sessions, sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	sess.Messages = append(sess.Messages, msg)
	s.persistLocked(ctx)
	return nil
}

// ClearAll discards every session and the persisted record, then seeds one
// fresh session.
func (s *Store) ClearAll(ctx context.Context) core.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, documentName); err != nil {
		s.logger.Warn("session document delete failed", zap.Error(err))
	}
	s.resetLocked(ctx)
	return copySession(&s.doc.Sessions[0])
}

// resetLocked replaces the collection with a single fresh session.
func (s *Store) resetLocked(ctx context.Context) {
	sess := s.newSessionLocked()
	s.doc = document{ActiveID: sess.ID, Sessions: []core.ChatSession{sess}}
	s.persistLocked(ctx)
}

// persistLocked serializes the full collection. Failures are logged and
// swallowed; the in-memory state stays authoritative for the session.
func (s *Store) persistLocked(ctx context.Context) {
	data, err := sonic.Marshal(&s.doc)
	if err != nil {
		s.logger.Warn("session document marshal failed", zap.Error(err))
		return
	}
	if err := s.backend.Save(ctx, documentName, data); err != nil {
		s.logger.Warn("session document save failed", zap.Error(err))
	}
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// Sessions returns a copy of the whole collection in creation order.
func (s *Store) Sessions() []core.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ChatSession, len(s.doc.Sessions))
	for i := range s.doc.Sessions {
		out[i] = copySession(&s.doc.Sessions[i])
	}
	return out
}

// ActiveID returns the id of the active session.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ActiveID
}

// Active returns a copy of the active session.
func (s *Store) Active() (core.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := findSession(s.doc.Sessions, s.doc.ActiveID)
	if !ok {
		return core.ChatSession{}, false
	}
	return copySession(sess), true
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (core.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := findSession(s.doc.Sessions, id)
	if !ok {
		return core.ChatSession{}, false
	}
	return copySession(sess), true
}

// Message returns a copy of one message from one session.
func (s *Store) Message(sessionID, messageID string) (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := findSession(s.doc.Sessions, sessionID)
	if !ok {
		return core.Message{}, false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			return sess.Messages[i], true
		}
	}
	return core.Message{}, false
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func findSession(sessions []core.ChatSession, id string) (*core.ChatSession, bool) {
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i], true
		}
	}
	return nil, false
}

func hasUserMessage(sess *core.ChatSession) bool {
	for i := range sess.Messages {
		if sess.Messages[i].Sender == core.SenderUser {
			return true
		}
	}
	return false
}

func copySession(sess *core.ChatSession) core.ChatSession {
	out := *sess
	out.Messages = make([]core.Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	return out
}

// deriveTitle keeps the first max runes of the utterance, marking
// truncation with an ellipsis. Runes, not bytes: titles are routinely CJK.
func deriveTitle(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
