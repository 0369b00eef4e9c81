package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kaiwa/bookmark"
	"kaiwa/conversation"
	"kaiwa/core"
	"kaiwa/events/chat"
	"kaiwa/protocol"
	"kaiwa/session"
)

// maxRequestBodySize bounds REST request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Acker resolves client playback acknowledgements to the active speaker.
type Acker interface {
	Ack(utteranceID string)
}

// Config holds the HTTP/WebSocket surface configuration.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
}

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  1 << 20,
	}
}

// Server is the conversation gateway: a REST surface for one-shot clients,
// a WebSocket surface for the live browser client, and the pump that turns
// engine events into broadcasts.
type Server struct {
	config    Config
	logger    *zap.Logger
	engine    *conversation.Engine
	sessions  *session.Store
	bookmarks *bookmark.Store
	hub       *Hub
	acker     Acker

	upgrader websocket.Upgrader
	router   chi.Router
	baseCtx  context.Context
}

func NewServer(
	config Config,
	engine *conversation.Engine,
	sessions *session.Store,
	bookmarks *bookmark.Store,
	hub *Hub,
	acker Acker,
	logger *zap.Logger,
) *Server {
	def := DefaultConfig()
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = def.WriteBufferSize
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger,
		engine:    engine,
		sessions:  sessions,
		bookmarks: bookmarks,
		hub:       hub,
		acker:     acker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // local single-user tool
			},
		},
		baseCtx: context.Background(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/messages", s.handleSendMessage)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleNewSession)
			r.Delete("/", s.handleClearSessions)
			r.Post("/{id}/select", s.handleSelectSession)
		})

		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", s.handleListBookmarks)
			r.Post("/", s.handleSaveBookmark)
			r.Get("/export", s.handleExportBookmarks)
			r.Delete("/{id}", s.handleDeleteBookmark)
		})
	})

	r.Get("/ws", s.handleWebSocket)
	s.router = r
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	go s.pumpEvents(ctx)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pumpEvents turns engine events into client broadcasts.
func (s *Server) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.engine.Events():
			switch e := ev.(type) {
			case *chat.MessageAppendedEvent:
				s.hub.Broadcast(protocol.MsgMessageAppended, protocol.MessageAppendedPayload{
					SessionID: e.SessionID,
					Message:   e.Message,
				})
			case *chat.FeedbackAttachedEvent:
				s.hub.Broadcast(protocol.MsgFeedbackAttached, protocol.FeedbackAttachedPayload{
					SessionID: e.SessionID,
					MessageID: e.MessageID,
					Feedback:  e.Feedback,
				})
			case *chat.TurnStartedEvent:
				s.hub.Broadcast(protocol.MsgTurnState, protocol.TurnStatePayload{
					SessionID: e.SessionID,
					Loading:   true,
				})
			case *chat.TurnEndedEvent:
				s.hub.Broadcast(protocol.MsgTurnState, protocol.TurnStatePayload{
					SessionID: e.SessionID,
					Loading:   false,
				})
			case *chat.SessionChangedEvent:
				s.broadcastState()
			case *chat.NoticeEvent:
				s.hub.Broadcast(protocol.MsgNotice, protocol.NoticePayload{
					Kind: e.Kind,
					Text: e.Text,
				})
			}
		}
	}
}

func (s *Server) statePayload() protocol.StatePayload {
	return protocol.StatePayload{
		Sessions:          s.sessions.Sessions(),
		ActiveSessionID:   s.sessions.ActiveID(),
		Bookmarks:         s.bookmarks.Sentences(),
		Loading:           s.engine.Loading(),
		SpeakingMessageID: s.hub.SpeakingMessageID(),
	}
}

func (s *Server) broadcastState() {
	s.hub.Broadcast(protocol.MsgState, s.statePayload())
}

// ── REST handlers ─────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.statePayload())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body protocol.SendTextPayload
	if !s.decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.Send(r.Context(), body.Text); err != nil {
		if errors.Is(err, conversation.ErrBusy) {
			s.writeError(w, http.StatusConflict, "a reply is still in progress")
			return
		}
		s.logger.Warn("send failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "send failed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.statePayload())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Sessions        []core.ChatSession `json:"sessions"`
		ActiveSessionID string             `json:"active_session_id"`
	}{
		Sessions:        s.sessions.Sessions(),
		ActiveSessionID: s.sessions.ActiveID(),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sess := s.engine.NewSession(r.Context())
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	sess := s.engine.ClearAll(r.Context())
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	// Unknown ids are a silent no-op, mirroring the UI contract.
	s.engine.SelectSession(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Sentences []core.SavedSentence `json:"sentences"`
	}{Sentences: s.bookmarks.Sentences()})
}

func (s *Server) handleSaveBookmark(w http.ResponseWriter, r *http.Request) {
	var body protocol.SaveBookmarkPayload
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.Source == "" {
		body.Source = core.SourceSelection
	}
	sentence := s.bookmarks.Save(r.Context(), body.Text, body.Translation, body.Source, body.Note)
	s.broadcastState()
	s.writeJSON(w, http.StatusCreated, sentence)
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	s.bookmarks.Delete(r.Context(), chi.URLParam(r, "id"))
	s.broadcastState()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportBookmarks(w http.ResponseWriter, r *http.Request) {
	md := s.bookmarks.ExportMarkdown()
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="bookmarks.md"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, md)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)
	newClient(s, conn).run()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("response marshal failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, protocol.ErrorPayload{Message: message})
}
