package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kaiwa/conversation"
	"kaiwa/core"
	"kaiwa/protocol"
	"kaiwa/transcript"
)

const (
	sendBufferSize = 256
	writeTimeout   = 10 * time.Second
)

// Client is one WebSocket connection. Each client carries its own input
// buffer so speech assembly follows that client's recording session, and
// its own audio delivery format negotiated in hello.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *zap.Logger

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	audioFormat protocol.AudioFormat
	input       transcript.Builder
}

func newClient(server *Server, conn *websocket.Conn) *Client {
	id := core.NewID()
	return &Client{
		id:          id,
		conn:        conn,
		server:      server,
		logger:      server.logger.With(zap.String("client_id", id)),
		sendCh:      make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		audioFormat: protocol.AudioFormatWAV,
	}
}

// AudioFormat returns the client's negotiated audio delivery format.
func (c *Client) AudioFormat() protocol.AudioFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioFormat
}

func (c *Client) run() {
	c.server.hub.register(c)
	defer c.server.hub.unregister(c)

	go c.writeLoop()
	c.readLoop()
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueueMessage marshals and queues one message for this client.
func (c *Client) enqueueMessage(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		c.logger.Warn("failed to marshal message, dropping",
			zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	c.enqueueRaw(data)
}

// enqueueRaw queues pre-marshalled bytes. When the buffer is full the
// oldest message is dropped so a stalled client cannot block the hub.
func (c *Client) enqueueRaw(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		select {
		case <-c.sendCh:
		default:
		}
		select {
		case c.sendCh <- data:
		default:
		}
	}
}

func (c *Client) sendError(message string) {
	c.enqueueMessage(protocol.MsgError, protocol.ErrorPayload{Message: message})
}

func (c *Client) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("client write failed", zap.Error(err))
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("client connection lost", zap.Error(err))
			}
			return
		}

		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.Warn("invalid message from client", zap.Error(err))
			c.sendError("invalid message")
			continue
		}
		c.dispatch(msgType, payload)
	}
}

func (c *Client) dispatch(msgType protocol.MessageType, raw []byte) {
	switch msgType {
	case protocol.MsgHello:
		p, err := protocol.UnmarshalPayload[protocol.HelloPayload](raw)
		if err != nil {
			c.sendError("invalid hello payload")
			return
		}
		c.handleHello(p)

	case protocol.MsgSendText:
		p, err := protocol.UnmarshalPayload[protocol.SendTextPayload](raw)
		if err != nil {
			c.sendError("invalid send_text payload")
			return
		}
		c.handleSendText(p.Text)

	case protocol.MsgSpeechBegin:
		c.mu.Lock()
		c.input.Begin()
		c.mu.Unlock()
		c.sendInputState()

	case protocol.MsgSpeechSegment:
		p, err := protocol.UnmarshalPayload[protocol.SpeechSegmentPayload](raw)
		if err != nil {
			c.sendError("invalid speech_segment payload")
			return
		}
		c.mu.Lock()
		if p.Final {
			c.input.AddFinal(p.Text)
		} else {
			c.input.SetInterim(p.Text)
		}
		c.mu.Unlock()
		c.sendInputState()

	case protocol.MsgSpeechError:
		p, err := protocol.UnmarshalPayload[protocol.SpeechErrorPayload](raw)
		if err != nil {
			c.sendError("invalid speech_error payload")
			return
		}
		c.handleSpeechError(p.Code)

	case protocol.MsgSpeechEnd:
		c.mu.Lock()
		c.input.End()
		c.mu.Unlock()
		c.sendInputState()

	case protocol.MsgInputChanged:
		p, err := protocol.UnmarshalPayload[protocol.InputChangedPayload](raw)
		if err != nil {
			c.sendError("invalid input_changed payload")
			return
		}
		c.mu.Lock()
		c.input.SetBase(p.Text)
		c.mu.Unlock()

	case protocol.MsgSelectSession:
		p, err := protocol.UnmarshalPayload[protocol.SelectSessionPayload](raw)
		if err != nil {
			c.sendError("invalid select_session payload")
			return
		}
		c.server.engine.SelectSession(c.server.baseCtx, p.SessionID)

	case protocol.MsgNewSession:
		c.server.engine.NewSession(c.server.baseCtx)

	case protocol.MsgClearSessions:
		c.server.engine.ClearAll(c.server.baseCtx)

	case protocol.MsgToggleSpeak:
		p, err := protocol.UnmarshalPayload[protocol.ToggleSpeakPayload](raw)
		if err != nil {
			c.sendError("invalid toggle_speak payload")
			return
		}
		if err := c.server.engine.ToggleSpeak(c.server.baseCtx, p.MessageID); err != nil {
			c.logger.Warn("toggle speak failed", zap.Error(err))
			c.sendError("playback failed")
		}

	case protocol.MsgSaveBookmark:
		p, err := protocol.UnmarshalPayload[protocol.SaveBookmarkPayload](raw)
		if err != nil {
			c.sendError("invalid save_bookmark payload")
			return
		}
		c.server.bookmarks.Save(c.server.baseCtx, p.Text, p.Translation, p.Source, p.Note)
		c.server.broadcastState()

	case protocol.MsgDeleteBookmark:
		p, err := protocol.UnmarshalPayload[protocol.DeleteBookmarkPayload](raw)
		if err != nil {
			c.sendError("invalid delete_bookmark payload")
			return
		}
		c.server.bookmarks.Delete(c.server.baseCtx, p.BookmarkID)
		c.server.broadcastState()

	case protocol.MsgSpeakDone:
		p, err := protocol.UnmarshalPayload[protocol.SpeakDonePayload](raw)
		if err != nil {
			c.sendError("invalid speak_done payload")
			return
		}
		if c.server.acker != nil {
			c.server.acker.Ack(p.UtteranceID)
		}

	default:
		c.logger.Warn("unknown message type from client", zap.String("type", string(msgType)))
		c.sendError("unknown message type")
	}
}

func (c *Client) handleHello(p protocol.HelloPayload) {
	if p.AudioFormat == protocol.AudioFormatMuLaw {
		c.mu.Lock()
		c.audioFormat = protocol.AudioFormatMuLaw
		c.mu.Unlock()
	}
	// A client that declares its capabilities but lacks speech capture gets
	// the keyboard-only notice once, up front.
	if p.Capabilities != nil && !hasCapability(p.Capabilities, "speech") {
		c.enqueueMessage(protocol.MsgNotice, protocol.NoticePayload{
			Kind: string(transcript.KindUnsupported),
			Text: transcript.UnsupportedMessage,
		})
	}
	c.sendState()
}

func hasCapability(caps []string, want string) bool {
	for _, name := range caps {
		if name == want {
			return true
		}
	}
	return false
}

// handleSendText collapses any live recording into the final utterance and
// runs a turn. The turn blocks on the tutor, so it runs off the read loop;
// the engine's own gate refuses overlap.
func (c *Client) handleSendText(text string) {
	c.mu.Lock()
	if c.input.Recording() {
		c.input.End()
	}
	c.input.SetBase("")
	c.mu.Unlock()
	c.sendInputState()

	go func() {
		err := c.server.engine.Send(c.server.baseCtx, text)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrBusy):
			c.sendError("a reply is still in progress")
		default:
			c.logger.Warn("send failed", zap.Error(err))
			c.sendError("send failed")
		}
	}()
}

// handleSpeechError classifies a recognition failure. Silence is
// suppressed; everything else surfaces as a notice in the client's
// language. The recording session ends either way, keeping what was heard.
func (c *Client) handleSpeechError(code string) {
	c.mu.Lock()
	c.input.End()
	c.mu.Unlock()
	c.sendInputState()

	kind := transcript.Classify(code)
	if transcript.Suppressed(kind) {
		return
	}
	c.enqueueMessage(protocol.MsgNotice, protocol.NoticePayload{
		Kind: string(kind),
		Text: transcript.Describe(kind),
	})
}

// sendState delivers a full snapshot to this client, including its own
// input buffer.
func (c *Client) sendState() {
	state := c.server.statePayload()
	c.mu.Lock()
	state.InputText = c.input.Text()
	c.mu.Unlock()
	c.enqueueMessage(protocol.MsgState, state)
}

func (c *Client) sendInputState() {
	c.mu.Lock()
	payload := protocol.InputStatePayload{
		Text:      c.input.Text(),
		Recording: c.input.Recording(),
	}
	c.mu.Unlock()
	c.enqueueMessage(protocol.MsgInputState, payload)
}
