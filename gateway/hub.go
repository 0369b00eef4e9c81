package gateway

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kaiwa/audio"
	"kaiwa/core"
	"kaiwa/protocol"
)

// Hub tracks connected WebSocket clients and fans server messages out to
// them. It also remembers which message is currently speaking so state
// snapshots for late joiners are accurate.
type Hub struct {
	logger *zap.Logger

	mu         sync.RWMutex
	clients    map[*Client]bool
	speakingID string
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", zap.String("client_id", c.id), zap.Int("clients", count))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", zap.String("client_id", c.id), zap.Int("clients", count))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast marshals one message and enqueues it to every client.
func (h *Hub) Broadcast(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		h.logger.Warn("broadcast marshal failed, dropping",
			zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	for _, c := range h.snapshot() {
		c.enqueueRaw(data)
	}
}

// NotifySpeaking records and broadcasts a speaking-state transition. Wired
// as the playback controller's notify callback.
func (h *Hub) NotifySpeaking(messageID string, speaking bool) {
	h.mu.Lock()
	if speaking {
		h.speakingID = messageID
	} else if h.speakingID == messageID {
		h.speakingID = ""
	}
	h.mu.Unlock()

	h.Broadcast(protocol.MsgSpeakingState, protocol.SpeakingStatePayload{
		MessageID: messageID,
		Speaking:  speaking,
	})
}

// SpeakingMessageID returns the message currently being spoken, or empty.
func (h *Hub) SpeakingMessageID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.speakingID
}

// SendAudio delivers one synthesized utterance to every client, converted
// to each client's negotiated delivery format.
func (h *Hub) SendAudio(utteranceID string, chunk core.AudioChunk) {
	for _, c := range h.snapshot() {
		payload, err := buildAudioPayload(utteranceID, chunk, c.AudioFormat())
		if err != nil {
			h.logger.Warn("audio conversion failed for client",
				zap.String("client_id", c.id), zap.Error(err))
			continue
		}
		c.enqueueMessage(protocol.MsgAudioChunk, payload)
	}
}

// buildAudioPayload renders a PCM chunk into the client's wire format:
// a self-contained WAV blob, or 8kHz µ-law for low-bandwidth clients.
func buildAudioPayload(utteranceID string, chunk core.AudioChunk, format protocol.AudioFormat) (protocol.AudioChunkPayload, error) {
	switch format {
	case protocol.AudioFormatMuLaw:
		converted, err := audio.ConvertAudioChunk(chunk, core.ULAW, 1, 8000)
		if err != nil {
			return protocol.AudioChunkPayload{}, fmt.Errorf("gateway: to µ-law: %w", err)
		}
		return protocol.AudioChunkPayload{
			UtteranceID: utteranceID,
			Format:      protocol.AudioFormatMuLaw,
			SampleRate:  converted.SampleRate,
			Channels:    converted.Channels,
			Data:        *converted.Data,
			Last:        true,
		}, nil
	default:
		wav, err := audio.PCMBytesToWavBytes(*chunk.Data, chunk.Channels, chunk.SampleRate)
		if err != nil {
			return protocol.AudioChunkPayload{}, fmt.Errorf("gateway: to wav: %w", err)
		}
		return protocol.AudioChunkPayload{
			UtteranceID: utteranceID,
			Format:      protocol.AudioFormatWAV,
			SampleRate:  chunk.SampleRate,
			Channels:    chunk.Channels,
			Data:        wav,
			Last:        true,
		}, nil
	}
}
