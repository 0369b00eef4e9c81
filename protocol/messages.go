package protocol

import (
	"encoding/json"

	"kaiwa/core"
)

// MessageType enumerates all conversation-plane message types.
type MessageType string

const (
	// Client -> server
	MsgHello          MessageType = "hello"
	MsgSendText       MessageType = "send_text"
	MsgSpeechBegin    MessageType = "speech_begin"
	MsgSpeechSegment  MessageType = "speech_segment"
	MsgSpeechError    MessageType = "speech_error"
	MsgSpeechEnd      MessageType = "speech_end"
	MsgInputChanged   MessageType = "input_changed"
	MsgSelectSession  MessageType = "select_session"
	MsgNewSession     MessageType = "new_session"
	MsgClearSessions  MessageType = "clear_sessions"
	MsgToggleSpeak    MessageType = "toggle_speak"
	MsgSaveBookmark   MessageType = "save_bookmark"
	MsgDeleteBookmark MessageType = "delete_bookmark"
	MsgSpeakDone      MessageType = "speak_done"

	// Server -> client
	MsgState            MessageType = "state"
	MsgMessageAppended  MessageType = "message_appended"
	MsgFeedbackAttached MessageType = "feedback_attached"
	MsgTurnState        MessageType = "turn_state"
	MsgSpeakingState    MessageType = "speaking_state"
	MsgInputState       MessageType = "input_state"
	MsgSpeakDirective   MessageType = "speak_directive"
	MsgCancelSpeak      MessageType = "cancel_speak"
	MsgAudioChunk       MessageType = "audio_chunk"
	MsgNotice           MessageType = "notice"
	MsgError            MessageType = "error"
)

// AudioFormat selects how synthesized speech is delivered to a client.
type AudioFormat string

const (
	AudioFormatWAV   AudioFormat = "wav"
	AudioFormatMuLaw AudioFormat = "mulaw"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> server payloads ---

// HelloPayload is sent once by a client immediately after connecting.
type HelloPayload struct {
	ClientID     string      `json:"client_id,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	AudioFormat  AudioFormat `json:"audio_format,omitempty"`
}

// SendTextPayload submits a typed utterance for the current session.
type SendTextPayload struct {
	Text string `json:"text"`
}

// SpeechSegmentPayload carries one recognition result from the client.
// Interim segments replace the previous interim; final segments accumulate.
type SpeechSegmentPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// SpeechErrorPayload reports a recognition failure using the client's
// native error code. The server classifies and describes it.
type SpeechErrorPayload struct {
	Code string `json:"code"`
}

// InputChangedPayload reports a manual edit of the input field.
type InputChangedPayload struct {
	Text string `json:"text"`
}

// SelectSessionPayload switches the active session.
type SelectSessionPayload struct {
	SessionID string `json:"session_id"`
}

// ToggleSpeakPayload toggles playback of one message.
type ToggleSpeakPayload struct {
	MessageID string `json:"message_id"`
}

// SaveBookmarkPayload saves a sentence to the bookmark list.
type SaveBookmarkPayload struct {
	Text        string              `json:"text"`
	Translation string              `json:"translation,omitempty"`
	Source      core.SentenceSource `json:"source"`
	Note        string              `json:"note,omitempty"`
}

// DeleteBookmarkPayload removes a saved sentence.
type DeleteBookmarkPayload struct {
	BookmarkID string `json:"bookmark_id"`
}

// SpeakDonePayload acknowledges that client-side playback finished.
type SpeakDonePayload struct {
	UtteranceID string `json:"utterance_id"`
}

// --- Server -> client payloads ---

// StatePayload is the full conversation snapshot, sent after hello and
// whenever the session list changes shape.
type StatePayload struct {
	Sessions          []core.ChatSession   `json:"sessions"`
	ActiveSessionID   string               `json:"active_session_id"`
	Bookmarks         []core.SavedSentence `json:"bookmarks"`
	Loading           bool                 `json:"loading"`
	SpeakingMessageID string               `json:"speaking_message_id,omitempty"`
	InputText         string               `json:"input_text"`
}

// MessageAppendedPayload carries one new message for a session.
type MessageAppendedPayload struct {
	SessionID string       `json:"session_id"`
	Message   core.Message `json:"message"`
}

// FeedbackAttachedPayload carries feedback for an existing user message.
type FeedbackAttachedPayload struct {
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id"`
	Feedback  core.Feedback `json:"feedback"`
}

// TurnStatePayload reports whether a tutor turn is in flight.
type TurnStatePayload struct {
	SessionID string `json:"session_id"`
	Loading   bool   `json:"loading"`
}

// SpeakingStatePayload reports which message is being spoken, if any.
type SpeakingStatePayload struct {
	MessageID string `json:"message_id,omitempty"`
	Speaking  bool   `json:"speaking"`
}

// InputStatePayload echoes the server-assembled input buffer.
type InputStatePayload struct {
	Text      string `json:"text"`
	Recording bool   `json:"recording"`
}

// SpeakDirectivePayload asks a client with local TTS to speak a message.
type SpeakDirectivePayload struct {
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
}

// CancelSpeakPayload asks the client to stop an in-flight utterance.
type CancelSpeakPayload struct {
	UtteranceID string `json:"utterance_id"`
}

// AudioChunkPayload streams synthesized audio to the client. Data is
// base64-encoded by the JSON layer. Last marks the end of an utterance.
type AudioChunkPayload struct {
	UtteranceID string      `json:"utterance_id"`
	MessageID   string      `json:"message_id,omitempty"`
	Format      AudioFormat `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels"`
	Data        []byte      `json:"data"`
	Last        bool        `json:"last"`
}

// NoticePayload carries a user-facing notice such as a recognition
// failure description.
type NoticePayload struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// ErrorPayload reports a request that could not be handled.
type ErrorPayload struct {
	Message string `json:"message"`
}
