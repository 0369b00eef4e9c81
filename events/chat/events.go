package chat

import "kaiwa/core"

// TurnStartedEvent marks the beginning of one tutor request cycle.
type TurnStartedEvent struct {
	SessionID string
}

func (e *TurnStartedEvent) GetId() string {
	return "chat.turn_started"
}

// TurnEndedEvent marks the end of a cycle, successful or not.
type TurnEndedEvent struct {
	SessionID string
}

func (e *TurnEndedEvent) GetId() string {
	return "chat.turn_ended"
}

type MessageAppendedEvent struct {
	SessionID string
	Message   core.Message
}

func (e *MessageAppendedEvent) GetId() string {
	return "chat.message_appended"
}

type FeedbackAttachedEvent struct {
	SessionID string
	MessageID string
	Feedback  core.Feedback
}

func (e *FeedbackAttachedEvent) GetId() string {
	return "chat.feedback_attached"
}

// SessionChangedEvent fires when the active session switches, a session is
// created, or the collection is cleared.
type SessionChangedEvent struct {
	ActiveID string
}

func (e *SessionChangedEvent) GetId() string {
	return "chat.session_changed"
}

// NoticeEvent carries a user-facing notice such as a tutor failure.
type NoticeEvent struct {
	Kind string
	Text string
}

func (e *NoticeEvent) GetId() string {
	return "chat.notice"
}
