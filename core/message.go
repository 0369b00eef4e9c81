package core

import (
	"fmt"
	"time"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Feedback is the tutor's correction for a single user utterance.
// Attached at most once per message by the orchestrator.
type Feedback struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
	Naturalness int    `json:"naturalness"` // 0 to 100, higher is more idiomatic
}

// ClampScore bounds a naturalness score to the 0 to 100 scale.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Message is one entry in a chat transcript. The sender discriminates two
// variants: user messages may carry correction feedback, AI messages may
// carry a translation. Construct them through NewUserMessage and
// NewAIMessage so a variant never holds the other side's fields.
type Message struct {
	ID          string    `json:"id"`
	Sender      Sender    `json:"sender"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	Feedback    *Feedback `json:"feedback,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUserMessage creates a user-sent message. Feedback is attached later,
// once the tutor has responded.
func NewUserMessage(text string) Message {
	return Message{
		ID:        NewID(),
		Sender:    SenderUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewAIMessage creates a tutor message with an optional translation.
func NewAIMessage(text, translation string) Message {
	return Message{
		ID:          NewID(),
		Sender:      SenderAI,
		Text:        text,
		Translation: translation,
		CreatedAt:   time.Now(),
	}
}

// Validate checks the variant rules after deserialization: only user
// messages carry feedback, only AI messages carry a translation.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("core: message without id")
	}
	switch m.Sender {
	case SenderUser:
		if m.Translation != "" {
			return fmt.Errorf("core: user message %s carries a translation", m.ID)
		}
	case SenderAI:
		if m.Feedback != nil {
			return fmt.Errorf("core: ai message %s carries feedback", m.ID)
		}
	default:
		return fmt.Errorf("core: message %s has unknown sender %q", m.ID, m.Sender)
	}
	return nil
}
