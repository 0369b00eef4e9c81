package core

import "time"

// ChatSession is one continuous transcript. Messages stay in insertion
// order; the first entry is always the synthetic welcome message from the
// tutor.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Exchanged returns the messages actually exchanged with the tutor,
// skipping the seeded welcome entry.
func (s *ChatSession) Exchanged() []Message {
	if len(s.Messages) <= 1 {
		return nil
	}
	return s.Messages[1:]
}

// LastAIMessage returns the newest tutor message, if any.
func (s *ChatSession) LastAIMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == SenderAI {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
