package core

import "time"

// SentenceSource tags where a saved sentence came from.
type SentenceSource string

const (
	SourceReply      SentenceSource = "ai-reply"
	SourceCorrection SentenceSource = "ai-correction"
	SourceSelection  SentenceSource = "manual-selection"
)

// SavedSentence is a bookmarked sentence. Its lifecycle is independent of
// any session: clearing chat history leaves bookmarks untouched.
type SavedSentence struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Translation string         `json:"translation,omitempty"`
	Source      SentenceSource `json:"source"`
	Note        string         `json:"note,omitempty"`
	SavedAt     time.Time      `json:"saved_at"`
}
