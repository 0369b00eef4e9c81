package bookmark

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"kaiwa/core"
	"kaiwa/store"
)

// documentName is the persistent record holding the bookmark collection,
// independent of the session record.
const documentName = "bookmarks"

// document is the persisted shape, written as one unit on every mutation.
type document struct {
	Sentences []core.SavedSentence `json:"sentences"`
}

// Store owns the flat saved-sentence collection, most recent first.
type Store struct {
	logger  *zap.Logger
	backend store.Store

	mu  sync.RWMutex
	doc document
}

func NewStore(backend store.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger, backend: backend}
}

// Load rehydrates the collection. Missing or corrupt data silently yields
// an empty collection.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Load(ctx, documentName)
	if errors.Is(err, store.ErrNotFound) {
		s.doc = document{}
		return
	}
	if err != nil {
		s.logger.Warn("bookmark load failed, starting empty", zap.Error(err))
		s.doc = document{}
		return
	}
	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("bookmark document corrupt, starting empty", zap.Error(err))
		s.doc = document{}
		return
	}
	s.doc = doc
}

// Save prepends a new sentence so the collection reads most recent first.
// One record per explicit save action.
func (s *Store) Save(ctx context.Context, text, translation string, source core.SentenceSource, note string) core.SavedSentence {
	s.mu.Lock()
	defer s.mu.Unlock()
	sentence := core.SavedSentence{
		ID:          core.NewID(),
		Text:        text,
		Translation: translation,
		Source:      source,
		Note:        note,
		SavedAt:     time.Now(),
	}
	s.doc.Sentences = append([]core.SavedSentence{sentence}, s.doc.Sentences...)
	s.persistLocked(ctx)
	return sentence
}

// Delete removes a sentence by id. Absent ids are a no-op; the returned
// flag reports whether anything was removed.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Sentences {
		if s.doc.Sentences[i].ID == id {
			s.doc.Sentences = append(s.doc.Sentences[:i], s.doc.Sentences[i+1:]...)
			s.persistLocked(ctx)
			return true
		}
	}
	return false
}

// Sentences returns a copy of the collection, most recent first.
func (s *Store) Sentences() []core.SavedSentence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SavedSentence, len(s.doc.Sentences))
	copy(out, s.doc.Sentences)
	return out
}

func (s *Store) persistLocked(ctx context.Context) {
	data, err := sonic.Marshal(&s.doc)
	if err != nil {
		s.logger.Warn("bookmark document marshal failed", zap.Error(err))
		return
	}
	if err := s.backend.Save(ctx, documentName, data); err != nil {
		s.logger.Warn("bookmark document save failed", zap.Error(err))
	}
}

// sourceLabels name each source tag in the exported document.
var sourceLabels = map[core.SentenceSource]string{
	core.SourceReply:      "AI回复",
	core.SourceCorrection: "AI纠正",
	core.SourceSelection:  "手动选择",
}

// ExportMarkdown renders the collection as a Markdown document: one section
// per sentence with its source tag, original text, optional translation and
// optional note.
func (s *Store) ExportMarkdown() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.WriteString("# 收藏的句子\n\n")
	if len(s.doc.Sentences) == 0 {
		b.WriteString("（还没有收藏任何句子）\n")
		return b.String()
	}
	for i := range s.doc.Sentences {
		sentence := &s.doc.Sentences[i]
		label, ok := sourceLabels[sentence.Source]
		if !ok {
			label = string(sentence.Source)
		}
		b.WriteString("## ")
		b.WriteString(sentence.Text)
		b.WriteString("\n\n")
		b.WriteString("- 来源：")
		b.WriteString(label)
		b.WriteString("\n")
		if sentence.Translation != "" {
			b.WriteString("- 翻译：")
			b.WriteString(sentence.Translation)
			b.WriteString("\n")
		}
		if sentence.Note != "" {
			b.WriteString("- 笔记：")
			b.WriteString(sentence.Note)
			b.WriteString("\n")
		}
		b.WriteString("- 收藏时间：")
		b.WriteString(sentence.SavedAt.Format("2006-01-02 15:04"))
		b.WriteString("\n\n")
	}
	return b.String()
}
