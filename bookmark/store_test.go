package bookmark

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"kaiwa/core"
	"kaiwa/store"
)

func newTestStore(t *testing.T) (*Store, *store.MemoryStore) {
	t.Helper()
	backend := store.NewMemoryStore()
	s := NewStore(backend, nil)
	s.Load(context.Background())
	return s, backend
}

func TestSave_PrependsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Save(ctx, "古い", "old", core.SourceReply, "")
	s.Save(ctx, "新しい", "new", core.SourceCorrection, "")

	got := s.Sentences()
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d", len(got))
	}
	if got[0].Text != "新しい" || got[1].Text != "古い" {
		t.Fatalf("expected most-recent-first ordering, got %q then %q", got[0].Text, got[1].Text)
	}
}

func TestSaveThenDelete_RestoresPriorContents(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Save(ctx, "keep me", "", core.SourceReply, "")
	s.Save(ctx, "and me", "", core.SourceSelection, "note")
	before := s.Sentences()

	added := s.Save(ctx, "temporary", "", core.SourceCorrection, "")
	if !s.Delete(ctx, added.ID) {
		t.Fatalf("expected delete to remove the sentence")
	}

	after := s.Sentences()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("collection changed across save+delete:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestDelete_AbsentIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Save(ctx, "text", "", core.SourceReply, "")
	if s.Delete(ctx, "missing") {
		t.Fatalf("deleting an absent id must report false")
	}
	if len(s.Sentences()) != 1 {
		t.Fatalf("collection must be untouched")
	}
}

func TestLoad_CorruptDocumentFallsBackEmpty(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	if err := backend.Save(ctx, "bookmarks", []byte("][")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := NewStore(backend, nil)
	s.Load(ctx)
	if len(s.Sentences()) != 0 {
		t.Fatalf("corrupt document must yield an empty collection")
	}
}

func TestMutationsPersist(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)
	saved := s.Save(ctx, "残す", "保留", core.SourceReply, "")

	reloaded := NewStore(backend, nil)
	reloaded.Load(ctx)
	got := reloaded.Sentences()
	if len(got) != 1 || got[0].ID != saved.ID {
		t.Fatalf("saved sentence lost across reload: %+v", got)
	}
	if !got[0].SavedAt.Equal(saved.SavedAt) {
		t.Fatalf("timestamp not reconstructed")
	}

	s.Delete(ctx, saved.ID)
	reloaded2 := NewStore(backend, nil)
	reloaded2.Load(ctx)
	if len(reloaded2.Sentences()) != 0 {
		t.Fatalf("deletion must persist")
	}
}

func TestExportMarkdown_ListsAllFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Save(ctx, "お疲れ様です", "辛苦了", core.SourceReply, "职场常用")
	s.Save(ctx, "只有原文", "", core.SourceSelection, "")

	md := s.ExportMarkdown()
	for _, want := range []string{
		"# 收藏的句子",
		"## お疲れ様です",
		"来源：AI回复",
		"翻译：辛苦了",
		"笔记：职场常用",
		"## 只有原文",
		"来源：手动选择",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("export missing %q in:\n%s", want, md)
		}
	}
	// Optional fields stay out of sections that lack them.
	section := md[strings.Index(md, "## 只有原文"):]
	if strings.Contains(section, "翻译：") || strings.Contains(section, "笔记：") {
		t.Fatalf("optional fields leaked into bare section:\n%s", section)
	}
}

func TestExportMarkdown_EmptyCollection(t *testing.T) {
	s, _ := newTestStore(t)
	md := s.ExportMarkdown()
	if !strings.Contains(md, "还没有收藏") {
		t.Fatalf("empty export should say so, got:\n%s", md)
	}
}
