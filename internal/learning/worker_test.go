package learning

import (
	"errors"
	"testing"
	"time"

	"github.com/tmplhub/tmplhub/internal/storage"
)

func TestRunOnce_PrunesAndRecomputes(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateTemplate(storage.Template{ID: "tmpl_1", Name: "T"}); err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}

	stale := time.Now().Add(-120 * 24 * time.Hour)
	interactions := []storage.ChatInteraction{
		{ID: "stale-low", TemplateID: "tmpl_1", Question: "q", Response: "r", Source: "static_fallback", LearningScore: 0.2, CreatedAt: stale},
		{ID: "stale-high", TemplateID: "tmpl_1", Question: "q", Response: "r", Source: "groq_api", LearningScore: 0.8, CreatedAt: stale},
		{ID: "fresh-1", TemplateID: "tmpl_1", Question: "q", Response: "r", Source: "groq_api", Category: "credentials", LearningScore: 0.8},
		{ID: "fresh-2", TemplateID: "tmpl_1", Question: "q2", Response: "r", Source: "groq_api", Category: "credentials", LearningScore: 0.8},
	}
	for _, i := range interactions {
		if err := store.SaveInteraction(i); err != nil {
			t.Fatalf("SaveInteraction(%s) failed: %v", i.ID, err)
		}
	}

	w := NewWorker(store, time.Hour)
	if err := w.RunOnce(); err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}

	if _, err := store.GetInteraction("stale-low"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("stale low-score interaction survived the pass")
	}
	for _, id := range []string{"stale-high", "fresh-1", "fresh-2"} {
		if _, err := store.GetInteraction(id); err != nil {
			t.Errorf("interaction %s wrongly pruned: %v", id, err)
		}
	}

	ti, err := store.GetTemplateIntelligence("tmpl_1")
	if err != nil {
		t.Fatalf("GetTemplateIntelligence() failed: %v", err)
	}
	if ti.QuestionCount != 3 {
		t.Errorf("question count = %d, want 3 after pruning", ti.QuestionCount)
	}
	if ti.TopCategory != "credentials" {
		t.Errorf("top category = %q, want credentials", ti.TopCategory)
	}
}

// failingStore triggers the error paths.
type failingStore struct{ err error }

func (f failingStore) PruneInteractions(time.Time, float64) (int64, error) { return 0, f.err }
func (f failingStore) RecomputeTemplateIntelligence() error               { return f.err }

func TestRunOnce_PropagatesStoreErrors(t *testing.T) {
	w := NewWorker(failingStore{err: errors.New("disk full")}, 0)
	if err := w.RunOnce(); err == nil {
		t.Fatal("RunOnce() = nil, want error")
	}
}
