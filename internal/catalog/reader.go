// Package catalog implements the read paths over the template table: public
// listing with derived display fields, ownership-filtered recommendations,
// and the download gate.
package catalog

import (
	"errors"
	"fmt"

	"github.com/tmplhub/tmplhub/internal/storage"
)

// ErrNotOwned gates downloads: the caller has no completed purchase for the
// template.
var ErrNotOwned = errors.New("template not owned")

const (
	listPageSize      = 50
	recommendPageSize = 8
)

// TemplateView is a catalog entry with its derived fields.
type TemplateView struct {
	Template storage.Template
	Features Features
	Owned    bool
	Pending  bool
}

type Reader struct {
	store *storage.Store
}

func NewReader(store *storage.Store) *Reader {
	return &Reader{store: store}
}

// List returns the public catalog. userID may be empty for anonymous
// callers; when set, each entry carries the caller's ownership state.
func (r *Reader) List(userID string) ([]TemplateView, error) {
	templates, err := r.store.ListPublicTemplates(listPageSize)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	owned := map[string]bool{}
	if userID != "" {
		if owned, err = r.store.OwnedTemplateIDs(userID); err != nil {
			return nil, fmt.Errorf("loading owned templates: %w", err)
		}
	}

	views := make([]TemplateView, 0, len(templates))
	for _, t := range templates {
		views = append(views, TemplateView{
			Template: t,
			Features: ExtractFeatures(t.WorkflowJSON),
			Owned:    owned[t.ID],
		})
	}
	return views, nil
}

// Get returns one template with derived fields and records the view.
func (r *Reader) Get(id, userID string) (TemplateView, error) {
	t, err := r.store.GetTemplate(id)
	if err != nil {
		return TemplateView{}, err
	}
	if err := r.store.IncrementViewCount(id); err != nil {
		return TemplateView{}, fmt.Errorf("recording view: %w", err)
	}
	t.ViewCount++

	view := TemplateView{Template: t, Features: ExtractFeatures(t.WorkflowJSON)}
	if userID != "" {
		if view.Owned, err = r.store.HasCompletedPurchase(userID, id); err != nil {
			return TemplateView{}, err
		}
		if view.Pending, err = r.store.HasPendingPurchase(userID, id); err != nil {
			return TemplateView{}, err
		}
	}
	return view, nil
}

// Recommendations returns popularity-ordered public templates the user does
// not own. Exclusion happens in the query and is re-verified here against
// the same predicate the rest of the system uses, so the two paths cannot
// silently diverge.
func (r *Reader) Recommendations(userID string) ([]TemplateView, error) {
	templates, err := r.store.ListRecommendedTemplates(userID, recommendPageSize)
	if err != nil {
		return nil, fmt.Errorf("listing recommendations: %w", err)
	}

	views := make([]TemplateView, 0, len(templates))
	for _, t := range templates {
		owned, err := r.store.HasCompletedPurchase(userID, t.ID)
		if err != nil {
			return nil, err
		}
		if owned {
			continue
		}
		views = append(views, TemplateView{
			Template: t,
			Features: ExtractFeatures(t.WorkflowJSON),
		})
	}
	return views, nil
}

// Download returns the workflow document for an owned template and counts
// the download. Ownership means a completed purchase; pending never unlocks.
func (r *Reader) Download(userID, templateID string) (string, error) {
	t, err := r.store.GetTemplate(templateID)
	if err != nil {
		return "", err
	}
	owned, err := r.store.HasCompletedPurchase(userID, templateID)
	if err != nil {
		return "", err
	}
	if !owned {
		return "", ErrNotOwned
	}
	if err := r.store.IncrementDownloadCount(templateID); err != nil {
		return "", fmt.Errorf("recording download: %w", err)
	}
	return t.WorkflowJSON, nil
}
