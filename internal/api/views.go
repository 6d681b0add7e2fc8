package api

import (
	"time"

	"github.com/tmplhub/tmplhub/internal/catalog"
	"github.com/tmplhub/tmplhub/internal/storage"
)

// The storage layer speaks snake_case columns; clients get camelCase fields.
// Each entity is remapped in exactly one place here.

type templateJSON struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         int64    `json:"price"`
	Currency      string   `json:"currency"`
	ImageURL      string   `json:"imageUrl"`
	StepCount     int      `json:"stepCount"`
	Services      []string `json:"services"`
	DownloadCount int64    `json:"downloadCount"`
	ViewCount     int64    `json:"viewCount"`
	Rating        float64  `json:"rating"`
	Owned         bool     `json:"owned"`
	Pending       bool     `json:"pending,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

func toTemplateJSON(v catalog.TemplateView) templateJSON {
	t := v.Template
	return templateJSON{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		Price:         t.Price,
		Currency:      t.Currency,
		ImageURL:      t.ImageURL,
		StepCount:     v.Features.StepCount,
		Services:      v.Features.Services,
		DownloadCount: t.DownloadCount,
		ViewCount:     t.ViewCount,
		Rating:        t.Rating,
		Owned:         v.Owned,
		Pending:       v.Pending,
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toTemplateListJSON(views []catalog.TemplateView) []templateJSON {
	out := make([]templateJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toTemplateJSON(v))
	}
	return out
}

type purchaseJSON struct {
	ID            string `json:"id"`
	TemplateID    string `json:"templateId"`
	TemplateName  string `json:"templateName"`
	TemplateImage string `json:"templateImage"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PurchasedAt   string `json:"purchasedAt"`
	CompletedAt   string `json:"completedAt,omitempty"`
}

func toPurchaseJSON(p storage.PurchaseWithTemplate) purchaseJSON {
	out := purchaseJSON{
		ID:            p.ID,
		TemplateID:    p.TemplateID,
		TemplateName:  p.TemplateName,
		TemplateImage: p.TemplateImage,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		PurchasedAt:   p.PurchasedAt.UTC().Format(time.RFC3339),
	}
	if !p.CompletedAt.IsZero() {
		out.CompletedAt = p.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type userJSON struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Role      string `json:"role"`
}

func toUserJSON(u storage.User) userJSON {
	return userJSON{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Role:      u.Role,
	}
}
