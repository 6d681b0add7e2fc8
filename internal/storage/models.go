package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Purchase lifecycle states. A purchase is created pending at checkout time
// and transitions to completed exactly once, driven by the payment webhook.
const (
	PurchasePending   = "pending"
	PurchaseCompleted = "completed"
)

type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
	Role      string // "user" or "admin"
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	Active    bool
	ClientIP  string
	UserAgent string
	CreatedAt time.Time
}

type Template struct {
	ID            string
	Name          string
	Description   string
	Price         int64 // minor currency units
	Currency      string
	ImageURL      string
	WorkflowJSON  string // opaque workflow document, "" when absent
	Public        bool
	CreatorID     string
	DownloadCount int64
	ViewCount     int64
	Rating        float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Purchase struct {
	ID                string
	UserID            string
	TemplateID        string
	CheckoutSessionID string // provider session id, unique
	Amount            int64
	Currency          string
	Status            string // PurchasePending or PurchaseCompleted
	PurchasedAt       time.Time
	CompletedAt       time.Time // zero until completed
}

type ChatInteraction struct {
	ID            string
	UserID        string
	TemplateID    string // "" when the question had no template context
	Question      string
	Response      string
	Source        string // "learned_response", "groq_api", "smart_fallback", ...
	Category      string // "credentials", "testing", "configuration", ...
	Confidence    float64
	LearningScore float64
	Helpful       *bool // nil until the user gives feedback
	CreatedAt     time.Time
}

// LearnedResponse is an aggregate over past interactions for one exact
// question: a candidate answer with its usage and feedback history.
type LearnedResponse struct {
	Response     string
	Uses         int
	HelpfulRatio float64
}

// TemplateIntelligence is the per-template aggregate recomputed by the
// learning worker from the interaction log.
type TemplateIntelligence struct {
	TemplateID    string
	QuestionCount int
	HelpfulRatio  float64
	TopCategory   string
	UpdatedAt     time.Time
}
