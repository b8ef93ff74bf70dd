package models

import "time"

// Plan is the subscription tier of a principal, owned by the identity
// provider and mirrored locally per request.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Creation types form a closed set.
const (
	TypeArticle      = "article"
	TypeBlogTitle    = "blog-title"
	TypeImage        = "image"
	TypeResumeReview = "resume-review"
)

// Creation is one persisted generation result. Records are append-only:
// prompt, content and type never change after the insert. Likes is the
// only mutable column.
type Creation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Publish   bool      `json:"publish"`
	Likes     []string  `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the authenticated user as seen by this backend: identity
// provider subject, plan tag and free-usage counter.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Plan      Plan   `json:"plan"`
	FreeUsage int    `json:"free_usage"`
}

// Envelope is the uniform response body shared by every generation
// endpoint: {success, content} on success, {success, message} on failure.
type Envelope struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// UsageInfo reports a principal's quota consumption.
type UsageInfo struct {
	Plan      string `json:"plan"`
	FreeUsage int    `json:"free_usage"`
	FreeLimit int    `json:"free_limit"`
	Remaining int    `json:"remaining"`
}

// GenerateArticleRequest is the body for POST /api/ai/generate-article.
// Length is the caller's requested article size in words.
type GenerateArticleRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=4000"`
	Length int    `json:"length" validate:"omitempty,min=0,max=5000"`
}

// GenerateBlogTitleRequest is the body for POST /api/ai/generate-blog-title.
type GenerateBlogTitleRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=1000"`
}

// GenerateImageRequest is the body for POST /api/ai/generate-image.
type GenerateImageRequest struct {
	Prompt  string `json:"prompt" validate:"required,min=1,max=2000"`
	Publish bool   `json:"publish"`
}

// ToggleLikeRequest is the body for POST /api/user/toggle-like-creation.
type ToggleLikeRequest struct {
	ID int64 `json:"id" validate:"required,min=1"`
}
