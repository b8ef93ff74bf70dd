package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/quillbox/quillbox/pkg/api/errors"
	"github.com/quillbox/quillbox/pkg/media"
	"github.com/quillbox/quillbox/pkg/metrics"
	"github.com/quillbox/quillbox/pkg/models"
	"github.com/quillbox/quillbox/pkg/quota"
	"github.com/quillbox/quillbox/pkg/resume"
)

// TextGenerator produces completions from the generative-language provider.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithLimit(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ImageGenerator produces and edits raw image bytes.
type ImageGenerator interface {
	TextToImage(ctx context.Context, prompt string) ([]byte, error)
	RemoveBackground(ctx context.Context, image io.Reader, filename string) ([]byte, error)
}

// MediaStore persists image bytes and composes public URLs.
type MediaStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	RemovalURL(key, label string) (string, error)
}

// CreationStore appends generation results.
type CreationStore interface {
	Create(ctx context.Context, c *models.Creation) error
}

// UsageStore claims and releases free-tier generation slots.
type UsageStore interface {
	TryAcquire(ctx context.Context, userID string, limit int) (bool, error)
	Release(ctx context.Context, userID string) error
}

// AIHandler handles the generation endpoints
type AIHandler struct {
	llm        TextGenerator
	images     ImageGenerator
	media      MediaStore
	creations  CreationStore
	usage      UsageStore
	metrics    *metrics.Metrics
	validator  *validator.Validate
	scratchDir string
}

// NewAIHandler creates a new AI handler
func NewAIHandler(llm TextGenerator, images ImageGenerator, mediaStore MediaStore, creations CreationStore, usageStore UsageStore, m *metrics.Metrics, scratchDir string) *AIHandler {
	return &AIHandler{
		llm:        llm,
		images:     images,
		media:      mediaStore,
		creations:  creations,
		usage:      usageStore,
		metrics:    m,
		validator:  validator.New(),
		scratchDir: scratchDir,
	}
}

// principal is the per-request view populated by the session middleware.
type principal struct {
	ID        string
	Plan      models.Plan
	FreeUsage int
}

func principalFrom(c echo.Context) (principal, bool) {
	id, ok := c.Get("user_id").(string)
	if !ok || id == "" {
		return principal{}, false
	}
	plan, _ := c.Get("user_plan").(string)
	usage, _ := c.Get("free_usage").(int)
	return principal{ID: id, Plan: models.Plan(plan), FreeUsage: usage}, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.Envelope{
		Success: false,
		Message: "Unauthorized",
	})
}

// gate runs the quota policy and, for free-tier-limited features, claims
// a usage slot. When done is true the response has already been written
// and the handler must stop, returning err as-is. The envelope helpers
// return the JSON write result, which is nil on success, so denial is
// signaled separately rather than through the error value.
func (h *AIHandler) gate(c echo.Context, p principal, class quota.FeatureClass) (release func(), done bool, err error) {
	d := quota.Decide(p.Plan, p.FreeUsage, class)
	if !d.Allowed {
		h.metrics.RecordQuotaDenial(string(class))
		return nil, true, errors.QuotaDenied(c, d.Reason)
	}

	// Premium principals never consume the counter.
	if p.Plan == models.PlanPremium || class != quota.FreeTierLimited {
		return func() {}, false, nil
	}

	// The conditional increment closes the read-check-then-act race:
	// concurrent requests cannot push the counter past the cap.
	ok, acquireErr := h.usage.TryAcquire(c.Request().Context(), p.ID, quota.FreeUsageLimit)
	if acquireErr != nil {
		return nil, true, errors.Persistence(c, acquireErr)
	}
	if !ok {
		h.metrics.RecordQuotaDenial(string(class))
		return nil, true, errors.QuotaDenied(c, quota.MsgFreeLimitReached)
	}

	// The claimed slot is handed back if the generation fails, so the
	// counter only ever reflects successful generations.
	return func() {
		if err := h.usage.Release(context.Background(), p.ID); err != nil {
			c.Logger().Errorf("failed to release usage slot for %s: %v", p.ID, err)
		}
	}, false, nil
}

// GenerateArticle handles POST /api/ai/generate-article
func (h *AIHandler) GenerateArticle(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.GenerateArticleRequest
	if err := c.Bind(&req); err != nil {
		return errors.Validation(c, "Invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return errors.Validation(c, "A prompt is required")
	}

	release, done, err := h.gate(c, p, quota.FreeTierLimited)
	if done {
		return err
	}

	// The requested length is in words; leave headroom in tokens.
	maxTokens := 0
	if req.Length > 0 {
		maxTokens = req.Length * 2
	}

	content, err := h.llm.CompleteWithLimit(c.Request().Context(), req.Prompt, maxTokens)
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("llm")
		return errors.Upstream(c, err)
	}

	return h.persist(c, &models.Creation{
		UserID:  p.ID,
		Prompt:  req.Prompt,
		Content: content,
		Type:    models.TypeArticle,
	}, release)
}

// GenerateBlogTitle handles POST /api/ai/generate-blog-title
func (h *AIHandler) GenerateBlogTitle(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.GenerateBlogTitleRequest
	if err := c.Bind(&req); err != nil {
		return errors.Validation(c, "Invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return errors.Validation(c, "A prompt is required")
	}

	release, done, err := h.gate(c, p, quota.FreeTierLimited)
	if done {
		return err
	}

	// Titles are short; cap the completion accordingly.
	content, err := h.llm.CompleteWithLimit(c.Request().Context(), req.Prompt, 100)
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("llm")
		return errors.Upstream(c, err)
	}

	return h.persist(c, &models.Creation{
		UserID:  p.ID,
		Prompt:  req.Prompt,
		Content: content,
		Type:    models.TypeBlogTitle,
	}, release)
}

// GenerateImage handles POST /api/ai/generate-image
func (h *AIHandler) GenerateImage(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.GenerateImageRequest
	if err := c.Bind(&req); err != nil {
		return errors.Validation(c, "Invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return errors.Validation(c, "A prompt is required")
	}

	release, done, err := h.gate(c, p, quota.PremiumOnly)
	if done {
		return err
	}

	data, err := h.images.TextToImage(c.Request().Context(), req.Prompt)
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("clipdrop")
		return errors.Upstream(c, err)
	}

	key := fmt.Sprintf("creations/%s.png", uuid.NewString())
	url, err := h.media.Upload(c.Request().Context(), key, bytes.NewReader(data), "image/png")
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("media")
		return errors.Upstream(c, err)
	}
	h.metrics.RecordUpload("generated")

	return h.persist(c, &models.Creation{
		UserID:  p.ID,
		Prompt:  req.Prompt,
		Content: url,
		Type:    models.TypeImage,
		Publish: req.Publish,
	}, release)
}

// RemoveImageBackground handles POST /api/ai/remove-image-background
func (h *AIHandler) RemoveImageBackground(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	release, done, err := h.gate(c, p, quota.PremiumOnly)
	if done {
		return err
	}

	header, err := c.FormFile("image")
	if err != nil {
		release()
		return errors.Validation(c, "No image uploaded.")
	}

	path, cleanup, err := h.spool(header)
	if err != nil {
		release()
		return errors.Persistence(c, err)
	}
	defer cleanup()

	file, err := os.Open(path)
	if err != nil {
		release()
		return errors.Persistence(c, err)
	}
	defer file.Close()

	data, err := h.images.RemoveBackground(c.Request().Context(), file, header.Filename)
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("clipdrop")
		return errors.Upstream(c, err)
	}

	key := fmt.Sprintf("creations/%s.png", uuid.NewString())
	url, err := h.media.Upload(c.Request().Context(), key, bytes.NewReader(data), "image/png")
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("media")
		return errors.Upstream(c, err)
	}
	h.metrics.RecordUpload("background-removed")

	return h.persist(c, &models.Creation{
		UserID:  p.ID,
		Prompt:  "Remove background from image",
		Content: url,
		Type:    models.TypeImage,
	}, release)
}

// RemoveImageObject handles POST /api/ai/remove-image-object
func (h *AIHandler) RemoveImageObject(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	release, done, err := h.gate(c, p, quota.PremiumOnly)
	if done {
		return err
	}

	object := c.FormValue("object")
	// The label ends up inside a CDN edit directive, so it is validated
	// before any upload happens.
	if err := media.ValidateRemovalLabel(object); err != nil {
		release()
		return errors.Validation(c, err.Error())
	}

	header, err := c.FormFile("image")
	if err != nil {
		release()
		return errors.Validation(c, "No image uploaded.")
	}

	path, cleanup, err := h.spool(header)
	if err != nil {
		release()
		return errors.Persistence(c, err)
	}
	defer cleanup()

	file, err := os.Open(path)
	if err != nil {
		release()
		return errors.Persistence(c, err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	key := fmt.Sprintf("creations/%s%s", uuid.NewString(), filepath.Ext(header.Filename))
	if _, err := h.media.Upload(c.Request().Context(), key, file, contentType); err != nil {
		release()
		h.metrics.RecordUpstreamFailure("media")
		return errors.Upstream(c, err)
	}
	h.metrics.RecordUpload("original")

	// No second remote call: the removal is a URL composition the CDN
	// resolves on first fetch.
	url, err := h.media.RemovalURL(key, object)
	if err != nil {
		release()
		return errors.Validation(c, err.Error())
	}

	return h.persist(c, &models.Creation{
		UserID:  p.ID,
		Prompt:  fmt.Sprintf("Removed %s from image", object),
		Content: url,
		Type:    models.TypeImage,
	}, release)
}

// ResumeReview handles POST /api/ai/resume-review
func (h *AIHandler) ResumeReview(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	release, done, err := h.gate(c, p, quota.PremiumOnly)
	if done {
		return err
	}

	header, err := c.FormFile("resume")
	if err != nil {
		release()
		return errors.Validation(c, "No resume uploaded.")
	}

	// Size ceiling enforced before any extraction or external call.
	if header.Size > resume.MaxSize {
		release()
		return errors.Validation(c, resume.ErrTooLarge)
	}

	file, err := header.Open()
	if err != nil {
		release()
		return errors.Persistence(c, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, resume.MaxSize))
	if err != nil {
		release()
		return errors.Persistence(c, err)
	}

	text, err := resume.ExtractText(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		release()
		return errors.Validation(c, "Could not read the uploaded PDF.")
	}

	content, err := h.llm.Complete(c.Request().Context(), resume.ReviewPrompt(text))
	if err != nil {
		release()
		h.metrics.RecordUpstreamFailure("llm")
		return errors.Upstream(c, err)
	}

	return h.persist(c, &models.Creation{
		UserID:  p.ID,
		Prompt:  "Review the uploaded resume",
		Content: content,
		Type:    models.TypeResumeReview,
	}, release)
}

// persist writes the creation and sends the success envelope. A failed
// write hands the usage slot back; the completed generation is lost.
func (h *AIHandler) persist(c echo.Context, creation *models.Creation, release func()) error {
	if err := h.creations.Create(c.Request().Context(), creation); err != nil {
		release()
		return errors.Persistence(c, err)
	}

	h.metrics.RecordGeneration(creation.Type)

	return c.JSON(http.StatusOK, models.Envelope{
		Success: true,
		Content: creation.Content,
	})
}

// spool copies an uploaded file into the scratch directory and returns
// its path plus a cleanup func. Cleanup runs on every exit path; the
// hourly sweeper only catches files orphaned by crashed requests.
func (h *AIHandler) spool(header *multipart.FileHeader) (string, func(), error) {
	src, err := header.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(h.scratchDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	path := filepath.Join(h.scratchDir, uuid.NewString()+filepath.Ext(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("failed to spool upload: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("failed to spool upload: %w", err)
	}

	return path, func() { os.Remove(path) }, nil
}
