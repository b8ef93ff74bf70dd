package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/quillbox/quillbox/pkg/metrics"
	"github.com/quillbox/quillbox/pkg/models"
	"github.com/quillbox/quillbox/pkg/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Prometheus collectors register globally, so the package shares one
// metrics instance across tests.
var testMetrics = metrics.New()

type fakeLLM struct {
	resp       string
	err        error
	calls      int
	lastPrompt string
	lastMax    int
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	return f.resp, f.err
}

func (f *fakeLLM) CompleteWithLimit(_ context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastMax = maxTokens
	return f.resp, f.err
}

type fakeImages struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeImages) TextToImage(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func (f *fakeImages) RemoveBackground(_ context.Context, _ io.Reader, _ string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

type fakeMedia struct {
	uploads []string
	err     error
}

func (f *fakeMedia) Upload(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeMedia) RemovalURL(key, label string) (string, error) {
	return fmt.Sprintf("https://cdn.example.com/%s?edit=gen_remove:%s", key, label), nil
}

type fakeCreations struct {
	created []*models.Creation
	err     error
}

func (f *fakeCreations) Create(_ context.Context, c *models.Creation) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, c)
	return nil
}

type fakeUsage struct {
	allow    bool
	err      error
	acquired int
	released int
}

func (f *fakeUsage) TryAcquire(_ context.Context, _ string, _ int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.acquired++
	return f.allow, nil
}

func (f *fakeUsage) Release(_ context.Context, _ string) error {
	f.released++
	return nil
}

type aiFixture struct {
	handler   *AIHandler
	llm       *fakeLLM
	images    *fakeImages
	media     *fakeMedia
	creations *fakeCreations
	usage     *fakeUsage
}

func newAIFixture(t *testing.T) *aiFixture {
	t.Helper()

	f := &aiFixture{
		llm:       &fakeLLM{resp: "generated content"},
		images:    &fakeImages{data: []byte("png-bytes")},
		media:     &fakeMedia{},
		creations: &fakeCreations{},
		usage:     &fakeUsage{allow: true},
	}
	f.handler = NewAIHandler(f.llm, f.images, f.media, f.creations, f.usage, testMetrics, t.TempDir())
	return f
}

func newJSONContext(t *testing.T, path string, body any, plan models.Plan, freeUsage int) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-123")
	c.Set("user_email", "user@example.com")
	c.Set("user_plan", string(plan))
	c.Set("free_usage", freeUsage)
	return c, rec
}

func newMultipartContext(t *testing.T, path, field, filename string, content []byte, extra map[string]string, plan models.Plan) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-123")
	c.Set("user_email", "user@example.com")
	c.Set("user_plan", string(plan))
	c.Set("free_usage", 0)
	return c, rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.Envelope {
	t.Helper()
	var env models.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestGenerateArticle_Success(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newJSONContext(t, "/api/ai/generate-article",
		models.GenerateArticleRequest{Prompt: "Write about Go", Length: 800},
		models.PlanFree, 3)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "generated content", env.Content)

	// Length in words maps onto a token ceiling.
	assert.Equal(t, 1600, f.llm.lastMax)
	assert.Equal(t, 1, f.usage.acquired)
	assert.Equal(t, 0, f.usage.released)
	require.Len(t, f.creations.created, 1)
	assert.Equal(t, models.TypeArticle, f.creations.created[0].Type)
	assert.Equal(t, "Write about Go", f.creations.created[0].Prompt)
}

func TestGenerateBlogTitle_LastFreeSlot(t *testing.T) {
	f := newAIFixture(t)
	// Usage 9 of 10: this request is allowed and consumes the last slot.
	c, rec := newJSONContext(t, "/api/ai/generate-blog-title",
		models.GenerateBlogTitleRequest{Prompt: "Titles about coffee"},
		models.PlanFree, 9)

	err := f.handler.GenerateBlogTitle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.usage.acquired)
	require.Len(t, f.creations.created, 1)
	assert.Equal(t, models.TypeBlogTitle, f.creations.created[0].Type)
}

func TestGenerateBlogTitle_FreeLimitReached(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newJSONContext(t, "/api/ai/generate-blog-title",
		models.GenerateBlogTitleRequest{Prompt: "Titles about coffee"},
		models.PlanFree, 10)

	err := f.handler.GenerateBlogTitle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, quota.MsgFreeLimitReached, env.Message)

	// A denied request performs no outbound call and writes nothing.
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.usage.acquired)
	assert.Empty(t, f.creations.created)
}

func TestGenerateArticle_ConcurrentCapRace(t *testing.T) {
	f := newAIFixture(t)
	// The stale context snapshot says 9, but another request already took
	// the last slot: the conditional increment is the backstop.
	f.usage.allow = false
	c, rec := newJSONContext(t, "/api/ai/generate-article",
		models.GenerateArticleRequest{Prompt: "Write about Go"},
		models.PlanFree, 9)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, quota.MsgFreeLimitReached, decodeEnvelope(t, rec).Message)
	assert.Equal(t, 0, f.llm.calls)
	assert.Empty(t, f.creations.created)
}

func TestGenerateArticle_PremiumSkipsCounter(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newJSONContext(t, "/api/ai/generate-article",
		models.GenerateArticleRequest{Prompt: "Write about Go"},
		models.PlanPremium, 9999)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.usage.acquired)
}

func TestGenerateArticle_MissingPrompt(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newJSONContext(t, "/api/ai/generate-article",
		models.GenerateArticleRequest{Length: 800},
		models.PlanFree, 0)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.usage.acquired)
}

func TestGenerateArticle_UpstreamFailureReleasesSlot(t *testing.T) {
	f := newAIFixture(t)
	f.llm.err = errors.New("model overloaded")
	c, rec := newJSONContext(t, "/api/ai/generate-article",
		models.GenerateArticleRequest{Prompt: "Write about Go"},
		models.PlanFree, 3)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "model overloaded", env.Message)

	// The claimed slot is handed back; nothing was persisted.
	assert.Equal(t, 1, f.usage.acquired)
	assert.Equal(t, 1, f.usage.released)
	assert.Empty(t, f.creations.created)
}

func TestGenerateArticle_PersistFailureReleasesSlot(t *testing.T) {
	f := newAIFixture(t)
	f.creations.err = errors.New("connection refused")
	c, rec := newJSONContext(t, "/api/ai/generate-article",
		models.GenerateArticleRequest{Prompt: "Write about Go"},
		models.PlanFree, 3)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	// Internal details stay server-side.
	assert.NotContains(t, env.Message, "connection refused")
	assert.Equal(t, 1, f.usage.released)
}

func TestGenerateImage_PremiumOnly(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newJSONContext(t, "/api/ai/generate-image",
		models.GenerateImageRequest{Prompt: "a lighthouse at dusk"},
		models.PlanFree, 0)

	err := f.handler.GenerateImage(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, quota.MsgPremiumOnly, decodeEnvelope(t, rec).Message)
	assert.Equal(t, 0, f.images.calls)
	assert.Empty(t, f.creations.created)
}

func TestGenerateImage_PublishFlagPersisted(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newJSONContext(t, "/api/ai/generate-image",
		models.GenerateImageRequest{Prompt: "a lighthouse at dusk", Publish: true},
		models.PlanPremium, 0)

	err := f.handler.GenerateImage(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.True(t, strings.HasPrefix(env.Content, "https://cdn.example.com/creations/"))

	require.Len(t, f.creations.created, 1)
	assert.True(t, f.creations.created[0].Publish)
	assert.Equal(t, models.TypeImage, f.creations.created[0].Type)
	require.Len(t, f.media.uploads, 1)
}

func TestRemoveImageBackground_Success(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newMultipartContext(t, "/api/ai/remove-image-background",
		"image", "photo.png", []byte("fake image bytes"), nil, models.PlanPremium)

	err := f.handler.RemoveImageBackground(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.images.calls)
	require.Len(t, f.creations.created, 1)
	assert.Equal(t, "Remove background from image", f.creations.created[0].Prompt)
}

func TestRemoveImageObject_Success(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newMultipartContext(t, "/api/ai/remove-image-object",
		"image", "photo.png", []byte("fake image bytes"),
		map[string]string{"object": "street sign"}, models.PlanPremium)

	err := f.handler.RemoveImageObject(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Contains(t, env.Content, "edit=gen_remove:")
	require.Len(t, f.creations.created, 1)
	assert.Equal(t, "Removed street sign from image", f.creations.created[0].Prompt)
}

func TestRemoveImageObject_RejectsInjectionLabel(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newMultipartContext(t, "/api/ai/remove-image-object",
		"image", "photo.png", []byte("fake image bytes"),
		map[string]string{"object": "../secrets?x=1"}, models.PlanPremium)

	err := f.handler.RemoveImageObject(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// Rejected before any upload happened.
	assert.Empty(t, f.media.uploads)
	assert.Empty(t, f.creations.created)
}

func TestResumeReview_RejectsOversizedUpload(t *testing.T) {
	f := newAIFixture(t)
	big := bytes.Repeat([]byte("a"), 5*1024*1024+1)
	c, rec := newMultipartContext(t, "/api/ai/resume-review",
		"resume", "resume.pdf", big, nil, models.PlanPremium)

	err := f.handler.ResumeReview(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "Resume file size exceeds the limit of 5MB.", env.Message)

	// Rejected before extraction or any model call.
	assert.Equal(t, 0, f.llm.calls)
	assert.Empty(t, f.creations.created)
}

func TestResumeReview_RejectsUnreadablePDF(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newMultipartContext(t, "/api/ai/resume-review",
		"resume", "resume.pdf", []byte("not a pdf"), nil, models.PlanPremium)

	err := f.handler.ResumeReview(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.llm.calls)
}

func TestResumeReview_DeniedWritesSingleResponse(t *testing.T) {
	f := newAIFixture(t)
	// Free plan and no uploaded file: were the handler to continue past
	// the denial it would hit the missing-file path and write a second
	// body. The denial must be the only response.
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/resume-review", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-123")
	c.Set("user_plan", "free")
	c.Set("free_usage", 0)

	err := f.handler.ResumeReview(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	// decodeEnvelope rejects trailing data, so a concatenated second
	// envelope fails here.
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, quota.MsgPremiumOnly, env.Message)
	assert.Equal(t, 0, f.llm.calls)
	assert.Empty(t, f.creations.created)
}

func TestResumeReview_FreePlanDenied(t *testing.T) {
	f := newAIFixture(t)
	c, rec := newMultipartContext(t, "/api/ai/resume-review",
		"resume", "resume.pdf", []byte("ignored"), nil, models.PlanFree)

	err := f.handler.ResumeReview(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, quota.MsgPremiumOnly, decodeEnvelope(t, rec).Message)
}

func TestGenerateArticle_MissingPrincipal(t *testing.T) {
	f := newAIFixture(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/generate-article", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := f.handler.GenerateArticle(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
