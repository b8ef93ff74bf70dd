package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "development", cfg.APIEnvironment)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLMModel)
	assert.Equal(t, 2000, cfg.LLMMaxTokens)
	assert.InDelta(t, 0.7, cfg.LLMTemperature, 0.001)
	assert.Equal(t, "https://clipdrop-api.co", cfg.ClipDropBaseURL)
	assert.Equal(t, "./data/scratch", cfg.ScratchDir)
	assert.Equal(t, "10M", cfg.MaxBodySize)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("API_PORT", "9000")
	t.Setenv("LLM_MODEL", "gemini-2.5-pro")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_MINUTE", "120")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://example.com")

	cfg := Load()

	assert.Equal(t, "9000", cfg.APIPort)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLMModel)
	assert.InDelta(t, 0.2, cfg.LLMTemperature, 0.001)
	assert.Equal(t, 120, cfg.RateLimitRequestsPerMinute)
	assert.Equal(t, []string{"https://app.example.com", "https://example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoad_InvalidNumberFallsBack(t *testing.T) {
	t.Setenv("LLM_MAX_TOKENS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 2000, cfg.LLMMaxTokens)
}
