package router_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/successdesk/internal/router"
	"github.com/agentoven/successdesk/pkg/models"
)

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"message":"Incorrect API key provided: sk-bad."}}`)
			return
		}
		io.WriteString(w, `{"object":"list","data":[]}`)
	})

	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-haiku-20240307", body.Model)
		assert.Equal(t, 1, body.MaxTokens)
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		switch r.Header.Get("x-api-key") {
		case "sk-ant-good":
			io.WriteString(w, `{"type":"message","content":[{"type":"text","text":"H"}]}`)
		case "sk-ant-html":
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `<html>bad gateway</html>`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestKeyValidator(t *testing.T) *router.KeyValidator {
	t.Helper()
	srv := newProviderServer(t)
	return router.NewKeyValidator(srv.Client(), srv.URL+"/v1", srv.URL, 5*time.Second)
}

func TestKeyValidator_OpenAI(t *testing.T) {
	p := newTestKeyValidator(t)

	ok := p.Validate(context.Background(), models.ProviderOpenAI, "sk-good")
	assert.True(t, ok.IsValid)
	assert.Empty(t, ok.Error)

	bad := p.Validate(context.Background(), models.ProviderOpenAI, "sk-bad")
	assert.False(t, bad.IsValid)
	assert.Equal(t, "Incorrect API key provided: sk-bad.", bad.Error)
}

func TestKeyValidator_Anthropic(t *testing.T) {
	p := newTestKeyValidator(t)

	ok := p.Validate(context.Background(), models.ProviderAnthropic, "sk-ant-good")
	assert.True(t, ok.IsValid)

	bad := p.Validate(context.Background(), models.ProviderAnthropic, "sk-ant-bad")
	assert.False(t, bad.IsValid)
	assert.Equal(t, "invalid x-api-key", bad.Error)

	html := p.Validate(context.Background(), models.ProviderAnthropic, "sk-ant-html")
	assert.False(t, html.IsValid)
	assert.Equal(t, "Failed to validate Anthropic API key", html.Error, "generic text when no provider message")
}

func TestKeyValidator_EmptyKey(t *testing.T) {
	p := router.NewKeyValidator(nil, "http://127.0.0.1:1", "http://127.0.0.1:1", time.Second)

	result := p.Validate(context.Background(), models.ProviderOpenAI, "  ")
	assert.False(t, result.IsValid)
	assert.Equal(t, "API key is required", result.Error)
}

func TestKeyValidator_Unreachable(t *testing.T) {
	p := router.NewKeyValidator(nil, "http://127.0.0.1:1", "http://127.0.0.1:1", time.Second)

	result := p.Validate(context.Background(), models.ProviderAnthropic, "sk-ant-x")
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Error, "Failed to validate Anthropic API key")
}

func TestKeyValidator_Check(t *testing.T) {
	p := newTestKeyValidator(t)

	assert.NoError(t, p.Check(context.Background(), models.ProviderOpenAI, "sk-good"))
	assert.ErrorIs(t, p.Check(context.Background(), models.ProviderOpenAI, "sk-bad"), router.ErrCredentialValidationFailed)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "sk-a****", router.MaskKey("sk-abcdef"))
	assert.Equal(t, "****", router.MaskKey("abc"))
}
