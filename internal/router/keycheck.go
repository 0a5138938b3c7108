package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ErrCredentialValidationFailed marks a validation call that rejected an API key.
var ErrCredentialValidationFailed = errors.New("credential validation failed")

const (
	anthropicCheckModel   = "claude-3-haiku-20240307"
	anthropicCheckVersion = "2023-06-01"
)

// KeyValidator validates API keys with the cheapest call each provider offers.
type KeyValidator struct {
	client           *http.Client
	openAIBaseURL    string
	anthropicBaseURL string
	timeout          time.Duration
}

// NewKeyValidator creates a keyValidator against the given API base URLs.
func NewKeyValidator(client *http.Client, openAIBaseURL, anthropicBaseURL string, timeout time.Duration) *KeyValidator {
	if client == nil {
		client = &http.Client{}
	}
	return &KeyValidator{
		client:           client,
		openAIBaseURL:    strings.TrimRight(openAIBaseURL, "/"),
		anthropicBaseURL: strings.TrimRight(anthropicBaseURL, "/"),
		timeout:          timeout,
	}
}

// Validate checks apiKey against the provider. Network and provider failures are
// reported in the result, never returned as errors.
func (p *KeyValidator) Validate(ctx context.Context, provider models.Provider, apiKey string) models.ValidationResult {
	if strings.TrimSpace(apiKey) == "" {
		return models.ValidationResult{IsValid: false, Error: "API key is required"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var result models.ValidationResult
	switch provider {
	case models.ProviderOpenAI:
		result = p.checkOpenAI(checkCtx, apiKey)
	case models.ProviderAnthropic:
		result = p.checkAnthropic(checkCtx, apiKey)
	default:
		result = models.ValidationResult{Error: fmt.Sprintf("unknown provider %q", provider)}
	}
	result.LatencyMs = time.Since(start).Milliseconds()

	log.Info().
		Str("provider", string(provider)).
		Str("key", MaskKey(apiKey)).
		Bool("valid", result.IsValid).
		Int64("latency_ms", result.LatencyMs).
		Msg("Credential check finished")
	return result
}

// Check is Validate expressed as an error wrapping ErrCredentialValidationFailed.
func (p *KeyValidator) Check(ctx context.Context, provider models.Provider, apiKey string) error {
	result := p.Validate(ctx, provider, apiKey)
	if result.IsValid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCredentialValidationFailed, result.Error)
}

// checkOpenAI lists models; any 2xx means the key works.
func (p *KeyValidator) checkOpenAI(ctx context.Context, apiKey string) models.ValidationResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.openAIBaseURL+"/models", nil)
	if err != nil {
		return models.ValidationResult{Error: "Failed to validate OpenAI API key: " + err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return models.ValidationResult{Error: "Invalid OpenAI API key. Please check your key and try again."}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return models.ValidationResult{IsValid: true}
	}
	return models.ValidationResult{
		Error: providerMessage(resp.Body, "Invalid OpenAI API key. Please check your key and try again."),
	}
}

// checkAnthropic sends a 1-token message to the smallest model.
func (p *KeyValidator) checkAnthropic(ctx context.Context, apiKey string) models.ValidationResult {
	body, _ := json.Marshal(map[string]interface{}{
		"model":      anthropicCheckModel,
		"messages":   []map[string]string{{"role": "user", "content": "Hello"}},
		"max_tokens": 1,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.anthropicBaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return models.ValidationResult{Error: "Failed to validate Anthropic API key: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicCheckVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return models.ValidationResult{Error: "Failed to validate Anthropic API key: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return models.ValidationResult{IsValid: true}
	}
	return models.ValidationResult{
		Error: providerMessage(resp.Body, "Failed to validate Anthropic API key"),
	}
}

// providerMessage extracts error.message from a provider error body.
func providerMessage(body io.Reader, fallback string) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || !gjson.ValidBytes(data) {
		return fallback
	}
	if msg := gjson.GetBytes(data, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	return fallback
}

// MaskKey redacts an API key for logs and API responses.
func MaskKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "****"
	}
	return "****"
}
