package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// ProviderError carries the HTTP status a provider answered with.
type ProviderError struct {
	Provider   models.Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// OpenAIDriver calls the OpenAI chat completions API through openai-go.
type OpenAIDriver struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIDriver creates a driver for the given API base URL.
func NewOpenAIDriver(baseURL string, httpClient *http.Client) *OpenAIDriver {
	return &OpenAIDriver{baseURL: baseURL, httpClient: httpClient}
}

func (d *OpenAIDriver) Kind() models.Provider { return models.ProviderOpenAI }

// Call sends one chat completion. A request schema becomes a strict
// json_schema response format; tools are copied into the request body as given.
func (d *OpenAIDriver) Call(ctx context.Context, apiKey string, req *models.InvokeRequest) (*models.InvokeResponse, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if d.baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(d.baseURL, "/")+"/"))
	}
	if d.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(d.httpClient))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: openAIMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName(req.Schema),
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	var callOpts []option.RequestOption
	if req.Tools != nil {
		callOpts = append(callOpts, option.WithJSONSet("tools", req.Tools))
	}

	completion, err := client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{Provider: models.ProviderOpenAI, Message: "response contained no choices"}
	}

	resp := &models.InvokeResponse{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: models.TokenUsage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		},
	}
	if req.Schema != nil && resp.Text != "" {
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(resp.Text), &structured); err == nil {
			resp.Structured = structured
		}
	}
	return resp, nil
}

func openAIMessages(req *models.InvokeRequest) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if s := strings.TrimSpace(req.System); s != "" {
		out = append(out, openai.SystemMessage(s))
	}
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	if req.Prompt != "" {
		out = append(out, openai.UserMessage(req.Prompt))
	}
	return out
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   models.ProviderOpenAI,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return &ProviderError{Provider: models.ProviderOpenAI, Message: err.Error(), Err: err}
}

// schemaName reads the "title" of a schema, as OpenAI requires a name.
func schemaName(schema map[string]interface{}) string {
	if title, ok := schema["title"].(string); ok && title != "" {
		return title
	}
	return "response"
}
