package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/agentoven/successdesk/pkg/models"
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicDriver calls the Anthropic messages API through anthropic-sdk-go.
type AnthropicDriver struct {
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicDriver creates a driver for the given API base URL.
func NewAnthropicDriver(baseURL string, httpClient *http.Client) *AnthropicDriver {
	return &AnthropicDriver{baseURL: baseURL, httpClient: httpClient}
}

func (d *AnthropicDriver) Kind() models.Provider { return models.ProviderAnthropic }

// Call sends one messages request. The messages API has no response-format
// switch, so a request schema is appended to the system prompt and the reply
// is parsed as JSON by the router.
func (d *AnthropicDriver) Call(ctx context.Context, apiKey string, req *models.InvokeRequest) (*models.InvokeResponse, error) {
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
	client := anthropicsdk.NewClient(opts...)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages(req),
	}

	system := strings.TrimSpace(req.System)
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, &ProviderError{Provider: models.ProviderAnthropic, Message: "encode schema: " + err.Error(), Err: err}
		}
		system += "\n\nRespond with a single JSON object and nothing else. It must validate against this JSON Schema:\n" + string(schema)
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: strings.TrimSpace(system)}}
	}

	var callOpts []option.RequestOption
	if req.Tools != nil {
		callOpts = append(callOpts, option.WithJSONSet("tools", req.Tools))
	}

	msg, err := client.Messages.New(ctx, params, callOpts...)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &models.InvokeResponse{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: models.TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

func anthropicMessages(req *models.InvokeRequest) []anthropicsdk.MessageParam {
	var out []anthropicsdk.MessageParam
	for _, m := range req.History {
		role := anthropicsdk.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		out = append(out, anthropicsdk.MessageParam{
			Role:    role,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)},
		})
	}
	if req.Prompt != "" {
		out = append(out, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(req.Prompt)},
		})
	}
	return out
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   models.ProviderAnthropic,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Err:        err,
		}
	}
	return &ProviderError{Provider: models.ProviderAnthropic, Message: err.Error(), Err: err}
}
