package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Agents ───────────────────────────────────────────────────

// AgentID identifies one entry of the prompt catalog.
type AgentID string

const (
	AgentRetention AgentID = "retention"
	AgentExpansion AgentID = "expansion"
	AgentOutreach  AgentID = "outreach"
	AgentStrategy  AgentID = "strategy"
	AgentGeneral   AgentID = "general"
)

// AgentIDs is the fixed set of agent identifiers in declaration order.
var AgentIDs = []AgentID{
	AgentRetention,
	AgentExpansion,
	AgentOutreach,
	AgentStrategy,
	AgentGeneral,
}

// Valid reports whether id is one of the fixed agent identifiers.
func (id AgentID) Valid() bool {
	for _, known := range AgentIDs {
		if id == known {
			return true
		}
	}
	return false
}

// Specialized reports whether id names a specialized (non-general) agent.
func (id AgentID) Specialized() bool {
	return id.Valid() && id != AgentGeneral
}

// AgentDefinition is one prompt template in the catalog.
type AgentDefinition struct {
	ID           AgentID   `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Description  string    `json:"description" yaml:"description"`
	Model        string    `json:"model" yaml:"model"`
	SystemPrompt string    `json:"systemPrompt" yaml:"systemPrompt"`
	Enabled      bool      `json:"enabled" yaml:"enabled"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// AgentPatch is a partial operator edit of an AgentDefinition.
type AgentPatch struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	Model        *string `json:"model,omitempty"`
	SystemPrompt *string `json:"systemPrompt,omitempty"`
}

// ── Classification ───────────────────────────────────────────

// Priority is the urgency the classifier assigns to a query.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of low, medium, high.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Classification is the routing decision for a single query.
type Classification struct {
	AgentID    AgentID  `json:"agentType"`
	Priority   Priority `json:"priority"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// ── Agent Responses ──────────────────────────────────────────

// ResponseMetadata describes who answered and how the route was chosen.
type ResponseMetadata struct {
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Priority   Priority `json:"priority,omitempty"`
	AgentID    AgentID  `json:"agentType,omitempty"`
	AgentName  string   `json:"agentName,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// AgentResponse is the result of a dispatch.
type AgentResponse struct {
	Content  string           `json:"content"`
	Metadata ResponseMetadata `json:"metadata"`
}

// RouteRequest is the body of POST /route.
type RouteRequest struct {
	Query         string      `json:"query"`
	Context       interface{} `json:"context,omitempty"`
	ExplicitAgent AgentID     `json:"explicitAgent,omitempty"`
	Tools         interface{} `json:"tools,omitempty"`
}

// ── Providers & Invocation ───────────────────────────────────

// Provider names a language-model vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic}

// ParseProvider converts a path segment into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// ProviderForModel maps a model identifier to the provider that serves it.
func ProviderForModel(model string) Provider {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// ChatMessage is one turn in a conversation.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	ChatID    string    `json:"chatId,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// InvokeRequest is a single language-model call.
// Schema, when set, asks for a structured value conforming to it.
// Tools are forwarded to the provider untouched.
type InvokeRequest struct {
	Model     string                 `json:"model"`
	System    string                 `json:"system,omitempty"`
	Prompt    string                 `json:"prompt,omitempty"`
	History   []ChatMessage          `json:"history,omitempty"`
	Schema    map[string]interface{} `json:"schema,omitempty"`
	Tools     interface{}            `json:"tools,omitempty"`
	MaxTokens int64                  `json:"maxTokens,omitempty"`

	// AgentRef attributes the call in traces and cost summaries.
	AgentRef string `json:"agentRef,omitempty"`
	// SessionID attributes the call to a browser session.
	SessionID string `json:"sessionId,omitempty"`
}

// InvokeResponse is the outcome of an InvokeRequest.
type InvokeResponse struct {
	Text       string                 `json:"text,omitempty"`
	Structured map[string]interface{} `json:"structured,omitempty"`
	Provider   Provider               `json:"provider"`
	Model      string                 `json:"model"`
	Usage      TokenUsage             `json:"usage"`
	LatencyMs  int64                  `json:"latency_ms"`
}

type TokenUsage struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
}

type CostSummary struct {
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalTokens  int64              `json:"total_tokens"`
	Period       string             `json:"period"`
	ByAgent      map[string]float64 `json:"by_agent"`
	ByModel      map[string]float64 `json:"by_model"`
	ByProvider   map[string]float64 `json:"by_provider"`
}

// ValidationResult is the outcome of a credential check.
type ValidationResult struct {
	IsValid   bool   `json:"isValid"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"-"`
}

// ── Chat Models ──────────────────────────────────────────────

// ModelCustomerSuccess selects the multi-agent workflow instead of a raw model.
const ModelCustomerSuccess = "customer-success-agents"

// SuggestedAction is a starter prompt shown for a chat model.
type SuggestedAction struct {
	Title  string `json:"title" yaml:"title"`
	Label  string `json:"label" yaml:"label"`
	Action string `json:"action" yaml:"action"`
}

// ChatModel is an entry in the model picker.
type ChatModel struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Provider    Provider          `json:"provider,omitempty" yaml:"provider"`
	Target      string            `json:"-" yaml:"target"`
	Suggestions []SuggestedAction `json:"suggestions,omitempty" yaml:"suggestions"`
}

// ── Sessions & Quota ─────────────────────────────────────────

// Session is an anonymous browser session. It owns the quota counter and the
// user-supplied credentials.
type Session struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// ProviderCredentialStatus reports which credential kinds exist for a provider.
type ProviderCredentialStatus struct {
	Shared bool `json:"shared"`
	User   bool `json:"user"`
}

// QuotaStatus is the body of GET /api/v1/quota.
type QuotaStatus struct {
	MessageCount        int                                   `json:"messageCount"`
	Limit               int                                   `json:"limit"`
	Remaining           int                                   `json:"remaining"`
	RequiresUserAPIKeys bool                                  `json:"requiresUserApiKeys"`
	Providers           map[Provider]ProviderCredentialStatus `json:"providers"`
}

// ── Traces ───────────────────────────────────────────────────

type Trace struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id,omitempty"`
	AgentName   string                 `json:"agent_name"`
	Provider    Provider               `json:"provider"`
	Model       string                 `json:"model"`
	Status      string                 `json:"status"`
	DurationMs  int64                  `json:"duration_ms"`
	TotalTokens int64                  `json:"total_tokens"`
	CostUSD     float64                `json:"cost_usd"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
