package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/successdesk/internal/agents"
	"github.com/agentoven/successdesk/internal/api"
	"github.com/agentoven/successdesk/internal/api/handlers"
	"github.com/agentoven/successdesk/internal/api/middleware"
	"github.com/agentoven/successdesk/internal/auth"
	"github.com/agentoven/successdesk/internal/catalog"
	"github.com/agentoven/successdesk/internal/clientlog"
	"github.com/agentoven/successdesk/internal/config"
	"github.com/agentoven/successdesk/internal/quota"
	"github.com/agentoven/successdesk/internal/router"
	"github.com/agentoven/successdesk/internal/sessions"
	"github.com/agentoven/successdesk/internal/store"
	"github.com/agentoven/successdesk/pkg/models"
)

// ── Fakes ───────────────────────────────────────────────────

// scriptedDriver answers classification calls by keyword and agent calls
// with a fixed reply, recording the key and request of every call.
type scriptedDriver struct {
	kind models.Provider

	mu       sync.Mutex
	keys     []string
	requests []*models.InvokeRequest
	failText bool
	failRef  string
}

func (d *scriptedDriver) Kind() models.Provider { return d.kind }

func (d *scriptedDriver) Call(_ context.Context, apiKey string, req *models.InvokeRequest) (*models.InvokeResponse, error) {
	d.mu.Lock()
	d.keys = append(d.keys, apiKey)
	d.requests = append(d.requests, req)
	failText := d.failText || (d.failRef != "" && req.AgentRef == d.failRef)
	d.mu.Unlock()

	usage := models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	if req.Schema != nil {
		cls := map[string]interface{}{
			"agentType":  "general",
			"priority":   "low",
			"confidence": 0.3,
			"reasoning":  "no customer success intent",
		}
		if strings.Contains(req.Prompt, "cancel") {
			cls = map[string]interface{}{
				"agentType":  "retention",
				"priority":   "high",
				"confidence": 0.92,
				"reasoning":  "churn risk",
			}
		}
		return &models.InvokeResponse{Structured: cls, Usage: usage}, nil
	}
	if failText {
		return nil, &router.ProviderError{Provider: d.kind, StatusCode: 400, Message: "bad request"}
	}
	return &models.InvokeResponse{Text: "reply from " + req.AgentRef, Usage: usage}, nil
}

func (d *scriptedDriver) lastKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[len(d.keys)-1]
}

func (d *scriptedDriver) lastRequest() *models.InvokeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

func (d *scriptedDriver) setFailRef(ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRef = ref
}

// requestsFor returns the recorded requests made under agentRef.
func (d *scriptedDriver) requestsFor(agentRef string) []*models.InvokeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.InvokeRequest
	for _, req := range d.requests {
		if req.AgentRef == agentRef {
			out = append(out, req)
		}
	}
	return out
}

func (d *scriptedDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type fakeKeyValidator struct{}

func (fakeKeyValidator) Validate(_ context.Context, _ models.Provider, apiKey string) models.ValidationResult {
	if strings.HasPrefix(apiKey, "sk-user") {
		return models.ValidationResult{IsValid: true}
	}
	return models.ValidationResult{Error: "Incorrect API key provided"}
}

// ── Harness ─────────────────────────────────────────────────

type envOptions struct {
	freeLimit    int
	chatLimit    int
	operatorKeys []string
	environment  string
}

type testEnv struct {
	t       *testing.T
	handler http.Handler
	store   *store.MemoryStore
	openai  *scriptedDriver
	issuer  *sessions.Issuer
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.freeLimit == 0 {
		opts.freeLimit = quota.DefaultFreeMessageLimit
	}
	if opts.environment == "" {
		opts.environment = "development"
	}

	s := store.NewMemoryStore()
	cat, err := catalog.New(s)
	require.NoError(t, err)

	shared := map[models.Provider]string{
		models.ProviderOpenAI:    "sk-shared-openai",
		models.ProviderAnthropic: "sk-ant-shared",
	}
	mr := router.NewModelRouter(s, router.Options{SharedKeys: shared, CallTimeout: 5 * time.Second})
	openai := &scriptedDriver{kind: models.ProviderOpenAI}
	mr.RegisterDriver(openai)
	mr.RegisterDriver(&scriptedDriver{kind: models.ProviderAnthropic})

	orch := agents.NewOrchestrator(
		agents.NewClassifier(mr, "", 0.7),
		agents.NewDispatcher(cat, mr),
	)
	sealer, err := quota.NewSealer("test-credential-secret")
	require.NoError(t, err)
	gate := quota.NewGate(s, sealer, shared, opts.freeLimit)

	h := handlers.New(s, mr, cat, orch, gate, clientlog.NewBuffer(10), handlers.Options{
		ChatMessageLimit: opts.chatLimit,
		Version:          "test",
	})
	h.KeyValidator = fakeKeyValidator{}

	issuer, err := sessions.NewIssuer("test-session-secret", time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: opts.environment,
		RateLimit:   config.RateLimitConfig{RequestsPerMin: 0},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handler := api.NewRouter(ctx, cfg, h,
		middleware.NewSessions(issuer, s, "successdesk_session", false),
		auth.NewAPIKeyProvider(opts.operatorKeys))

	return &testEnv{t: t, handler: handler, store: s, openai: openai, issuer: issuer}
}

// newSession returns a session id and the token that carries it.
func (e *testEnv) newSession() (string, string) {
	e.t.Helper()
	id, token, err := e.issuer.NewSession()
	require.NoError(e.t, err)
	return id, token
}

func (e *testEnv) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.SessionHeader, token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

// ── /route ──────────────────────────────────────────────────

func TestRoute_ClassifiesAndDispatches(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/route", token, map[string]interface{}{
		"query": "I'm thinking of canceling my subscription because support has been slow",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[models.AgentResponse](t, w)
	assert.Equal(t, models.AgentRetention, resp.Metadata.AgentID)
	assert.Equal(t, models.PriorityHigh, resp.Metadata.Priority)
	assert.InDelta(t, 0.92, resp.Metadata.Confidence, 1e-9)
	assert.Equal(t, "reply from retention", resp.Content)
	assert.Equal(t, "sk-shared-openai", env.openai.lastKey())
}

func TestRoute_LowConfidenceGoesToGeneral(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/route", token, map[string]interface{}{"query": "What's the weather today?"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.AgentResponse](t, w)
	assert.Equal(t, models.AgentGeneral, resp.Metadata.AgentID)
	assert.Less(t, resp.Metadata.Confidence, 0.7)
}

func TestRoute_ExplicitAgentBypassesClassifier(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/route", token, map[string]interface{}{
		"query":         "Plan our QBR",
		"explicitAgent": "strategy",
		"context":       map[string]interface{}{"arr": 120000},
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[models.AgentResponse](t, w)
	assert.Equal(t, models.AgentStrategy, resp.Metadata.AgentID)
	assert.Equal(t, 1.0, resp.Metadata.Confidence)
	assert.Equal(t, 1, env.openai.callCount(), "no classification call")
	assert.Contains(t, env.openai.lastRequest().Prompt, "Customer Context:")
}

func TestRoute_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"missing query", map[string]interface{}{}, "Query is required and must be a string"},
		{"non-string query", map[string]interface{}{"query": 42}, "Query is required and must be a string"},
		{"unknown agent", map[string]interface{}{"query": "hi", "explicitAgent": "billing"}, "Invalid agent type specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/route", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, errorBody(t, w))
		})
	}
	assert.Zero(t, env.openai.callCount())
}

func TestRoute_DispatchFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.openai.failText = true
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/route", token, map[string]interface{}{"query": "please cancel"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to process the query", errorBody(t, w))
}

// ── /api/v1/customer-success ────────────────────────────────

func TestCustomerSuccess(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/api/v1/customer-success", token, map[string]interface{}{
		"query":         "Which accounts are ready for an upsell?",
		"specificAgent": "expansion",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.AgentResponse](t, w)
	assert.Equal(t, models.AgentExpansion, resp.Metadata.AgentID)
	assert.Equal(t, 1.0, resp.Metadata.Confidence)

	w = env.do(http.MethodPost, "/api/v1/customer-success", token, map[string]interface{}{
		"query":         "anything",
		"specificAgent": "general",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid agent type specified", errorBody(t, w))

	w = env.do(http.MethodPost, "/api/v1/customer-success", token, map[string]interface{}{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Query is required and must be a string", errorBody(t, w))
}

// ── Quota & credentials ─────────────────────────────────────

func TestQuota_UserKeyRequiredAfterFreeTier(t *testing.T) {
	env := newTestEnv(t, envOptions{freeLimit: 2})
	_, token := env.newSession()
	route := map[string]interface{}{"query": "hello", "explicitAgent": "general"}

	for i := 0; i < 2; i++ {
		w := env.do(http.MethodPost, "/route", token, route)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(http.MethodPost, "/route", token, route)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "user_credential_required", body["code"])
	assert.Equal(t, "openai", body["provider"])
	assert.Equal(t, 2, env.openai.callCount(), "refused before any model call")

	st := decode[models.QuotaStatus](t, env.do(http.MethodGet, "/api/v1/quota", token, nil))
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, 0, st.Remaining)
	assert.True(t, st.RequiresUserAPIKeys)

	w = env.do(http.MethodPut, "/api/v1/credentials/openai", token, map[string]string{"apiKey": "sk-user-123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/route", token, route)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-user-123", env.openai.lastKey())

	st = decode[models.QuotaStatus](t, env.do(http.MethodGet, "/api/v1/quota", token, nil))
	assert.Equal(t, 3, st.MessageCount)
	assert.True(t, st.Providers[models.ProviderOpenAI].User)
	assert.True(t, st.Providers[models.ProviderOpenAI].Shared)
}

func TestQuota_SessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t, envOptions{freeLimit: 1})
	_, first := env.newSession()
	_, second := env.newSession()
	route := map[string]interface{}{"query": "hello", "explicitAgent": "general"}

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/route", first, route).Code)
	require.Equal(t, http.StatusPaymentRequired, env.do(http.MethodPost, "/route", first, route).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/route", second, route).Code)
}

func TestCredentials(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPut, "/api/v1/credentials/anthropic", token, map[string]string{"apiKey": "sk-bogus"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	result := decode[models.ValidationResult](t, w)
	assert.False(t, result.IsValid)
	assert.Equal(t, "Incorrect API key provided", result.Error)

	w = env.do(http.MethodPut, "/api/v1/credentials/anthropic", token, map[string]string{"apiKey": "sk-user-ant"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-u****", decode[map[string]interface{}](t, w)["key"])

	w = env.do(http.MethodDelete, "/api/v1/credentials/anthropic", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	st := decode[models.QuotaStatus](t, env.do(http.MethodGet, "/api/v1/quota", token, nil))
	assert.False(t, st.Providers[models.ProviderAnthropic].User)

	w = env.do(http.MethodPut, "/api/v1/credentials/mistral", token, map[string]string{"apiKey": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateKey(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodPost, "/validate/openai", "", map[string]string{"apiKey": "sk-user-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isValid":true}`, w.Body.String())

	w = env.do(http.MethodPost, "/validate/openai", "", map[string]string{"apiKey": "nope"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isValid":false,"error":"Incorrect API key provided"}`, w.Body.String())

	w = env.do(http.MethodPost, "/validate/cohere", "", map[string]string{"apiKey": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ── Chat ────────────────────────────────────────────────────

type chatReply struct {
	ChatID   string                   `json:"chatId"`
	Title    string                   `json:"title"`
	Message  models.ChatMessage       `json:"message"`
	Metadata *models.ResponseMetadata `json:"metadata"`
}

func TestChat_WorkflowAndHistory(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"message": "We might cancel next month",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reply := decode[chatReply](t, w)
	require.NotEmpty(t, reply.ChatID)
	assert.Equal(t, "assistant", reply.Message.Role)
	assert.Equal(t, "reply from retention", reply.Message.Content)
	require.NotNil(t, reply.Metadata)
	assert.Equal(t, models.AgentRetention, reply.Metadata.AgentID)

	w = env.do(http.MethodGet, "/api/v1/chats/"+reply.ChatID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Messages []models.ChatMessage `json:"messages"`
	}](t, w)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "user", history.Messages[0].Role)
	assert.Equal(t, "assistant", history.Messages[1].Role)

	_, stranger := env.newSession()
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/chats/"+reply.ChatID, stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/chats/"+reply.ChatID, stranger, nil).Code)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/chats/"+reply.ChatID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/chats/"+reply.ChatID, token, nil).Code)
}

func TestChat_DirectModel(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	first := decode[chatReply](t, env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"message":           "Hi there",
		"selectedChatModel": "gpt-4o",
	}))
	w := env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"id":                first.ChatID,
		"message":           "And again",
		"selectedChatModel": "gpt-4o",
	})
	require.Equal(t, http.StatusOK, w.Code)

	calls := env.openai.requestsFor("chat:gpt-4o")
	require.Len(t, calls, 2)
	req := calls[1]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "And again", req.Prompt)
	require.Len(t, req.History, 2, "prior user and assistant turns")
	assert.Equal(t, "Hi there", req.History[0].Content)
	assert.NotEmpty(t, req.System)
}

func TestChat_Validation(t *testing.T) {
	env := newTestEnv(t, envOptions{chatLimit: 1})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{"message": "hi", "selectedChatModel": "gpt-9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	first := decode[chatReply](t, env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{"message": "hi"}))
	w = env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{"id": first.ChatID, "message": "again"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChat_FailedTurnIsNotStored(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	first := decode[chatReply](t, env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"message":           "Hi there",
		"selectedChatModel": "gpt-4o",
	}))

	env.openai.setFailRef("chat:gpt-4o")
	w := env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"id":                first.ChatID,
		"message":           "This one fails",
		"selectedChatModel": "gpt-4o",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())

	history := decode[struct {
		Messages []models.ChatMessage `json:"messages"`
	}](t, env.do(http.MethodGet, "/api/v1/chats/"+first.ChatID, token, nil))
	require.Len(t, history.Messages, 2)

	env.openai.setFailRef("")
	w = env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"id":                first.ChatID,
		"message":           "Try again",
		"selectedChatModel": "gpt-4o",
	})
	require.Equal(t, http.StatusOK, w.Code)
	calls := env.openai.requestsFor("chat:gpt-4o")
	req := calls[len(calls)-1]
	require.Len(t, req.History, 2)
	assert.Equal(t, "user", req.History[0].Role)
	assert.Equal(t, "assistant", req.History[1].Role)
}

func TestChat_FailedFirstTurnCreatesNoChat(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()
	env.openai.setFailRef("chat:gpt-4o")

	chatID := "3f0f8c62-5d7e-4b8e-9f59-0d3c2a1b7e44"
	w := env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"id":                chatID,
		"message":           "Hello",
		"selectedChatModel": "gpt-4o",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/chats/"+chatID, token, nil).Code)
}

func TestChat_TitlesNewChats(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	first := decode[chatReply](t, env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"message":           "How do I export my invoices?",
		"selectedChatModel": "gpt-4o",
	}))
	assert.Equal(t, "reply from chat:title", first.Title)
	titleCalls := env.openai.requestsFor("chat:title")
	require.Len(t, titleCalls, 1)
	assert.Equal(t, "How do I export my invoices?", titleCalls[0].Prompt)
	assert.Equal(t, agents.DefaultClassifierModel, titleCalls[0].Model)

	second := decode[chatReply](t, env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"id":                first.ChatID,
		"message":           "And credit notes?",
		"selectedChatModel": "gpt-4o",
	}))
	assert.Empty(t, second.Title)
	assert.Len(t, env.openai.requestsFor("chat:title"), 1, "only the first turn is titled")

	got := decode[chatReply](t, env.do(http.MethodGet, "/api/v1/chats/"+first.ChatID, token, nil))
	assert.Equal(t, "reply from chat:title", got.Title)
}

func TestChat_TitleFallsBackToMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()
	env.openai.setFailRef("chat:title")

	long := "Our team: " + strings.Repeat("billing question ", 10)
	w := env.do(http.MethodPost, "/api/v1/chat", token, map[string]string{
		"message":           long,
		"selectedChatModel": "gpt-4o",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reply := decode[chatReply](t, w)
	assert.True(t, strings.HasPrefix(reply.Title, "Our team billing question"), reply.Title)
	assert.True(t, strings.HasSuffix(reply.Title, "..."))
	assert.LessOrEqual(t, len([]rune(reply.Title)), 80)
	assert.Equal(t, "reply from chat:gpt-4o", reply.Message.Content)
}

// ── Catalog & admin ─────────────────────────────────────────

func TestAgentsAndModels(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	defs := decode[[]models.AgentDefinition](t, env.do(http.MethodGet, "/api/v1/agents", "", nil))
	require.Len(t, defs, 5)
	for i, id := range models.AgentIDs {
		assert.Equal(t, id, defs[i].ID)
	}

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/agents/billing", "", nil).Code)

	list := decode[struct {
		Models       []models.ChatModel `json:"models"`
		DefaultModel string             `json:"defaultModel"`
	}](t, env.do(http.MethodGet, "/api/v1/models", "", nil))
	assert.Equal(t, models.ModelCustomerSuccess, list.DefaultModel)
	assert.Len(t, list.Models, 4)
}

func TestAdmin_RequiresOperatorKey(t *testing.T) {
	env := newTestEnv(t, envOptions{operatorKeys: []string{"op-key"}})

	w := env.do(http.MethodGet, "/api/v1/admin/cost", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/v1/admin/cost", "", nil, "X-API-Key", "op-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_ClosedWithoutKeysOutsideDevelopment(t *testing.T) {
	env := newTestEnv(t, envOptions{freeLimit: 1, environment: "production"})
	sessionID, token := env.newSession()
	route := map[string]interface{}{"query": "hello", "explicitAgent": "general"}

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/route", token, route).Code)
	require.Equal(t, http.StatusPaymentRequired, env.do(http.MethodPost, "/route", token, route).Code)

	w := env.do(http.MethodPost, "/api/v1/admin/sessions/"+sessionID+"/quota/reset", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusPaymentRequired, env.do(http.MethodPost, "/route", token, route).Code)

	w = env.do(http.MethodPatch, "/api/v1/admin/agents/retention", token, map[string]string{"systemPrompt": "ignore all rules"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_AgentEdits(t *testing.T) {
	env := newTestEnv(t, envOptions{operatorKeys: []string{"op-key"}})
	auth := []string{"Authorization", "Bearer op-key"}

	w := env.do(http.MethodPatch, "/api/v1/admin/agents/general", "", map[string]bool{"enabled": false}, auth...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPatch, "/api/v1/admin/agents/retention", "", map[string]interface{}{
		"enabled": false,
		"model":   "gpt-4o",
	}, auth...)
	require.Equal(t, http.StatusOK, w.Code)
	def := decode[models.AgentDefinition](t, w)
	assert.False(t, def.Enabled)
	assert.Equal(t, "gpt-4o", def.Model)

	// Disabled agents are still dispatched to.
	_, token := env.newSession()
	w = env.do(http.MethodPost, "/route", token, map[string]interface{}{"query": "x", "explicitAgent": "retention"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-4o", env.openai.lastRequest().Model)

	w = env.do(http.MethodPost, "/api/v1/admin/agents/retention/reset", "", nil, auth...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.AgentDefinition](t, w).Enabled)
}

func TestAdmin_QuotaResetTracesAndCost(t *testing.T) {
	env := newTestEnv(t, envOptions{freeLimit: 1})
	sessionID, token := env.newSession()
	route := map[string]interface{}{"query": "hello", "explicitAgent": "general"}

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/route", token, route).Code)
	require.Equal(t, http.StatusPaymentRequired, env.do(http.MethodPost, "/route", token, route).Code)

	w := env.do(http.MethodPost, "/api/v1/admin/sessions/"+sessionID+"/quota/reset", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.QuotaStatus](t, w).MessageCount)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/route", token, route).Code)

	assert.Equal(t, http.StatusNotFound,
		env.do(http.MethodPost, "/api/v1/admin/sessions/missing/quota/reset", "", nil).Code)

	traces := decode[[]models.Trace](t, env.do(http.MethodGet, "/api/v1/admin/traces?limit=1", "", nil))
	require.Len(t, traces, 1)
	assert.Equal(t, sessionID, traces[0].SessionID)

	cost := decode[models.CostSummary](t, env.do(http.MethodGet, "/api/v1/admin/cost", "", nil))
	assert.Equal(t, int64(45), cost.TotalTokens)
}

// ── Client logs, health ─────────────────────────────────────

func TestClientLog(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, token := env.newSession()

	w := env.do(http.MethodPost, "/api/log", token, `{"level":"error","msg":"render failed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged", w.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/log", token, `not json`).Code)

	logs := decode[[]clientlog.Entry](t, env.do(http.MethodGet, "/api/v1/admin/logs", "", nil))
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"level":"error","msg":"render failed"}`, string(logs[0].Body))
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, "test", decode[map[string]string](t, env.do(http.MethodGet, "/version", "", nil))["version"])
}

func TestSessionIssuedOnFirstRequest(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/api/v1/quota", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := w.Header().Get(middleware.SessionHeader)
	require.NotEmpty(t, token)

	id, err := env.issuer.Verify(token)
	require.NoError(t, err)
	_, err = env.store.GetSession(context.Background(), id)
	assert.NoError(t, err)
}
