// Package router implements the successdesk Model Router.
//
// The router is the language-model invocation capability used by the
// classifier, the dispatcher and the chat endpoint. It picks the provider
// driver for the requested model, resolves whose API key pays for the call,
// enforces a hard timeout, guards each provider with a circuit breaker,
// validates structured output, tracks cost and records a trace.
//
// The router never retries a failed call.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentoven/successdesk/internal/telemetry"
	"github.com/agentoven/successdesk/pkg/contracts"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoCredential means neither a session credential nor a shared key exists.
	ErrNoCredential = errors.New("no API key configured")

	// ErrUnsupportedProvider means no driver is registered for the model's provider.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrTimeout marks calls abandoned after the hard timeout.
	ErrTimeout = errors.New("language model call timed out")

	// ErrMalformedOutput marks structured output that could not be parsed or
	// does not satisfy the requested schema.
	ErrMalformedOutput = errors.New("malformed structured output")

	// ErrProviderUnavailable marks calls rejected by an open circuit breaker.
	ErrProviderUnavailable = errors.New("provider temporarily unavailable")
)

// TraceRecorder persists call traces.
type TraceRecorder interface {
	CreateTrace(ctx context.Context, trace *models.Trace) error
}

// Options configures a ModelRouter.
type Options struct {
	// SharedKeys are the process-wide credentials loaded from the environment.
	SharedKeys map[models.Provider]string

	OpenAIBaseURL    string
	AnthropicBaseURL string

	CallTimeout     time.Duration
	ValidateTimeout time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	// HTTPClient is used by key validation and passed to the SDK drivers.
	HTTPClient *http.Client
}

func (o *Options) withDefaults() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.ValidateTimeout <= 0 {
		o.ValidateTimeout = 15 * time.Second
	}
	if o.BreakerMaxFailures == 0 {
		o.BreakerMaxFailures = 5
	}
	if o.BreakerOpenTimeout <= 0 {
		o.BreakerOpenTimeout = 30 * time.Second
	}
	if o.OpenAIBaseURL == "" {
		o.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if o.AnthropicBaseURL == "" {
		o.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
}

type guardedDriver struct {
	driver  contracts.ProviderDriver
	breaker *gobreaker.CircuitBreaker[*models.InvokeResponse]
}

// ModelRouter routes language-model calls to provider drivers.
type ModelRouter struct {
	traces       TraceRecorder
	opts         Options
	keyValidator *KeyValidator

	driverMu sync.RWMutex
	drivers  map[models.Provider]*guardedDriver

	// Cost tracking: accumulated since process start
	costMu sync.RWMutex
	costs  *models.CostSummary
}

// NewModelRouter creates a router with the OpenAI and Anthropic drivers registered.
func NewModelRouter(traces TraceRecorder, opts Options) *ModelRouter {
	opts.withDefaults()

	mr := &ModelRouter{
		traces:       traces,
		opts:         opts,
		keyValidator: NewKeyValidator(opts.HTTPClient, opts.OpenAIBaseURL, opts.AnthropicBaseURL, opts.ValidateTimeout),
		drivers:      make(map[models.Provider]*guardedDriver),
		costs:        newCostSummary(),
	}
	mr.RegisterDriver(NewOpenAIDriver(opts.OpenAIBaseURL, opts.HTTPClient))
	mr.RegisterDriver(NewAnthropicDriver(opts.AnthropicBaseURL, opts.HTTPClient))
	return mr
}

// RegisterDriver installs (or replaces) the driver for its provider, wrapped
// in a fresh circuit breaker.
func (mr *ModelRouter) RegisterDriver(d contracts.ProviderDriver) {
	mr.driverMu.Lock()
	defer mr.driverMu.Unlock()
	mr.drivers[d.Kind()] = &guardedDriver{
		driver:  d,
		breaker: newBreaker(d.Kind(), mr.opts.BreakerMaxFailures, mr.opts.BreakerOpenTimeout),
	}
}

// ListDrivers returns the providers with a registered driver.
func (mr *ModelRouter) ListDrivers() []models.Provider {
	mr.driverMu.RLock()
	defer mr.driverMu.RUnlock()

	out := make([]models.Provider, 0, len(mr.drivers))
	for _, p := range models.Providers {
		if _, ok := mr.drivers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// KeyValidator returns the credential validator sharing this router's endpoints.
func (mr *ModelRouter) KeyValidator() *KeyValidator {
	return mr.keyValidator
}

// SharedKey returns the process-wide credential for a provider, if any.
func (mr *ModelRouter) SharedKey(p models.Provider) string {
	return mr.opts.SharedKeys[p]
}

// Invoke performs one language-model call. Credentials come from the
// CredentialSource attached to ctx (see WithCredentials); without one the
// shared key is used.
func (mr *ModelRouter) Invoke(ctx context.Context, req *models.InvokeRequest) (*models.InvokeResponse, error) {
	provider := models.ProviderForModel(req.Model)

	mr.driverMu.RLock()
	gd, ok := mr.drivers[provider]
	mr.driverMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	apiKey, err := mr.credential(ctx, provider)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "router.invoke",
		trace.WithAttributes(
			attribute.String("llm.provider", string(provider)),
			attribute.String("llm.model", req.Model),
			attribute.String("successdesk.agent", req.AgentRef),
			attribute.Bool("llm.structured", req.Schema != nil),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, mr.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := gd.breaker.Execute(func() (*models.InvokeResponse, error) {
		return gd.driver.Call(callCtx, apiKey, req)
	})
	latency := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			err = fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, mr.opts.CallTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoke failed")
		log.Warn().
			Str("provider", string(provider)).
			Str("model", req.Model).
			Str("agent", req.AgentRef).
			Dur("latency", latency).
			Err(err).
			Msg("Language model call failed")
		mr.recordTrace(ctx, req, provider, nil, latency, err)
		return nil, err
	}

	if req.Schema != nil {
		if err := mr.parseStructured(req.Schema, resp); err != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedOutput, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed output")
			mr.recordTrace(ctx, req, provider, resp, latency, err)
			return nil, err
		}
	}

	resp.Provider = provider
	if resp.Model == "" {
		resp.Model = req.Model
	}
	resp.LatencyMs = latency.Milliseconds()
	resp.Usage.EstimatedCost = estimateCost(resp.Model, resp.Usage)

	span.SetAttributes(
		attribute.Int64("llm.tokens.total", resp.Usage.TotalTokens),
		attribute.Int64("llm.latency_ms", resp.LatencyMs),
	)

	mr.trackCost(req.AgentRef, resp)
	mr.recordTrace(ctx, req, provider, resp, latency, nil)

	return resp, nil
}

func (mr *ModelRouter) credential(ctx context.Context, provider models.Provider) (string, error) {
	if src, ok := CredentialsFrom(ctx); ok {
		return src.Credential(provider)
	}
	if key := mr.opts.SharedKeys[provider]; key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w for %s", ErrNoCredential, provider)
}

// ── Cost Tracking ───────────────────────────────────────────

func newCostSummary() *models.CostSummary {
	return &models.CostSummary{
		Period:     "process",
		ByAgent:    make(map[string]float64),
		ByModel:    make(map[string]float64),
		ByProvider: make(map[string]float64),
	}
}

func (mr *ModelRouter) trackCost(agentRef string, resp *models.InvokeResponse) {
	mr.costMu.Lock()
	defer mr.costMu.Unlock()

	mr.costs.TotalCostUSD += resp.Usage.EstimatedCost
	mr.costs.TotalTokens += resp.Usage.TotalTokens

	if agentRef != "" {
		mr.costs.ByAgent[agentRef] += resp.Usage.EstimatedCost
	}
	mr.costs.ByModel[resp.Model] += resp.Usage.EstimatedCost
	mr.costs.ByProvider[string(resp.Provider)] += resp.Usage.EstimatedCost
}

// GetCostSummary returns a snapshot of accumulated cost.
func (mr *ModelRouter) GetCostSummary() *models.CostSummary {
	mr.costMu.RLock()
	defer mr.costMu.RUnlock()

	out := newCostSummary()
	out.TotalCostUSD = mr.costs.TotalCostUSD
	out.TotalTokens = mr.costs.TotalTokens
	for k, v := range mr.costs.ByAgent {
		out.ByAgent[k] = v
	}
	for k, v := range mr.costs.ByModel {
		out.ByModel[k] = v
	}
	for k, v := range mr.costs.ByProvider {
		out.ByProvider[k] = v
	}
	return out
}

// ── Traces ──────────────────────────────────────────────────

// recordTrace creates a trace record for the call.
func (mr *ModelRouter) recordTrace(ctx context.Context, req *models.InvokeRequest, provider models.Provider, resp *models.InvokeResponse, latency time.Duration, callErr error) {
	if mr.traces == nil {
		return
	}

	agentName := req.AgentRef
	if agentName == "" {
		agentName = "chat"
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = pkgmw.GetSessionID(ctx)
	}

	t := &models.Trace{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		AgentName:  agentName,
		Provider:   provider,
		Model:      req.Model,
		Status:     "completed",
		DurationMs: latency.Milliseconds(),
		Metadata: map[string]interface{}{
			"structured": req.Schema != nil,
		},
		CreatedAt: time.Now().UTC(),
	}
	if resp != nil {
		t.TotalTokens = resp.Usage.TotalTokens
		t.CostUSD = resp.Usage.EstimatedCost
	}
	if callErr != nil {
		t.Status = "failed"
		t.Error = callErr.Error()
	}

	// Written even when the caller has gone away.
	if err := mr.traces.CreateTrace(context.WithoutCancel(ctx), t); err != nil {
		log.Warn().Err(err).Msg("Failed to record trace for model call")
	}
}

// ── Cost Helpers ────────────────────────────────────────────

// Known cost per 1K tokens (USD)
var defaultCosts = map[string]map[string]float64{
	"gpt-4o":                     {"input": 0.0025, "output": 0.01},
	"gpt-4o-mini":                {"input": 0.00015, "output": 0.0006},
	"gpt-4-turbo":                {"input": 0.01, "output": 0.03},
	"claude-3-5-sonnet-20241022": {"input": 0.003, "output": 0.015},
	"claude-3-5-haiku-20241022":  {"input": 0.001, "output": 0.005},
	"claude-3-haiku-20240307":    {"input": 0.00025, "output": 0.00125},
}

func estimateCost(model string, usage models.TokenUsage) float64 {
	costs, ok := defaultCosts[model]
	if !ok {
		costs = map[string]float64{"input": 0.001, "output": 0.001}
	}
	return float64(usage.InputTokens)/1000*costs["input"] +
		float64(usage.OutputTokens)/1000*costs["output"]
}
