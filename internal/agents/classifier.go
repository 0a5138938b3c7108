package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/successdesk/internal/telemetry"
	"github.com/agentoven/successdesk/pkg/contracts"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultClassifierModel is the lightweight model every classification uses,
	// whatever model the user picked for conversation.
	DefaultClassifierModel = "gpt-4o-mini"

	// DefaultConfidenceFloor is the confidence below which a query goes to
	// the general agent.
	DefaultConfidenceFloor = 0.7
)

const classifierSystemPrompt = `You are an expert Customer Success Orchestrator responsible for analyzing customer queries and routing them to the most appropriate specialized agent.

Your primary responsibilities:
1. Accurately identify the core intent behind customer queries
2. Determine the most suitable specialized agent to handle each query
3. Assess the priority level based on business impact and urgency
4. Provide clear reasoning for your classification decisions

You have five agents available:
- Retention Agent: Focuses on preventing churn, addressing dissatisfaction, and resolving service issues
- Expansion Agent: Identifies upselling opportunities, handles feature requests, and manages growth conversations
- Outreach Agent: Manages new customer acquisition, re-engagement of dormant accounts, and relationship building
- Strategy Agent: Handles complex, multi-faceted issues requiring long-term planning and strategic thinking
- General Agent: Handles routine inquiries, provides product information, and manages general communication

Make your classification decisions based on:
- The specific language and sentiment in the query
- The implied customer lifecycle stage
- The complexity and scope of the issue
- The potential business impact

Important: If you're not confident (below %[1]s) that a specialized agent is needed, route to the General Agent.
Your classification directly impacts how customer issues are handled, so be thorough and precise.`

const classifierUserPrompt = `Analyze this customer success query and classify it:
%[1]q%[2]s

Determine:
1. Which agent type should handle this (retention, expansion, outreach, strategy, general)
2. The priority level (low, medium, high)
3. Your confidence in this classification (0-1)
4. Brief reasoning for your classification

Guidelines:
- Retention: For customers at risk of churning or with service issues
- Expansion: For upselling or cross-selling opportunities
- Outreach: For new customer acquisition or re-engagement
- Strategy: For long-term planning or complex, multi-faceted issues
- General: For routine inquiries, product information, or when no specialized agent is clearly needed

Be specific in your reasoning and ensure your classification matches the query intent.
If you're uncertain which specialized agent is needed (confidence below %[3]s), choose the General agent.`

// ClassificationSchema is the structured-output schema the classifier model
// must satisfy.
func ClassificationSchema() map[string]interface{} {
	ids := make([]interface{}, 0, len(models.AgentIDs))
	for _, id := range models.AgentIDs {
		ids = append(ids, string(id))
	}
	return map[string]interface{}{
		"title": "customer_query_classification",
		"type":  "object",
		"properties": map[string]interface{}{
			"reasoning": map[string]interface{}{
				"type":        "string",
				"description": "Reasoning behind the classification",
			},
			"agentType": map[string]interface{}{
				"type":        "string",
				"enum":        ids,
				"description": "The type of agent that should handle this query",
			},
			"priority": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"low", "medium", "high"},
				"description": "The priority level of this request",
			},
			"confidence": map[string]interface{}{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "Confidence score (0-1) in this classification",
			},
		},
		"required":             []interface{}{"reasoning", "agentType", "priority", "confidence"},
		"additionalProperties": false,
	}
}

// Classifier maps a free-text query to one of the five agents.
type Classifier struct {
	invoker contracts.Invoker
	model   string
	floor   float64
}

// NewClassifier creates a classifier. An empty model or a floor outside
// [0,1] falls back to the defaults.
func NewClassifier(invoker contracts.Invoker, model string, floor float64) *Classifier {
	if model == "" {
		model = DefaultClassifierModel
	}
	if floor < 0 || floor > 1 {
		floor = DefaultConfidenceFloor
	}
	return &Classifier{invoker: invoker, model: model, floor: floor}
}

// Classify runs one structured classification call. It never retries and
// never caches. A confidence under the floor always yields the general agent.
func (c *Classifier) Classify(ctx context.Context, query string, customerContext interface{}) (*models.Classification, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := telemetry.Tracer().Start(ctx, "agents.classify")
	defer span.End()

	contextInfo := ""
	if customerContext != nil {
		raw, err := json.MarshalIndent(customerContext, "", "  ")
		if err != nil {
			err = &ClassificationError{Cause: fmt.Errorf("encode customer context: %w", err)}
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode context")
			return nil, err
		}
		contextInfo = "\nAdditional context about this customer:\n" + string(raw)
	}

	floorText := fmt.Sprintf("%g", c.floor)
	resp, err := c.invoker.Invoke(ctx, &models.InvokeRequest{
		Model:    c.model,
		System:   fmt.Sprintf(classifierSystemPrompt, floorText),
		Prompt:   fmt.Sprintf(classifierUserPrompt, query, contextInfo, floorText),
		Schema:   ClassificationSchema(),
		AgentRef: "classifier",
	})
	if err != nil {
		err = &ClassificationError{Cause: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "classify failed")
		return nil, err
	}

	cls, err := decodeClassification(resp)
	if err != nil {
		err = &ClassificationError{Cause: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed classification")
		return nil, err
	}

	raw := cls.AgentID
	if cls.Confidence < c.floor && cls.AgentID != models.AgentGeneral {
		cls.AgentID = models.AgentGeneral
	}

	span.SetAttributes(
		attribute.String("successdesk.agent", string(cls.AgentID)),
		attribute.String("successdesk.priority", string(cls.Priority)),
		attribute.Float64("successdesk.confidence", cls.Confidence),
	)
	log.Info().
		Str("agent", string(cls.AgentID)).
		Str("model_choice", string(raw)).
		Str("priority", string(cls.Priority)).
		Float64("confidence", cls.Confidence).
		Msg("Query classified")

	return cls, nil
}

// decodeClassification reads the structured value and rejects anything
// outside the fixed value sets.
func decodeClassification(resp *models.InvokeResponse) (*models.Classification, error) {
	if resp == nil || resp.Structured == nil {
		return nil, fmt.Errorf("no structured output in response")
	}
	raw, err := json.Marshal(resp.Structured)
	if err != nil {
		return nil, err
	}
	var cls models.Classification
	if err := json.Unmarshal(raw, &cls); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}

	if !cls.AgentID.Valid() {
		return nil, fmt.Errorf("agent type %q is not in the catalog", cls.AgentID)
	}
	if !cls.Priority.Valid() {
		return nil, fmt.Errorf("priority %q is not one of low, medium, high", cls.Priority)
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v is outside [0,1]", cls.Confidence)
	}
	return &cls, nil
}
