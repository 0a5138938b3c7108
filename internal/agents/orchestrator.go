// Package agents implements the customer-success workflow: a classifier
// that picks one of five catalog agents for a query, a dispatcher that asks
// that agent, and an orchestrator composing the two.
//
//	query → Classifier.Classify → Dispatcher.Invoke → AgentResponse
//
// Nothing here retries or falls back. A failed classification aborts the
// request; the caller decides what to show.
package agents

import (
	"context"
	"strings"

	"github.com/agentoven/successdesk/pkg/models"
)

// BypassConfidence is reported when the caller chose the agent.
const BypassConfidence = 1.0

// Orchestrator wires the classifier to the dispatcher.
type Orchestrator struct {
	classifier *Classifier
	dispatcher *Dispatcher
}

// NewOrchestrator creates the composition root of the workflow.
func NewOrchestrator(classifier *Classifier, dispatcher *Dispatcher) *Orchestrator {
	return &Orchestrator{classifier: classifier, dispatcher: dispatcher}
}

// Handle classifies query and dispatches it to the chosen agent. The
// classification's confidence, reasoning and priority are added to the
// response metadata; the dispatched identity fields are left as set.
func (o *Orchestrator) Handle(ctx context.Context, query string, customerContext, tools interface{}) (*models.AgentResponse, error) {
	cls, err := o.classifier.Classify(ctx, query, customerContext)
	if err != nil {
		return nil, err
	}

	resp, err := o.dispatcher.Invoke(ctx, cls.AgentID, query, customerContext, tools)
	if err != nil {
		return nil, err
	}

	resp.Metadata.Confidence = cls.Confidence
	resp.Metadata.Reasoning = cls.Reasoning
	resp.Metadata.Priority = cls.Priority
	return resp, nil
}

// HandleWith skips classification and dispatches straight to agent.
func (o *Orchestrator) HandleWith(ctx context.Context, agent models.AgentID, query string, customerContext, tools interface{}) (*models.AgentResponse, error) {
	if !agent.Valid() {
		return nil, &UnknownAgentError{AgentID: agent}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	resp, err := o.dispatcher.Invoke(ctx, agent, query, customerContext, tools)
	if err != nil {
		return nil, err
	}
	resp.Metadata.Confidence = BypassConfidence
	return resp, nil
}

// Route serves a RouteRequest, using the bypass form when an explicit agent
// is named.
func (o *Orchestrator) Route(ctx context.Context, req *models.RouteRequest) (*models.AgentResponse, error) {
	if req.ExplicitAgent != "" {
		return o.HandleWith(ctx, req.ExplicitAgent, req.Query, req.Context, req.Tools)
	}
	return o.Handle(ctx, req.Query, req.Context, req.Tools)
}
