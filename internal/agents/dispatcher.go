package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/successdesk/internal/telemetry"
	"github.com/agentoven/successdesk/pkg/contracts"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Lookup resolves an agent identifier to its definition.
// Implementation: internal/catalog.Catalog
type Lookup interface {
	Lookup(id models.AgentID) (models.AgentDefinition, error)
}

// Dispatcher sends a query to the model and prompt of one catalog entry.
type Dispatcher struct {
	catalog Lookup
	invoker contracts.Invoker
	now     func() time.Time
}

// NewDispatcher creates a dispatcher over the given catalog.
func NewDispatcher(catalog Lookup, invoker contracts.Invoker) *Dispatcher {
	return &Dispatcher{
		catalog: catalog,
		invoker: invoker,
		now:     time.Now,
	}
}

// Invoke asks agent id to answer query. customerContext is rendered as
// indented JSON after the query; tools are handed to the model untouched.
// Disabled definitions are still invoked.
func (d *Dispatcher) Invoke(ctx context.Context, id models.AgentID, query string, customerContext, tools interface{}) (*models.AgentResponse, error) {
	def, err := d.catalog.Lookup(id)
	if err != nil {
		if errors.Is(err, ErrUnknownAgent) {
			return nil, &UnknownAgentError{AgentID: id}
		}
		return nil, &DispatchError{AgentID: id, Cause: err}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "agents.dispatch",
		trace.WithAttributes(
			attribute.String("successdesk.agent", string(id)),
			attribute.String("llm.model", def.Model),
		),
	)
	defer span.End()

	prompt, err := userInstruction(query, customerContext)
	if err != nil {
		err = &DispatchError{AgentID: id, Cause: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode context")
		return nil, err
	}

	resp, err := d.invoker.Invoke(ctx, &models.InvokeRequest{
		Model:    def.Model,
		System:   def.SystemPrompt,
		Prompt:   prompt,
		Tools:    tools,
		AgentRef: string(id),
	})
	if err != nil {
		err = &DispatchError{AgentID: id, Cause: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		log.Warn().Str("agent", string(id)).Err(err).Msg("Agent dispatch failed")
		return nil, err
	}

	return &models.AgentResponse{
		Content: resp.Text,
		Metadata: models.ResponseMetadata{
			AgentID:   id,
			AgentName: def.Name,
			Timestamp: d.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func userInstruction(query string, customerContext interface{}) (string, error) {
	if customerContext == nil {
		return query, nil
	}
	raw, err := json.MarshalIndent(customerContext, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode customer context: %w", err)
	}
	return query + "\n\nCustomer Context:\n" + string(raw), nil
}
