package agents

import (
	"errors"
	"fmt"

	"github.com/agentoven/successdesk/internal/catalog"
	"github.com/agentoven/successdesk/pkg/models"
)

var (
	// ErrUnknownAgent is the catalog's unknown-identifier error.
	ErrUnknownAgent = catalog.ErrUnknownAgent

	// ErrEmptyQuery rejects blank queries before any model call.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrClassificationFailed marks a failed classifier model call.
	ErrClassificationFailed = errors.New("classification failed")

	// ErrDispatchFailed marks a failed agent model call.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// UnknownAgentError names an identifier outside the fixed catalog.
type UnknownAgentError struct {
	AgentID models.AgentID
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.AgentID)
}

func (e *UnknownAgentError) Is(target error) bool { return target == ErrUnknownAgent }

// ClassificationError wraps the cause of a failed classification.
type ClassificationError struct {
	Cause error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Cause)
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

func (e *ClassificationError) Is(target error) bool { return target == ErrClassificationFailed }

// DispatchError wraps the cause of a failed dispatch and the agent that was
// being asked.
type DispatchError struct {
	AgentID models.AgentID
	Cause   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.AgentID, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatchFailed }
