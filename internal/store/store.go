// Package store provides the storage interface and implementations for successdesk.
// The in-memory store serves tests and single-process dev runs; the SQLite
// store keeps sessions, chats, traces and agent edits across restarts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
)

// Store is the primary storage interface.
// All handler code depends on this interface, making it easy to swap
// between in-memory (tests) and SQLite (production) implementations.
type Store interface {
	SessionStore
	CredentialStore
	ChatStore
	TraceStore
	AgentOverrideStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore owns the per-session message counter.
type SessionStore interface {
	// EnsureSession creates the session on first sight and touches LastSeenAt.
	EnsureSession(ctx context.Context, id string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// CompareAndIncrement adds one to the message count only if it still
	// equals expected. It reports whether the increment happened.
	CompareAndIncrement(ctx context.Context, id string, expected int) (bool, error)
	ResetMessageCount(ctx context.Context, id string) error

	// DeleteIdleSessions removes sessions last seen before cutoff together
	// with their credentials and chats.
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Credential Store ────────────────────────────────────────

// CredentialStore keeps sealed user-supplied API keys per session.
type CredentialStore interface {
	SetUserCredential(ctx context.Context, sessionID string, provider models.Provider, sealed string) error
	GetUserCredential(ctx context.Context, sessionID string, provider models.Provider) (string, error)
	ListUserCredentials(ctx context.Context, sessionID string) (map[models.Provider]string, error)
	DeleteUserCredential(ctx context.Context, sessionID string, provider models.Provider) error
}

// ── Chat Store ──────────────────────────────────────────────

// ChatStore is the chat history key/value store.
type ChatStore interface {
	// AppendMessage adds a message to msg.ChatID. The first message of a
	// chat records sessionID as its owner.
	AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, chatID string) ([]models.ChatMessage, error)
	ChatOwner(ctx context.Context, chatID string) (string, error)
	CountUserMessages(ctx context.Context, chatID string) (int, error)
	DeleteChat(ctx context.Context, chatID string) error
	SetChatTitle(ctx context.Context, chatID, title string) error
	// ChatTitle is empty for a chat that was never titled.
	ChatTitle(ctx context.Context, chatID string) (string, error)
}

// ── Trace Store ─────────────────────────────────────────────

type TraceStore interface {
	CreateTrace(ctx context.Context, trace *models.Trace) error
	// ListTraces returns the newest traces first.
	ListTraces(ctx context.Context, limit int) ([]models.Trace, error)
	DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int, error)
	// ListTracesBefore returns up to limit traces created before cutoff,
	// oldest first.
	ListTracesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Trace, error)
	DeleteTraces(ctx context.Context, ids []string) (int, error)
}

// ── Agent Override Store ────────────────────────────────────

// AgentOverrideStore persists operator edits to catalog entries.
type AgentOverrideStore interface {
	ListAgentOverrides(ctx context.Context) ([]models.AgentDefinition, error)
	SaveAgentOverride(ctx context.Context, def *models.AgentDefinition) error
	DeleteAgentOverride(ctx context.Context, id models.AgentID) error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

const defaultTraceLimit = 100
