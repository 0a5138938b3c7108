package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
)

type memChat struct {
	owner    string
	title    string
	messages []models.ChatMessage
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	credentials map[string]map[models.Provider]string // key: session id
	chats       map[string]*memChat                   // key: chat id
	traces      []*models.Trace                       // append order
	overrides   map[models.AgentID]*models.AgentDefinition

	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*models.Session),
		credentials: make(map[string]map[models.Provider]string),
		chats:       make(map[string]*memChat),
		overrides:   make(map[models.AgentID]*models.AgentDefinition),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// ── Sessions ────────────────────────────────────────────────

func (m *MemoryStore) EnsureSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s, ok := m.sessions[id]
	if !ok {
		s = &models.Session{ID: id, CreatedAt: now}
		m.sessions[id] = s
	}
	s.LastSeenAt = now
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CompareAndIncrement(_ context.Context, id string, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, &ErrNotFound{Entity: "session", Key: id}
	}
	if s.MessageCount != expected {
		return false, nil
	}
	s.MessageCount++
	s.LastSeenAt = m.now()
	return true, nil
}

func (m *MemoryStore) ResetMessageCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return &ErrNotFound{Entity: "session", Key: id}
	}
	s.MessageCount = 0
	return nil
}

func (m *MemoryStore) DeleteIdleSessions(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for id, s := range m.sessions {
		if !s.LastSeenAt.Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		delete(m.credentials, id)
		for chatID, c := range m.chats {
			if c.owner == id {
				delete(m.chats, chatID)
			}
		}
		removed++
	}
	return removed, nil
}

// ── Credentials ─────────────────────────────────────────────

func (m *MemoryStore) SetUserCredential(_ context.Context, sessionID string, provider models.Provider, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return &ErrNotFound{Entity: "session", Key: sessionID}
	}
	creds, ok := m.credentials[sessionID]
	if !ok {
		creds = make(map[models.Provider]string)
		m.credentials[sessionID] = creds
	}
	creds[provider] = sealed
	return nil
}

func (m *MemoryStore) GetUserCredential(_ context.Context, sessionID string, provider models.Provider) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sealed, ok := m.credentials[sessionID][provider]
	if !ok {
		return "", &ErrNotFound{Entity: "credential", Key: sessionID + ":" + string(provider)}
	}
	return sealed, nil
}

func (m *MemoryStore) ListUserCredentials(_ context.Context, sessionID string) (map[models.Provider]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.Provider]string, len(m.credentials[sessionID]))
	for p, sealed := range m.credentials[sessionID] {
		out[p] = sealed
	}
	return out, nil
}

func (m *MemoryStore) DeleteUserCredential(_ context.Context, sessionID string, provider models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials[sessionID], provider)
	return nil
}

// ── Chats ───────────────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	c, ok := m.chats[msg.ChatID]
	if !ok {
		c = &memChat{owner: sessionID}
		m.chats[msg.ChatID] = c
	}
	c.messages = append(c.messages, *msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, chatID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, &ErrNotFound{Entity: "chat", Key: chatID}
	}
	return append([]models.ChatMessage(nil), c.messages...), nil
}

func (m *MemoryStore) ChatOwner(_ context.Context, chatID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[chatID]
	if !ok {
		return "", &ErrNotFound{Entity: "chat", Key: chatID}
	}
	return c.owner, nil
}

func (m *MemoryStore) CountUserMessages(_ context.Context, chatID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[chatID]
	if !ok {
		return 0, nil
	}
	var n int
	for _, msg := range c.messages {
		if msg.Role == "user" {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return &ErrNotFound{Entity: "chat", Key: chatID}
	}
	delete(m.chats, chatID)
	return nil
}

func (m *MemoryStore) SetChatTitle(_ context.Context, chatID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return &ErrNotFound{Entity: "chat", Key: chatID}
	}
	c.title = title
	return nil
}

func (m *MemoryStore) ChatTitle(_ context.Context, chatID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[chatID]
	if !ok {
		return "", &ErrNotFound{Entity: "chat", Key: chatID}
	}
	return c.title, nil
}

// ── Traces ──────────────────────────────────────────────────

func (m *MemoryStore) CreateTrace(_ context.Context, trace *models.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trace
	m.traces = append(m.traces, &cp)
	return nil
}

func (m *MemoryStore) ListTraces(_ context.Context, limit int) ([]models.Trace, error) {
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Trace, 0, len(m.traces))
	for _, t := range m.traces {
		result = append(result, *t)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) DeleteTracesBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.traces[:0]
	var evicted int
	for _, t := range m.traces {
		if t.CreatedAt.Before(cutoff) {
			evicted++
			continue
		}
		kept = append(kept, t)
	}
	m.traces = kept
	return evicted, nil
}

func (m *MemoryStore) ListTracesBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Trace, error) {
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Trace
	for _, t := range m.traces {
		if t.CreatedAt.Before(cutoff) {
			result = append(result, *t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) DeleteTraces(_ context.Context, ids []string) (int, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.traces[:0]
	var evicted int
	for _, t := range m.traces {
		if drop[t.ID] {
			evicted++
			continue
		}
		kept = append(kept, t)
	}
	m.traces = kept
	return evicted, nil
}

// ── Agent Overrides ─────────────────────────────────────────

func (m *MemoryStore) ListAgentOverrides(_ context.Context) ([]models.AgentDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AgentDefinition, 0, len(m.overrides))
	for _, id := range models.AgentIDs {
		if def, ok := m.overrides[id]; ok {
			out = append(out, *def)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveAgentOverride(_ context.Context, def *models.AgentDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *def
	m.overrides[def.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteAgentOverride(_ context.Context, id models.AgentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, id)
	return nil
}
