package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, maxConns int) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL for concurrent readers; busy timeout so writers queue instead of failing.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Int("max_conns", maxConns).Msg("SQLite store configured")
	return s, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS user_credentials (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		sealed TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, provider)
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_session ON chats(session_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, seq);

	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		agent_name TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		error TEXT,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at);

	CREATE TABLE IF NOT EXISTS agent_overrides (
		id TEXT PRIMARY KEY,
		definition_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Files created before chats had titles lack the column.
	_, err := s.db.Exec(`ALTER TABLE chats ADD COLUMN title TEXT NOT NULL DEFAULT ''`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		return fmt.Errorf("add chat title column: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ── Sessions ────────────────────────────────────────────────

func (s *SQLiteStore) EnsureSession(ctx context.Context, id string) (*models.Session, error) {
	now := s.now()
	query := `
	INSERT INTO sessions (id, message_count, created_at, last_seen_at)
	VALUES (?, 0, ?, ?)
	ON CONFLICT(id) DO UPDATE SET last_seen_at = excluded.last_seen_at`

	if _, err := s.db.ExecContext(ctx, query, id, now.UnixMilli(), now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_count, created_at, last_seen_at FROM sessions WHERE id = ?`, id)

	var sess models.Session
	var createdAt, lastSeen int64
	err := row.Scan(&sess.ID, &sess.MessageCount, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	sess.LastSeenAt = time.UnixMilli(lastSeen).UTC()
	return &sess, nil
}

func (s *SQLiteStore) CompareAndIncrement(ctx context.Context, id string, expected int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, last_seen_at = ?
		WHERE id = ? AND message_count = ?`,
		s.now().UnixMilli(), id, expected)
	if err != nil {
		return false, fmt.Errorf("increment message count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment message count: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ResetMessageCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET message_count = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("reset message count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "session", Key: id}
	}
	return nil
}

func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ── Credentials ─────────────────────────────────────────────

func (s *SQLiteStore) SetUserCredential(ctx context.Context, sessionID string, provider models.Provider, sealed string) error {
	query := `
	INSERT INTO user_credentials (session_id, provider, sealed, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id, provider) DO UPDATE SET
		sealed = excluded.sealed,
		updated_at = excluded.updated_at`

	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(provider), sealed, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserCredential(ctx context.Context, sessionID string, provider models.Provider) (string, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed FROM user_credentials WHERE session_id = ? AND provider = ?`,
		sessionID, string(provider)).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ErrNotFound{Entity: "credential", Key: sessionID + ":" + string(provider)}
	}
	if err != nil {
		return "", fmt.Errorf("scan credential: %w", err)
	}
	return sealed, nil
}

func (s *SQLiteStore) ListUserCredentials(ctx context.Context, sessionID string) (map[models.Provider]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, sealed FROM user_credentials WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Provider]string)
	for rows.Next() {
		var provider, sealed string
		if err := rows.Scan(&provider, &sealed); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out[models.Provider(provider)] = sealed
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteUserCredential(ctx context.Context, sessionID string, provider models.Provider) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_credentials WHERE session_id = ? AND provider = ?`, sessionID, string(provider))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ── Chats ───────────────────────────────────────────────────

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, session_id, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		msg.ChatID, sessionID, msg.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, content, created_at, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE chat_id = ?))`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.CreatedAt.UnixMilli(), msg.ChatID); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]models.ChatMessage, error) {
	if _, err := s.ChatOwner(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at FROM chat_messages
		WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ChatOwner(ctx context.Context, chatID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM chats WHERE id = ?`, chatID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ErrNotFound{Entity: "chat", Key: chatID}
	}
	if err != nil {
		return "", fmt.Errorf("scan chat: %w", err)
	}
	return owner, nil
}

func (s *SQLiteStore) CountUserMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE chat_id = ? AND role = 'user'`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chat messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "chat", Key: chatID}
	}
	return nil
}

func (s *SQLiteStore) SetChatTitle(ctx context.Context, chatID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, chatID)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "chat", Key: chatID}
	}
	return nil
}

func (s *SQLiteStore) ChatTitle(ctx context.Context, chatID string) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM chats WHERE id = ?`, chatID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ErrNotFound{Entity: "chat", Key: chatID}
	}
	if err != nil {
		return "", fmt.Errorf("scan chat title: %w", err)
	}
	return title, nil
}

// ── Traces ──────────────────────────────────────────────────

func (s *SQLiteStore) CreateTrace(ctx context.Context, t *models.Trace) error {
	var meta []byte
	if t.Metadata != nil {
		var err error
		if meta, err = json.Marshal(t.Metadata); err != nil {
			return fmt.Errorf("marshal trace metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (id, session_id, agent_name, provider, model, status,
			duration_ms, total_tokens, cost_usd, error, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.AgentName, string(t.Provider), t.Model, t.Status,
		t.DurationMs, t.TotalTokens, t.CostUSD, t.Error, string(meta), t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

const traceColumns = `id, session_id, agent_name, provider, model, status,
	duration_ms, total_tokens, cost_usd, error, metadata_json, created_at`

func (s *SQLiteStore) ListTraces(ctx context.Context, limit int) ([]models.Trace, error) {
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM traces ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	return scanTraces(rows)
}

func (s *SQLiteStore) ListTracesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Trace, error) {
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE created_at < ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired traces: %w", err)
	}
	return scanTraces(rows)
}

func scanTraces(rows *sql.Rows) ([]models.Trace, error) {
	defer rows.Close()

	var out []models.Trace
	for rows.Next() {
		var t models.Trace
		var provider string
		var sessionID, errText, meta sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &sessionID, &t.AgentName, &provider, &t.Model, &t.Status,
			&t.DurationMs, &t.TotalTokens, &t.CostUSD, &errText, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		t.Provider = models.Provider(provider)
		t.SessionID = sessionID.String
		t.Error = errText.String
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
				log.Warn().Err(err).Str("trace", t.ID).Msg("Corrupt trace metadata")
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete traces: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// deleteChunk keeps IN lists under SQLite's bound-parameter limit.
const deleteChunk = 500

func (s *SQLiteStore) DeleteTraces(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := start + deleteChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		res, err := tx.ExecContext(ctx, `DELETE FROM traces WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("delete traces: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(total), nil
}

// ── Agent Overrides ─────────────────────────────────────────

func (s *SQLiteStore) ListAgentOverrides(ctx context.Context) ([]models.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition_json FROM agent_overrides`)
	if err != nil {
		return nil, fmt.Errorf("query agent overrides: %w", err)
	}
	defer rows.Close()

	byID := make(map[models.AgentID]models.AgentDefinition)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan agent override: %w", err)
		}
		var def models.AgentDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("decode agent override: %w", err)
		}
		byID[def.ID] = def
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.AgentDefinition, 0, len(byID))
	for _, id := range models.AgentIDs {
		if def, ok := byID[id]; ok {
			out = append(out, def)
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveAgentOverride(ctx context.Context, def *models.AgentDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode agent override: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_overrides (id, definition_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			definition_json = excluded.definition_json,
			updated_at = excluded.updated_at`,
		string(def.ID), string(raw), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert agent override: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAgentOverride(ctx context.Context, id models.AgentID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_overrides WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete agent override: %w", err)
	}
	return nil
}

// ── Factory ─────────────────────────────────────────────────

// Open returns the SQLite store when path is set, otherwise a memory store.
func Open(path string, maxConns int) (Store, error) {
	if path == "" {
		log.Info().Msg("No DATABASE_PATH set, using in-memory store")
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path, maxConns)
}
