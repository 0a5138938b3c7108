package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/agentoven/successdesk/pkg/server"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "successdesk.db"))
	t.Setenv("OPERATOR_API_KEYS", "op-secret")
	t.Setenv("SESSION_SECRET", "server-test-secret")
	t.Setenv("OTEL_ENABLED", "false")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := server.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Store.Close()
		if srv.ShutdownFunc != nil {
			srv.ShutdownFunc(context.Background())
		}
	})
	return srv
}

func TestNew_WiresComponents(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, 8080, srv.Port)
	assert.NotNil(t, srv.Janitor)
	assert.Len(t, srv.Catalog.List(), len(models.AgentIDs))
	assert.Equal(t, 10, srv.Quota.Limit())

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_WithoutSharedKeysAsksForUserKey(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(`{"query":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user_credential_required", body["code"])
	assert.Equal(t, "openai", body["provider"])
}

func TestNew_AdminNeedsOperatorKey(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/traces", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/traces", nil)
	req.Header.Set("Authorization", "Bearer op-secret")
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
