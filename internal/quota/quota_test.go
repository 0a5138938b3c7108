package quota_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/successdesk/internal/quota"
	"github.com/agentoven/successdesk/internal/store"
	"github.com/agentoven/successdesk/pkg/models"
)

var sharedKeys = map[models.Provider]string{
	models.ProviderOpenAI:    "sk-shared",
	models.ProviderAnthropic: "sk-ant-shared",
}

func newTestGate(t *testing.T) (*quota.Gate, *store.MemoryStore) {
	t.Helper()
	sealer, err := quota.NewSealer("test-secret")
	require.NoError(t, err)
	st := store.NewMemoryStore()
	return quota.NewGate(st, sealer, sharedKeys, quota.DefaultFreeMessageLimit), st
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		shared  string
		user    string
		want    string
		refused bool
	}{
		{"free tier uses shared", 0, "shared", "", "shared", false},
		{"last free message", 9, "shared", "", "shared", false},
		{"user key preferred in free tier", 3, "shared", "user", "user", false},
		{"limit reached without user key", 10, "shared", "", "", true},
		{"past limit with user key", 25, "shared", "user", "user", false},
		{"no keys at all", 0, "", "", "", true},
		{"user key without shared", 0, "", "user", "user", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quota.Resolve(models.ProviderOpenAI, tt.count, 10, tt.shared, tt.user)
			if tt.refused {
				require.ErrorIs(t, err, quota.ErrUserCredentialRequired)
				var cre *quota.CredentialRequiredError
				require.ErrorAs(t, err, &cre)
				assert.Equal(t, models.ProviderOpenAI, cre.Provider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := quota.Resolve(models.ProviderOpenAI, tt.count, 10, tt.shared, tt.user)
			require.NoError(t, err)
			assert.Equal(t, got, again, "same inputs, same answer")
		})
	}
}

func TestGate_TenMessagesThenUserKeyRequired(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		n, err := g.RecordMessage(ctx, "sess")
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	count, err := g.MessageCount(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	_, err = g.ResolveCredential(ctx, "sess", models.ProviderOpenAI)
	assert.ErrorIs(t, err, quota.ErrUserCredentialRequired)
}

func TestGate_UserKeyAfterLimitIgnoresShared(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.SetUserCredential(ctx, "sess", models.ProviderOpenAI, "sk-user"))
	for i := 0; i < 10; i++ {
		_, err := g.RecordMessage(ctx, "sess")
		require.NoError(t, err)
	}

	key, err := g.ResolveCredential(ctx, "sess", models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-user", key)

	_, err = g.ResolveCredential(ctx, "sess", models.ProviderAnthropic)
	assert.ErrorIs(t, err, quota.ErrUserCredentialRequired, "anthropic has no user key")
}

func TestGate_UserKeyStoredSealed(t *testing.T) {
	g, st := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.SetUserCredential(ctx, "sess", models.ProviderAnthropic, "sk-ant-secret"))

	raw, err := st.GetUserCredential(ctx, "sess", models.ProviderAnthropic)
	require.NoError(t, err)
	assert.NotContains(t, raw, "sk-ant-secret")

	require.NoError(t, g.ClearUserCredential(ctx, "sess", models.ProviderAnthropic))
	key, err := g.ResolveCredential(ctx, "sess", models.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-shared", key)
}

func TestGate_AdmitGrantsFreeTierExactlyTenTimes(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		grant, err := g.Admit(ctx, "sess", models.ProviderOpenAI)
		require.NoError(t, err, "message %d", i+1)
		assert.Equal(t, i, grant.Count)

		key, err := grant.Credential(models.ProviderOpenAI)
		require.NoError(t, err)
		assert.Equal(t, "sk-shared", key)
	}

	_, err := g.Admit(ctx, "sess", models.ProviderOpenAI)
	require.ErrorIs(t, err, quota.ErrUserCredentialRequired)

	count, err := g.MessageCount(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 10, count, "a refused message is not counted")
}

func TestGate_AdmitChecksEveryProvider(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.SetUserCredential(ctx, "sess", models.ProviderOpenAI, "sk-user"))
	for i := 0; i < 10; i++ {
		_, err := g.RecordMessage(ctx, "sess")
		require.NoError(t, err)
	}

	_, err := g.Admit(ctx, "sess", models.ProviderOpenAI, models.ProviderAnthropic)
	var cre *quota.CredentialRequiredError
	require.ErrorAs(t, err, &cre)
	assert.Equal(t, models.ProviderAnthropic, cre.Provider)

	grant, err := g.Admit(ctx, "sess", models.ProviderOpenAI)
	require.NoError(t, err)
	key, err := grant.Credential(models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-user", key)
}

func TestGate_ConcurrentAdmitsNeverCrossTheLimit(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	var admitted, refused int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Admit(ctx, "sess", models.ProviderOpenAI)
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case assert.ErrorIs(t, err, quota.ErrUserCredentialRequired):
				atomic.AddInt32(&refused, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), admitted)
	assert.Equal(t, int32(30), refused)

	count, err := g.MessageCount(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestGate_SessionsAreIndependent(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := g.RecordMessage(ctx, "a")
		require.NoError(t, err)
	}
	require.NoError(t, g.SetUserCredential(ctx, "a", models.ProviderOpenAI, "sk-a"))

	count, err := g.MessageCount(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	key, err := g.ResolveCredential(ctx, "b", models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-shared", key, "session b never sees a's key")
}

func TestGate_Reset(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := g.RecordMessage(ctx, "sess")
		require.NoError(t, err)
	}
	require.NoError(t, g.Reset(ctx, "sess"))

	key, err := g.ResolveCredential(ctx, "sess", models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-shared", key)
}

func TestGate_Status(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.SetUserCredential(ctx, "sess", models.ProviderAnthropic, "sk-ant-user"))
	for i := 0; i < 4; i++ {
		_, err := g.RecordMessage(ctx, "sess")
		require.NoError(t, err)
	}

	st, err := g.Status(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 4, st.MessageCount)
	assert.Equal(t, 10, st.Limit)
	assert.Equal(t, 6, st.Remaining)
	assert.False(t, st.RequiresUserAPIKeys)
	assert.Equal(t, models.ProviderCredentialStatus{Shared: true, User: false}, st.Providers[models.ProviderOpenAI])
	assert.Equal(t, models.ProviderCredentialStatus{Shared: true, User: true}, st.Providers[models.ProviderAnthropic])

	for i := 0; i < 8; i++ {
		_, err := g.RecordMessage(ctx, "sess")
		require.NoError(t, err)
	}
	st, err = g.Status(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Remaining)
	assert.True(t, st.RequiresUserAPIKeys)
}

func TestSealer(t *testing.T) {
	s, err := quota.NewSealer("passphrase")
	require.NoError(t, err)

	a, err := s.Seal("sk-live-123")
	require.NoError(t, err)
	b, err := s.Seal("sk-live-123")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per seal")

	plain, err := s.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)

	other, err := quota.NewSealer("different")
	require.NoError(t, err)
	_, err = other.Open(a)
	assert.ErrorIs(t, err, quota.ErrUnsealFailed)

	_, err = s.Open("not base64!")
	assert.ErrorIs(t, err, quota.ErrUnsealFailed)

	_, err = quota.NewSealer("")
	assert.Error(t, err)
}
