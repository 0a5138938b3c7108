package sessions_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/successdesk/internal/sessions"
)

func newTestIssuer(t *testing.T, ttl time.Duration) *sessions.Issuer {
	t.Helper()
	iss, err := sessions.NewIssuer("unit-test-secret", ttl)
	require.NoError(t, err)
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	id, token, err := iss.NewSession()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerify_Rejects(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)
	other, err := sessions.NewIssuer("another-secret", time.Hour)
	require.NoError(t, err)

	_, foreign, err := other.NewSession()
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x", Issuer: "successdesk"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	notUUID, err := iss.Issue("not-a-uuid")
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":          "abc.def.ghi",
		"wrong secret":     foreign,
		"alg none":         unsigned,
		"non-uuid subject": notUUID,
		"empty":            "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Verify(token)
			assert.ErrorIs(t, err, sessions.ErrInvalidToken)
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	iss := newTestIssuer(t, time.Nanosecond)
	_, token, err := iss.NewSession()
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = iss.Verify(token)
	assert.ErrorIs(t, err, sessions.ErrTokenExpired)
}

func TestNewIssuer_RandomSecret(t *testing.T) {
	a, err := sessions.NewIssuer("", time.Hour)
	require.NoError(t, err)
	b, err := sessions.NewIssuer("", time.Hour)
	require.NoError(t, err)

	_, token, err := a.NewSession()
	require.NoError(t, err)
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, sessions.ErrInvalidToken)
}
