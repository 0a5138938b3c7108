// Package sessions issues and verifies the anonymous browser session token.
//
// A session is nothing more than a random id. It is carried in an HS256
// JWT so a client cannot pick another session's id and inherit its quota
// or stored API keys.
package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const issuer = "successdesk"

var (
	// ErrTokenExpired is returned when the token has expired.
	ErrTokenExpired = errors.New("session token expired")

	// ErrInvalidToken is returned when the token is invalid for any other reason.
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims is the session token payload. The session id is the JWT subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. With an empty secret a random one is
// generated, so tokens do not survive a restart.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("SESSION_SECRET not set; using a random secret, sessions reset on restart")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns how long issued tokens stay valid.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// NewSession returns a fresh session id and its signed token.
func (i *Issuer) NewSession() (id, token string, err error) {
	id = uuid.New().String()
	token, err = i.Issue(id)
	return id, token, err
}

// Issue signs a token for an existing session id.
func (i *Issuer) Issue(sessionID string) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks the token and returns the session id it carries.
func (i *Issuer) Verify(tokenString string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Issuer != issuer {
		return "", ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
