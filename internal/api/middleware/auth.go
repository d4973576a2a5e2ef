package middleware

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const issuer = "examkiosk"

// Token audiences
const (
	AudienceUI    = "ui"
	AudienceShell = "shell"
)

// ClaimsContextKey is where RequireToken stores the verified claims
const ClaimsContextKey = "bridge_claims"

// BridgeClaims identifies one launcher-issued bridge token
type BridgeClaims struct {
	jwt.RegisteredClaims
}

// BridgeAuth issues and checks the per-launch bridge tokens. The signing key
// lives only in memory, so tokens die with the process.
type BridgeAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewBridgeAuth creates a BridgeAuth with a fresh random signing key
func NewBridgeAuth(ttl time.Duration) (*BridgeAuth, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("bridge key: %w", err)
	}
	return NewBridgeAuthWithSecret(secret, ttl), nil
}

// NewBridgeAuthWithSecret creates a BridgeAuth with a fixed key
func NewBridgeAuthWithSecret(secret []byte, ttl time.Duration) *BridgeAuth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BridgeAuth{secret: secret, ttl: ttl, now: time.Now}
}

// GenerateToken issues a token for the given audience
func (m *BridgeAuth) GenerateToken(audience string) (string, error) {
	now := m.now()
	claims := BridgeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken verifies the signature, expiry, issuer and audience of token
func (m *BridgeAuth) ValidateToken(token, audience string) (*BridgeClaims, error) {
	claims := &BridgeClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireToken rejects requests without a valid bearer token for audience
func (m *BridgeAuth) RequireToken(audience string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			claims, err := m.ValidateToken(parts[1], audience)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}

// GetClaims extracts claims stored by RequireToken
func GetClaims(c echo.Context) *BridgeClaims {
	claims, _ := c.Get(ClaimsContextKey).(*BridgeClaims)
	return claims
}
