// Package tokengenerator issues the JWT tokens that carry a login session
// through the authentication steps: a short-lived temp token while the
// session waits for its second factor, and an access token once fully
// authenticated.
package tokengenerator

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type names, also used as cookie names by the HTTP layer.
const (
	ACCESS_TOKEN_NAME = "access_token"
	TEMP_TOKEN_NAME   = "temp_token"
)

// Default token expiry durations.
const (
	DefaultAccessTokenExpiry = 15 * time.Minute
	// Temp tokens only bridge the gap between password and second factor.
	DefaultTempTokenExpiry = 5 * time.Minute
)

// Claims are the JWT claims issued by this service.
type Claims struct {
	TokenType string   `json:"token_type"`
	SessionID string   `json:"session_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JwtService signs and parses tokens with an HMAC secret.
type JwtService struct {
	secret            []byte
	issuer            string
	AccessTokenExpiry time.Duration
	TempTokenExpiry   time.Duration
}

// NewJwtService creates a token service. The secret must be kept out of
// source control; it comes from configuration.
func NewJwtService(secret []byte, issuer string) *JwtService {
	return &JwtService{
		secret:            secret,
		issuer:            issuer,
		AccessTokenExpiry: DefaultAccessTokenExpiry,
		TempTokenExpiry:   DefaultTempTokenExpiry,
	}
}

// GenerateTempToken issues the token holding a password-verified session
// while it waits for a second-factor submission.
func (s *JwtService) GenerateTempToken(userID, sessionID uuid.UUID) (string, error) {
	return s.sign(Claims{
		TokenType: TEMP_TOKEN_NAME,
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.TempTokenExpiry)),
		},
	})
}

// GenerateAccessToken issues the token for a fully authenticated session.
func (s *JwtService) GenerateAccessToken(userID, sessionID uuid.UUID, roles []string) (string, error) {
	return s.sign(Claims{
		TokenType: ACCESS_TOKEN_NAME,
		SessionID: sessionID.String(),
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.AccessTokenExpiry)),
		},
	})
}

// ParseToken validates a token string and returns its claims.
func (s *JwtService) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Secret exposes the signing key for middleware that verifies tokens
// (go-chi/jwtauth shares the key with the issuer).
func (s *JwtService) Secret() []byte {
	return s.secret
}

func (s *JwtService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
