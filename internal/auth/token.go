package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carried by a board access token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates board access tokens. A configured
// static access token can always be presented instead of a JWT, matching
// the original deployment; when both secrets are empty the boards are
// open and every token is accepted.
type TokenManager struct {
	accessToken string
	secretKey   []byte
	expiry      time.Duration
}

func NewTokenManager(accessToken, jwtSecret string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		accessToken: accessToken,
		secretKey:   []byte(jwtSecret),
		expiry:      expiry,
	}
}

// Open reports whether access control is disabled entirely.
func (m *TokenManager) Open() bool {
	return m.accessToken == "" && len(m.secretKey) == 0
}

// Issue creates a signed board token for the given author name.
func (m *TokenManager) Issue(username string) (string, error) {
	if len(m.secretKey) == 0 {
		return "", errors.New("JWT_SECRET not configured")
	}

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "whiteboard-api",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify accepts the static access token or a valid JWT and returns the
// claims (nil for the static token, which carries no identity).
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	if m.Open() {
		return nil, nil
	}
	if m.accessToken != "" && tokenString == m.accessToken {
		return nil, nil
	}
	if len(m.secretKey) == 0 {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
