package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName carries the access token for browser clients.
const SessionCookieName = "cohortly_session"

// SessionClaims is the JWT claim set issued by the identity service.
type SessionClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenService verifies access tokens. Issuing is the identity service's
// job; IssueAccessToken exists for local development and tests.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a token service with the shared HMAC secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// VerifyAccessToken validates the token signature and expiry and returns the
// authenticated user ID.
func (s *TokenService) VerifyAccessToken(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalid access token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token claims")
	}
	if claims.UserID < 1 {
		return 0, fmt.Errorf("token missing user id")
	}
	return claims.UserID, nil
}

// VerifyRequest extracts the session cookie from r and verifies it.
func (s *TokenService) VerifyRequest(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return 0, fmt.Errorf("missing session cookie")
	}
	return s.VerifyAccessToken(cookie.Value)
}

// IssueAccessToken signs a short-lived HS256 token for userID.
func (s *TokenService) IssueAccessToken(userID int64, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
