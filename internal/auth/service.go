package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// AnonymousUser is the uploader recorded when no tokens are configured.
const AnonymousUser = "anonymous"

var ErrInvalidToken = errors.New("invalid token")

// Service resolves bearer tokens to user ids. Identity is issued elsewhere; this
// service only knows the configured token → user mapping.
type Service struct {
	tokens         map[string]string
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService builds a resolver over tokens. An empty map disables authentication.
func NewService(tokens map[string]string) *Service {
	cp := make(map[string]string, len(tokens))
	for token, user := range tokens {
		token = strings.TrimSpace(token)
		if token == "" || user == "" {
			continue
		}
		cp[token] = user
	}
	return &Service{
		tokens:         cp,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// Enabled reports whether requests must carry a token.
func (s *Service) Enabled() bool {
	return len(s.tokens) > 0
}

// ValidateToken returns the user id bound to token.
func (s *Service) ValidateToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	var userID string
	for known, user := range s.tokens {
		// compare every entry so timing does not leak which prefix matched
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			userID = user
		}
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
