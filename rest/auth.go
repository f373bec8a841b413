package rest

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// TokenStore holds issued API tokens with their expiry. It is constructed
// explicitly at startup and passed by reference; there is no ambient
// global token set.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
	}
}

// Issue creates a new bearer token valid for the store's TTL.
func (s *TokenStore) Issue() (string, time.Time) {
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	expiry := time.Now().Add(s.ttl)

	s.mu.Lock()
	s.tokens[token] = expiry
	s.mu.Unlock()

	return token, expiry
}

// Validate reports whether a token exists and has not expired. Expired
// tokens are pruned on sight.
func (s *TokenStore) Validate(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// RequireAuth accepts either an Authorization bearer header or an api_key
// query parameter.
func (h *Handler) RequireAuth(c *fiber.Ctx) error {
	if auth := c.Get("Authorization"); auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if h.Tokens.Validate(token) {
			return c.Next()
		}
	}

	if key := c.Query("api_key"); h.Tokens.Validate(key) {
		return c.Next()
	}

	return ReturnUnauthorized(c, "Invalid or missing API token")
}
