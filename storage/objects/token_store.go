package objects

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token authorises one method on one key until it expires.
type Token struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore holds issued signed-URL tokens. Upload tokens are single use;
// download tokens stay valid until they expire.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]Token
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore creates a store issuing tokens valid for ttl. now may be nil.
func NewTokenStore(ttl time.Duration, now func() time.Time) *TokenStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenStore{tokens: make(map[string]Token), ttl: ttl, now: now}
}

// Issue mints a token for method on key.
func (s *TokenStore) Issue(key, method string) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := Token{ID: uuid.NewString(), Key: key, Method: method, ExpiresAt: s.now().Add(s.ttl)}
	s.tokens[tok.ID] = tok
	return tok
}

// Redeem validates a token against the request it is presented with.
func (s *TokenStore) Redeem(id, key, method string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.Key != key || tok.Method != method {
		return Token{}, ErrInvalidToken
	}
	if !s.now().Before(tok.ExpiresAt) {
		delete(s.tokens, id)
		return Token{}, ErrTokenExpired
	}
	if method == "PUT" {
		delete(s.tokens, id)
	}
	return tok, nil
}

// Purge drops expired tokens and returns how many were removed.
func (s *TokenStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, tok := range s.tokens {
		if !now.Before(tok.ExpiresAt) {
			delete(s.tokens, id)
			n++
		}
	}
	return n
}

// Len reports the number of live tokens.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
