package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"fieldproof-backend/core/fieldwork"
)

// APIKey binds an issued key to the actor it authenticates.
type APIKey struct {
	Key       string          `json:"key"`
	Actor     fieldwork.Actor `json:"actor"`
	Wallet    string          `json:"wallet,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Source    string          `json:"source,omitempty"` // e.g. "env", "issued"
}

// APIKeyValidator defines the minimal interface required by auth middleware.
type APIKeyValidator interface {
	Lookup(key string) (APIKey, bool)
}

// APIKeyStore provides in-memory API key validation and issuance.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewAPIKeyStore constructs an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]APIKey)}
}

// Seed adds a pre-existing key. Blank keys are ignored.
func (s *APIKeyStore) Seed(key string, actor fieldwork.Actor, wallet, source string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = APIKey{Key: key, Actor: actor, Wallet: wallet, Source: source, CreatedAt: time.Now().UTC()}
}

// SeedSpec parses entries of the form key=actor_id:role[:wallet].
func (s *APIKeyStore) SeedSpec(specs []string) error {
	for _, spec := range specs {
		key, rest, ok := strings.Cut(spec, "=")
		parts := strings.Split(rest, ":")
		if !ok || strings.TrimSpace(key) == "" || len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("api key spec %q: want key=actor_id:role[:wallet]", redact(spec))
		}
		actor := fieldwork.Actor{ID: strings.TrimSpace(parts[0]), Role: fieldwork.Role(strings.TrimSpace(parts[1]))}
		if actor.ID == "" {
			return fmt.Errorf("api key spec %q: empty actor id", redact(spec))
		}
		switch actor.Role {
		case fieldwork.RoleWorker, fieldwork.RoleJuror:
		default:
			return fmt.Errorf("api key spec %q: role must be worker or juror", redact(spec))
		}
		wallet := ""
		if len(parts) == 3 {
			wallet = strings.TrimSpace(parts[2])
		}
		s.Seed(key, actor, wallet, "env")
	}
	return nil
}

// Lookup returns the record for key. Comparison is constant time per entry.
func (s *APIKeyStore) Lookup(key string) (APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found APIKey
	ok := false
	for k, rec := range s.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			found, ok = rec, true
		}
	}
	return found, ok
}

// Len reports how many keys are registered.
func (s *APIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Issue creates and stores a new API key for actor.
func (s *APIKeyStore) Issue(actor fieldwork.Actor, wallet string) (APIKey, error) {
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Key: key, Actor: actor, Wallet: wallet, Source: "issued", CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.keys[key] = rec
	s.mu.Unlock()
	return rec, nil
}

// UpdateWallet binds a payout wallet to an existing API key.
func (s *APIKeyStore) UpdateWallet(key, wallet string) (APIKey, error) {
	normalizedKey := strings.TrimSpace(key)
	normalizedWallet := strings.TrimSpace(wallet)
	if normalizedKey == "" {
		return APIKey{}, fmt.Errorf("api key required")
	}
	if normalizedWallet == "" {
		return APIKey{}, fmt.Errorf("wallet_address required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[normalizedKey]
	if !ok {
		return APIKey{}, fmt.Errorf("api key not found")
	}
	rec.Wallet = normalizedWallet
	s.keys[normalizedKey] = rec
	return rec, nil
}

func redact(spec string) string {
	if key, rest, ok := strings.Cut(spec, "="); ok && len(key) > 4 {
		return key[:4] + "...=" + rest
	}
	return "..."
}

func generateKey() (string, error) {
	b := make([]byte, 32) // 256-bit key
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
