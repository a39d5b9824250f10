package objects

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"fieldproof-backend/security"
)

const maxUploadBytes = 32 << 20

// LocalProvider stores objects on disk and simulates signed URLs with a TokenStore.
// Mount it under PathPrefix to serve the URLs it issues.
type LocalProvider struct {
	root    string
	baseURL string
	tokens  *TokenStore
}

// PathPrefix is the route the local provider serves objects under.
const PathPrefix = "/objects/"

// NewLocalProvider creates the root directory if needed.
func NewLocalProvider(root, baseURL string, tokens *TokenStore) (*LocalProvider, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &LocalProvider{root: root, baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens}, nil
}

func (p *LocalProvider) resolve(key string) (string, error) {
	full, err := security.SanitizePath(p.root, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return full, nil
}

func (p *LocalProvider) sign(key, method string) (SignedURL, error) {
	if _, err := p.resolve(key); err != nil {
		return SignedURL{}, err
	}
	tok := p.tokens.Issue(key, method)
	u := p.baseURL + PathPrefix + key + "?token=" + url.QueryEscape(tok.ID)
	return SignedURL{URL: u, Method: method, ExpiresAt: tok.ExpiresAt}, nil
}

// UploadURL issues a single-use PUT URL for key.
func (p *LocalProvider) UploadURL(_ context.Context, key string) (SignedURL, error) {
	return p.sign(key, http.MethodPut)
}

// DownloadURL issues a GET URL for key.
func (p *LocalProvider) DownloadURL(ctx context.Context, key string) (SignedURL, error) {
	if _, err := p.Stat(ctx, key); err != nil {
		return SignedURL{}, err
	}
	return p.sign(key, http.MethodGet)
}

// Stat hashes the object on disk.
func (p *LocalProvider) Stat(_ context.Context, key string) (ObjectInfo, error) {
	full, err := p.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, ErrObjectNotFound
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("hash object: %w", err)
	}
	return ObjectInfo{Key: key, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Delete removes the object. Missing objects are not an error.
func (p *LocalProvider) Delete(_ context.Context, key string) error {
	full, err := p.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ServeHTTP handles PUT and GET against previously issued URLs.
func (p *LocalProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, PathPrefix)
	full, err := p.resolve(key)
	if err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	if _, err := p.tokens.Redeem(r.URL.Query().Get("token"), key, r.Method); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrTokenExpired) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
		f, err := os.Create(full)
		if err != nil {
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
		_, copyErr := io.Copy(f, http.MaxBytesReader(w, r.Body, maxUploadBytes))
		closeErr := f.Close()
		if copyErr != nil || closeErr != nil {
			_ = os.Remove(full)
			http.Error(w, "upload failed", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		http.ServeFile(w, r, full)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
