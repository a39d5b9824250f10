package objects

import "time"

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrObjectNotFound = Err("object not found")
	ErrInvalidToken   = Err("invalid signed url token")
	ErrTokenExpired   = Err("signed url expired")
	ErrInvalidKey     = Err("invalid object key")
)

// SignedURL is a time-limited upload or download location.
type SignedURL struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ObjectInfo describes a stored object. SHA256 is hex encoded and may be
// empty when the backend does not record a checksum.
type ObjectInfo struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}
