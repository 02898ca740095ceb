package auth

import (
	"net/http"
	"sync"
	"time"
)

// BearerScheme attaches a static or periodically-refreshed bearer token
// per RFC 6750. Expired reports when the configured expiry has passed so
// the caller can refresh the token before the next request is sent.
type BearerScheme struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time // zero means no expiry is tracked
}

// NewBearerScheme builds a BearerScheme with an initial token. expiresAt
// may be the zero Time if the token does not expire.
func NewBearerScheme(token string, expiresAt time.Time) *BearerScheme {
	return &BearerScheme{token: token, expiresAt: expiresAt}
}

func (b *BearerScheme) Name() string { return "Bearer" }

func (b *BearerScheme) Authorize(req *http.Request, _ *Challenge) error {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// SetToken replaces the current token, e.g. after an application-level
// refresh.
func (b *BearerScheme) SetToken(token string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.expiresAt = expiresAt
}

// Expired reports whether the configured expiry has passed.
func (b *BearerScheme) Expired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.expiresAt.IsZero() && time.Now().After(b.expiresAt)
}
