package auth

import (
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// OAuthScheme is a BearerScheme backed by an oauth2.TokenSource, which
// handles refresh-token exchange internally. onRefresh, if set, fires
// whenever Authorize observes a different access token than the one it
// last applied, so callers can persist the refreshed token.
type OAuthScheme struct {
	Source oauth2.TokenSource

	mu        sync.Mutex
	lastToken string
	onRefresh func(*oauth2.Token)
}

// NewOAuthScheme wraps source, invoking onRefresh (which may be nil)
// whenever a new access token is obtained.
func NewOAuthScheme(source oauth2.TokenSource, onRefresh func(*oauth2.Token)) *OAuthScheme {
	return &OAuthScheme{Source: source, onRefresh: onRefresh}
}

func (o *OAuthScheme) Name() string { return "Bearer" }

func (o *OAuthScheme) Authorize(req *http.Request, _ *Challenge) error {
	tok, err := o.Source.Token()
	if err != nil {
		return err
	}

	o.mu.Lock()
	refreshed := tok.AccessToken != o.lastToken
	o.lastToken = tok.AccessToken
	o.mu.Unlock()

	if refreshed && o.onRefresh != nil {
		o.onRefresh(tok)
	}

	tok.SetAuthHeader(req)
	return nil
}
