// Package auth implements the client-side half of the authentication
// pipeline: proactively applying one configured scheme to outgoing
// requests, and reactively answering a 401/407 challenge by selecting a
// scheme from a priority-ordered list and retrying. Basic, Digest
// (RFC 7616), Bearer and OAuth are the four schemes implemented.
package auth

import (
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Scheme computes and applies one authentication scheme's credentials to
// an outgoing request. Authorize is called proactively with a nil
// Challenge the first time a request is sent, and reactively with the
// challenge parsed from a 401/407 response thereafter.
type Scheme interface {
	Name() string
	Authorize(req *http.Request, challenge *Challenge) error
}

// Client wraps an http.RoundTripper with the authentication retry loop
// described above.
type Client struct {
	Transport http.RoundTripper

	// Proactive, if set, is applied to every request before it is first
	// sent, without waiting for a challenge.
	Proactive Scheme

	// Schemes is consulted, in order, when a 401/407 response carries a
	// challenge; the first entry whose Name matches an offered challenge
	// scheme (case-insensitively) is used to answer it.
	Schemes []Scheme

	// MaxRetries bounds how many challenge-and-retry cycles a single Do
	// call will perform. Zero disables reactive retry entirely.
	MaxRetries int
}

// NewClient builds a Client with the given round tripper, defaulting to
// http.DefaultTransport when transport is nil.
func NewClient(transport http.RoundTripper, maxRetries int, schemes ...Scheme) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{Transport: transport, Schemes: schemes, MaxRetries: maxRetries}
}

// Do sends req, proactively authorizing it if a Proactive scheme is
// configured, and answers up to MaxRetries 401/407 challenges by
// selecting a matching Scheme and resending.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.Proactive != nil {
		if err := c.Proactive.Authorize(req, nil); err != nil {
			return nil, errors.Wrap(err, "applying proactive auth scheme")
		}
	}

	resp, err := c.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusProxyAuthRequired {
			return resp, nil
		}

		headerName := "WWW-Authenticate"
		if resp.StatusCode == http.StatusProxyAuthRequired {
			headerName = "Proxy-Authenticate"
		}
		challenges := ParseChallenges(resp.Header.Values(headerName))

		scheme, challenge := selectScheme(c.Schemes, challenges)
		if scheme == nil {
			return resp, nil
		}

		nextReq, err := cloneForRetry(req)
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, "cloning request for auth retry")
		}
		if err := scheme.Authorize(nextReq, &challenge); err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, "applying challenge auth scheme")
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		resp, err = c.Transport.RoundTrip(nextReq)
		if err != nil {
			return nil, err
		}
		req = nextReq
	}

	return resp, nil
}

func selectScheme(configured []Scheme, offered []Challenge) (Scheme, Challenge) {
	for _, scheme := range configured {
		for _, ch := range offered {
			if equalFold(scheme.Name(), ch.Scheme) {
				return scheme, ch
			}
		}
	}
	return nil, Challenge{}
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// cloneForRetry clones req's method, URL and headers and rewinds its body
// via GetBody, which http.NewRequest populates for in-memory bodies.
func cloneForRetry(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}
