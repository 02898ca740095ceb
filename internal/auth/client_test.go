package auth

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	responses []*http.Response
	requests  []*http.Request
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	resp := s.responses[len(s.requests)-1]
	return resp, nil
}

func unauthorizedResponse(authHeader string) *http.Response {
	h := make(http.Header)
	h.Set("WWW-Authenticate", authHeader)
	return &http.Response{
		StatusCode: http.StatusUnauthorized,
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

func TestClientDoRetriesWithMatchingScheme(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*http.Response{
			unauthorizedResponse(`Basic realm="example"`),
			okResponse(),
		},
	}

	client := NewClient(transport, 1, &BasicScheme{Username: "u", Password: "p"})

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, transport.requests, 2)
	assert.NotEmpty(t, transport.requests[1].Header.Get("Authorization"))
}

func TestClientDoReturnsChallengeResponseWhenNoSchemeMatches(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*http.Response{
			unauthorizedResponse(`Negotiate`),
		},
	}

	client := NewClient(transport, 1, &BasicScheme{Username: "u", Password: "p"})
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, transport.requests, 1)
}

func TestClientDoAppliesProactiveScheme(t *testing.T) {
	transport := &scriptedTransport{responses: []*http.Response{okResponse()}}
	bearer := NewBearerScheme("tok", time.Now().Add(time.Hour))
	client := &Client{Transport: transport, Proactive: bearer}

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", transport.requests[0].Header.Get("Authorization"))
}
