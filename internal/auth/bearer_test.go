package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerSchemeSetsHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	scheme := NewBearerScheme("abc123", time.Time{})
	require.NoError(t, scheme.Authorize(req, nil))
	assert.Equal(t, "Bearer abc123", req.Header.Get("Authorization"))
}

func TestBearerSchemeExpired(t *testing.T) {
	scheme := NewBearerScheme("abc123", time.Now().Add(-time.Minute))
	assert.True(t, scheme.Expired())

	scheme.SetToken("def456", time.Now().Add(time.Hour))
	assert.False(t, scheme.Expired())
}

func TestBearerSchemeNoExpiryNeverExpires(t *testing.T) {
	scheme := NewBearerScheme("abc123", time.Time{})
	assert.False(t, scheme.Expired())
}
