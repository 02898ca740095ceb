package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicSchemeSetsHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	scheme := &BasicScheme{Username: "Aladdin", Password: "open sesame"}
	require.NoError(t, scheme.Authorize(req, nil))

	assert.Equal(t, "Basic QWxhZGRpbjpvcGVuIHNlc2FtZQ==", req.Header.Get("Authorization"))
}
