package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPreservesDuplicatesInOrder(t *testing.T) {
	l := New()
	l.Add("Set-Cookie", "a=1")
	l.Add("Set-Cookie", "b=2")

	assert.Equal(t, []string{"a=1", "b=2"}, l.Values("set-cookie"))
	v, ok := l.Get("SET-COOKIE")
	require.True(t, ok)
	assert.Equal(t, "a=1", v)
}

func TestListGetMissing(t *testing.T) {
	l := New()
	_, ok := l.Get("x-missing")
	assert.False(t, ok)
}

func TestSplitSeparatesPseudoHeaders(t *testing.T) {
	fields := []Field{
		{Name: ":method", Value: "GET"},
		{Name: "host", Value: "example.com"},
		{Name: ":path", Value: "/"},
		{Name: "accept", Value: "*/*"},
	}
	pseudo, regular := Split(fields)
	require.Len(t, pseudo, 2)
	require.Len(t, regular, 2)
	assert.Equal(t, ":method", pseudo[0].Name)
	assert.Equal(t, ":path", pseudo[1].Name)
	assert.Equal(t, "host", regular[0].Name)
}

func TestParseRequestPseudo(t *testing.T) {
	rl, err := ParseRequestPseudo([]Field{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/upload"},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", rl.Method)
	assert.Equal(t, "https", rl.Scheme)
	assert.Equal(t, "example.com", rl.Authority)
	assert.Equal(t, "/upload", rl.Path)
}

func TestParseRequestPseudoMissingRequired(t *testing.T) {
	_, err := ParseRequestPseudo([]Field{
		{Name: ":scheme", Value: "https"},
	})
	assert.Error(t, err)
}

func TestParseRequestPseudoDuplicate(t *testing.T) {
	_, err := ParseRequestPseudo([]Field{
		{Name: ":method", Value: "GET"},
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
	})
	assert.Error(t, err)
}

func TestStatusPseudoRoundTrip(t *testing.T) {
	f := StatusPseudo(404)
	code, err := ParseStatusPseudo([]Field{f})
	require.NoError(t, err)
	assert.Equal(t, 404, code)
}

func TestStripIllegalRemovesConnectionSpecificFields(t *testing.T) {
	in := []Field{
		{Name: "Connection", Value: "keep-alive"},
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "Transfer-Encoding", Value: "chunked"},
		{Name: "Upgrade", Value: "h2c"},
	}
	out := StripIllegal(in)
	require.Len(t, out, 1)
	assert.Equal(t, "Content-Type", out[0].Name)
}
