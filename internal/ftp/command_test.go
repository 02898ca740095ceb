package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandVerbAndArg(t *testing.T) {
	cmd, ok := ParseCommand("RETR /pub/file.txt\r\n")
	require.True(t, ok)
	assert.Equal(t, "RETR", cmd.Verb)
	assert.Equal(t, "/pub/file.txt", cmd.Arg)
}

func TestParseCommandLowercaseVerbIsUppercased(t *testing.T) {
	cmd, ok := ParseCommand("pwd\r\n")
	require.True(t, ok)
	assert.Equal(t, "PWD", cmd.Verb)
	assert.Empty(t, cmd.Arg)
}

func TestParseCommandEmptyLineIsIgnored(t *testing.T) {
	_, ok := ParseCommand("\r\n")
	assert.False(t, ok)
}
