package ftp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassiveDataChannelAcceptsOneConnection(t *testing.T) {
	dc, err := Passive("127.0.0.1")
	require.NoError(t, err)

	addr, err := dc.Addr()
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	tcpAddr := dc.ln.Addr().(*net.TCPAddr)
	go func() {
		conn, dialErr := net.Dial("tcp", tcpAddr.String())
		if dialErr == nil {
			conn.Close()
		}
	}()

	conn, err := dc.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestActiveDataChannelRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listens on addr now, every dial attempt fails

	dc := Active(addr)
	_, err = dc.Accept()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dialing active data connection")
}

func TestActiveDataChannelSucceedsWhenListenerUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr == nil {
			conn.Close()
		}
	}()

	dc := Active(ln.Addr().String())
	conn, err := dc.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestParsePORT(t *testing.T) {
	addr, err := ParsePORT("127,0,0,1,19,136")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", addr)

	_, err = ParsePORT("bad")
	assert.Error(t, err)
}
