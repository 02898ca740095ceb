package ftp

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	root := t.TempDir()
	guard, err := NewGuard(root)
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); clientSide.Close() })

	log := zerolog.Nop()
	fs := newMemFS()
	fs.dirs["/pub"] = true
	fs.files["/pub/readme.txt"] = []byte("hello\r\n")

	sess := NewSession(serverSide, fs, guard, "127.0.0.1", &log)
	go sess.Serve()

	return sess, clientSide
}

func readReply(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestSessionLoginAndPWD(t *testing.T) {
	_, clientSide := newTestSession(t)
	r := bufio.NewReader(clientSide)

	assert.Contains(t, readReply(t, r), "220")

	clientSide.Write([]byte("USER alice\r\n"))
	assert.Contains(t, readReply(t, r), "331")

	clientSide.Write([]byte("PASS secret\r\n"))
	assert.Contains(t, readReply(t, r), "230")

	clientSide.Write([]byte("PWD\r\n"))
	assert.Contains(t, readReply(t, r), `257 "/"`)
}

func TestSessionRejectsCommandsBeforeLogin(t *testing.T) {
	_, clientSide := newTestSession(t)
	r := bufio.NewReader(clientSide)
	readReply(t, r) // 220 greeting

	clientSide.Write([]byte("MKD /new\r\n"))
	assert.Contains(t, readReply(t, r), "530")
}

func TestSessionPASVAndLIST(t *testing.T) {
	_, clientSide := newTestSession(t)
	r := bufio.NewReader(clientSide)
	readReply(t, r) // 220

	clientSide.Write([]byte("USER alice\r\n"))
	readReply(t, r)
	clientSide.Write([]byte("PASS secret\r\n"))
	readReply(t, r)

	clientSide.Write([]byte("CWD pub\r\n"))
	assert.Contains(t, readReply(t, r), "250")

	clientSide.Write([]byte("PASV\r\n"))
	pasvReply := readReply(t, r)
	assert.Contains(t, pasvReply, "227")

	addr := extractPASVAddr(t, pasvReply)
	dataConn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer dataConn.Close()

	clientSide.Write([]byte("LIST\r\n"))
	assert.Contains(t, readReply(t, r), "150")

	dataReader := bufio.NewReader(dataConn)
	line, err := dataReader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "readme.txt")

	assert.Contains(t, readReply(t, r), "226")
}

func extractPASVAddr(t *testing.T, reply string) string {
	t.Helper()
	start := strings.IndexByte(reply, '(')
	end := strings.IndexByte(reply, ')')
	require.True(t, start >= 0 && end > start)
	addr, err := ParsePORT(reply[start+1 : end])
	require.NoError(t, err)
	return addr
}
