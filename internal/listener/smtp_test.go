package listener

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/polyserve/internal/smtpauth"
)

type acceptingSPF struct{}

func (acceptingSPF) CheckHost(clientIP net.IP, heloDomain, mailFromDomain string) (smtpauth.Verdict, error) {
	return smtpauth.VerdictPass, nil
}

func newPipeSession(t *testing.T, b SMTPBinding) (net.Conn, *smtpSession) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); clientSide.Close() })
	log := zerolog.Nop()
	sess := newSMTPSession(serverSide, b, nil, nil, &log)
	go sess.serve()
	return clientSide, sess
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestSMTPSessionGreetingAndHelo(t *testing.T) {
	clientSide, _ := newPipeSession(t, SMTPBinding{Domain: "mail.example.test"})
	r := bufio.NewReader(clientSide)
	assert.Contains(t, readLine(t, r), "220")

	clientSide.Write([]byte("EHLO client.test\r\n"))
	assert.Contains(t, readLine(t, r), "250")
}

func TestSMTPSessionFullMessageFiresOnMessage(t *testing.T) {
	var gotResult smtpauth.Result
	var gotFrom string
	var gotTo []string

	b := SMTPBinding{
		Domain: "mail.example.test",
		SPF:    acceptingSPF{},
		OnMessage: func(result smtpauth.Result, mailFrom string, rcptTo []string) {
			gotResult = result
			gotFrom = mailFrom
			gotTo = append([]string{}, rcptTo...)
		},
	}
	clientSide, _ := newPipeSession(t, b)
	r := bufio.NewReader(clientSide)
	clientSide.SetDeadline(time.Now().Add(2 * time.Second))

	readLine(t, r) // 220
	clientSide.Write([]byte("HELO client.test\r\n"))
	assert.Contains(t, readLine(t, r), "250")

	clientSide.Write([]byte("MAIL FROM:<alice@sender.test>\r\n"))
	assert.Contains(t, readLine(t, r), "250")

	clientSide.Write([]byte("RCPT TO:<bob@example.test>\r\n"))
	assert.Contains(t, readLine(t, r), "250")

	clientSide.Write([]byte("DATA\r\n"))
	assert.Contains(t, readLine(t, r), "354")

	clientSide.Write([]byte("From: alice@sender.test\r\nSubject: hi\r\n\r\nbody\r\n.\r\n"))
	assert.Contains(t, readLine(t, r), "250")

	assert.Equal(t, "alice@sender.test", gotFrom)
	assert.Equal(t, []string{"bob@example.test"}, gotTo)
	assert.Equal(t, smtpauth.VerdictPass, gotResult.SPF)
}

func TestSMTPSessionDataBeforeMailFromRejected(t *testing.T) {
	clientSide, _ := newPipeSession(t, SMTPBinding{Domain: "mail.example.test"})
	r := bufio.NewReader(clientSide)
	readLine(t, r) // 220

	clientSide.Write([]byte("DATA\r\n"))
	assert.Contains(t, readLine(t, r), "503")
}

func TestParseEnvelopeAddr(t *testing.T) {
	addr, ok := parseEnvelopeAddr("FROM:<alice@example.test>", "FROM:")
	require.True(t, ok)
	assert.Equal(t, "alice@example.test", addr)

	_, ok = parseEnvelopeAddr("garbage", "FROM:")
	assert.False(t, ok)
}

func TestAddrDomain(t *testing.T) {
	assert.Equal(t, "example.test", addrDomain("alice@example.test"))
	assert.Equal(t, "", addrDomain("no-at-sign"))
}
