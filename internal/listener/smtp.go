package listener

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowmesh/polyserve/internal/metrics"
	"github.com/flowmesh/polyserve/internal/reactor"
	"github.com/flowmesh/polyserve/internal/smtpauth"
	"github.com/flowmesh/polyserve/internal/transport"
)

// SMTPBinding describes one bound address driving the command phase
// (HELO/MAIL FROM/RCPT TO/DATA) that feeds internal/smtpauth's streaming
// SPF/DKIM/DMARC pipeline; the pipeline mechanics themselves are out of
// this file's scope (see internal/smtpauth).
type SMTPBinding struct {
	Addr      string
	TLSConfig *tls.Config
	Domain    string // advertised in the 220 greeting and EHLO reply

	SPF   smtpauth.SPFVerifier
	DKIM  smtpauth.DKIMVerifier  // nil disables DKIM for this binding
	DMARC smtpauth.DMARCEvaluator // nil disables DMARC for this binding

	MaxHeaderBytes int

	// OnMessage is invoked once per completed DATA phase with the pipeline
	// verdicts and the envelope MAIL FROM/RCPT TO addresses collected for
	// that message.
	OnMessage func(result smtpauth.Result, mailFrom string, rcptTo []string)
}

// BindSMTP binds an SMTPBinding's TCP listener onto s's reactor pool.
func (s *Server) BindSMTP(b SMTPBinding) error {
	handler := func(loop *reactor.Loop, conn net.Conn) {
		go newSMTPSession(conn, b, s.conns, s.auth, s.log).serve()
	}
	ln, err := transport.ListenTCP(b.Addr, b.TLSConfig, s.pool, handler, s.log)
	if err != nil {
		return errors.Wrapf(err, "binding SMTP listener %s", b.Addr)
	}
	s.add(ln)
	return nil
}

type smtpSession struct {
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	log   *zerolog.Logger
	b     SMTPBinding
	conns metrics.ConnectionMetrics
	auth  metrics.AuthMetrics

	pipeline *smtpauth.Pipeline
	helo     string
	mailFrom string
	rcptTo   []string
}

func newSMTPSession(conn net.Conn, b SMTPBinding, conns metrics.ConnectionMetrics, auth metrics.AuthMetrics, log *zerolog.Logger) *smtpSession {
	return &smtpSession{
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
		log:      log,
		b:        b,
		conns:    conns,
		auth:     auth,
		pipeline: smtpauth.NewPipeline(b.DKIM, b.DMARC),
	}
}

func (s *smtpSession) serve() {
	defer s.conn.Close()
	start := time.Now()
	if s.conns != nil {
		s.conns.IncAccepted("smtp", s.b.Addr)
		defer func() {
			s.conns.IncClosed("smtp", s.b.Addr)
			s.conns.ObserveLifetime("smtp", time.Since(start))
		}()
	}
	if err := s.reply(220, s.b.Domain+" ready"); err != nil {
		return
	}
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return
		}
		quit, err := s.dispatch(strings.TrimRight(line, "\r\n"))
		if err != nil {
			if s.log != nil {
				s.log.Debug().Err(err).Msg("SMTP session error")
			}
			return
		}
		if quit {
			return
		}
	}
}

func (s *smtpSession) dispatch(line string) (quit bool, err error) {
	verb, arg := splitCommand(line)
	switch verb {
	case "HELO", "EHLO":
		s.helo = arg
		return false, s.reply(250, s.b.Domain+" hello "+arg)
	case "MAIL":
		addr, ok := parseEnvelopeAddr(arg, "FROM:")
		if !ok {
			return false, s.reply(501, "syntax error in MAIL FROM")
		}
		s.mailFrom = addr
		s.rcptTo = nil
		s.pipeline.Reset()
		if s.b.SPF != nil {
			clientIP := remoteIP(s.conn)
			if err := s.pipeline.EvaluateSPF(s.b.SPF, clientIP, s.helo, addrDomain(addr)); err != nil {
				return false, s.reply(451, "SPF evaluation failed")
			}
		}
		return false, s.reply(250, "OK")
	case "RCPT":
		addr, ok := parseEnvelopeAddr(arg, "TO:")
		if !ok {
			return false, s.reply(501, "syntax error in RCPT TO")
		}
		s.rcptTo = append(s.rcptTo, addr)
		return false, s.reply(250, "OK")
	case "DATA":
		if s.mailFrom == "" {
			return false, s.reply(503, "need MAIL FROM first")
		}
		return false, s.handleData()
	case "RSET":
		s.mailFrom = ""
		s.rcptTo = nil
		s.pipeline.Reset()
		return false, s.reply(250, "OK")
	case "NOOP":
		return false, s.reply(250, "OK")
	case "QUIT":
		s.reply(221, "closing connection")
		return true, nil
	default:
		return false, s.reply(500, "unrecognized command")
	}
}

// handleData reads the dot-terminated message body, forking header and
// body bytes into the pipeline exactly as they arrive line by line
// (dot-stuffing undone per RFC 5321 §4.5.2), then fires OnMessage with
// the final verdicts once the terminating "." line is seen.
func (s *smtpSession) handleData() error {
	if err := s.reply(354, "start mail input; end with <CRLF>.<CRLF>"); err != nil {
		return err
	}
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(trimmed, "..") {
			trimmed = trimmed[1:]
		}
		if _, err := s.pipeline.Write([]byte(trimmed + "\r\n")); err != nil {
			return s.reply(550, "message rejected")
		}
	}
	result, err := s.pipeline.EndData()
	if err != nil {
		return s.reply(451, "auth pipeline error")
	}
	if s.auth != nil {
		s.auth.IncVerdict("spf", result.SPF.String())
		if s.b.DKIM != nil {
			s.auth.IncVerdict("dkim", result.DKIM.String())
		}
		if s.b.DMARC != nil {
			s.auth.IncVerdict("dmarc", result.DMARC.String())
		}
	}
	if s.b.OnMessage != nil {
		s.b.OnMessage(result, s.mailFrom, s.rcptTo)
	}
	s.mailFrom = ""
	s.rcptTo = nil
	return s.reply(250, "message accepted")
}

func (s *smtpSession) reply(code int, text string) error {
	if _, err := s.w.WriteString(strconv.Itoa(code) + " " + text + "\r\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

func splitCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return strings.ToUpper(line), ""
	}
	return strings.ToUpper(line[:i]), strings.TrimSpace(line[i+1:])
}

// parseEnvelopeAddr extracts the bracketed address from a "FROM:<addr>"
// or "TO:<addr>" MAIL/RCPT argument.
func parseEnvelopeAddr(arg, prefix string) (string, bool) {
	if !strings.HasPrefix(strings.ToUpper(arg), prefix) {
		return "", false
	}
	rest := arg[len(prefix):]
	start := strings.IndexByte(rest, '<')
	end := strings.IndexByte(rest, '>')
	if start < 0 || end <= start {
		return "", false
	}
	return rest[start+1 : end], true
}

func addrDomain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return addr[at+1:]
}

func remoteIP(conn net.Conn) net.IP {
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	return nil
}

