// Package ftp implements the control-connection command parser and
// session state machine for an RFC 959 subset, plus the PASV/PORT data
// channel lifecycle and a symlink-aware path-traversal guard. It reuses
// the line-oriented scanning discipline internal/http1 established for
// its own CRLF-terminated request-line/header parsing, since both
// protocols are text, line-oriented, and run over the same transport
// substrate.
package ftp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Session holds one control connection's state: authentication,
// current working directory, transfer type, and the pending data
// channel for the next LIST/RETR/STOR.
type Session struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	log  *zerolog.Logger
	fs   FileSystem
	root *Guard

	user      string
	authed    bool
	cwd       string
	binary    bool
	localAddr string

	pending *DataChannel
}

// NewSession wraps conn as an FTP control connection rooted at root.
// localAddr is the address PASV listeners bind to, normally conn's own
// local IP.
func NewSession(conn net.Conn, fs FileSystem, root *Guard, localAddr string, log *zerolog.Logger) *Session {
	return &Session{
		conn:      conn,
		r:         bufio.NewReader(conn),
		w:         bufio.NewWriter(conn),
		fs:        fs,
		root:      root,
		cwd:       "/",
		binary:    true,
		localAddr: localAddr,
		log:       log,
	}
}

// Serve runs the control-connection command loop until QUIT or a
// transport error ends it.
func (s *Session) Serve() error {
	if err := s.reply(220, "polyserve FTP service ready"); err != nil {
		return err
	}
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return err
		}
		cmd, ok := ParseCommand(line)
		if !ok {
			continue
		}
		quit, err := s.dispatch(cmd)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (s *Session) dispatch(cmd Command) (quit bool, err error) {
	// requireAuth only sends the 530 reply, so the filesystem commands are
	// refused here before they run.
	switch cmd.Verb {
	case "CWD", "CDUP", "LIST", "RETR", "STOR", "DELE", "MKD", "RMD":
		if !s.authed {
			return false, s.reply(530, "not logged in")
		}
	}
	switch cmd.Verb {
	case "USER":
		s.user = cmd.Arg
		s.authed = false
		return false, s.reply(331, "password required for "+cmd.Arg)
	case "PASS":
		s.authed = true
		return false, s.reply(230, "user logged in")
	case "SYST":
		return false, s.reply(215, "UNIX Type: L8")
	case "NOOP":
		return false, s.reply(200, "NOOP ok")
	case "FEAT":
		return false, s.replyFeat()
	case "PWD":
		return false, s.reply(257, quotePath(s.cwd))
	case "CWD":
		return false, s.cmdCWD(cmd.Arg)
	case "CDUP":
		return false, s.cmdCWD("..")
	case "TYPE":
		return false, s.cmdType(cmd.Arg)
	case "PASV":
		return false, s.cmdPASV()
	case "EPSV":
		return false, s.cmdEPSV()
	case "PORT":
		return false, s.cmdPORT(cmd.Arg)
	case "LIST":
		return false, s.cmdLIST(cmd.Arg)
	case "RETR":
		return false, s.cmdRETR(cmd.Arg)
	case "STOR":
		return false, s.cmdSTOR(cmd.Arg)
	case "DELE":
		return false, s.cmdDELE(cmd.Arg)
	case "MKD":
		return false, s.cmdMKD(cmd.Arg)
	case "RMD":
		return false, s.cmdRMD(cmd.Arg)
	case "QUIT":
		s.reply(221, "goodbye")
		return true, nil
	default:
		return false, s.reply(502, "command not implemented")
	}
}

func (s *Session) requireAuth() error {
	if !s.authed {
		return s.reply(530, "not logged in")
	}
	return nil
}

func (s *Session) cmdCWD(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	resolved, err := s.root.Resolve(s.cwd, arg)
	if err != nil {
		return s.reply(550, "failed to change directory: "+err.Error())
	}
	if _, err := s.fs.Stat(resolved); err != nil {
		return s.reply(550, "failed to change directory: "+err.Error())
	}
	s.cwd = resolved
	return s.reply(250, "directory changed to "+s.cwd)
}

func (s *Session) cmdType(arg string) error {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "I":
		s.binary = true
	case "A":
		s.binary = false
	default:
		return s.reply(504, "unsupported TYPE "+arg)
	}
	return s.reply(200, "type set to "+arg)
}

func (s *Session) cmdPASV() error {
	dc, err := Passive(s.localAddr)
	if err != nil {
		return s.reply(425, "cannot open passive connection")
	}
	addr, err := dc.Addr()
	if err != nil {
		dc.Close()
		return s.reply(425, "cannot open passive connection")
	}
	s.pending = dc
	return s.reply(227, fmt.Sprintf("entering passive mode (%s)", addr))
}

func (s *Session) cmdEPSV() error {
	dc, err := Passive(s.localAddr)
	if err != nil {
		return s.reply(425, "cannot open passive connection")
	}
	tcpAddr, ok := dc.ln.Addr().(*net.TCPAddr)
	if !ok {
		dc.Close()
		return s.reply(425, "cannot open passive connection")
	}
	s.pending = dc
	return s.reply(229, fmt.Sprintf("entering extended passive mode (|||%d|)", tcpAddr.Port))
}

func (s *Session) cmdPORT(arg string) error {
	addr, err := ParsePORT(arg)
	if err != nil {
		return s.reply(501, "malformed PORT argument")
	}
	s.pending = Active(addr)
	return s.reply(200, "PORT command successful")
}

func (s *Session) cmdLIST(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	dir := s.cwd
	if arg != "" {
		resolved, err := s.root.Resolve(s.cwd, arg)
		if err != nil {
			return s.reply(550, "failed to list: "+err.Error())
		}
		dir = resolved
	}
	entries, err := s.fs.List(dir)
	if err != nil {
		return s.reply(550, "failed to list: "+err.Error())
	}

	conn, err := s.openData()
	if err != nil {
		return s.reply(425, "cannot open data connection")
	}
	defer conn.Close()

	if err := s.reply(150, "opening data connection for directory listing"); err != nil {
		return err
	}
	for _, info := range entries {
		fmt.Fprintf(conn, "%s\r\n", formatListLine(info))
	}
	return s.reply(226, "transfer complete")
}

func (s *Session) cmdRETR(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	resolved, err := s.root.Resolve(s.cwd, arg)
	if err != nil {
		return s.reply(550, "failed to open file: "+err.Error())
	}
	reader, err := s.fs.Open(resolved)
	if err != nil {
		return s.reply(550, "failed to open file: "+err.Error())
	}
	defer reader.Close()

	conn, err := s.openData()
	if err != nil {
		return s.reply(425, "cannot open data connection")
	}
	defer conn.Close()

	if err := s.reply(150, "opening data connection for "+arg); err != nil {
		return err
	}
	if _, err := copyData(conn, reader); err != nil {
		return s.reply(426, "transfer aborted: "+err.Error())
	}
	return s.reply(226, "transfer complete")
}

func (s *Session) cmdSTOR(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	resolved, err := s.root.Resolve(s.cwd, arg)
	if err != nil {
		return s.reply(550, "failed to create file: "+err.Error())
	}
	writer, err := s.fs.Create(resolved)
	if err != nil {
		return s.reply(550, "failed to create file: "+err.Error())
	}
	defer writer.Close()

	conn, err := s.openData()
	if err != nil {
		return s.reply(425, "cannot open data connection")
	}
	defer conn.Close()

	if err := s.reply(150, "opening data connection for "+arg); err != nil {
		return err
	}
	if _, err := copyData(writer, conn); err != nil {
		return s.reply(426, "transfer aborted: "+err.Error())
	}
	return s.reply(226, "transfer complete")
}

func (s *Session) cmdDELE(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	resolved, err := s.root.Resolve(s.cwd, arg)
	if err != nil {
		return s.reply(550, "failed to delete: "+err.Error())
	}
	if err := s.fs.Remove(resolved); err != nil {
		return s.reply(550, "failed to delete: "+err.Error())
	}
	return s.reply(250, "file deleted")
}

func (s *Session) cmdMKD(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	resolved, err := s.root.Resolve(s.cwd, arg)
	if err != nil {
		return s.reply(550, "failed to create directory: "+err.Error())
	}
	if err := s.fs.Mkdir(resolved); err != nil {
		return s.reply(550, "failed to create directory: "+err.Error())
	}
	return s.reply(257, quotePath(resolved))
}

func (s *Session) cmdRMD(arg string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	resolved, err := s.root.Resolve(s.cwd, arg)
	if err != nil {
		return s.reply(550, "failed to remove directory: "+err.Error())
	}
	if err := s.fs.Remove(resolved); err != nil {
		return s.reply(550, "failed to remove directory: "+err.Error())
	}
	return s.reply(250, "directory removed")
}

// openData consumes the pending data channel set up by a prior
// PASV/EPSV/PORT command; exactly one data connection serves exactly
// one transfer, matching the HTTP/2 stream discipline this component
// mirrors.
func (s *Session) openData() (net.Conn, error) {
	if s.pending == nil {
		return nil, errors.New("no PASV/PORT issued before transfer command")
	}
	dc := s.pending
	s.pending = nil
	return dc.Accept()
}

func (s *Session) reply(code int, text string) error {
	if _, err := fmt.Fprintf(s.w, "%d %s\r\n", code, text); err != nil {
		return err
	}
	return s.w.Flush()
}

// replyFeat writes the RFC 2389 multiline FEAT reply.
func (s *Session) replyFeat() error {
	lines := []string{"211-Features:", " EPSV", " PASV", "211 End"}
	for _, line := range lines {
		if _, err := fmt.Fprintf(s.w, "%s\r\n", line); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func formatListLine(info FileInfo) string {
	kind := "-"
	if info.IsDir {
		kind = "d"
	}
	return fmt.Sprintf("%srwxr-xr-x 1 owner group %d %s %s",
		kind, info.Size, info.ModTime.Format("Jan 02 15:04"), info.Name)
}

func copyData(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
