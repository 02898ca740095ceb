package listener

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/flowmesh/polyserve/internal/ftp"
	"github.com/flowmesh/polyserve/internal/reactor"
	"github.com/flowmesh/polyserve/internal/transport"
)

// FTPBinding describes one bound FTP control-channel address. Data
// channels (PASV/PORT) are opened per transfer by internal/ftp.Session
// itself, on ephemeral ports local to LocalAddr.
type FTPBinding struct {
	Addr      string
	LocalAddr string // advertised in PASV replies; usually Addr's host
	FS        ftp.FileSystem
	Root      *ftp.Guard
}

// BindFTP binds an FTPBinding's control-channel listener onto s's
// reactor pool. Each accepted control connection runs its own
// ftp.Session.Serve loop on a dedicated goroutine.
func (s *Server) BindFTP(b FTPBinding) error {
	handler := func(loop *reactor.Loop, conn net.Conn) {
		go func() {
			start := time.Now()
			if s.conns != nil {
				s.conns.IncAccepted("ftp", b.Addr)
			}
			sess := ftp.NewSession(conn, b.FS, b.Root, b.LocalAddr, s.log)
			if err := sess.Serve(); err != nil && s.log != nil {
				s.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("FTP session ended")
			}
			if s.conns != nil {
				s.conns.IncClosed("ftp", b.Addr)
				s.conns.ObserveLifetime("ftp", time.Since(start))
			}
		}()
	}
	ln, err := transport.ListenTCP(b.Addr, nil, s.pool, handler, s.log)
	if err != nil {
		return errors.Wrapf(err, "binding FTP listener %s", b.Addr)
	}
	s.add(ln)
	return nil
}
