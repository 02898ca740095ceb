package listener

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/polyserve/internal/ftp"
	"github.com/flowmesh/polyserve/internal/transport"
)

// emptyFS is a minimal ftp.FileSystem fake used only to exercise BindFTP's
// wiring; it is not a shipped backend.
type emptyFS struct{}

func (emptyFS) List(dir string) ([]ftp.FileInfo, error)    { return nil, nil }
func (emptyFS) Stat(path string) (ftp.FileInfo, error)     { return ftp.FileInfo{Name: path, IsDir: true}, nil }
func (emptyFS) Open(path string) (io.ReadCloser, error)    { return nil, io.EOF }
func (emptyFS) Create(path string) (io.WriteCloser, error) { return nil, io.EOF }
func (emptyFS) Mkdir(path string) error                    { return nil }
func (emptyFS) Remove(path string) error                   { return nil }

func TestBindFTPStartsControlSession(t *testing.T) {
	root := t.TempDir()
	guard, err := ftp.NewGuard(root)
	require.NoError(t, err)

	log := zerolog.Nop()
	s := New(1, &log)

	err = s.BindFTP(FTPBinding{
		Addr:      "127.0.0.1:0",
		LocalAddr: "127.0.0.1",
		FS:        emptyFS{},
		Root:      guard,
	})
	require.NoError(t, err)
	require.Len(t, s.listeners, 1)

	tcpLn := s.listeners[0].(*transport.TCPListener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tcpLn.Serve(ctx)

	conn, err := net.DialTimeout("tcp", tcpLn.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "220")
}
