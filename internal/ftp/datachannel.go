package ftp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/flowmesh/polyserve/internal/retry"
)

// activeDialMaxRetries bounds how many times Accept redials a PORT/EPRT
// client before giving up: the client may not have its passive listener
// up yet the instant the command is processed, a narrow race this
// backoff absorbs without blocking indefinitely.
const activeDialMaxRetries = 3

// DataChannel represents the one data connection that will serve exactly
// one transfer, then close — the "one stream, one transfer" discipline
// this package shares with HTTP/2 streams.
type DataChannel struct {
	ln   net.Listener // set for passive mode, nil for active mode
	addr string       // set for active mode (PORT/EPRT), "" for passive
}

// Passive opens a short-lived listener on an ephemeral port of localAddr
// for PASV/EPSV. The caller advertises the returned address to the
// client, then calls Accept exactly once for the transfer.
func Passive(localAddr string) (*DataChannel, error) {
	ln, err := net.Listen("tcp", localAddr+":0")
	if err != nil {
		return nil, errors.Wrap(err, "opening passive data listener")
	}
	return &DataChannel{ln: ln}, nil
}

// Active prepares a data channel that will dial addr (the client's
// PORT/EPRT-advertised address) once Accept is called.
func Active(addr string) *DataChannel {
	return &DataChannel{addr: addr}
}

// Accept returns the single connection that serves the transfer: for
// passive mode this blocks on the listener's one Accept and then closes
// it; for active mode this dials the client's advertised address.
func (d *DataChannel) Accept() (net.Conn, error) {
	if d.ln != nil {
		defer d.ln.Close()
		conn, err := d.ln.Accept()
		if err != nil {
			return nil, errors.Wrap(err, "accepting passive data connection")
		}
		return conn, nil
	}
	backoff := retry.Handler{MaxRetries: activeDialMaxRetries, BaseTime: 50 * time.Millisecond}
	ctx := context.Background()
	var lastErr error
	for {
		conn, err := net.Dial("tcp", d.addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !backoff.Wait(ctx) {
			return nil, errors.Wrap(lastErr, "dialing active data connection")
		}
	}
}

// Close releases the passive listener without accepting a connection,
// used when a transfer is aborted before the client connects.
func (d *DataChannel) Close() error {
	if d.ln != nil {
		return d.ln.Close()
	}
	return nil
}

// Addr returns the PASV-advertised address ("h1,h2,h3,h4,p1,p2"), valid
// only in passive mode.
func (d *DataChannel) Addr() (string, error) {
	if d.ln == nil {
		return "", errors.New("Addr is only valid for a passive data channel")
	}
	tcpAddr, ok := d.ln.Addr().(*net.TCPAddr)
	if !ok {
		return "", errors.New("passive listener address is not TCP")
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return "", errors.New("PASV requires an IPv4 listener address")
	}
	p1, p2 := tcpAddr.Port>>8, tcpAddr.Port&0xff
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], p1, p2), nil
}

// ParsePORT parses a PORT command argument ("h1,h2,h3,h4,p1,p2") into a
// dialable "ip:port" address.
func ParsePORT(arg string) (string, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", errors.Errorf("malformed PORT argument %q", arg)
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return "", errors.Errorf("malformed PORT octet %q", p)
		}
		nums[i] = n
	}
	ip := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port := nums[4]<<8 | nums[5]
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}
