// Package tlsconfig builds the server- and client-facing *tls.Config values
// used by the transport layer, including ALPN negotiation between HTTP/1.1,
// h2 and h3, and optional mutual-TLS client certificate verification.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// ALPN protocol identifiers advertised by the server and negotiated per
// connection; internal/listener picks the HTTP engine to hand the
// connection to based on ConnectionState().NegotiatedProtocol.
const (
	ALPNHTTP11 = "http/1.1"
	ALPNH2     = "h2"
	ALPNH3     = "h3"
)

// ServerOptions configures GetServerConfig.
type ServerOptions struct {
	CertPath    string
	KeyPath     string
	ClientCA    string
	RequireMTLS bool
	Reloader    *CertReloader

	// NextProtos overrides the default ALPN protocol list; nil means
	// HTTP/1.1 and h2 only (h3 listeners set this explicitly since QUIC
	// negotiates h3 itself).
	NextProtos []string
}

// GetServerConfig builds a tls.Config suitable for a stream listener. When
// opts.Reloader is set, certificates are served via GetCertificate so they
// can be swapped without restarting the listener; otherwise a static
// key pair is loaded once from CertPath/KeyPath.
func GetServerConfig(opts ServerOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:       tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
	}

	if opts.Reloader != nil {
		cfg.GetCertificate = opts.Reloader.Cert
	} else {
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading server certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if opts.ClientCA != "" {
		pool, err := LoadCert(opts.ClientCA)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		if opts.RequireMTLS {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	if opts.NextProtos != nil {
		cfg.NextProtos = opts.NextProtos
	} else {
		cfg.NextProtos = []string{ALPNH2, ALPNHTTP11}
	}

	return cfg, nil
}

// ClientOptions configures GetClientConfig for outbound auth/origin dials.
type ClientOptions struct {
	RootCA             string
	InsecureSkipVerify bool
	ServerName         string
}

func GetClientConfig(opts ClientOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		ServerName:         opts.ServerName,
	}
	if opts.RootCA != "" {
		pool, err := LoadCert(opts.RootCA)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// LoadCert reads a PEM file into a fresh certificate pool.
func LoadCert(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading certificate file %s", path)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}
