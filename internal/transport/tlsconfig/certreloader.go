package tlsconfig

import (
	"crypto/tls"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CertReloader loads and reloads a TLS certificate from a filepath, hooking
// into tls.Config's GetCertificate so a listener can pick up a renewed
// certificate without a restart.
type CertReloader struct {
	mu          sync.Mutex
	certificate *tls.Certificate
	certPath    string
	keyPath     string

	watcher *fsnotify.Watcher
	log     *zerolog.Logger
}

// NewCertReloader loads the certificate once to validate certPath/keyPath,
// then starts an fsnotify watch on both files so subsequent writes (e.g. an
// ACME renewal replacing the files) are picked up automatically.
func NewCertReloader(certPath, keyPath string, log *zerolog.Logger) (*CertReloader, error) {
	cr := &CertReloader{certPath: certPath, keyPath: keyPath, log: log}
	if err := cr.LoadCert(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating certificate watcher")
	}
	if err := watcher.Add(certPath); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "watching certificate file")
	}
	if err := watcher.Add(keyPath); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "watching key file")
	}
	cr.watcher = watcher
	go cr.watch()
	return cr, nil
}

// Cert implements tls.Config.GetCertificate.
func (cr *CertReloader) Cert(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.certificate, nil
}

// LoadCert re-reads the certificate pair from disk. The previous
// certificate is kept in place if the new pair fails to parse.
func (cr *CertReloader) LoadCert() error {
	cert, err := tls.LoadX509KeyPair(cr.certPath, cr.keyPath)
	if err != nil {
		return errors.Wrap(err, "parsing X509 key pair")
	}
	cr.mu.Lock()
	cr.certificate = &cert
	cr.mu.Unlock()
	return nil
}

func (cr *CertReloader) watch() {
	for {
		select {
		case event, ok := <-cr.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := cr.LoadCert(); err != nil && cr.log != nil {
				cr.log.Error().Err(err).Msg("failed to reload TLS certificate")
			} else if cr.log != nil {
				cr.log.Info().Msg("reloaded TLS certificate")
			}
		case err, ok := <-cr.watcher.Errors:
			if !ok {
				return
			}
			if cr.log != nil {
				cr.log.Error().Err(err).Msg("certificate watcher error")
			}
		}
	}
}

// Close stops the underlying filesystem watch.
func (cr *CertReloader) Close() error {
	if cr.watcher == nil {
		return nil
	}
	return cr.watcher.Close()
}
