// Command polyserved wires internal/listener's binding primitives to a
// minimal CLI surface: bind addresses, TLS material, and a log/metrics
// configuration. It runs no protocol logic of its own — every command
// it accepts is handed straight to a Bind call, matching the division
// of labor cloudflared's cmd/cloudflared keeps between flag parsing and
// the packages that actually speak the wire protocols.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/flowmesh/polyserve/internal/ftp"
	"github.com/flowmesh/polyserve/internal/httpcontract"
	"github.com/flowmesh/polyserve/internal/listener"
	"github.com/flowmesh/polyserve/internal/logging"
	"github.com/flowmesh/polyserve/internal/metrics"
	"github.com/flowmesh/polyserve/internal/transport/tlsconfig"
)

const (
	flagHTTPAddr    = "http-addr"
	flagHTTPSAddr   = "https-addr"
	flagCertPath    = "cert"
	flagKeyPath     = "key"
	flagH3          = "h3"
	flagSMTPAddr    = "smtp-addr"
	flagSMTPDomain  = "smtp-domain"
	flagFTPAddr     = "ftp-addr"
	flagFTPRoot     = "ftp-root"
	flagDiagAddr    = "diag-addr"
	flagDiagDebug   = "diag-debug"
	flagPoolSize    = "pool-size"
	flagLogLevel    = "log-level"
	flagLogFile     = "log-file"
	flagLogRollDir  = "log-rolling-dir"
	flagLogNoColor  = "log-no-color"
)

func main() {
	app := &cli.App{
		Name:  "polyserved",
		Usage: "run an HTTP/1.1, HTTP/2, HTTP/3, WebSocket, SMTP and FTP server on a shared reactor pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagHTTPAddr, Usage: "cleartext HTTP/1.1(+h2c) bind address"},
			&cli.StringFlag{Name: flagHTTPSAddr, Usage: "TLS HTTP/1.1+h2(+h3) bind address"},
			&cli.StringFlag{Name: flagCertPath, Usage: "TLS certificate path, required with " + flagHTTPSAddr},
			&cli.StringFlag{Name: flagKeyPath, Usage: "TLS key path, required with " + flagHTTPSAddr},
			&cli.BoolFlag{Name: flagH3, Usage: "also serve HTTP/3 on " + flagHTTPSAddr + "'s UDP port"},
			&cli.StringFlag{Name: flagSMTPAddr, Usage: "SMTP bind address (disabled if empty)"},
			&cli.StringFlag{Name: flagSMTPDomain, Value: "localhost", Usage: "domain advertised in the SMTP greeting"},
			&cli.StringFlag{Name: flagFTPAddr, Usage: "FTP control-channel bind address (disabled if empty)"},
			&cli.StringFlag{Name: flagFTPRoot, Value: ".", Usage: "directory served over FTP"},
			&cli.StringFlag{Name: flagDiagAddr, Value: "127.0.0.1:9090", Usage: "diagnostic surface bind address"},
			&cli.BoolFlag{Name: flagDiagDebug, Usage: "enable /metrics and pprof on the diagnostic surface"},
			&cli.IntFlag{Name: flagPoolSize, Value: 0, Usage: "reactor loop count, 0 defaults to GOMAXPROCS"},
			&cli.StringFlag{Name: flagLogLevel, Value: "info", Usage: "zerolog minimum level"},
			&cli.StringFlag{Name: flagLogFile, Usage: "append-only log file path, takes precedence over " + flagLogRollDir},
			&cli.StringFlag{Name: flagLogRollDir, Usage: "directory for a size/age-rotated log file"},
			&cli.BoolFlag{Name: flagLogNoColor, Usage: "disable ANSI color in console log output"},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	logCfg := logging.CreateConfig(c.String(flagLogLevel), false, c.String(flagLogFile), c.String(flagLogRollDir))
	logCfg.ConsoleConfig.NoColor = c.Bool(flagLogNoColor)
	log := logging.New(logCfg)

	registry := prometheus.NewRegistry()
	srv := listener.New(c.Int(flagPoolSize), log)
	srv.SetReactorMetrics(metrics.NewReactorMetrics(registry))
	srv.SetConnectionMetrics(metrics.NewConnectionMetrics(registry))
	srv.SetAuthMetrics(metrics.NewAuthMetrics(registry))

	if err := bindFromFlags(c, srv); err != nil {
		return err
	}
	if err := srv.BindDiag(listener.DiagBinding{
		Addr:               c.String(flagDiagAddr),
		Gatherer:           registry,
		EnableDiagServices: c.Bool(flagDiagDebug),
	}); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("polyserved starting")
	err := srv.Run(ctx)
	srv.Shutdown()
	return err
}

// bindFromFlags binds each protocol listener the command line actually
// asked for; every one of these bindings is optional, so a run with no
// flags at all still starts (and serves only the diagnostic surface).
func bindFromFlags(c *cli.Context, srv *listener.Server) error {
	if addr := c.String(flagHTTPAddr); addr != "" {
		if err := srv.BindHTTP(listener.HTTPBinding{
			Addr:            addr,
			Handler:         demoHandler,
			EnableH2C:       true,
			EnableWebSocket: true,
		}); err != nil {
			return err
		}
	}

	if addr := c.String(flagHTTPSAddr); addr != "" {
		tlsCfg, err := tlsconfig.GetServerConfig(tlsconfig.ServerOptions{
			CertPath: c.String(flagCertPath),
			KeyPath:  c.String(flagKeyPath),
		})
		if err != nil {
			return err
		}
		if err := srv.BindHTTP(listener.HTTPBinding{
			Addr:            addr,
			TLSConfig:       tlsCfg,
			Handler:         demoHandler,
			EnableWebSocket: true,
			H3:              c.Bool(flagH3),
		}); err != nil {
			return err
		}
	}

	if addr := c.String(flagSMTPAddr); addr != "" {
		if err := srv.BindSMTP(listener.SMTPBinding{
			Addr:   addr,
			Domain: c.String(flagSMTPDomain),
		}); err != nil {
			return err
		}
	}

	if addr := c.String(flagFTPAddr); addr != "" {
		root, err := ftp.NewGuard(c.String(flagFTPRoot))
		if err != nil {
			return err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return err
		}
		if err := srv.BindFTP(listener.FTPBinding{
			Addr:      addr,
			LocalAddr: host,
			FS:        newOSFileSystem(c.String(flagFTPRoot)),
			Root:      root,
		}); err != nil {
			return err
		}
	}

	return nil
}

// demoHandler answers every request with a fixed plaintext body. It
// exists so this binary has something to exercise the HTTP engines
// with; a real application handler is the caller's responsibility.
func demoHandler(w httpcontract.ResponseWriter, req *httpcontract.Request) {
	w.SetHeader("content-type", "text/plain; charset=utf-8")
	w.SetStatus(http.StatusOK)
	if err := w.StartBody(); err != nil {
		return
	}
	_ = w.WriteBody([]byte("polyserve is up (" + req.Protocol.String() + ")\n"))
	_ = w.EndBody()
	_ = w.Complete()
}
