// Package logging builds the core's zerolog.Logger from a Config,
// fanning events out to any combination of a console writer, a single
// append-only file, and a size-rotated file.
//
// Grounded on the teacher's logger/create.go: the resilientMultiWriter
// (a write failure on one sink must never silence the others, e.g. a
// detached console under a process supervisor) and the
// once-per-process file/rolling writer cache are kept verbatim in
// spirit; management-log streaming to a remote collector is dropped
// (no equivalent remote surface exists here — diagnostics are served
// locally by internal/diag, see DESIGN.md).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	fallbacklog "github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	dirPermMode  = 0744
	filePermMode = 0644

	consoleTimeFormat = time.RFC3339
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

func fallbackLogger(err error) *zerolog.Logger {
	failLog := fallbacklog.With().Logger()
	fallbacklog.Error().Msgf("falling back to a default logger due to logger setup failure: %s", err)
	return &failLog
}

// resilientMultiWriter writes to every configured sink independently; an
// error from one writer never prevents the others from receiving the
// event.
type resilientMultiWriter struct {
	level   zerolog.Level
	writers []io.Writer
}

func (t resilientMultiWriter) Write(p []byte) (int, error) {
	for _, w := range t.writers {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

func (t resilientMultiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if t.level <= level {
		for _, w := range t.writers {
			_, _ = w.Write(p)
		}
	}
	return len(p), nil
}

var levelErrorLogged = false

// New builds a *zerolog.Logger from cfg. A nil cfg uses the package
// default (console-only, info level). Writer construction failures
// (e.g. an unwritable log directory) fall back to a bare stderr logger
// rather than aborting startup.
func New(cfg *Config) *zerolog.Logger {
	if cfg == nil {
		cfg = CreateConfig("", false, "", "")
	}

	var writers []io.Writer
	if cfg.ConsoleConfig != nil {
		writers = append(writers, createConsoleWriter(*cfg.ConsoleConfig))
	}
	if cfg.FileConfig != nil {
		w, err := createFileWriter(*cfg.FileConfig)
		if err != nil {
			return fallbackLogger(err)
		}
		writers = append(writers, w)
	}
	if cfg.RollingConfig != nil {
		w, err := createRollingWriter(*cfg.RollingConfig)
		if err != nil {
			return fallbackLogger(err)
		}
		writers = append(writers, w)
	}

	level, levelErr := zerolog.ParseLevel(cfg.MinLevel)
	if levelErr != nil {
		level = zerolog.InfoLevel
	}

	multi := resilientMultiWriter{level: level, writers: writers}
	log := zerolog.New(multi).With().Timestamp().Logger()
	if !levelErrorLogged && levelErr != nil {
		log.Error().Msgf("failed to parse log level %q, using %q instead", cfg.MinLevel, level)
		levelErrorLogged = true
	}
	return &log
}

func createConsoleWriter(cfg ConsoleConfig) io.Writer {
	if cfg.AsJSON {
		return os.Stderr
	}
	out := os.Stderr
	return zerolog.ConsoleWriter{
		Out:        colorable.NewColorable(out),
		NoColor:    cfg.NoColor || !term.IsTerminal(int(out.Fd())),
		TimeFormat: consoleTimeFormat,
	}
}

type fileInitializer struct {
	once   sync.Once
	writer io.Writer
	err    error
}

var (
	singleFileInit  fileInitializer
	rollingFileInit fileInitializer
)

func createFileWriter(cfg FileConfig) (io.Writer, error) {
	singleFileInit.once.Do(func() {
		f, err := os.OpenFile(cfg.fullpath(), os.O_APPEND|os.O_WRONLY, filePermMode)
		if err != nil {
			f, err = createDirFile(cfg)
			if err != nil {
				singleFileInit.err = err
				return
			}
		}
		singleFileInit.writer = f
	})
	return singleFileInit.writer, singleFileInit.err
}

func createDirFile(cfg FileConfig) (io.Writer, error) {
	if cfg.Dirname != "" {
		if err := os.MkdirAll(cfg.Dirname, dirPermMode); err != nil {
			return nil, fmt.Errorf("unable to create directories for new logfile: %w", err)
		}
	}
	fullPath := filepath.Join(cfg.Dirname, cfg.Filename)
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermMode)
	if err != nil {
		return nil, fmt.Errorf("unable to create a new logfile: %w", err)
	}
	return f, nil
}

func createRollingWriter(cfg RollingConfig) (io.Writer, error) {
	var err error
	rollingFileInit.once.Do(func() {
		if mkErr := os.MkdirAll(cfg.Dirname, dirPermMode); mkErr != nil {
			rollingFileInit.err = mkErr
			return
		}
		rollingFileInit.writer = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dirname, cfg.Filename),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	})
	err = rollingFileInit.err
	return rollingFileInit.writer, err
}
