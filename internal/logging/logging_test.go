package logging

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockedWriter struct {
	wantErr    bool
	writeCalls int
}

func (c *mockedWriter) Write(p []byte) (int, error) {
	c.writeCalls++
	if c.wantErr {
		return -1, errors.New("expected error")
	}
	return len(p), nil
}

// Tests that a write failure on one writer never silences the others.
func TestResilientMultiWriterErrors(t *testing.T) {
	tests := []struct {
		name    string
		writers []*mockedWriter
	}{
		{name: "all valid", writers: []*mockedWriter{{wantErr: false}, {wantErr: false}}},
		{name: "all invalid", writers: []*mockedWriter{{wantErr: true}, {wantErr: true}}},
		{name: "first invalid", writers: []*mockedWriter{{wantErr: true}, {wantErr: false}}},
		{name: "first valid", writers: []*mockedWriter{{wantErr: false}, {wantErr: true}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var writers []io.Writer
			for _, w := range test.writers {
				writers = append(writers, w)
			}
			multi := resilientMultiWriter{level: zerolog.InfoLevel, writers: writers}
			logger := zerolog.New(multi).With().Timestamp().Logger()
			logger.Info().Msg("test msg")

			for _, w := range test.writers {
				assert.Equal(t, 1, w.writeCalls)
			}
		})
	}
}

func TestNewFallsBackOnUnwritableFileConfig(t *testing.T) {
	singleFileInit = fileInitializer{}
	cfg := &Config{
		FileConfig: &FileConfig{Dirname: string([]byte{0}), Filename: "x.log"},
		MinLevel:   "info",
	}
	log := New(cfg)
	require.NotNil(t, log)
}

func TestCreateConfigLogFilePathTakesPrecedenceOverRollingDir(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "single.log")

	cfg := CreateConfig("debug", true, logFile, filepath.Join(dir, "rolling"))
	require.NotNil(t, cfg.FileConfig)
	assert.Nil(t, cfg.RollingConfig)
	assert.Nil(t, cfg.ConsoleConfig)
	assert.Equal(t, "debug", cfg.MinLevel)
}

func TestCreateConfigDefaultsMinLevel(t *testing.T) {
	cfg := CreateConfig("", false, "", "")
	assert.Equal(t, defaultConfig.MinLevel, cfg.MinLevel)
	assert.NotNil(t, cfg.ConsoleConfig)
}

func TestCreateRollingWriterCreatesDirectory(t *testing.T) {
	rollingFileInit = fileInitializer{}
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	w, err := createRollingWriter(RollingConfig{
		Dirname:    dir,
		Filename:   "polyserve.log",
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, w)

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
}
