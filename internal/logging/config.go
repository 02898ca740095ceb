package logging

import "path/filepath"

var defaultConfig = createDefaultConfig()

// Config selects where and how log events are written. The zero value is
// not meaningful; use CreateConfig or the package-level defaultConfig.
type Config struct {
	ConsoleConfig *ConsoleConfig // nil disables console logging
	FileConfig    *FileConfig    // nil disables single-file logging
	RollingConfig *RollingConfig // nil disables size-rotated file logging

	MinLevel string // debug | info | warn | error | fatal
}

type ConsoleConfig struct {
	NoColor bool
	AsJSON  bool
}

type FileConfig struct {
	Dirname  string
	Filename string
}

func (fc *FileConfig) fullpath() string {
	return filepath.Join(fc.Dirname, fc.Filename)
}

type RollingConfig struct {
	Dirname  string
	Filename string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int // 0 keeps forever
}

func createDefaultConfig() Config {
	const minLevel = "info"
	const defaultLogFilename = "polyserve.log"

	return Config{
		ConsoleConfig: &ConsoleConfig{},
		RollingConfig: &RollingConfig{
			Filename:   defaultLogFilename,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 0,
		},
		MinLevel: minLevel,
	}
}

// CreateConfig builds a Config from the flag-level choices a bootstrap
// command exposes: minLevel, whether to suppress console output, a
// single non-rotating log file path, or a directory to hold a
// size-rotated log file. logFilePath and rollingLogDir are mutually
// exclusive; if both are set, logFilePath wins.
func CreateConfig(minLevel string, disableConsole bool, logFilePath, rollingLogDir string) *Config {
	var console *ConsoleConfig
	if !disableConsole {
		console = &ConsoleConfig{}
	}

	var file *FileConfig
	var rolling *RollingConfig
	switch {
	case logFilePath != "":
		dirname, filename := filepath.Split(logFilePath)
		file = &FileConfig{Dirname: dirname, Filename: filename}
	case rollingLogDir != "":
		rolling = &RollingConfig{
			Dirname:    rollingLogDir,
			Filename:   defaultConfig.RollingConfig.Filename,
			MaxSizeMB:  defaultConfig.RollingConfig.MaxSizeMB,
			MaxBackups: defaultConfig.RollingConfig.MaxBackups,
			MaxAgeDays: defaultConfig.RollingConfig.MaxAgeDays,
		}
	}

	if minLevel == "" {
		minLevel = defaultConfig.MinLevel
	}

	return &Config{
		ConsoleConfig: console,
		FileConfig:    file,
		RollingConfig: rolling,
		MinLevel:      minLevel,
	}
}
