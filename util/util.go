package util

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/juju/loggo"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"peblar-bridge/config"
)

// GetLoggingWriter returns a new io.Writer suitable for logging.
func GetLoggingWriter(cfg *config.Config) (io.Writer, error) {
	var writer io.Writer = os.Stdout
	if cfg.LogFile != "" {
		dirname := path.Dir(cfg.LogFile)
		if _, err := os.Stat(dirname); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to create log folder")
			}
			if err := os.MkdirAll(dirname, 0o711); err != nil {
				return nil, fmt.Errorf("failed to create log folder")
			}
		}
		writer = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    5, // megabytes
			MaxBackups: 2,
			MaxAge:     28,    //days
			Compress:   false, // disabled by default
		}
	}
	return writer, nil
}

// SetupLogging points the default loggo writer at the configured output
// and sets the root log level.
func SetupLogging(cfg *config.Config) error {
	writer, err := GetLoggingWriter(cfg)
	if err != nil {
		return err
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		return fmt.Errorf("replacing log writer: %w", err)
	}

	level, ok := loggo.ParseLevel(strings.ToUpper(string(cfg.LogLevel)))
	if !ok {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	loggo.GetLogger("").SetLogLevel(level)
	return nil
}
