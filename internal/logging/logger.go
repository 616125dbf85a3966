package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process-wide logger. Every component constructor takes
// a *logrus.Entry scoped with its own "component" field. Output goes to
// both stdout and a rotating file under logDir (2MB per file, 3
// backups) without pulling in a second logging stack.
func New(level, logDir string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if logDir != "" {
		if mkErr := os.MkdirAll(logDir, 0o755); mkErr != nil {
			log.Warnf("could not create log directory %s: %v", logDir, mkErr)
		} else {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(logDir, "surplus-manager.log"),
				MaxSize:    2, // megabytes
				MaxBackups: 3,
				Compress:   false,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, rotator))
		}
	}

	return log
}
