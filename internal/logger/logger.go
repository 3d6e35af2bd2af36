package logger

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log files written under the log directory, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	sugar  *zap.SugaredLogger
	logDir string
	files  map[string]*lumberjack.Logger
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	l := &Logger{
		logDir: logDir,
		files:  make(map[string]*lumberjack.Logger),
	}
	l.sugar = zap.New(l.setupCores(), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return l, nil
}

// FromZap wraps an existing zap logger. The result has no log files, so
// CleanLogs fails for every name.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// setupCores tees a console core with one file core per level. Each file only
// receives its own level so the log endpoints can serve them separately.
func (l *Logger) setupCores() zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	console := zapcore.NewConsoleEncoder(encCfg)

	only := func(level zapcore.Level) zap.LevelEnablerFunc {
		return func(lvl zapcore.Level) bool { return lvl == level }
	}

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl < zapcore.ErrorLevel
		})),
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), zapcore.ErrorLevel),
		zapcore.NewCore(console, zapcore.AddSync(l.openLogFile(InfoFile)), only(zapcore.InfoLevel)),
		zapcore.NewCore(console, zapcore.AddSync(l.openLogFile(WarningFile)), only(zapcore.WarnLevel)),
		zapcore.NewCore(console, zapcore.AddSync(l.openLogFile(ErrorFile)), only(zapcore.ErrorLevel)),
	}
	return zapcore.NewTee(cores...)
}

// openLogFile returns a size-rotated writer for a log file.
func (l *Logger) openLogFile(name string) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    20,
		MaxBackups: 3,
	}
	l.files[name] = w
	return w
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Dir returns the directory log files are written to.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	w, ok := l.files[fileName]
	if !ok {
		return errors.Errorf("unknown log file %q", fileName)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", fileName)
	}
	if err := os.Truncate(w.Filename, 0); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to truncate %s", fileName)
	}
	l.Info("File %s has been cleared.", fileName)
	return nil
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
