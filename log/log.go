// High level log wrapper, so it can output different log based on level.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - call log.SetLevel()
// - set environment variable `LOG_LEVEL`

package log

import (
	"io"
	"os"
	"strings"

	plog "github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel = zapcore.Level

const (
	LOG_LEVEL_DEBUG = zapcore.DebugLevel
	LOG_LEVEL_INFO  = zapcore.InfoLevel
	LOG_LEVEL_WARN  = zapcore.WarnLevel
	LOG_LEVEL_ERROR = zapcore.ErrorLevel
	LOG_LEVEL_FATAL = zapcore.FatalLevel
)

var _log = New()

func SetLevel(level LogLevel) {
	_log.SetLevel(level)
}

func GetLogLevel() LogLevel {
	return _log.level.Level()
}

func SetLevelByString(level string) {
	_log.SetLevelByString(level)
}

// SetOutput redirects the global logger, mostly useful in tests.
func SetOutput(w io.Writer) {
	level := _log.level.Level()
	_log = NewLogger(w)
	_log.SetLevel(level)
}

// InitFileLogger sends the global logger to filename through pingcap/log, which rotates the file.
func InitFileLogger(level, filename string) error {
	lg, props, err := plog.InitLogger(&plog.Config{
		Level:  StringToLogLevel(level).String(),
		Format: "text",
		File:   plog.FileLogConfig{Filename: filename},
	})
	if err != nil {
		return err
	}
	plog.ReplaceGlobals(lg, props)
	_log = &Logger{sugar: lg.WithOptions(zap.AddCallerSkip(2)).Sugar(), level: props.Level}
	return nil
}

// Named returns a child of the global logger tagged with a component name.
func Named(component string) *Logger {
	return _log.Named(component)
}

func Info(v ...interface{}) {
	_log.Info(v...)
}

func Infof(format string, v ...interface{}) {
	_log.Infof(format, v...)
}

func Debug(v ...interface{}) {
	_log.Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	_log.Debugf(format, v...)
}

func Warn(v ...interface{}) {
	_log.Warn(v...)
}

func Warnf(format string, v ...interface{}) {
	_log.Warnf(format, v...)
}

func Error(v ...interface{}) {
	_log.Error(v...)
}

func Errorf(format string, v ...interface{}) {
	_log.Errorf(format, v...)
}

func Fatal(v ...interface{}) {
	_log.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	_log.Fatalf(format, v...)
}

func Panic(v ...interface{}) {
	_log.Panic(v...)
}

func Panicf(format string, v ...interface{}) {
	_log.Panicf(format, v...)
}

func Sync() error {
	return _log.sugar.Sync()
}

type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level)
}

func (l *Logger) SetLevelByString(level string) {
	l.level.SetLevel(StringToLogLevel(level))
}

func (l *Logger) Named(component string) *Logger {
	// Component loggers are called directly, one frame shallower than the package helpers.
	sugar := l.sugar.Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().Named(component)
	return &Logger{sugar: sugar, level: l.level}
}

func (l *Logger) Info(v ...interface{})                    { l.sugar.Info(v...) }
func (l *Logger) Infof(format string, v ...interface{})    { l.sugar.Infof(format, v...) }
func (l *Logger) Debug(v ...interface{})                   { l.sugar.Debug(v...) }
func (l *Logger) Debugf(format string, v ...interface{})   { l.sugar.Debugf(format, v...) }
func (l *Logger) Warn(v ...interface{})                    { l.sugar.Warn(v...) }
func (l *Logger) Warnf(format string, v ...interface{})    { l.sugar.Warnf(format, v...) }
func (l *Logger) Error(v ...interface{})                   { l.sugar.Error(v...) }
func (l *Logger) Errorf(format string, v ...interface{})   { l.sugar.Errorf(format, v...) }
func (l *Logger) Fatal(v ...interface{})                   { l.sugar.Fatal(v...) }
func (l *Logger) Fatalf(format string, v ...interface{})   { l.sugar.Fatalf(format, v...) }
func (l *Logger) Panic(v ...interface{})                   { l.sugar.Panic(v...) }
func (l *Logger) Panicf(format string, v ...interface{})   { l.sugar.Panicf(format, v...) }
func (l *Logger) Enabled(level LogLevel) bool              { return l.level.Enabled(level) }

func StringToLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "fatal":
		return LOG_LEVEL_FATAL
	case "error":
		return LOG_LEVEL_ERROR
	case "warn", "warning":
		return LOG_LEVEL_WARN
	case "debug":
		return LOG_LEVEL_DEBUG
	case "info":
		return LOG_LEVEL_INFO
	}
	return LOG_LEVEL_DEBUG
}

func New() *Logger {
	return NewLogger(os.Stderr)
}

func NewLogger(w io.Writer) *Logger {
	level := zap.NewAtomicLevelAt(LOG_LEVEL_INFO)
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		level.SetLevel(StringToLogLevel(l))
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return &Logger{sugar: logger.Sugar(), level: level}
}
