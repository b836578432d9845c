package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	rotating   []io.Closer
	rotatingMu sync.Mutex
)

// Logger is a logrus entry that can travel inside a context.
type Logger struct {
	*logrus.Entry
}

// New builds a logger tagged with opts.Service.
func New(opts Options) *Logger {
	base := logrus.New()
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetReportCaller(true)
	base.SetFormatter(formatter(opts.Format))
	base.SetOutput(output(opts))

	service := opts.Service
	if service == "" {
		service = "mediavault"
	}
	return &Logger{Entry: base.WithField("service", service)}
}

func output(opts Options) io.Writer {
	if opts.Output != nil {
		return opts.Output
	}
	if opts.local() || opts.File == "" {
		return os.Stdout
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.Rotation.MaxSizeMB,
		MaxBackups: opts.Rotation.MaxBackups,
		MaxAge:     opts.Rotation.MaxAgeDays,
		Compress:   opts.Rotation.Compress,
	}
	rotatingMu.Lock()
	rotating = append(rotating, file)
	rotatingMu.Unlock()

	if opts.FileOnly {
		return file
	}
	return io.MultiWriter(os.Stdout, file)
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: caller,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
		CallerPrettyfier: caller,
	}
}

// caller reports pkg.Func and file:line instead of full paths.
func caller(frame *runtime.Frame) (string, string) {
	fn := frame.Function
	if i := strings.LastIndexByte(fn, '/'); i >= 0 {
		fn = fn[i+1:]
	}
	return fn, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// Sync closes rotating log files. Call it before exit.
func Sync() error {
	rotatingMu.Lock()
	defer rotatingMu.Unlock()

	var first error
	for _, c := range rotating {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	rotating = nil
	return first
}

func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// Info and Warn write to the default logger, for code without a request context.
func Info(format string, args ...interface{}) { GetDefault().Infof(format, args...) }
func Warn(format string, args ...interface{}) { GetDefault().Warnf(format, args...) }

func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

func CtxInfo(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

func CtxWarn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}

func CtxError(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Errorf(format, args...)
}
