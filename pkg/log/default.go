package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var logger ILogger = newDefaultLogger(os.Stderr)

func DefaultLogger() ILogger {
	return logger
}

func SetLogger(v ILogger) {
	logger = v
}

func SetLevel(lv slog.Level) {
	logger.SetLevel(lv)
}

func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Debug(format string, v ...any) {
	logger.Debug(format, v...)
}

func Info(format string, v ...any) {
	logger.Info(format, v...)
}

func Warn(format string, v ...any) {
	logger.Warn(format, v...)
}

func Error(format string, v ...any) {
	logger.Error(format, v...)
}

func CtxDebug(ctx context.Context, format string, v ...any) {
	logger.CtxDebug(ctx, format, v...)
}

func CtxInfo(ctx context.Context, format string, v ...any) {
	logger.CtxInfo(ctx, format, v...)
}

func CtxWarn(ctx context.Context, format string, v ...any) {
	logger.CtxWarn(ctx, format, v...)
}

func CtxError(ctx context.Context, format string, v ...any) {
	logger.CtxError(ctx, format, v...)
}

type defaultLogger struct {
	sl    atomic.Pointer[slog.Logger]
	level *slog.LevelVar
}

func newDefaultLogger(w io.Writer) *defaultLogger {
	d := &defaultLogger{level: new(slog.LevelVar)}
	d.level.Set(slog.LevelInfo)
	d.SetOutput(w)
	return d
}

func (d *defaultLogger) SetLevel(lv slog.Level) {
	d.level.Set(lv)
}

func (d *defaultLogger) SetOutput(w io.Writer) {
	d.sl.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: d.level})))
}

func (d *defaultLogger) Debug(format string, v ...any) {
	d.sl.Load().Debug(fmt.Sprintf(format, v...))
}

func (d *defaultLogger) Info(format string, v ...any) {
	d.sl.Load().Info(fmt.Sprintf(format, v...))
}

func (d *defaultLogger) Warn(format string, v ...any) {
	d.sl.Load().Warn(fmt.Sprintf(format, v...))
}

func (d *defaultLogger) Error(format string, v ...any) {
	d.sl.Load().Error(fmt.Sprintf(format, v...))
}

func (d *defaultLogger) CtxDebug(ctx context.Context, format string, v ...any) {
	d.sl.Load().DebugContext(ctx, fmt.Sprintf(format, v...))
}

func (d *defaultLogger) CtxInfo(ctx context.Context, format string, v ...any) {
	d.sl.Load().InfoContext(ctx, fmt.Sprintf(format, v...))
}

func (d *defaultLogger) CtxWarn(ctx context.Context, format string, v ...any) {
	d.sl.Load().WarnContext(ctx, fmt.Sprintf(format, v...))
}

func (d *defaultLogger) CtxError(ctx context.Context, format string, v ...any) {
	d.sl.Load().ErrorContext(ctx, fmt.Sprintf(format, v...))
}
