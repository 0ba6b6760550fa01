package vfs

import (
	"context"
	"log/slog"
)

const slogLevelTrace = slog.LevelDebug - 2

func (ns *Namespace) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if ns.log != nil {
		ns.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (ns *Namespace) trace(msg string, attrs ...slog.Attr) {
	ns.logattrs(slogLevelTrace, msg, attrs...)
}
func (ns *Namespace) debug(msg string, attrs ...slog.Attr) {
	ns.logattrs(slog.LevelDebug, msg, attrs...)
}
func (ns *Namespace) info(msg string, attrs ...slog.Attr) { ns.logattrs(slog.LevelInfo, msg, attrs...) }
func (ns *Namespace) warn(msg string, attrs ...slog.Attr) { ns.logattrs(slog.LevelWarn, msg, attrs...) }
func (ns *Namespace) logerror(msg string, attrs ...slog.Attr) {
	ns.logattrs(slog.LevelError, msg, attrs...)
}
