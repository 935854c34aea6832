// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlogLogger returns a *slog.Logger that writes through zl. The
// supervisor hands it to sutureslog so service restarts land in the same
// log as everything else:
//
//	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger(logging.Component("supervisor"))}).MustHook()
//
//nolint:gocritic // zerolog.Logger is passed by value throughout
func NewSlogLogger(zl zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{zl: zl})
}

// slogBridge is a slog.Handler over a zerolog logger. Group names are
// flattened into dotted keys; attributes added by WithAttrs keep the
// prefix that was open when they were added.
type slogBridge struct {
	zl     zerolog.Logger
	fields []slogField
	prefix string
}

type slogField struct {
	key string
	val slog.Value
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	lvl := zerologLevel(level)
	return lvl >= zerolog.GlobalLevel() && lvl >= b.zl.GetLevel()
}

//nolint:gocritic // slog.Handler takes the record by value
func (b *slogBridge) Handle(_ context.Context, r slog.Record) error {
	ev := b.zl.WithLevel(zerologLevel(r.Level))
	for _, f := range b.fields {
		ev = appendValue(ev, f.key, f.val)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendValue(ev, b.prefix+a.Key, a.Value)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make([]slogField, len(b.fields), len(b.fields)+len(attrs))
	copy(fields, b.fields)
	for _, a := range attrs {
		fields = append(fields, slogField{key: b.prefix + a.Key, val: a.Value})
	}
	return &slogBridge{zl: b.zl, fields: fields, prefix: b.prefix}
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	return &slogBridge{zl: b.zl, fields: b.fields, prefix: b.prefix + name + "."}
}

func appendValue(ev *zerolog.Event, key string, v slog.Value) *zerolog.Event {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	case slog.KindGroup:
		prefix := key + "."
		if key == "" {
			prefix = ""
		}
		for _, a := range v.Group() {
			ev = appendValue(ev, prefix+a.Key, a.Value)
		}
		return ev
	default:
		if err, ok := v.Any().(error); ok {
			return ev.AnErr(key, err)
		}
		return ev.Interface(key, v.Any())
	}
}

// zerologLevel maps slog's open-ended levels onto zerolog's buckets.
func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	case level >= slog.LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
