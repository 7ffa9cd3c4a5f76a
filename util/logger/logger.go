// Package logger implements pcmd's slog.Handler: a plain "time level
// message key=value..." line written to the configured log file, mirrored
// to stderr whenever verbose logging is on or the record is above debug
// level. A wrapped slog.TextHandler is kept only to answer Enabled (so
// the handler respects the configured level var) — the actual formatting
// and writing in Handle is independent of it.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogHandler is pcmd's slog.Handler implementation.
type LogHandler struct {
	out   io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	debug bool
	attrs []slog.Attr // bound via WithAttrs, rendered ahead of each record's own attrs
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &LogHandler{out: h.out, h: h.h.WithAttrs(attrs), mu: h.mu, debug: h.debug, attrs: bound}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{out: h.out, h: h.h.WithGroup(name), mu: h.mu, debug: h.debug, attrs: h.attrs}
}

// Handle formats r as "time level: message key=value ..." — every monitor
// in internal/monitor logs with structured key/value attrs (socket, core,
// channel, rmid, ...), so unlike a bare value-only dump, each attr is
// rendered as key=value to stay unambiguous once a line carries more than
// one number.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	formattedTime := r.Time.Format("2006/01/02 15:04:05")

	strs := []string{formattedTime, level, r.Message}

	for _, a := range h.attrs {
		strs = append(strs, fmt.Sprintf("%s=%s", a.Key, a.Value.String()))
	}
	if r.NumAttrs() != 0 {
		r.Attrs(func(a slog.Attr) bool {
			strs = append(strs, fmt.Sprintf("%s=%s", a.Key, a.Value.String()))
			return true
		})
	}
	result := strings.Join(strs, " ") + "\n"
	b := []byte(result)

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(b)
	}

	if h.debug || r.Level > slog.LevelDebug {
		_, err = os.Stderr.Write(b)
	}
	return err
}

// SetDebug toggles stderr mirroring for Debug-level records.
func (h *LogHandler) SetDebug(debug *bool) {
	h.debug = *debug
}

// NewHandler builds a handler writing to file, deferring level/source
// filtering to a wrapped slog.TextHandler. debug controls whether
// Debug-level records are additionally mirrored to stderr — pcmd passes
// its --verbose flag here at startup; SetDebug changes it afterwards.
func NewHandler(file io.Writer, opts *slog.HandlerOptions, debug *bool) *LogHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &LogHandler{
		out: file,
		h: slog.NewTextHandler(file, &slog.HandlerOptions{
			Level:       opts.Level,
			AddSource:   opts.AddSource,
			ReplaceAttr: nil,
		}),
		mu:    &sync.Mutex{},
		debug: *debug,
	}
}
