package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleFormatsKeyValueAttrs(t *testing.T) {
	var buf bytes.Buffer
	debug := false
	l := slog.New(NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, &debug))

	l.Warn("IMC channel not found", "socket", 1, "channel", 3)

	out := buf.String()
	if !strings.Contains(out, "socket=1") || !strings.Contains(out, "channel=3") {
		t.Fatalf("expected key=value attrs in output, got %q", out)
	}
	if !strings.Contains(out, "IMC channel not found") {
		t.Fatalf("expected message in output, got %q", out)
	}
}

func TestHandleWritesDebugToFileRegardlessOfVerbose(t *testing.T) {
	var buf bytes.Buffer
	debug := false
	h := NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, &debug)
	l := slog.New(h)

	l.Debug("quiet message")
	if !strings.Contains(buf.String(), "quiet message") {
		t.Fatalf("expected debug record written to file regardless of verbose, got %q", buf.String())
	}
}

func TestSetDebugTogglesStderrMirroring(t *testing.T) {
	var buf bytes.Buffer
	debug := false
	h := NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, &debug)
	if h.debug {
		t.Fatalf("expected debug initially false")
	}
	newVal := true
	h.SetDebug(&newVal)
	if !h.debug {
		t.Fatalf("expected SetDebug to flip debug to true")
	}
}

func TestWithAttrsPreservesOutputTarget(t *testing.T) {
	var buf bytes.Buffer
	debug := false
	h := NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, &debug)
	l := slog.New(h).With("core", 4)

	l.Info("assigned RMID")

	out := buf.String()
	if !strings.Contains(out, "core=4") {
		t.Fatalf("expected attrs bound via With to reach the file writer, got %q", out)
	}
}
