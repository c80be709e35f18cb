package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestWithContextAddsRequestAndBatch(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
	InitWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	ctx := WithBatchID(WithRequestID(context.Background(), "req-1"), "batch-9")
	Info(ctx, "promotion finished", "promoted", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-1" || line["batch_id"] != "batch-9" {
		t.Fatalf("context values missing from log line: %v", line)
	}
	if line["msg"] != "promotion finished" {
		t.Fatalf("unexpected message: %v", line["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
	InitWithWriter(Config{Level: "info", Format: "text"}, &buf)

	Debug(context.Background(), "noise")
	if buf.Len() != 0 {
		t.Fatalf("debug line should be filtered, got %q", buf.String())
	}
}
