package app

import (
	"io"
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "uppercase info", in: "INFO", want: slog.LevelInfo},
		{name: "warn", in: "warn", want: slog.LevelWarn},
		{name: "warning alias", in: "warning", want: slog.LevelWarn},
		{name: "error", in: "error", want: slog.LevelError},
		{name: "padded", in: "  Error  ", want: slog.LevelError},
		{name: "unknown falls back to info", in: "trace", want: slog.LevelInfo},
		{name: "empty falls back to info", in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := parseLogLevel(tc.in); got != tc.want {
				t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
			}
		})
	}
}

// The parsed level must actually gate handler output, not just parse.
func TestParsedLevelGatesHandler(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(io.Discard, &slog.HandlerOptions{Level: parseLogLevel("warn")}, false)

	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Fatalf("info enabled at warn level")
	}
	if !h.Enabled(t.Context(), slog.LevelWarn) {
		t.Fatalf("warn filtered at warn level")
	}
}
