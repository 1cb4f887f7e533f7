package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"trace", zerolog.TraceLevel},
		{"chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := logging.ParseLevel(tt.raw); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	t.Setenv(logging.EnvLogLevel, "")

	var buf bytes.Buffer
	logger := logging.New(logging.Options{App: "test", Level: "warn", NoColor: true, Out: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
	if !strings.Contains(out, "app=test") {
		t.Errorf("app field missing: %q", out)
	}
}

func TestNew_EnvOverride(t *testing.T) {
	t.Setenv(logging.EnvLogLevel, "error")

	var buf bytes.Buffer
	logger := logging.New(logging.Options{App: "test", Level: "debug", NoColor: true, Out: &buf})

	logger.Warn().Msg("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected env level to suppress warn, got %q", buf.String())
	}
}
