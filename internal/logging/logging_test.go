package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/eigenfaces/internal/config"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Debug().Str("stage", "basis").Int("k", 6).Msg("stage done")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["stage"] != "basis" || entry["level"] != "debug" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestSetup_Level(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"garbage", zerolog.InfoLevel},
	}
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(config.LogConfig{Level: tt.level, Format: "json"}, &bytes.Buffer{})
			if zerolog.GlobalLevel() != tt.expected {
				t.Errorf("level %q: expected %v, got %v", tt.level, tt.expected, zerolog.GlobalLevel())
			}
		})
	}
}

func TestSetup_Console(t *testing.T) {
	var buf bytes.Buffer
	Setup(config.LogConfig{Level: "info", Format: "console"}, &buf)

	log.Info().Msg("hello")

	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}
