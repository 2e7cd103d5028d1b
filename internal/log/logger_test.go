package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriter_Levels(t *testing.T) {
	tests := []struct {
		env  string
		want zerolog.Level
	}{
		{"dev", zerolog.DebugLevel},
		{"test", zerolog.WarnLevel},
		{"prod", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			InitWriter(tt.env, &bytes.Buffer{})
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitWriter_ProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", &buf)
	log.Info().Str("room_token", "party-1").Msg("watch party created")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("prod output is not JSON: %q", buf.String())
	}
	if entry["message"] != "watch party created" || entry["room_token"] != "party-1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestInitWriter_DevIsConsole(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("dev", &buf)
	log.Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("dev output = %q, want console format", buf.String())
	}
}
