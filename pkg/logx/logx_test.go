package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("comp", "scheduler"))
	l.Info("fired", Int64("chat_id", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "scheduler" || m["message"] != "fired" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["chat_id"] != float64(42) {
		t.Fatalf("chat_id=%v", m["chat_id"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatalf("Nop() should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"send failed","chat_id":7,"attempt":2}` + "\n")
	got := formatTelegramJSON(line)
	want := "[WARN] send failed\n- attempt=2\n- chat_id=7"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	raw := formatTelegramJSON([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw=%q", raw)
	}

	long := strings.Repeat("a", 5000)
	if n := len(truncate(long, 3500)); n != 3500 {
		t.Fatalf("truncate len=%d", n)
	}
}
