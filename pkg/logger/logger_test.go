package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Debug("debug msg")
	log.Info("info msg")
	log.Warn("warn msg")
	log.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") {
		t.Error("Debug should be suppressed at warn level")
	}
	if strings.Contains(out, "info msg") {
		t.Error("Info should be suppressed at warn level")
	}
	if !strings.Contains(out, "warn msg") {
		t.Error("Warn should be logged")
	}
	if !strings.Contains(out, "error msg") {
		t.Error("Error should be logged")
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Info("client registered",
		String("callsign", "N0CALL"),
		Int("clients", 3),
		Bool("new", true))

	out := buf.String()
	for _, want := range []string{"callsign=N0CALL", "clients=3", "new=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q: %s", want, out)
		}
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf}).WithComponent("reflector")

	log.Info("started")

	if !strings.Contains(buf.String(), "[reflector]") {
		t.Errorf("Output missing component prefix: %s", buf.String())
	}
}

func TestLogger_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Error("bind failed", Error(errors.New("address in use")))
	if !strings.Contains(buf.String(), "error=address in use") {
		t.Errorf("Output missing error field: %s", buf.String())
	}

	buf.Reset()
	log.Error("no cause", Error(nil))
	if !strings.Contains(buf.String(), "error=nil") {
		t.Errorf("Output missing nil error field: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
