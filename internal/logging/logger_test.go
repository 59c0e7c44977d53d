package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"DEBUG", log.DebugLevel},
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{" warn ", log.WarnLevel},
		{"WARNING", log.WarnLevel},
		{"ERROR", log.ErrorLevel},
		{"verbose", log.InfoLevel},
		{"", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "WARN")

	l.Info("hidden info")
	l.Warn("visible warn")

	out := buf.String()
	if strings.Contains(out, "hidden info") {
		t.Errorf("info message should be filtered, got %q", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("warn message missing, got %q", out)
	}
}

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, "INFO"), "queue")
	l.Info("scaled up")

	out := buf.String()
	if !strings.Contains(out, "queue") || !strings.Contains(out, "scaled up") {
		t.Errorf("expected prefixed message, got %q", out)
	}
}

func TestComponentNilUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	original := Default()
	SetDefault(New(&buf, "INFO"))
	defer SetDefault(original)

	Component(nil, "writer").Info("from default")

	if !strings.Contains(buf.String(), "from default") {
		t.Errorf("expected message on default logger, got %q", buf.String())
	}
}

func TestLevelWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLevelWriter(New(&buf, "DEBUG"), "WARN", "gin")

	n, err := w.Write([]byte("first line\n\n  second line  \n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("first line\n\n  second line  \n") {
		t.Errorf("short write: %d", n)
	}

	out := buf.String()
	for _, want := range []string{"gin: first line", "gin: second line", "WARN"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	if l.GetLevel() <= log.ErrorLevel {
		t.Errorf("discard logger should filter errors, level=%v", l.GetLevel())
	}
}
