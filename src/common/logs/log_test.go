package logs

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
		{"debug", log.DebugLevel},
		{"info", log.InfoLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
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

func TestNew_WriterOverride(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, Level: "debug", Output: OutputStderr})

	l.Info("archive cached", "file", "openwrt-imagebuilder.tar.zst")

	out := buf.String()
	if !strings.Contains(out, "archive cached") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "openwrt-imagebuilder.tar.zst") {
		t.Errorf("expected key/value in output, got %q", out)
	}
	if l.Output() != OutputStderr {
		t.Errorf("expected output %s, got %s", OutputStderr, l.Output())
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, Level: "warn"})

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message should be present: %q", out)
	}
}

func TestNew_StdoutOutput(t *testing.T) {
	l := New(Config{Output: OutputStdout, Level: "info"})
	if l.Output() != OutputStdout {
		t.Errorf("expected stdout output, got %s", l.Output())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Output != OutputAuto {
		t.Errorf("expected auto output, got %s", cfg.Output)
	}
	if cfg.Level != "info" {
		t.Errorf("expected info level, got %s", cfg.Level)
	}
}
