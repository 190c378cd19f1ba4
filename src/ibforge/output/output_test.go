package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bitswalk/ibforge/src/common/errors"
)

type item struct {
	Name    string `json:"name" yaml:"name"`
	Profile string `json:"profile" yaml:"profile"`
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, item{Name: "x86-64", Profile: "generic"}); err != nil {
		t.Fatalf("PrintJSON() error = %v", err)
	}

	var got item
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if got.Profile != "generic" {
		t.Errorf("profile = %q", got.Profile)
	}
	if !strings.Contains(buf.String(), "\n  \"name\"") {
		t.Errorf("expected indented JSON, got %q", buf.String())
	}
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAML(&buf, []item{{Name: "NanoPi R2S", Profile: "friendlyarm_nanopi-r2s"}}); err != nil {
		t.Fatalf("PrintYAML() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "- name: NanoPi R2S") || !strings.Contains(out, "profile: friendlyarm_nanopi-r2s") {
		t.Errorf("unexpected YAML %q", out)
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"NAME", "PROFILE"}, [][]string{
		{"Raspberry Pi 3B", "rpi-3"},
		{"x86-64", "generic"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "PROFILE") {
		t.Errorf("header = %q", lines[0])
	}
	// Columns are aligned
	if strings.Index(lines[1], "rpi-3") != strings.Index(lines[2], "generic") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidConfig) {
					t.Errorf("ParseFormat(%q) error = %v, want ErrInvalidConfig", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestPrintDispatch(t *testing.T) {
	var buf bytes.Buffer
	called := false
	if err := Print(&buf, FormatTable, nil, func() { called = true }); err != nil || !called {
		t.Errorf("table format should call the table renderer")
	}

	buf.Reset()
	if err := Print(&buf, FormatJSON, map[string]int{"n": 1}, func() { t.Error("table renderer called for JSON") }); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"n": 1`) {
		t.Errorf("JSON output = %q", buf.String())
	}
}
