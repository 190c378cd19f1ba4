package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	usr, err := user.Current()
	if err != nil {
		t.Skipf("cannot determine current user: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", usr.HomeDir},
		{"~/.ibforge/cache", filepath.Join(usr.HomeDir, ".ibforge/cache")},
		{"/var/cache/ibforge", "/var/cache/ibforge"},
		{"relative/~/dir", "relative/~/dir"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandHome(tt.in); got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpand_EnvVars(t *testing.T) {
	t.Setenv("IBFORGE_TEST_ROOT", "/srv/builds")
	if got := Expand("$IBFORGE_TEST_ROOT/work"); got != "/srv/builds/work" {
		t.Errorf("Expand() = %q, want /srv/builds/work", got)
	}
}

func TestResolve_Relative(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != wd {
		t.Errorf("Resolve(\"\") = %q, want %q", got, wd)
	}
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "make-build.sh")

	if Exists(file) {
		t.Fatal("file should not exist yet")
	}
	if err := EnsureDir(file); err != nil {
		t.Fatalf("EnsureDir() error: %v", err)
	}
	if !IsDir(filepath.Dir(file)) {
		t.Fatal("parent directory should exist")
	}
	if err := os.WriteFile(file, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if !IsFile(file) || IsDir(file) {
		t.Fatal("expected regular file")
	}

	if err := RemoveIfExists(filepath.Join(dir, "nested")); err != nil {
		t.Fatalf("RemoveIfExists() error: %v", err)
	}
	if Exists(file) {
		t.Fatal("file should be removed")
	}
	if err := RemoveIfExists(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("RemoveIfExists() on missing path: %v", err)
	}
}
