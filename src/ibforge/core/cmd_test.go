package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/paths"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
	"github.com/bitswalk/ibforge/src/ibforge/db"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

// =============================================================================
// Test Helpers
// =============================================================================

// resetGlobals resets global state between tests
func resetGlobals() {
	viper.Reset()
	cfgFile = ""
	outputFormat = "table"
}

// executeCommand runs a cobra command with the given args and returns stdout/stderr
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// testEnv is a temporary directory with a config file pointing every
// path ibforge touches into it
type testEnv struct {
	dir    string
	config string
	dbPath string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	resetGlobals()
	t.Cleanup(resetGlobals)

	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "ibforge.yaml"),
		dbPath: filepath.Join(dir, "state", "history.db"),
	}
	body := fmt.Sprintf(`log:
  level: error
paths:
  assets: %s
  work: %s
  cache: %s
database:
  enabled: true
  path: %s
%s`, dir, filepath.Join(dir, "work"), filepath.Join(dir, "cache"), env.dbPath, extra)
	if err := os.WriteFile(env.config, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return env
}

// run executes ibforge with the environment's config file
func (e *testEnv) run(args ...string) (string, error) {
	return executeCommand(newRootCmd(), append([]string{"--config", e.config}, args...)...)
}

func (e *testEnv) openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.Open(db.Config{Path: e.dbPath})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// =============================================================================
// Command Tree
// =============================================================================

func TestRootCommand_HasSubcommands(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	commands := make(map[string]bool)
	for _, cmd := range newRootCmd().Commands() {
		commands[cmd.Name()] = true
	}
	for _, name := range []string{"targets", "verify", "cache", "history", "version"} {
		if !commands[name] {
			t.Errorf("expected subcommand %q not found on root", name)
		}
	}
}

func TestRootCommand_Help(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run("--help")
	if err != nil {
		t.Fatalf("--help returned error: %v", err)
	}
	for _, flag := range []string{"--target", "--release-branch", "--tunnel", "--clean", "--squashfs", "--update", "--remove"} {
		if !strings.Contains(out, flag) {
			t.Errorf("help output missing %s", flag)
		}
	}
}

func TestRootCommand_UnknownFlag(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run("--bogus")
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected usage on unknown flag, got:\n%s", out)
	}
}

func TestRootCommand_RejectsPositionalArgs(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run("x86-64"); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestSwitchFlags(t *testing.T) {
	tests := []struct {
		args     []string
		clean    bool
		squashfs bool
	}{
		{nil, true, false},
		{[]string{"--clean", "false"}, false, false},
		{[]string{"--clean=false", "--squashfs", "true"}, false, true},
		{[]string{"--squashfs", "1"}, true, true},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			resetGlobals()
			defer resetGlobals()
			root := newRootCmd()
			if err := root.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			if got := viper.GetBool("clean"); got != tt.clean {
				t.Errorf("clean = %v, want %v", got, tt.clean)
			}
			if got := viper.GetBool("squashfs"); got != tt.squashfs {
				t.Errorf("squashfs = %v, want %v", got, tt.squashfs)
			}
		})
	}
}

func TestSwitchFlags_InvalidValue(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run("--clean", "maybe"); err == nil {
		t.Fatal("expected error for non-boolean switch value")
	}
}

// =============================================================================
// Build Input Validation
// =============================================================================

func TestBuild_UnknownTargetFailsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	env := newTestEnv(t, "release:\n  download_base: "+srv.URL+"\n")
	_, err := env.run("--target", "Potato Pi", "--tunnel", "no-tunnel")
	if !errors.Is(err, errors.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	if errors.ExitCode(err) == 0 {
		t.Error("expected non-zero exit code")
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
	if paths.Exists(env.dbPath) {
		t.Error("history database created for a rejected build")
	}
	if paths.Exists(filepath.Join(env.dir, "work")) {
		t.Error("work directory created for a rejected build")
	}
}

func TestBuild_InvalidRelease(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run("--target", "x86-64", "--release-branch", "openwrt")
	if !errors.Is(err, errors.ErrInvalidRelease) {
		t.Fatalf("expected ErrInvalidRelease, got %v", err)
	}
}

// =============================================================================
// Listing Commands
// =============================================================================

func TestTargets_Table(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run("targets")
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "PROFILE") {
		t.Errorf("missing table header:\n%s", out)
	}
	for _, target := range targets.All() {
		if !strings.Contains(out, target.Profile) {
			t.Errorf("output missing profile %s", target.Profile)
		}
	}
}

func TestTargets_JSON(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run("targets", "-o", "json")
	if err != nil {
		t.Fatalf("targets -o json: %v", err)
	}

	var got []map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(got) != len(targets.All()) {
		t.Fatalf("got %d targets, want %d", len(got), len(targets.All()))
	}
	found := false
	for _, entry := range got {
		if entry["name"] == targets.DefaultDisplayName {
			found = true
		}
	}
	if !found {
		t.Errorf("default target %q not listed", targets.DefaultDisplayName)
	}
}

func TestTargets_BadFormat(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run("targets", "-o", "xml")
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, "")
	VersionInfo.ReleaseVersion = "1.4.0"
	defer func() { VersionInfo.ReleaseVersion = ReleaseVersion }()

	out, err := env.run("version", "-o", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if got["release_version"] != "1.4.0" {
		t.Errorf("release_version = %q", got["release_version"])
	}
}

// =============================================================================
// Verify
// =============================================================================

func TestVerify(t *testing.T) {
	env := newTestEnv(t, "")
	images := filepath.Join(env.dir, "compiled_images")
	if err := os.MkdirAll(images, 0755); err != nil {
		t.Fatal(err)
	}
	image := filepath.Join(images, "fri_x86-64_no-tunnel.img.gz")
	if err := os.WriteFile(image, []byte("image"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := checksum.Publish(images); err != nil {
		t.Fatal(err)
	}

	out, err := env.run("verify", images)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "fri_x86-64_no-tunnel.img.gz: OK") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if err := os.WriteFile(image, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err = env.run("verify", images)
	if err == nil {
		t.Fatal("expected error for tampered image")
	}
	if !strings.Contains(out, "FAILED") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestVerify_MissingManifest(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run("verify", env.dir)
	if !errors.Is(err, errors.ErrChecksumMissing) {
		t.Fatalf("expected ErrChecksumMissing, got %v", err)
	}
}

// =============================================================================
// Cache & History
// =============================================================================

func seedArchive(t *testing.T, repo *db.ArchiveRepository, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	if err := repo.Upsert(&db.ArchiveEntry{
		FileName:  name,
		Distro:    "openwrt",
		Branch:    "23.05.3",
		CachePath: path,
		SizeBytes: int64(size),
	}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCacheListAndPrune(t *testing.T) {
	env := newTestEnv(t, "")
	cacheDir := filepath.Join(env.dir, "cache")

	database := env.openDB(t)
	repo := db.NewArchiveRepository(database)
	older := seedArchive(t, repo, cacheDir, "openwrt-imagebuilder-23.05.3-x86-64.Linux-x86_64.tar.xz", 3072)
	newer := seedArchive(t, repo, cacheDir, "openwrt-imagebuilder-23.05.3-rockchip-armv8.Linux-x86_64.tar.xz", 1024)
	if err := repo.TouchLastUsed(newer); err != nil {
		t.Fatal(err)
	}
	database.Close()

	out, err := env.run("cache", "list")
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	if !strings.Contains(out, "x86-64") || !strings.Contains(out, "rockchip-armv8") {
		t.Errorf("cache list missing entries:\n%s", out)
	}
	if !strings.Contains(out, "2 archives") {
		t.Errorf("cache list missing summary:\n%s", out)
	}

	out, err = env.run("cache", "prune", "--max-size", "2KiB")
	if err != nil {
		t.Fatalf("cache prune: %v", err)
	}
	if !strings.Contains(out, "removed openwrt-imagebuilder-23.05.3-x86-64") {
		t.Errorf("unexpected prune output:\n%s", out)
	}
	if paths.Exists(older) {
		t.Error("least recently used archive still on disk")
	}
	if !paths.Exists(newer) {
		t.Error("recently used archive was removed")
	}
}

func TestCachePrune_InvalidSize(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run("cache", "prune", "--max-size", "lots")
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCache_DatabaseDisabled(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run("cache", "list")
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}

	resetGlobals()
	t.Setenv("IBFORGE_DATABASE_ENABLED", "false")
	_, err = env.run("cache", "list")
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, "")
	database := env.openDB(t)
	repo := db.NewBuildRepository(database)

	ok := &db.Build{Target: "x86-64", Profile: "generic", Distro: "openwrt", Branch: "23.05.3", Tunnel: "no-tunnel"}
	if err := repo.Create(ok); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddArtifact(&db.BuildArtifact{BuildID: ok.ID, Variant: "no-tunnel", FileName: "fri_x86-64_no-tunnel.img.gz"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkCompleted(ok.ID); err != nil {
		t.Fatal(err)
	}
	failed := &db.Build{Target: "Raspberry Pi 4B", Profile: "rpi-4", Distro: "immortalwrt", Branch: "snapshots", Tunnel: "all"}
	if err := repo.Create(failed); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkFailed(failed.ID, "openclash: make-build.sh exited with status 2"); err != nil {
		t.Fatal(err)
	}
	database.Close()

	out, err := env.run("history", "--artifacts")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{ok.ID[:8], failed.ID[:8], "completed", "failed", "fri_x86-64_no-tunnel.img.gz"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run("history", "-n", "1", "-o", "json")
	if err != nil {
		t.Fatalf("history -o json: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(got) != 1 {
		t.Fatalf("got %d builds, want 1", len(got))
	}
}

// =============================================================================
// Completion
// =============================================================================

func TestCompletion_Flags(t *testing.T) {
	tests := []struct {
		flag string
		want []string
	}{
		{"--target", []string{"Orange Pi Zero 3", "x86-64"}},
		{"--tunnel", []string{"all", "openclash-passwall-nikki", "no-tunnel"}},
		{"--clean", []string{"true", "false"}},
		{"--output", []string{"json", "yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			resetGlobals()
			defer resetGlobals()
			out, err := executeCommand(newRootCmd(), "__complete", tt.flag, "")
			if err != nil {
				t.Fatalf("__complete %s: %v", tt.flag, err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("completion for %s missing %q:\n%s", tt.flag, want, out)
				}
			}
		})
	}
}
