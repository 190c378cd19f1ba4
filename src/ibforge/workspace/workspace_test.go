package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/ibforge/runner"
)

func init() {
	log = logs.NewDiscard()
}

type fakeExecutor struct {
	calls  []runner.Command
	failOn string
}

func (f *fakeExecutor) Run(_ context.Context, cmd runner.Command) error {
	f.calls = append(f.calls, cmd)
	if f.failOn != "" && strings.Contains(cmd.String(), f.failOn) {
		return errors.ErrExternalTool.WithMessagef("%s exited with status 1", cmd.String())
	}
	return nil
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// newFixture lays out an extracted Image Builder tree and an assets directory
func newFixture(t *testing.T, scripts ...string) (extracted, assets, workRoot string) {
	t.Helper()
	root := t.TempDir()
	extracted = filepath.Join(root, "extract", "openwrt-imagebuilder-rockchip-armv8.Linux-x86_64")
	assets = filepath.Join(root, "assets")
	workRoot = filepath.Join(root, "work")

	writeFile(t, filepath.Join(extracted, "Makefile"), "all:\n", 0644)
	writeFile(t, filepath.Join(extracted, ".config"), "CONFIG_TARGET_ROOTFS_EXT4FS=y\n", 0644)
	writeFile(t, filepath.Join(extracted, "scripts", "ipkg-make-index.sh"), "#!/bin/sh\n", 0755)
	writeFile(t, filepath.Join(extracted, "repositories.conf"), "src/gz openwrt_core\n", 0644)
	if err := os.Symlink("repositories.conf", filepath.Join(extracted, "repos.link")); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(assets, BuildScript), "#!/bin/bash\nmake image\n", 0755)
	writeFile(t, filepath.Join(assets, "repositories.conf"), "ignored at top level\n", 0644)
	writeFile(t, filepath.Join(assets, "files", "etc", "banner"), "ibforge\n", 0644)
	for _, s := range scripts {
		writeFile(t, filepath.Join(assets, s), "#!/bin/bash\n", 0755)
	}
	return extracted, assets, workRoot
}

func TestMaterialize(t *testing.T) {
	extracted, assets, workRoot := newFixture(t, DefaultScripts...)
	exec := &fakeExecutor{}
	m := NewMaterializer(Config{WorkRoot: workRoot, AssetsDir: assets, Scripts: DefaultScripts}, exec)

	env := map[string]string{"PROFILE": "friendlyarm_nanopi-r2s"}
	workDir, err := m.Materialize(context.Background(), extracted, "openwrt-imagebuilder-NanoPi-R2S.Linux-x86_64", env)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if want := filepath.Join(workRoot, "openwrt-imagebuilder-NanoPi-R2S.Linux-x86_64"); workDir != want {
		t.Errorf("workDir = %q, want %q", workDir, want)
	}

	// Extracted tree, hidden entries included
	if got := readFile(t, filepath.Join(workDir, ".config")); !strings.Contains(got, "EXT4FS") {
		t.Errorf(".config = %q", got)
	}
	info, err := os.Stat(filepath.Join(workDir, "scripts", "ipkg-make-index.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("executable bit lost: %v", info.Mode())
	}
	link, err := os.Readlink(filepath.Join(workDir, "repos.link"))
	if err != nil || link != "repositories.conf" {
		t.Errorf("symlink = %q, %v", link, err)
	}

	// Overlay
	if got := readFile(t, filepath.Join(workDir, BuildScript)); !strings.Contains(got, "make image") {
		t.Errorf("%s = %q", BuildScript, got)
	}
	if got := readFile(t, filepath.Join(workDir, "files", "etc", "banner")); got != "ibforge\n" {
		t.Errorf("banner = %q", got)
	}
	if got := readFile(t, filepath.Join(workDir, "repositories.conf")); got != "src/gz openwrt_core\n" {
		t.Errorf("non-asset file should come from the Image Builder, got %q", got)
	}

	// Scripts, in order, from inside the working directory
	if len(exec.calls) != len(DefaultScripts) {
		t.Fatalf("ran %d scripts, want %d", len(exec.calls), len(DefaultScripts))
	}
	for i, call := range exec.calls {
		if call.Name != "bash" || len(call.Args) != 1 || call.Args[0] != DefaultScripts[i] {
			t.Errorf("call %d = %s, want bash %s", i, call.String(), DefaultScripts[i])
		}
		if call.Dir != workDir {
			t.Errorf("call %d dir = %q, want %q", i, call.Dir, workDir)
		}
		if call.Env["PROFILE"] != "friendlyarm_nanopi-r2s" {
			t.Errorf("call %d env = %v", i, call.Env)
		}
	}
}

func TestMaterializeKeepsExistingWorkDir(t *testing.T) {
	extracted, assets, workRoot := newFixture(t)
	workDir := filepath.Join(workRoot, "wd")
	writeFile(t, filepath.Join(workDir, "compiled_images", "old.img.gz"), "old", 0644)
	writeFile(t, filepath.Join(workDir, "Makefile"), "stale\n", 0600)

	m := NewMaterializer(Config{WorkRoot: workRoot, AssetsDir: assets}, &fakeExecutor{})
	if _, err := m.Materialize(context.Background(), extracted, "wd", nil); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if got := readFile(t, filepath.Join(workDir, "compiled_images", "old.img.gz")); got != "old" {
		t.Error("unrelated files in the working directory must survive")
	}
	if got := readFile(t, filepath.Join(workDir, "Makefile")); got != "all:\n" {
		t.Errorf("Makefile should be overwritten, got %q", got)
	}
	info, _ := os.Stat(filepath.Join(workDir, "Makefile"))
	if info.Mode().Perm() != 0644 {
		t.Errorf("Makefile mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestMaterializeMissingBuildScript(t *testing.T) {
	extracted, assets, workRoot := newFixture(t)
	os.Remove(filepath.Join(assets, BuildScript))

	exec := &fakeExecutor{}
	m := NewMaterializer(Config{WorkRoot: workRoot, AssetsDir: assets, Scripts: DefaultScripts}, exec)
	_, err := m.Materialize(context.Background(), extracted, "wd", nil)
	if !errors.Is(err, errors.ErrMissingAsset) {
		t.Fatalf("error = %v, want ErrMissingAsset", err)
	}
	if _, statErr := os.Stat(filepath.Join(workRoot, "wd")); !os.IsNotExist(statErr) {
		t.Error("working directory should not be created when assets are incomplete")
	}
}

func TestMaterializeMissingScript(t *testing.T) {
	extracted, assets, workRoot := newFixture(t, "scripts/external-package-urls.sh")
	exec := &fakeExecutor{}
	m := NewMaterializer(Config{WorkRoot: workRoot, AssetsDir: assets, Scripts: DefaultScripts}, exec)

	_, err := m.Materialize(context.Background(), extracted, "wd", nil)
	if !errors.Is(err, errors.ErrExternalTool) {
		t.Fatalf("error = %v, want ErrExternalTool", err)
	}
	if !strings.Contains(err.Error(), "builder-patch.sh") {
		t.Errorf("error should name the missing script: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Errorf("ran %d scripts, want 1", len(exec.calls))
	}
}

func TestMaterializeScriptFailure(t *testing.T) {
	extracted, assets, workRoot := newFixture(t, DefaultScripts...)
	exec := &fakeExecutor{failOn: "core-setup"}
	m := NewMaterializer(Config{WorkRoot: workRoot, AssetsDir: assets, Scripts: DefaultScripts}, exec)

	_, err := m.Materialize(context.Background(), extracted, "wd", nil)
	if !errors.Is(err, errors.ErrExternalTool) {
		t.Fatalf("error = %v, want ErrExternalTool", err)
	}
	if len(exec.calls) != 3 {
		t.Errorf("ran %d scripts, want 3 (abort after the failing one)", len(exec.calls))
	}
}

func TestMaterializeCancelled(t *testing.T) {
	extracted, assets, workRoot := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMaterializer(Config{WorkRoot: workRoot, AssetsDir: assets}, &fakeExecutor{})
	if _, err := m.Materialize(ctx, extracted, "wd", nil); err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCopyPathReplacesSymlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	victim := filepath.Join(dir, "victim.txt")
	dst := filepath.Join(dir, "out", "dst.txt")
	writeFile(t, src, "new", 0644)
	writeFile(t, victim, "keep", 0644)
	os.MkdirAll(filepath.Dir(dst), 0755)
	if err := os.Symlink(victim, dst); err != nil {
		t.Fatal(err)
	}

	if _, err := copyPath(context.Background(), src, dst); err != nil {
		t.Fatalf("copyPath() error = %v", err)
	}
	if got := readFile(t, victim); got != "keep" {
		t.Error("copy wrote through the destination symlink")
	}
	if got := readFile(t, dst); got != "new" {
		t.Errorf("dst = %q", got)
	}
}

func TestCheckAssets(t *testing.T) {
	dir := t.TempDir()
	if err := CheckAssets(dir); !errors.Is(err, errors.ErrMissingAsset) {
		t.Errorf("CheckAssets(empty) = %v, want ErrMissingAsset", err)
	}
	writeFile(t, filepath.Join(dir, BuildScript), "", 0755)
	if err := CheckAssets(dir); err != nil {
		t.Errorf("CheckAssets() = %v", err)
	}
}
