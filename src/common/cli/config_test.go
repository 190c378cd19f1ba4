package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestInitConfig_ReadsFileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ibforge.yaml")
	content := "build:\n  image_prefix: lab\n  legacy_branch: \"19.07.10\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IBFORGE_BUILD_LEGACY_BRANCH", "21.02.7")

	opts := DefaultConfigOptions("ibforge", "IBFORGE")
	opts.ConfigFile = cfgPath
	if err := InitConfig(opts); err != nil {
		t.Fatalf("InitConfig() error: %v", err)
	}

	if got := viper.GetString("build.image_prefix"); got != "lab" {
		t.Errorf("build.image_prefix = %q, want lab", got)
	}
	if got := viper.GetString("build.legacy_branch"); got != "21.02.7" {
		t.Errorf("env should override file, got %q", got)
	}
}

func TestInitConfig_MissingFileIsNotAnError(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	opts := DefaultConfigOptions("ibforge-does-not-exist", "")
	opts.SearchPaths = []string{t.TempDir()}
	if err := InitConfig(opts); err != nil {
		t.Fatalf("expected no error for missing config, got %v", err)
	}
}

func TestInitConfig_BrokenFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgPath := filepath.Join(t.TempDir(), "ibforge.yaml")
	if err := os.WriteFile(cfgPath, []byte("build: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	opts := DefaultConfigOptions("ibforge", "")
	opts.ConfigFile = cfgPath
	if err := InitConfig(opts); err == nil {
		t.Fatal("expected parse error for broken config file")
	}
}

func TestRegisterLogFlags(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	RegisterLogFlags(cmd)

	if cmd.PersistentFlags().Lookup("log-level") == nil {
		t.Fatal("expected --log-level flag")
	}
	if err := cmd.PersistentFlags().Set("log-level", "debug"); err != nil {
		t.Fatal(err)
	}
	if got := viper.GetString("log.level"); got != "debug" {
		t.Errorf("log.level = %q, want debug", got)
	}
	if l := InitLogger("test"); l == nil {
		t.Fatal("expected logger")
	}
}
