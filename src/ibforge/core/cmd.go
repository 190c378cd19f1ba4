// Package core provides the ibforge command tree.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/ibforge/src/common/cli"
	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/common/version"
	"github.com/bitswalk/ibforge/src/ibforge/archive"
	"github.com/bitswalk/ibforge/src/ibforge/build"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
	"github.com/bitswalk/ibforge/src/ibforge/db/migrations"
	"github.com/bitswalk/ibforge/src/ibforge/download"
	"github.com/bitswalk/ibforge/src/ibforge/hostdeps"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/runner"
	"github.com/bitswalk/ibforge/src/ibforge/storage"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
	"github.com/bitswalk/ibforge/src/ibforge/workspace"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Global logger instance
	log = logs.NewDefault()

	// Configuration file path
	cfgFile string

	// Output format for listing commands (table, json, yaml)
	outputFormat string
)

// Linker variables - these are set via ldflags at build time
var (
	Version        = "dev"
	ReleaseVersion = "0.0.0"
	BuildDate      = "unknown"
	GitCommit      = "unknown"
)

// newExecutor creates the executor for external commands
var newExecutor = func() runner.Executor {
	return runner.NewHost(os.Stdout, os.Stderr)
}

// newRootCmd builds the command tree and binds its flags to viper
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ibforge",
		Short: "OpenWrt / ImmortalWrt Image Builder orchestrator",
		Long: `ibforge downloads and verifies a prebuilt OpenWrt or ImmortalWrt Image
Builder, prepares a working directory with custom assets and runs the
builder once per tunnel variant. Renamed images and their sha256sums are
written to <work-dir>/compiled_images.`,
		Example: `  ibforge --target "Raspberry Pi 4B" --release-branch immortalwrt:23.05.2 --tunnel all
  ibforge --target x86-64 --tunnel no-tunnel --clean false`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: runBuild,
	}

	cli.RegisterConfigFlag(rootCmd, &cfgFile, "./ibforge.yaml")
	cli.RegisterLogFlags(rootCmd)
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format for listings: table, json, yaml")

	// Build flags
	rootCmd.Flags().String("target", targets.DefaultDisplayName, "Target device display name (see 'ibforge targets')")
	rootCmd.Flags().String("release-branch", release.DefaultBranchID, "Release as <distro>:<branch>, e.g. immortalwrt:23.05.2")
	rootCmd.Flags().String("tunnel", build.AllVariants, "Tunnel variant to build, or 'all'")
	switchFlag(rootCmd, "clean", true, "Run 'make clean' before each variant")
	switchFlag(rootCmd, "squashfs", false, "Publish the squashfs image instead of ext4")
	switchFlag(rootCmd, "update", false, "Refresh host packages before building")
	switchFlag(rootCmd, "remove", false, "Delete the archive, manifest and extracted tree after use")
	switchFlag(rootCmd, "publish", false, "Upload images and manifest to the configured storage")

	// Path flags
	rootCmd.Flags().String("assets-dir", ".", "Directory holding make-build.sh and the overlay assets")
	rootCmd.Flags().String("work-dir", ".", "Parent directory of the working directories")
	rootCmd.Flags().String("cache-dir", ".", "Directory caching Image Builder archives")

	flagKeys := map[string]string{
		"target":         "target",
		"release-branch": "release_branch",
		"tunnel":         "tunnel",
		"clean":          "clean",
		"squashfs":       "squashfs",
		"update":         "update",
		"remove":         "remove",
		"publish":        "publish.enabled",
		"assets-dir":     "paths.assets",
		"work-dir":       "paths.work",
		"cache-dir":      "paths.cache",
	}
	for flag, key := range flagKeys {
		_ = cli.BindFlag(rootCmd, flag, key)
	}

	setDefaults()
	registerCompletions(rootCmd)

	rootCmd.AddCommand(newTargetsCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setDefaults registers the default of every configuration key
func setDefaults() {
	viper.SetDefault("target", targets.DefaultDisplayName)
	viper.SetDefault("release_branch", release.DefaultBranchID)
	viper.SetDefault("tunnel", build.AllVariants)
	viper.SetDefault("clean", true)
	viper.SetDefault("squashfs", false)
	viper.SetDefault("update", false)
	viper.SetDefault("remove", false)

	viper.SetDefault("paths.assets", ".")
	viper.SetDefault("paths.work", ".")
	viper.SetDefault("paths.cache", ".")

	viper.SetDefault("build.image_prefix", build.DefaultImagePrefix)
	viper.SetDefault("build.legacy_branch", build.DefaultLegacyBranch)
	viper.SetDefault("release.download_base", "")
	viper.SetDefault("verify.enforce", true)

	dl := download.DefaultConfig()
	viper.SetDefault("download.proxy_url", "")
	viper.SetDefault("download.local_mirror", "")
	viper.SetDefault("download.bytes_per_sec", 0)
	viper.SetDefault("download.max_retries", dl.MaxRetries)
	viper.SetDefault("download.retry_delay", dl.RetryDelay)
	viper.SetDefault("download.request_timeout", dl.RequestTimeout)

	viper.SetDefault("workspace.scripts", workspace.DefaultScripts)

	host := hostdeps.DefaultConfig()
	viper.SetDefault("host.update_command", host.UpdateCommand)
	viper.SetDefault("host.install_command", host.InstallCommand)
	viper.SetDefault("host.packages", host.Packages)
	viper.SetDefault("host.required_tools", host.RequiredTools)

	viper.SetDefault("publish.enabled", false)
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.path", "~/.local/share/ibforge/images")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.path_style", true)

	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.path", "~/.cache/ibforge/history.db")
}

// Execute runs the root command and returns the process exit status.
// SIGINT and SIGTERM cancel the run and kill running external commands.
func Execute() int {
	VersionInfo.Version = Version
	VersionInfo.ReleaseVersion = ReleaseVersion
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return errors.ExitCode(err)
	}
	return 0
}

// initConfig reads in config file and ENV variables if set
func initConfig() error {
	opts := cli.DefaultConfigOptions("ibforge", "IBFORGE")
	opts.ConfigFile = cfgFile

	if err := cli.InitConfig(opts); err != nil {
		return errors.ErrInvalidConfig.WithMessage(err.Error()).WithCause(err)
	}

	log = cli.InitLogger("ibforge")
	for _, setLogger := range []func(*logs.Logger){
		archive.SetLogger,
		build.SetLogger,
		checksum.SetLogger,
		download.SetLogger,
		hostdeps.SetLogger,
		migrations.SetLogger,
		runner.SetLogger,
		storage.SetLogger,
		workspace.SetLogger,
	} {
		setLogger(log)
	}

	return nil
}
