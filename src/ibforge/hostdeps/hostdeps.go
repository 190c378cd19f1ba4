// Package hostdeps refreshes and checks the host packages the Image
// Builder needs.
package hostdeps

import (
	"context"
	"os/exec"

	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/ibforge/runner"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the hostdeps package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Config holds the package manager commands and package lists
type Config struct {
	UpdateCommand  string   `mapstructure:"update_command"`
	InstallCommand string   `mapstructure:"install_command"`
	Packages       []string `mapstructure:"packages"`
	RequiredTools  []string `mapstructure:"required_tools"`
}

// DefaultConfig returns the Debian/Ubuntu prerequisites of the Image Builder
func DefaultConfig() Config {
	return Config{
		UpdateCommand:  "sudo apt-get -qq update",
		InstallCommand: "sudo apt-get -qq install -y",
		Packages: []string{
			"build-essential", "libncurses-dev", "zlib1g-dev", "gawk", "git",
			"gettext", "libssl-dev", "xsltproc", "rsync", "wget", "unzip",
			"python3", "python3-setuptools", "file", "zstd", "xz-utils",
		},
		RequiredTools: []string{"bash", "make", "gawk", "perl", "rsync", "unzip", "python3", "file", "gzip"},
	}
}

// Refresher runs the host package manager
type Refresher struct {
	config   Config
	executor runner.Executor
}

// NewRefresher creates a refresher using executor for the package manager
func NewRefresher(cfg Config, executor runner.Executor) *Refresher {
	return &Refresher{config: cfg, executor: executor}
}

// Update refreshes the package index and installs the configured
// packages. Empty commands are skipped.
func (r *Refresher) Update(ctx context.Context) error {
	if r.config.UpdateCommand != "" {
		cmd, err := runner.Parse(r.config.UpdateCommand)
		if err != nil {
			return err
		}
		log.Info("Refreshing host package index", "command", cmd.String())
		if err := r.executor.Run(ctx, cmd); err != nil {
			return err
		}
	}

	if r.config.InstallCommand == "" || len(r.config.Packages) == 0 {
		return nil
	}

	cmd, err := runner.Parse(r.config.InstallCommand)
	if err != nil {
		return err
	}
	cmd.Args = append(cmd.Args, r.config.Packages...)
	log.Info("Installing host packages", "count", len(r.config.Packages))
	return r.executor.Run(ctx, cmd)
}

// lookPath is replaced in tests
var lookPath = exec.LookPath

// Missing returns the tools from the list that are not on PATH
func Missing(tools []string) []string {
	var missing []string
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

// Check logs a warning naming every required tool absent from PATH
func (r *Refresher) Check() []string {
	missing := Missing(r.config.RequiredTools)
	if len(missing) > 0 {
		log.Warn("Required host tools not found on PATH", "missing", missing)
	}
	return missing
}
