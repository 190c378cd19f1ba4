// Package workspace materializes the per-target Image Builder working
// directory: the extracted toolchain, the asset overlay and the
// customization scripts run inside it.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/common/paths"
	"github.com/bitswalk/ibforge/src/ibforge/runner"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the workspace package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// BuildScript is the asset that drives one variant build
const BuildScript = "make-build.sh"

// OptionalAssets are overlaid when present in the assets directory
var OptionalAssets = []string{"external-package-urls.txt", "scripts", "packages", "files"}

// DefaultScripts are the customization scripts run after the overlay, in order
var DefaultScripts = []string{
	"scripts/external-package-urls.sh",
	"scripts/builder-patch.sh",
	"scripts/core-setup.sh",
	"scripts/misc.sh",
}

// Config holds workspace configuration
type Config struct {
	WorkRoot  string   // Parent of the per-target working directories
	AssetsDir string   // Source of make-build.sh and the optional overlay
	Scripts   []string // Customization scripts, relative to the working directory
}

// Materializer builds working directories
type Materializer struct {
	config   Config
	executor runner.Executor
}

// NewMaterializer creates a materializer running scripts through executor
func NewMaterializer(cfg Config, executor runner.Executor) *Materializer {
	return &Materializer{config: cfg, executor: executor}
}

// CheckAssets verifies that the required build script is present
func CheckAssets(assetsDir string) error {
	script := filepath.Join(assetsDir, BuildScript)
	if !paths.IsFile(script) {
		return errors.ErrMissingAsset.WithMessagef("%s not found in assets directory %s", BuildScript, assetsDir)
	}
	return nil
}

// Materialize copies extractedRoot into <WorkRoot>/<workDirName>, overlays
// the assets and runs the customization scripts with env. The working
// directory is created if missing and is never wiped. It returns the
// working directory path.
func (m *Materializer) Materialize(ctx context.Context, extractedRoot, workDirName string, env map[string]string) (string, error) {
	if err := CheckAssets(m.config.AssetsDir); err != nil {
		return "", err
	}

	workDir := filepath.Join(m.config.WorkRoot, workDirName)
	if err := paths.EnsureDirPath(workDir); err != nil {
		return "", errors.ErrInternal.WithMessagef("cannot create working directory %s", workDir).WithCause(err)
	}

	start := time.Now()
	n, err := copyTree(ctx, extractedRoot, workDir)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.ErrInternal.WithMessagef("copying Image Builder into %s", workDir).WithCause(err)
	}
	log.Info("Image Builder copied into working directory",
		"work_dir", workDir,
		"entries", n,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if err := m.overlay(ctx, workDir); err != nil {
		return "", err
	}

	if err := m.runScripts(ctx, workDir, env); err != nil {
		return "", err
	}

	return workDir, nil
}

// overlay copies the build script and every present optional asset into
// workDir, overwriting same-named entries
func (m *Materializer) overlay(ctx context.Context, workDir string) error {
	assets := append([]string{BuildScript}, OptionalAssets...)
	for _, name := range assets {
		src := filepath.Join(m.config.AssetsDir, name)
		if _, err := os.Lstat(src); os.IsNotExist(err) {
			log.Warn("Optional asset not found, skipping", "asset", name, "assets_dir", m.config.AssetsDir)
			continue
		}

		n, err := copyPath(ctx, src, filepath.Join(workDir, name))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.ErrInternal.WithMessagef("overlaying asset %s", name).WithCause(err)
		}
		log.Debug("Asset overlaid", "asset", name, "entries", n)
	}
	return nil
}

// runScripts runs each customization script with bash from inside workDir
func (m *Materializer) runScripts(ctx context.Context, workDir string, env map[string]string) error {
	for _, script := range m.config.Scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !paths.IsFile(filepath.Join(workDir, script)) {
			return errors.ErrExternalTool.WithMessagef("customization script %s not found in %s", script, workDir)
		}

		log.Info("Running customization script", "script", script)
		start := time.Now()
		err := m.executor.Run(ctx, runner.Command{
			Name: "bash",
			Args: []string{script},
			Dir:  workDir,
			Env:  env,
		})
		if err != nil {
			return err
		}
		log.Debug("Customization script finished", "script", script, "duration", time.Since(start).Round(time.Millisecond))
	}
	return nil
}
